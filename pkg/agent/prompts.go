package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/tools"
)

const defaultSystemPrompt = `You are a personal assistant that completes tasks for the user with the tools available to you.

Use the virtual_fs tool as your workspace: READ existing workspace files before writing, UPDATE them with new findings, and keep notes organized under clear section headings.
Only use tools that are listed as available. Be accurate and never invent tool results.`

// Personalities maps a personality name to its system prompt addition
var Personalities = map[string]string{
	"professional": "Maintain a professional, business-appropriate tone in all interactions.",
	"casual":       "Use a casual, friendly tone while remaining helpful and informative.",
	"friendly":     "Be warm, encouraging, and personable in your responses.",
	"task-focused": "Focus on efficiency and getting tasks done quickly with minimal small talk.",
}

// systemPrompt composes the base prompt with a personality
func systemPrompt(base, personality string) string {
	if base == "" {
		base = defaultSystemPrompt
	}
	if add, ok := Personalities[strings.ToLower(personality)]; ok {
		return base + "\n\n" + add
	}
	return base
}

func renderHistory(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

type toolPrompt struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Schema      map[string]any `json:"schema"`
}

func renderTools(reg *tools.Registry, defs []tools.Definition) string {
	if len(defs) == 0 {
		return "(no tools available)"
	}
	list := make([]toolPrompt, 0, len(defs))
	for _, def := range defs {
		tp := toolPrompt{Name: def.Name, Description: def.Description, Category: string(def.Category)}
		if _, _, schema, err := reg.Resolve(def.Name); err == nil && schema != nil {
			tp.Schema = schema.Document()
		}
		list = append(list, tp)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		names := make([]string, 0, len(defs))
		for _, d := range defs {
			names = append(names, d.Name)
		}
		return strings.Join(names, ", ")
	}
	return string(data)
}

func renderInvocations(recs []ToolInvocationRecord, limit int) string {
	if len(recs) == 0 {
		return "(none)"
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	var b strings.Builder
	for _, r := range recs {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- %s [%s]: %s\n", r.Tool, status, r.ResultText())
	}
	return strings.TrimRight(b.String(), "\n")
}

const thinkInstructions = `Decide the next step for the user's goal.

Goal: %s

Conversation:
%s

Available tools:
%s

Tool results so far:
%s

Workspace (%s):
%s

Previous thoughts:
%s

Answer with JSON: {"thinking": "...", "action": one of %s, "tool_calls": [{"tool": "name", "parameters": {...}}], "response": "final answer when responding"}`

const classifyInstructions = `Classify the user's request.

Request: %s

Recent conversation:
%s

Answer with JSON: {"complexity": "simple" | "focused" | "complex", "task_category": "...", "user_intent": "...", "requires_tools": true|false, "estimated_steps": n}`

const planInstructions = `Create a step-by-step plan for the goal using only the available tools.

Goal: %s
Complexity: %s
Maximum todos: %d

Available tools:
%s

Answer with JSON: {"plan_summary": "...", "success_criteria": "...", "todos": [{"id": "todo_1", "title": "...", "description": "...", "tool_required": "tool name or empty", "tool_parameters": {...}, "dependencies": ["todo ids"]}]}`

const evaluateInstructions = `Evaluate one executed step of a plan.

Goal: %s
Step: %s (%s)
Tool: %s
Outcome: %s

Remaining todos:
%s

Answer with JSON: {"todo_completed": true|false, "execution_summary": "...", "plan_complete": true|false}`

const synthesizeInstructions = `Consolidate the research into a complete document for the goal.

Goal: %s

Current workspace:
%s

Research results:
%s

Write the final markdown document. Fill every section with real content and leave out sections you have nothing for.`

const respondInstructions = `Write the final answer to the user.

Goal: %s

Conversation:
%s

Thoughts:
%s

Tool results:
%s
%s
Answer the user directly.`
