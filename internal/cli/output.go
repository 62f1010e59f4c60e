package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/aide/pkg/agent"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
}

// writeStructured writes v as JSON or YAML. YAML keys follow the json tags.
func writeStructured(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if format != outputYAML {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles the JSON input carries
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func printResult(w io.Writer, format string, res *agent.TurnResult) error {
	if format != outputText {
		return writeStructured(w, format, res)
	}

	fmt.Fprintln(w, res.Response)
	fmt.Fprintln(w)

	summary := fmt.Sprintf("mode=%s steps=%d duration=%s", res.Mode, res.StepsCompleted, formatDuration(res.Duration))
	if len(res.ToolsUsed) > 0 {
		summary += " tools=" + strings.Join(res.ToolsUsed, ",")
	}
	if res.Failures > 0 {
		summary += fmt.Sprintf(" failures=%d", res.Failures)
	}
	if res.Budget != nil {
		summary += " budget=" + res.Budget.Limit
	}
	_, err := fmt.Fprintf(w, "[%s]\n", summary)
	return err
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
