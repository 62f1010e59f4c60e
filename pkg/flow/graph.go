package flow

import (
	"fmt"
	"sort"
)

// Graph is the edge table of a topology. Build it once, then hand it to
// NewEngine, which takes a frozen copy.
type Graph[S any] struct {
	start    Node[S]
	nodes    map[string]Node[S]
	edges    map[string]map[Action]string
	defaults map[string]string
	err      error
}

func NewGraph[S any](start Node[S]) *Graph[S] {
	g := &Graph[S]{
		start:    start,
		nodes:    make(map[string]Node[S]),
		edges:    make(map[string]map[Action]string),
		defaults: make(map[string]string),
	}
	if start == nil {
		g.err = ErrNilStart
		return g
	}
	g.add(start)
	return g
}

func (g *Graph[S]) add(n Node[S]) {
	if n == nil {
		if g.err == nil {
			g.err = fmt.Errorf("%w: nil node", ErrUnknownNode)
		}
		return
	}
	name := n.Name()
	if existing, ok := g.nodes[name]; ok {
		if existing != n && g.err == nil {
			g.err = fmt.Errorf("%w: %q", ErrDuplicateNode, name)
		}
		return
	}
	g.nodes[name] = n
}

// Connect adds the edge from --action--> to. Connecting a node to itself is
// allowed and is how nodes iterate.
func (g *Graph[S]) Connect(from Node[S], action Action, to Node[S]) *Graph[S] {
	g.add(from)
	g.add(to)
	if from == nil || to == nil {
		return g
	}
	m, ok := g.edges[from.Name()]
	if !ok {
		m = make(map[Action]string)
		g.edges[from.Name()] = m
	}
	m[action] = to.Name()
	return g
}

// Default sets the successor used when from returns an action with no edge.
func (g *Graph[S]) Default(from, to Node[S]) *Graph[S] {
	g.add(from)
	g.add(to)
	if from == nil || to == nil {
		return g
	}
	g.defaults[from.Name()] = to.Name()
	return g
}

// Validate reports construction errors such as two nodes sharing a name.
func (g *Graph[S]) Validate() error {
	return g.err
}

// Start returns the entry node.
func (g *Graph[S]) Start() Node[S] {
	return g.start
}

// Node returns the node registered under name.
func (g *Graph[S]) Node(name string) (Node[S], bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns the node names in sorted order.
func (g *Graph[S]) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Terminal reports whether the node has no outgoing edges.
func (g *Graph[S]) Terminal(name string) bool {
	_, hasEdges := g.edges[name]
	_, hasDefault := g.defaults[name]
	return !hasEdges && !hasDefault
}

// next resolves the successor of name for action. ok is false when name is
// terminal.
func (g *Graph[S]) next(name string, action Action) (Node[S], bool, error) {
	if g.Terminal(name) {
		return nil, false, nil
	}
	if to, ok := g.edges[name][action]; ok {
		return g.nodes[to], true, nil
	}
	if to, ok := g.defaults[name]; ok {
		return g.nodes[to], true, nil
	}
	return nil, false, &EngineError{Node: name, Action: action}
}

func (g *Graph[S]) clone() *Graph[S] {
	c := &Graph[S]{
		start:    g.start,
		nodes:    make(map[string]Node[S], len(g.nodes)),
		edges:    make(map[string]map[Action]string, len(g.edges)),
		defaults: make(map[string]string, len(g.defaults)),
		err:      g.err,
	}
	for k, v := range g.nodes {
		c.nodes[k] = v
	}
	for k, m := range g.edges {
		cm := make(map[Action]string, len(m))
		for a, to := range m {
			cm[a] = to
		}
		c.edges[k] = cm
	}
	for k, v := range g.defaults {
		c.defaults[k] = v
	}
	return c
}
