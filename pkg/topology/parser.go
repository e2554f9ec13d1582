package topology

import (
	"fmt"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// ParseDOT parses a Graphviz digraph whose nodes are stages and whose edges
// form a single chain, e.g. `digraph ingest { fetch -> parse -> store }`.
func ParseDOT(src string) (*Topology, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// A permissive collector: stage nodes may carry arbitrary attributes.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	stages, errs := collector.chain()
	if err := joinLint("pipeline graph validation failed", errs); err != nil {
		return nil, err
	}
	return New(collector.name, stages)
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name  string
	order []string // node ids in first-seen order
	nodes map[string]bool
	next  map[string][]string
	prev  map[string][]string
}

func newDOTCollector() *dotCollector {
	return &dotCollector{
		nodes: make(map[string]bool),
		next:  make(map[string][]string),
		prev:  make(map[string][]string),
	}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, _ map[string]string) error {
	c.addNode(unquote(name))
	return nil
}

func (c *dotCollector) addNode(id string) {
	if !c.nodes[id] {
		c.nodes[id] = true
		c.order = append(c.order, id)
	}
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	from, to := unquote(src), unquote(dst)
	c.addNode(from)
	c.addNode(to)
	c.next[from] = append(c.next[from], to)
	c.prev[to] = append(c.prev[to], from)
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, _, _ string) error { return nil }

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// chain walks the graph from its single head and returns the stage order.
func (c *dotCollector) chain() ([]string, []LintError) {
	var errs []LintError
	var heads []string
	for _, id := range c.order {
		if len(c.next[id]) > 1 {
			errs = append(errs, LintError{Stage: id, Message: fmt.Sprintf("stage has %d successors; a pipeline is a single chain", len(c.next[id]))})
		}
		if len(c.prev[id]) > 1 {
			errs = append(errs, LintError{Stage: id, Message: fmt.Sprintf("stage has %d predecessors; a pipeline is a single chain", len(c.prev[id]))})
		}
		if len(c.prev[id]) == 0 {
			heads = append(heads, id)
		}
	}
	switch len(heads) {
	case 0:
		if len(c.order) == 0 {
			errs = append(errs, LintError{Message: "pipeline must have at least one stage"})
		} else {
			errs = append(errs, LintError{Message: "pipeline has no first stage (cycle)"})
		}
	case 1:
		// good
	default:
		errs = append(errs, LintError{Message: fmt.Sprintf("pipeline has %d first stages (%s); exactly one required", len(heads), strings.Join(heads, ", "))})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	visited := make(map[string]bool, len(c.order))
	var stages []string
	for cur := heads[0]; ; {
		if visited[cur] {
			return nil, []LintError{{Stage: cur, Message: "cycle detected"}}
		}
		visited[cur] = true
		stages = append(stages, cur)
		if len(c.next[cur]) == 0 {
			break
		}
		cur = c.next[cur][0]
	}
	for _, id := range c.order {
		if !visited[id] {
			errs = append(errs, LintError{Stage: id, Message: "stage is not reachable from the first stage"})
		}
	}
	return stages, errs
}

// unquote strips surrounding double-quotes from a DOT identifier.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
