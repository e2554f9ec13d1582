package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/stagecoord/pkg/topology"
)

func topologyCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "topology <pipeline.dot>",
		Short: "Validate a pipeline DOT file and print its stage order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			t, err := topology.ParseDOT(string(src))
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(out, renderDOT(t))
			case "text", "":
				fmt.Fprint(out, renderText(t))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// renderText lists the stages in order with their neighbours.
func renderText(t *topology.Topology) string {
	var sb strings.Builder
	name := t.Name
	if name == "" {
		name = "pipeline"
	}
	fmt.Fprintf(&sb, "Pipeline: %s  (%d stages)\n\n", name, len(t.Stages))

	width := 5 // "stage"
	for _, s := range t.Stages {
		width = max(width, len(s))
	}
	for i, s := range t.Stages {
		prev, _ := t.Predecessor(s)
		if prev == "" {
			prev = "-"
		}
		fmt.Fprintf(&sb, "  %2d  %-*s  after %s\n", i, width, s, prev)
	}
	return sb.String()
}

// dotQuote returns s as a DOT identifier, quoting if necessary.
func dotQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\\\"{}[]<>=;,-.") {
		return s
	}
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// renderDOT produces a canonical linear digraph.
func renderDOT(t *topology.Topology) string {
	var sb strings.Builder
	name := t.Name
	if name == "" {
		name = "pipeline"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))
	for _, s := range t.Stages {
		fmt.Fprintf(&sb, "    %s\n", dotQuote(s))
	}
	for i := 1; i < len(t.Stages); i++ {
		fmt.Fprintf(&sb, "    %s -> %s\n", dotQuote(t.Stages[i-1]), dotQuote(t.Stages[i]))
	}
	sb.WriteString("}\n")
	return sb.String()
}
