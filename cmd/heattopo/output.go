package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gacybercenter/openstack-top-graph/db/clickhouse"
	"github.com/gacybercenter/openstack-top-graph/decision/pipeline"
	"github.com/gacybercenter/openstack-top-graph/decision/template"
	"github.com/gacybercenter/openstack-top-graph/pkg/api"
)

// =============================================================================
// OUTPUT FORMATTERS
// =============================================================================

func outputJSON(w io.Writer, result *pipeline.Result, snapshotID string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(api.GraphResponse{
		Graph:      result.Graph.Export(),
		Warnings:   result.Warnings(),
		SnapshotID: snapshotID,
	})
}

func outputTable(w io.Writer, result *pipeline.Result, verbose bool) error {
	g := result.Graph

	fmt.Fprintf(w, "%s\n", g.Title)
	if g.Description != "" {
		fmt.Fprintf(w, "%s\n", strings.TrimSpace(g.Description))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-28s %6s\n", "KIND", "COUNT")
	for _, kind := range g.Kinds() {
		fmt.Fprintf(w, "%-28s %6d\n", truncate(kind, 28), g.Amounts[kind])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-4s %-30s %-22s %-18s %6s\n", "ID", "NAME", "KIND", "IP", "WEIGHT")
	for _, n := range g.Nodes {
		fmt.Fprintf(w, "%-4d %-30s %-22s %-18s %6.2f\n",
			n.ID, truncate(n.Name, 30), truncate(n.Kind, 22), truncate(n.IP, 18), n.Weight)
		if verbose && n.Data.Len() > 0 {
			for _, line := range strings.Split(strings.TrimRight(template.FormatText(n.Data), "\n"), "\n") {
				fmt.Fprintf(w, "       %s\n", line)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "LINKS")
	for _, e := range g.Links {
		fmt.Fprintf(w, "  %s -> %s\n", g.Nodes[e.Source].Name, g.Nodes[e.Target].Name)
	}

	if len(result.Diagnostics) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNINGS")
		for _, d := range result.Warnings() {
			fmt.Fprintf(w, "  %s\n", formatWarning(d))
		}
	}
	return nil
}

func outputMarkdown(w io.Writer, result *pipeline.Result) error {
	g := result.Graph

	fmt.Fprintf(w, "## %s\n", g.Title)
	if g.Description != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(g.Description))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Kind | Count |")
	fmt.Fprintln(w, "|------|-------|")
	for _, kind := range g.Kinds() {
		fmt.Fprintf(w, "| %s | %d |\n", kind, g.Amounts[kind])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "### Resources")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Name | Kind | IP | Summary |")
	fmt.Fprintln(w, "|------|------|----|---------|")
	for _, n := range g.Nodes {
		summary := strings.ReplaceAll(strings.TrimSpace(n.Summary.Short), "\n", "<br>")
		fmt.Fprintf(w, "| %s | %s | %s | %s |\n", n.Name, n.Kind, n.IP, escapePipes(summary))
	}

	if len(g.Links) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "### Links")
		fmt.Fprintln(w)
		for _, e := range g.Links {
			fmt.Fprintf(w, "- `%s` -> `%s`\n", g.Nodes[e.Source].Name, g.Nodes[e.Target].Name)
		}
	}

	if len(result.Diagnostics) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "### Warnings")
		fmt.Fprintln(w)
		for _, d := range result.Warnings() {
			fmt.Fprintf(w, "- %s\n", formatWarning(d))
		}
	}
	return nil
}

func outputSnapshots(w io.Writer, snapshots []*clickhouse.TopologySnapshot, format string) error {
	if format == "json" {
		list := api.SnapshotList{Snapshots: make([]api.SnapshotSummary, 0, len(snapshots))}
		for _, s := range snapshots {
			list.Snapshots = append(list.Snapshots, api.SnapshotSummary{
				ID:           s.ID.String(),
				Title:        s.Title,
				TemplateHash: s.TemplateHash,
				NodeCount:    s.NodeCount,
				LinkCount:    s.LinkCount,
				Merged:       s.Merged,
				CreatedAt:    s.CreatedAt,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	fmt.Fprintf(w, "%-36s  %-24s  %5s  %5s  %-6s  %s\n", "ID", "TITLE", "NODES", "LINKS", "MERGED", "CREATED")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%-36s  %-24s  %5d  %5d  %-6t  %s\n",
			s.ID, truncate(s.Title, 24), s.NodeCount, s.LinkCount, s.Merged, s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func formatWarning(d api.Diagnostic) string {
	if d.ResourceID != "" {
		return fmt.Sprintf("%s %s (%s): %s", d.Severity, d.Code, d.ResourceID, d.Message)
	}
	return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
