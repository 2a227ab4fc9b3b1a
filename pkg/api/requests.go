package api

import "time"

// GraphRequest is the input for the graph endpoint.
type GraphRequest struct {
	Template     string   `json:"template"`
	Environments []string `json:"environments,omitempty"`
	Name         string   `json:"name,omitempty"`
	Merge        bool     `json:"merge,omitempty"`
	StackName    string   `json:"stack_name,omitempty"`
	ResolveIDs   bool     `json:"resolve_ids,omitempty"`
	Record       bool     `json:"record,omitempty"`
}

// GraphResponse carries the graph plus any non-fatal diagnostics.
type GraphResponse struct {
	Graph      *Graph       `json:"graph"`
	Warnings   []Diagnostic `json:"warnings,omitempty"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
}

// Diagnostic is a non-fatal problem found while resolving or mapping.
type Diagnostic struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	ResourceID string `json:"resource_id,omitempty"`
}

// SnapshotSummary describes one recorded graph.
type SnapshotSummary struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	TemplateHash string         `json:"template_hash"`
	NodeCount    int            `json:"node_count"`
	LinkCount    int            `json:"link_count"`
	Merged       bool           `json:"merged"`
	Amounts      map[string]int `json:"amounts,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SnapshotList is the response of the snapshot listing endpoint.
type SnapshotList struct {
	Snapshots []SnapshotSummary `json:"snapshots"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
