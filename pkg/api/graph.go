// Package api defines the resource topology graph model.
package api

import "encoding/json"

// Graph is the renderer-facing topology of one template.
type Graph struct {
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Nodes       []Node               `json:"nodes"`
	Links       []Link               `json:"links"`
	Amounts     map[string]int       `json:"amounts"`
	Parameters  map[string]Parameter `json:"parameters"`
}

// Node represents a single resource (or the synthetic root).
type Node struct {
	Index   int             `json:"index"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Weight  float64         `json:"weight"`
	IP      string          `json:"ip,omitempty"`
	Summary Summary         `json:"summary"`
}

// Summary is a flattened "key: values" rendering of node data.
type Summary struct {
	Short string `json:"short"`
	Long  string `json:"long"`
}

// Link is a directed edge: target's configuration references source.
type Link struct {
	Source     int    `json:"source"`
	Target     int    `json:"target"`
	SourceName string `json:"source_name"`
	TargetName string `json:"target_name"`
}

// Parameter is one template parameter as shown to the renderer.
type Parameter struct {
	Type    string          `json:"type,omitempty"`
	Default json.RawMessage `json:"default,omitempty"`
}
