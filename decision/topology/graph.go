// Package topology builds the resource graph of a resolved Heat template:
// one node per resource, edges from get_resource references, per-consumer
// copies of shared auxiliary resources, and optional port/server merging.
package topology

import (
	"fmt"
	"sort"

	"github.com/gacybercenter/openstack-top-graph/decision/template"
)

// NodeID indexes Graph.Nodes.
type NodeID int

// Root node identity
const (
	RootID   NodeID = 0
	RootName        = "cloud"
	KindRoot        = "Root"
)

// Resource kinds with dedicated handling
const (
	KindRouter          = "Router"
	KindRouterInterface = "RouterInterface"
	KindSubnet          = "Subnet"
	KindNet             = "Net"
	KindPort            = "Port"
	KindServer          = "Server"
	KindResourceGroup   = "ResourceGroup"
	KindSecurityGroup   = "SecurityGroup"
	KindSoftwareConfig  = "SoftwareConfig"
	KindRandomString    = "RandomString"
)

// Graph is the finished topology of one template.
type Graph struct {
	Title       string
	Description string
	Nodes       []*Node
	Links       []Edge
	Amounts     map[string]int
	Parameters  *template.Parameters
}

// Node is one graph vertex. Duplicated auxiliary nodes share Name and Data.
type Node struct {
	ID      NodeID
	Name    string
	Kind    string
	Data    *template.Value
	Weight  float64
	Summary Summary
	IP      string

	// build state
	refs     []refSource
	absorbed bool
}

// Edge is directed: Target's configuration references Source.
type Edge struct {
	Source NodeID
	Target NodeID
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[id]
}

// Root returns the synthetic root node.
func (g *Graph) Root() *Node {
	return g.Node(RootID)
}

// NodesOfKind returns nodes of kind in graph order.
func (g *Graph) NodesOfKind(kind string) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// NodesNamed returns every node called name (auxiliary copies share a name).
func (g *Graph) NodesNamed(name string) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Name == name {
			out = append(out, n)
		}
	}
	return out
}

// Degree returns the out- and in-degree of id.
func (g *Graph) Degree(id NodeID) (out, in int) {
	for _, e := range g.Links {
		if e.Source == id {
			out++
		}
		if e.Target == id {
			in++
		}
	}
	return out, in
}

// Neighbours returns the distinct nodes linked to id in either direction.
func (g *Graph) Neighbours(id NodeID) []NodeID {
	seen := make(map[NodeID]bool)
	var out []NodeID
	for _, e := range g.Links {
		var other NodeID
		switch id {
		case e.Source:
			other = e.Target
		case e.Target:
			other = e.Source
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out
}

// Kinds returns the kinds present in Amounts, sorted.
func (g *Graph) Kinds() []string {
	kinds := make([]string, 0, len(g.Amounts))
	for k := range g.Amounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// String returns a summary of the graph
func (g *Graph) String() string {
	return fmt.Sprintf(
		"TopologyGraph %q: %d nodes, %d links across %d kinds",
		g.Title,
		len(g.Nodes),
		len(g.Links),
		len(g.Amounts),
	)
}
