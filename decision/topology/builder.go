package topology

import (
	"log/slog"
	"strings"

	"github.com/gacybercenter/openstack-top-graph/decision/template"
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

// Untitled is used when Build is given an empty title.
const Untitled = "No name found."

// GraphBuilder builds topology graphs from resolved templates
type GraphBuilder struct {
	merge      bool
	auxiliary  map[string]bool
	mergePairs map[string]string // absorbed kind -> host kind
	logger     *slog.Logger
	sink       topoerrors.Sink
}

// NewGraphBuilder creates a new graph builder
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		merge: false,
		auxiliary: map[string]bool{
			KindSecurityGroup:  true,
			KindSoftwareConfig: true,
			KindRandomString:   true,
		},
		mergePairs: map[string]string{KindPort: KindServer},
		logger:     slog.Default(),
		sink:       topoerrors.Discard,
	}
}

// WithMerge collapses each host (a Server by default) and the resources it
// references of an absorbed kind (Port) into one composite node.
func (b *GraphBuilder) WithMerge(merge bool) *GraphBuilder {
	b.merge = merge
	return b
}

// WithAuxiliaryKinds replaces the set of kinds duplicated per consumer.
func (b *GraphBuilder) WithAuxiliaryKinds(kinds ...string) *GraphBuilder {
	b.auxiliary = make(map[string]bool, len(kinds))
	for _, k := range kinds {
		b.auxiliary[k] = true
	}
	return b
}

// WithMergePairs replaces the absorbed kind -> host kind mapping used in merge mode.
func (b *GraphBuilder) WithMergePairs(pairs map[string]string) *GraphBuilder {
	b.mergePairs = make(map[string]string, len(pairs))
	for absorbed, host := range pairs {
		b.mergePairs[absorbed] = host
	}
	return b
}

// WithLogger sets the logger
func (b *GraphBuilder) WithLogger(logger *slog.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithSink sets where malformed resource diagnostics go.
func (b *GraphBuilder) WithSink(sink topoerrors.Sink) *GraphBuilder {
	if sink != nil {
		b.sink = sink
	}
	return b
}

// Build creates the topology graph of a resolved document. The document is
// not modified; node data are copies of resource properties.
func (b *GraphBuilder) Build(doc *template.Document, title string) (*Graph, error) {
	if doc == nil || doc.Resources == nil {
		return nil, topoerrors.NewMissingResourcesError()
	}

	st := &build{
		GraphBuilder: b,
		redirect:     make(map[NodeID]NodeID),
	}
	root := st.alloc(RootName, KindRoot, nil)
	st.main = append(st.main, root.ID)

	// Pass 1: nodes
	for _, res := range doc.Resources {
		st.createNode(res.Name, res.Type, res.Properties, 0)
	}
	st.indexNames()

	if b.merge {
		st.mergeNodes()
	}

	// Pass 2: edges
	st.deriveLinks()

	st.duplicateAuxiliaries()

	g := st.finish(doc, title)
	b.logger.Debug("topology graph built",
		"title", g.Title,
		"nodes", len(g.Nodes),
		"links", len(g.Links),
		"kinds", len(g.Amounts),
		"merged", b.merge,
	)
	return g, nil
}

// build is the state of one Build call. Node IDs are arena indices until
// finish renumbers the surviving nodes.
type build struct {
	*GraphBuilder

	arena  []*Node
	main   []NodeID
	staged []NodeID
	links  []Edge

	redirect     map[NodeID]NodeID
	mainByName   map[string]NodeID
	stagedByName map[string]NodeID
}

// refSource is a property tree walked for references on behalf of a node,
// together with the kind of the resource it came from.
type refSource struct {
	data *template.Value
	kind string
}

func (st *build) alloc(name, kind string, data *template.Value) *Node {
	if data == nil || data.IsNull() {
		data = template.NewMap()
	} else {
		data = data.Clone()
	}
	n := &Node{
		ID:   NodeID(len(st.arena)),
		Name: name,
		Kind: kind,
		Data: data,
		refs: []refSource{{data: data, kind: kind}},
	}
	st.arena = append(st.arena, n)
	return n
}

// createNode classifies one resource: groups expand, auxiliary kinds are
// staged for duplication, everything else becomes a node.
func (st *build) createNode(name, resourceType string, data *template.Value, depth int) {
	if strings.TrimSpace(resourceType) == "" {
		st.sink.Report(topoerrors.NewInvalidResourceError(name, "resource has no type"))
		return
	}
	kind := template.KindOf(resourceType)

	if kind == KindResourceGroup {
		st.expandGroup(name, data, depth)
		return
	}

	n := st.alloc(name, kind, data)
	if st.auxiliary[kind] {
		st.staged = append(st.staged, n.ID)
	} else {
		st.main = append(st.main, n.ID)
	}

	// routers always hang off the root
	if kind == KindRouter {
		st.links = append(st.links, Edge{Source: n.ID, Target: RootID})
	}
}

func (st *build) indexNames() {
	st.mainByName = make(map[string]NodeID, len(st.main))
	for _, id := range st.main[1:] {
		name := st.arena[id].Name
		if _, exists := st.mainByName[name]; !exists {
			st.mainByName[name] = id
		}
	}
	st.stagedByName = make(map[string]NodeID, len(st.staged))
	for _, id := range st.staged {
		name := st.arena[id].Name
		if _, exists := st.stagedByName[name]; !exists {
			st.stagedByName[name] = id
		}
	}
}

// lookup resolves a referenced resource name, main nodes first, following
// merge redirection.
func (st *build) lookup(name string) (NodeID, bool) {
	id, ok := st.mainByName[name]
	if !ok {
		id, ok = st.stagedByName[name]
	}
	if !ok {
		return 0, false
	}
	return st.follow(id), true
}

func (st *build) follow(id NodeID) NodeID {
	if to, ok := st.redirect[id]; ok {
		return to
	}
	return id
}

// finish renumbers surviving nodes contiguously and computes the derived
// fields: amounts, weights, summaries.
func (st *build) finish(doc *template.Document, title string) *Graph {
	if title == "" {
		title = Untitled
	}
	g := &Graph{
		Title:       title,
		Description: doc.Description,
		Nodes:       make([]*Node, 0, len(st.main)),
		Links:       make([]Edge, 0, len(st.links)),
		Amounts:     make(map[string]int),
		Parameters:  doc.Parameters,
	}

	renumber := make(map[NodeID]NodeID, len(st.main))
	for _, id := range st.main {
		n := st.arena[id]
		if n.absorbed {
			continue
		}
		newID := NodeID(len(g.Nodes))
		renumber[id] = newID
		n.ID = newID
		n.refs = nil
		g.Nodes = append(g.Nodes, n)
		g.Amounts[n.Kind]++
	}

	for _, e := range st.links {
		src, okSrc := renumber[st.follow(e.Source)]
		dst, okDst := renumber[st.follow(e.Target)]
		if !okSrc || !okDst || src == dst {
			continue
		}
		g.Links = append(g.Links, Edge{Source: src, Target: dst})
	}

	g.AssignWeights()
	for _, n := range g.Nodes {
		n.Summary = Summarize(n.Data)
		n.IP = ExtractIP(n.Data)
	}
	return g
}
