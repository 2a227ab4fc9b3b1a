// Package intrinsic resolves Heat intrinsic functions (get_param, get_file,
// str_replace, list_join) inside a parsed template, rewriting each marker in
// place with its literal value. get_resource markers are references, not
// values, and are left for the graph builder.
package intrinsic

import (
	"context"
	"log/slog"

	"github.com/gacybercenter/openstack-top-graph/decision/template"
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

const (
	defaultMaxPasses        = 8
	defaultFetchConcurrency = 8

	// StackNameParam is the pseudo parameter carrying the stack name.
	StackNameParam = "OS::stack_name"
)

// Options configures a Resolver.
type Options struct {
	// Fetcher serves get_file. When nil every get_file resolves to its uri.
	Fetcher Fetcher

	// Sink receives non-fatal diagnostics.
	Sink topoerrors.Sink

	// StackName answers get_param: OS::stack_name when set.
	StackName string

	// ResolveIDs rewrites UUID strings that equal a parameter default into
	// get_resource references to that parameter's resource.
	ResolveIDs bool

	MaxPasses        int
	FetchConcurrency int
	Logger           *slog.Logger
}

// Resolver rewrites intrinsic markers. It holds no per-document state and is
// safe for concurrent use.
type Resolver struct {
	opts   Options
	logger *slog.Logger
}

// NewResolver creates a resolver
func NewResolver(opts Options) *Resolver {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = defaultMaxPasses
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = defaultFetchConcurrency
	}
	if opts.Sink == nil {
		opts.Sink = topoerrors.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{opts: opts, logger: logger}
}

// Resolve rewrites every resolvable marker in doc and returns it. Each pass
// applies get_param, then the get_file fetches (all joined before moving
// on), then str_replace, then list_join. Passes repeat until nothing changes
// or MaxPasses is reached.
//
// Only a missing resources section or a cancelled context is an error.
func (r *Resolver) Resolve(ctx context.Context, doc *template.Document) (*template.Document, error) {
	if doc == nil || doc.Resources == nil {
		return nil, topoerrors.NewMissingResourcesError()
	}

	st := &resolution{
		Resolver: r,
		doc:      doc,
		fetched:  make(map[string]fetchResult),
	}

	for pass := 1; pass <= r.opts.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.deferred = 0

		changed := st.apply(st.getParam)

		fetched, err := st.fetchFiles(ctx)
		if err != nil {
			return nil, err
		}
		changed += fetched

		changed += st.apply(st.strReplace)
		changed += st.apply(st.listJoin)
		if r.opts.ResolveIDs {
			changed += st.apply(st.resolveID)
		}

		r.logger.Debug("intrinsic pass complete",
			"pass", pass,
			"rewritten", changed,
			"deferred", st.deferred,
		)

		if changed > 0 {
			st.force = false
			continue
		}
		if st.deferred == 0 || st.force {
			break
		}
		// only deferred markers remain; let them consume what is there
		st.force = true
	}

	return doc, nil
}

// resolution is the state of one Resolve call.
type resolution struct {
	*Resolver
	doc *template.Document

	// force disables deferral of markers waiting on nested markers
	force    bool
	deferred int

	fetched map[string]fetchResult
}

// rule inspects v (whose container is parent) and reports whether it rewrote
// v. Rewritten values are not descended into. parent is nil at a tree root
// and anywhere inside the argument of another marker, so rules never attach
// data to a marker's own arguments.
type rule func(v, parent *template.Value, resource string) bool

func (st *resolution) apply(fn rule) int {
	n := 0
	for _, res := range st.doc.Resources {
		n += rewrite(res.Properties, nil, res.Name, false, fn)
		n += rewrite(res.Metadata, nil, res.Name, false, fn)
	}
	return n
}

func rewrite(v, parent *template.Value, resource string, inArg bool, fn rule) int {
	if v == nil {
		return 0
	}
	if inArg {
		parent = nil
	}
	if fn(v, parent, resource) {
		return 1
	}
	inArg = inArg || isMarker(v)

	n := 0
	switch v.Kind() {
	case template.KindMap:
		for _, key := range v.Keys() {
			if child, ok := v.Get(key); ok {
				n += rewrite(child, v, resource, inArg, fn)
			}
		}
	case template.KindList:
		for _, item := range v.Items() {
			n += rewrite(item, v, resource, inArg, fn)
		}
	}
	return n
}

var markerKeys = map[string]bool{
	KeyGetParam:    true,
	KeyGetFile:     true,
	KeyStrReplace:  true,
	KeyListJoin:    true,
	KeyGetResource: true,
	KeyGetAttr:     true,
}

// isMarker reports whether v is a single-key intrinsic map.
func isMarker(v *template.Value) bool {
	if !v.IsMap() || v.Len() != 1 {
		return false
	}
	return markerKeys[v.Keys()[0]]
}

// marker returns the argument of a marker map keyed by name.
func marker(v *template.Value, name string) (*template.Value, bool) {
	if !v.IsMap() {
		return nil, false
	}
	arg, ok := v.Get(name)
	if !ok || arg.IsNull() {
		return nil, false
	}
	return arg, true
}
