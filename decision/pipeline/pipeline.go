// Package pipeline chains the template parser, intrinsic resolver and graph
// builder into one call shared by the CLI and the HTTP API.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gacybercenter/openstack-top-graph/decision/intrinsic"
	"github.com/gacybercenter/openstack-top-graph/decision/template"
	"github.com/gacybercenter/openstack-top-graph/decision/topology"
	"github.com/gacybercenter/openstack-top-graph/pkg/api"
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

// Request is one template plus its environment files and build options.
type Request struct {
	Template     []byte
	Environments [][]byte
	Title        string
	Merge        bool
	StackName    string
	ResolveIDs   bool
}

// Result is a built graph and every diagnostic raised on the way.
type Result struct {
	Graph       *topology.Graph
	Diagnostics []*topoerrors.TopoError
}

// Pipeline builds graphs from template text
type Pipeline struct {
	parser  *template.Parser
	fetcher intrinsic.Fetcher
	logger  *slog.Logger
}

// New creates a pipeline. fetcher may be nil, in which case get_file
// resolves to its uri.
func New(fetcher intrinsic.Fetcher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		parser:  template.NewParser(),
		fetcher: fetcher,
		logger:  logger,
	}
}

// Run parses, merges, resolves and builds. A fresh resolver and builder are
// used per call, so nothing carries between runs.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	// environments first: their parameter defaults win over the template's
	docs := make([]*template.Document, 0, 1+len(req.Environments))
	for i, env := range req.Environments {
		envDoc, err := p.parser.ParseBytes(env)
		if err != nil {
			return nil, fmt.Errorf("environment %d: %w", i+1, err)
		}
		docs = append(docs, envDoc)
	}
	doc, err := p.parser.ParseBytes(req.Template)
	if err != nil {
		return nil, err
	}
	docs = append(docs, doc)

	merged, err := template.Merge(docs...)
	if err != nil {
		return nil, err
	}

	collector := topoerrors.NewCollector()
	sink := topoerrors.Tee(collector, topoerrors.LogSink{Logger: p.logger})

	resolver := intrinsic.NewResolver(intrinsic.Options{
		Fetcher:    p.fetcher,
		Sink:       sink,
		StackName:  req.StackName,
		ResolveIDs: req.ResolveIDs,
		Logger:     p.logger,
	})
	resolved, err := resolver.Resolve(ctx, merged)
	if err != nil {
		return nil, err
	}

	graph, err := topology.NewGraphBuilder().
		WithMerge(req.Merge).
		WithLogger(p.logger).
		WithSink(sink).
		Build(resolved, req.Title)
	if err != nil {
		return nil, err
	}

	return &Result{Graph: graph, Diagnostics: collector.Diagnostics()}, nil
}

// Warnings converts diagnostics to their wire form.
func (r *Result) Warnings() []api.Diagnostic {
	out := make([]api.Diagnostic, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		out = append(out, api.Diagnostic{
			Code:       d.Code,
			Message:    d.Message,
			Severity:   d.Severity.String(),
			ResourceID: d.ResourceID,
		})
	}
	return out
}
