package intrinsic

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/gacybercenter/openstack-top-graph/decision/template"
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

type fetchResult struct {
	text string
	err  error
}

type fileSlot struct {
	value    *template.Value
	uri      string
	resource string
}

// fetchFiles resolves every get_file marker currently in the document. All
// fetches run concurrently and are joined before any marker is rewritten, so
// later rules always see fetched content. A failed fetch resolves to the uri.
func (st *resolution) fetchFiles(ctx context.Context) (int, error) {
	var slots []fileSlot
	st.apply(func(v, _ *template.Value, resource string) bool {
		arg, ok := marker(v, KeyGetFile)
		if !ok {
			return false
		}
		uri, ok := arg.Str()
		if !ok {
			return false
		}
		slots = append(slots, fileSlot{value: v, uri: uri, resource: resource})
		return true
	})
	if len(slots) == 0 {
		return 0, nil
	}

	// each uri is fetched once per Resolve
	var pending []string
	queued := make(map[string]bool)
	for _, s := range slots {
		if _, done := st.fetched[s.uri]; done || queued[s.uri] {
			continue
		}
		queued[s.uri] = true
		pending = append(pending, s.uri)
	}

	results := make([]fetchResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(st.opts.FetchConcurrency)

	for i, uri := range pending {
		i, uri := i, uri // Capture loop variables

		g.Go(func() error {
			if st.opts.Fetcher == nil {
				results[i] = fetchResult{err: errNoFetcher}
				return nil
			}
			text, err := st.opts.Fetcher.Fetch(gctx, uri)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = fetchResult{text: text, err: err}
			return nil // fetch failures are non-fatal
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i, uri := range pending {
		st.fetched[uri] = results[i]
		if results[i].err == nil {
			st.logger.Debug("fetched file", "uri", uri, "bytes", len(results[i].text))
		}
	}

	for _, s := range slots {
		res := st.fetched[s.uri]
		if res.err != nil {
			st.opts.Sink.Report(topoerrors.NewFetchError(s.uri, s.resource, res.err))
			s.value.Replace(template.String(s.uri))
			continue
		}
		s.value.Replace(template.String(res.text))
	}
	return len(slots), nil
}
