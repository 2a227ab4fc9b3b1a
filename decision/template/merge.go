package template

import (
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

// Merge combines several documents into one. Environment files are passed
// first and the main template last. Resource names declared by more than one
// document are reported as a RESOURCE_CONFLICT error.
//
// Parameter definitions merge field-wise: a default supplied by an earlier
// document is kept, and parameter_defaults from any document override the
// matching defaults.
func Merge(docs ...*Document) (*Document, error) {
	out := &Document{Parameters: NewParameters()}
	seen := make(map[string]bool)
	var conflicts []string
	defaults := NewMap()

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if doc.Version != "" {
			out.Version = doc.Version
		}
		if doc.Description != "" {
			out.Description = doc.Description
		}

		for _, name := range doc.Parameters.Names() {
			src, _ := doc.Parameters.Get(name)
			existing, ok := out.Parameters.Get(name)
			if !ok {
				cp := *src
				cp.Default = src.Default.Clone()
				out.Parameters.Set(&cp)
				continue
			}
			if existing.Type == "" {
				existing.Type = src.Type
			}
			if existing.Description == "" {
				existing.Description = src.Description
			}
			if !existing.HasDefault && src.HasDefault {
				existing.Default = src.Default.Clone()
				existing.HasDefault = true
			}
		}

		for _, key := range doc.ParameterDefaults.Keys() {
			v, _ := doc.ParameterDefaults.Get(key)
			defaults.Set(key, v.Clone())
		}

		if doc.Resources != nil && out.Resources == nil {
			out.Resources = make([]*Resource, 0, len(doc.Resources))
		}
		for _, res := range doc.Resources {
			if seen[res.Name] {
				conflicts = append(conflicts, res.Name)
				continue
			}
			seen[res.Name] = true
			out.Resources = append(out.Resources, res)
		}
	}

	if len(conflicts) > 0 {
		return nil, topoerrors.NewResourceConflictError(conflicts)
	}

	for _, key := range defaults.Keys() {
		v, _ := defaults.Get(key)
		param, ok := out.Parameters.Get(key)
		if !ok {
			param = &Parameter{Name: key}
			out.Parameters.Set(param)
		}
		param.Default = v
		param.HasDefault = true
	}
	if defaults.Len() > 0 {
		out.ParameterDefaults = defaults
	}
	return out, nil
}
