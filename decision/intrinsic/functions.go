package intrinsic

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gacybercenter/openstack-top-graph/decision/template"
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

// Marker keys
const (
	KeyGetParam    = "get_param"
	KeyGetFile     = "get_file"
	KeyStrReplace  = "str_replace"
	KeyListJoin    = "list_join"
	KeyGetResource = "get_resource"
	KeyGetAttr     = "get_attr"
)

// =============================================================================
// get_param
// =============================================================================

// getParam replaces {get_param: name} or {get_param: [name, path...]} with a
// copy of the parameter default. Unknown names and parameters without a
// default stay as they are.
func (st *resolution) getParam(v, _ *template.Value, _ string) bool {
	arg, ok := marker(v, KeyGetParam)
	if !ok {
		return false
	}

	var name string
	var path []*template.Value
	switch arg.Kind() {
	case template.KindString:
		name, _ = arg.Str()
	case template.KindList:
		items := arg.Items()
		if len(items) == 0 {
			return false
		}
		if name, ok = items[0].Str(); !ok {
			return false
		}
		path = items[1:]
	default:
		return false
	}

	if name == StackNameParam && st.opts.StackName != "" && len(path) == 0 {
		v.Replace(template.String(st.opts.StackName))
		return true
	}

	param, ok := st.doc.Parameters.Get(name)
	if !ok || !param.HasDefault || param.Default.IsNull() {
		return false
	}

	value := param.Default
	for _, step := range path {
		if value, ok = index(value, step); !ok {
			return false
		}
	}
	v.Replace(value.Clone())
	return true
}

func index(v, step *template.Value) (*template.Value, bool) {
	switch v.Kind() {
	case template.KindMap:
		return v.Get(step.Scalar())
	case template.KindList:
		var i int
		if n, ok := step.Num(); ok {
			i = int(n)
		} else if s, ok := step.Str(); ok {
			parsed, err := strconv.Atoi(s)
			if err != nil {
				return nil, false
			}
			i = parsed
		} else {
			return nil, false
		}
		items := v.Items()
		if i < 0 || i >= len(items) {
			return nil, false
		}
		return items[i], true
	}
	return nil, false
}

// =============================================================================
// str_replace
// =============================================================================

// strReplace substitutes every params entry into the template. Each param name
// is compiled as a pattern and replaced globally, in declaration order, so a
// name that is a substring of another can affect the other's matches. The
// raw params map is kept next to the result as "params".
func (st *resolution) strReplace(v, parent *template.Value, resource string) bool {
	arg, ok := marker(v, KeyStrReplace)
	if !ok || !arg.IsMap() {
		return false
	}
	tmpl, _ := arg.Get("template")
	text, ok := tmpl.Str()
	if !ok {
		return false
	}
	params, _ := arg.Get("params")
	if !st.force && hasPending(params) {
		st.deferred++
		return false
	}

	for _, name := range params.Keys() {
		value, _ := params.Get(name)
		re, err := regexp.Compile(name)
		if err != nil {
			st.opts.Sink.Report(topoerrors.NewSubstitutionError(name, resource, err))
			continue
		}
		text = re.ReplaceAllLiteralString(text, value.Scalar())
	}

	raw := params.Clone()
	v.Replace(template.String(text))
	if parent.IsMap() && raw != nil {
		parent.Set("params", raw)
	}
	return true
}

// =============================================================================
// list_join
// =============================================================================

// listJoin flattens the items after the delimiter and joins their string forms.
// Maps are rendered as compact JSON.
func (st *resolution) listJoin(v, _ *template.Value, _ string) bool {
	arg, ok := marker(v, KeyListJoin)
	if !ok || !arg.IsList() || arg.Len() == 0 {
		return false
	}
	if !st.force && hasPending(arg) {
		st.deferred++
		return false
	}

	items := arg.Items()
	delimiter := items[0].Scalar()

	var parts []string
	var flatten func(*template.Value)
	flatten = func(item *template.Value) {
		if item.IsList() {
			for _, inner := range item.Items() {
				flatten(inner)
			}
			return
		}
		parts = append(parts, item.Scalar())
	}
	for _, item := range items[1:] {
		flatten(item)
	}

	v.Replace(template.String(strings.Join(parts, delimiter)))
	return true
}

// =============================================================================
// resource ids
// =============================================================================

// resolveID turns a UUID string that equals some parameter default into a
// get_resource reference named after that parameter, minus an "_id" suffix.
func (st *resolution) resolveID(v, _ *template.Value, _ string) bool {
	s, ok := v.Str()
	if !ok || !isUUID(s) {
		return false
	}
	for _, name := range st.doc.Parameters.Names() {
		param, _ := st.doc.Parameters.Get(name)
		if !param.HasDefault {
			continue
		}
		if d, ok := param.Default.Str(); ok && d == s {
			v.Replace(template.MapOf(KeyGetResource, strings.TrimSuffix(name, "_id")))
			return true
		}
	}
	return false
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// hasPending reports whether v still holds a value-producing marker that a
// later rule in the pass may resolve.
func hasPending(v *template.Value) bool {
	found := false
	v.Walk(func(n *template.Value) bool {
		if found {
			return false
		}
		for _, key := range []string{KeyGetFile, KeyStrReplace, KeyListJoin} {
			if _, ok := marker(n, key); ok {
				found = true
				return false
			}
		}
		return true
	})
	return found
}
