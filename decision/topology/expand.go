package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gacybercenter/openstack-top-graph/decision/template"
	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

const (
	// DefaultIndexVar is replaced with the 1-based copy number in a group's resource_def.
	DefaultIndexVar = "%index%"

	maxGroupDepth = 8
	maxGroupCount = 1000
)

// expandGroup synthesises count copies of a ResourceGroup's resource_def.
// Each copy is created through createNode, so nested groups and auxiliary
// kinds are handled the same as top-level resources.
func (st *build) expandGroup(name string, data *template.Value, depth int) {
	if depth >= maxGroupDepth {
		st.sink.Report(topoerrors.NewInvalidResourceError(name, "resource groups nested too deeply"))
		return
	}

	count, ok := groupCount(data)
	if !ok {
		st.sink.Report(topoerrors.NewInvalidResourceError(name, "resource group count is not a number"))
		return
	}
	if count > maxGroupCount {
		st.sink.Report(topoerrors.NewInvalidResourceError(name,
			fmt.Sprintf("resource group count %d capped at %d", count, maxGroupCount)))
		count = maxGroupCount
	}

	def, ok := data.Get("resource_def")
	if !ok || !def.IsMap() {
		st.sink.Report(topoerrors.NewInvalidResourceError(name, "resource group has no resource_def"))
		return
	}

	placeholder := DefaultIndexVar
	if v, ok := data.Get("index_var"); ok {
		if s, ok := v.Str(); ok && s != "" {
			placeholder = s
		}
	}

	origProps, _ := def.Get("properties")
	declared, hasName := stringProp(origProps, "name")
	base := name
	if hasName {
		base = declared
	}

	for i := 1; i <= count; i++ {
		child := def.Clone()
		replaceIndex(child, placeholder, strconv.Itoa(i))

		var childType string
		if t, ok := child.Get("type"); ok {
			childType = t.Scalar()
		}
		props, _ := child.Get("properties")

		childName, ok := stringProp(props, "name")
		if !ok || (hasName && childName == declared) {
			childName = fmt.Sprintf("%s (%d)", base, i)
		}
		st.createNode(childName, childType, props, depth+1)
	}
}

// groupCount reads count as a number or numeric string. An absent count means one copy.
func groupCount(data *template.Value) (int, bool) {
	v, ok := data.Get("count")
	if !ok || v.IsNull() {
		return 1, true
	}
	var n int
	if f, ok := v.Num(); ok {
		n = int(f)
	} else if s, ok := v.Str(); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, false
		}
		n = parsed
	} else {
		return 0, false
	}
	if n < 0 {
		n = 0
	}
	return n, true
}

// replaceIndex substitutes every occurrence of the placeholder in every
// string of v, as Heat does.
func replaceIndex(v *template.Value, placeholder, index string) {
	v.Walk(func(n *template.Value) bool {
		if s, ok := n.Str(); ok && strings.Contains(s, placeholder) {
			n.Replace(template.String(strings.ReplaceAll(s, placeholder, index)))
		}
		return true
	})
}

func stringProp(props *template.Value, key string) (string, bool) {
	v, ok := props.Get(key)
	if !ok {
		return "", false
	}
	return v.Str()
}
