package topology

import (
	"github.com/gacybercenter/openstack-top-graph/decision/template"
)

// Reference keys
const (
	refGetResource = "get_resource"
	refPort        = "port"
)

// deriveLinks walks the data of every main and staged node and records an
// edge from each referenced resource to the referencing node.
func (st *build) deriveLinks() {
	ids := make([]NodeID, 0, len(st.main)+len(st.staged))
	ids = append(ids, st.main...)
	ids = append(ids, st.staged...)
	for _, id := range ids {
		target := st.arena[id]
		if target.absorbed {
			continue
		}
		for _, ref := range target.refs {
			if ref.data.Len() == 0 {
				continue
			}
			ref := ref
			walkReferences(ref.data, func(name string) {
				st.link(target, ref.kind, name)
			})
		}
	}
}

// link records source -> target for one reference. targetKind is the kind of
// the resource whose data held the reference; it differs from target.Kind
// only for merged nodes.
func (st *build) link(target *Node, targetKind, name string) {
	srcID, ok := st.lookup(name)
	if !ok || srcID == target.ID {
		return
	}
	source := st.arena[srcID]

	if targetKind == KindRouterInterface && source.Kind == KindSubnet {
		if gw, ok := source.Data.Get("gateway_ip"); ok {
			target.Data.Set("fixed_ip", gw.Clone())
		}
	}

	// a port's subnet reference already implies its network
	if source.Kind == KindNet && targetKind == KindPort {
		return
	}

	st.links = append(st.links, Edge{Source: srcID, Target: target.ID})
}

// walkReferences calls fn with every resource name referenced in v, in
// document order. A reference is a map carrying get_resource, or a string
// port field.
func walkReferences(v *template.Value, fn func(name string)) {
	v.Walk(func(n *template.Value) bool {
		if name, ok := referenceName(n); ok {
			fn(name)
		}
		return true
	})
}

func referenceName(v *template.Value) (string, bool) {
	if !v.IsMap() {
		return "", false
	}
	if ref, ok := v.Get(refGetResource); ok && !ref.IsNull() {
		name, ok := ref.Str()
		return name, ok && name != ""
	}
	if ref, ok := v.Get(refPort); ok {
		name, ok := ref.Str()
		return name, ok && name != ""
	}
	return "", false
}
