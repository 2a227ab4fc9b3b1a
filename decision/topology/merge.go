package topology

import (
	"strings"
)

// mergeNodes folds every absorbed-kind node referenced by a host node into
// that host. The host keeps its own values where keys collide, is retyped to
// the composite kind (Server_Port), and later references to the absorbed
// node resolve to the host. A node absorbed once is not absorbed again.
func (st *build) mergeNodes() {
	for _, hostID := range st.main[1:] {
		host := st.arena[hostID]
		if host.absorbed {
			continue
		}
		hostKind := host.Kind
		walkReferences(host.refs[0].data, func(name string) {
			id, ok := st.mainByName[name]
			if !ok || id == hostID {
				return
			}
			part := st.arena[id]
			if part.absorbed || len(part.refs) > 1 {
				return
			}
			if want, ok := st.mergePairs[part.Kind]; !ok || want != hostKind {
				return
			}
			st.absorb(host, part)
		})
	}
}

func (st *build) absorb(host, part *Node) {
	if len(host.refs) == 1 {
		// references keep being read from the unmerged tree
		host.Data = host.Data.Clone()
	}
	for _, key := range part.Data.Keys() {
		if host.Data.Has(key) {
			continue
		}
		v, _ := part.Data.Get(key)
		host.Data.Set(key, v.Clone())
	}

	host.refs = append(host.refs, part.refs[0])
	if !hasKindPart(host.Kind, part.Kind) {
		host.Kind = host.Kind + "_" + part.Kind
	}

	part.absorbed = true
	st.redirect[part.ID] = host.ID
	st.logger.Debug("merged node", "host", host.Name, "absorbed", part.Name, "kind", host.Kind)
}

func hasKindPart(composite, kind string) bool {
	for _, p := range strings.Split(composite, "_") {
		if p == kind {
			return true
		}
	}
	return false
}
