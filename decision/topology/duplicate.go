package topology

// duplicateAuxiliaries materialises staged auxiliary nodes. An auxiliary
// linked to K distinct neighbours becomes K copies, each linked to exactly
// one neighbour in the original direction. An unlinked auxiliary is added once.
func (st *build) duplicateAuxiliaries() {
	type neighbour struct {
		id       NodeID
		outbound bool
	}

	for _, auxID := range st.staged {
		var neighbours []neighbour
		seen := make(map[NodeID]bool)
		kept := make([]Edge, 0, len(st.links))

		for _, e := range st.links {
			var nb neighbour
			switch auxID {
			case e.Source:
				nb = neighbour{id: e.Target, outbound: true}
			case e.Target:
				nb = neighbour{id: e.Source, outbound: false}
			default:
				kept = append(kept, e)
				continue
			}
			if !seen[nb.id] {
				seen[nb.id] = true
				neighbours = append(neighbours, nb)
			}
		}
		st.links = kept

		aux := st.arena[auxID]
		if len(neighbours) == 0 {
			st.main = append(st.main, auxID)
			continue
		}

		for _, nb := range neighbours {
			cp := st.copyNode(aux)
			st.main = append(st.main, cp.ID)
			if nb.outbound {
				st.links = append(st.links, Edge{Source: cp.ID, Target: nb.id})
			} else {
				st.links = append(st.links, Edge{Source: nb.id, Target: cp.ID})
			}
		}
	}
}

// copyNode allocates a new arena slot sharing n's name, kind and data.
func (st *build) copyNode(n *Node) *Node {
	cp := &Node{
		ID:   NodeID(len(st.arena)),
		Name: n.Name,
		Kind: n.Kind,
		Data: n.Data,
		refs: n.refs,
	}
	st.arena = append(st.arena, cp)
	return cp
}
