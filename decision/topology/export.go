package topology

import (
	"encoding/json"

	"github.com/gacybercenter/openstack-top-graph/pkg/api"
)

// Export converts the graph to its wire form.
func (g *Graph) Export() *api.Graph {
	out := &api.Graph{
		Title:       g.Title,
		Description: g.Description,
		Nodes:       make([]api.Node, 0, len(g.Nodes)),
		Links:       make([]api.Link, 0, len(g.Links)),
		Amounts:     make(map[string]int, len(g.Amounts)),
		Parameters:  make(map[string]api.Parameter, g.Parameters.Len()),
	}

	for _, n := range g.Nodes {
		node := api.Node{
			Index:   int(n.ID),
			Name:    n.Name,
			Type:    n.Kind,
			Weight:  n.Weight,
			IP:      n.IP,
			Summary: api.Summary{Short: n.Summary.Short, Long: n.Summary.Long},
		}
		if n.Data.Len() > 0 {
			if raw, err := json.Marshal(n.Data); err == nil {
				node.Data = raw
			}
		}
		out.Nodes = append(out.Nodes, node)
	}

	for _, e := range g.Links {
		out.Links = append(out.Links, api.Link{
			Source:     int(e.Source),
			Target:     int(e.Target),
			SourceName: g.Nodes[e.Source].Name,
			TargetName: g.Nodes[e.Target].Name,
		})
	}

	for kind, count := range g.Amounts {
		out.Amounts[kind] = count
	}

	for _, name := range g.Parameters.Names() {
		p, _ := g.Parameters.Get(name)
		param := api.Parameter{Type: p.Type}
		if p.HasDefault {
			if raw, err := json.Marshal(p.Default); err == nil {
				param.Default = raw
			}
		}
		out.Parameters[name] = param
	}
	return out
}
