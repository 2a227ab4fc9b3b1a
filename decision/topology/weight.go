package topology

import "math"

// Weight constants: weight = sqrt(base + out*outDegree + in*inDegree)
const (
	weightBase = 36
	weightOut  = 3
	weightIn   = 2
)

// Weight sizes a node from its degree.
func Weight(out, in int) float64 {
	return math.Sqrt(float64(weightBase + weightOut*out + weightIn*in))
}

// AssignWeights recomputes every node weight from the current links.
func (g *Graph) AssignWeights() {
	out := make([]int, len(g.Nodes))
	in := make([]int, len(g.Nodes))
	for _, e := range g.Links {
		out[e.Source]++
		in[e.Target]++
	}
	for i, n := range g.Nodes {
		n.Weight = Weight(out[i], in[i])
	}
}
