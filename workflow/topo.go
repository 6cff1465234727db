package workflow

// TopologicalOrder orders node IDs with Kahn's algorithm. Ties are broken by
// node declaration order. complete is false when the graph has a cycle; the
// returned order then holds only the nodes that could be ordered.
func TopologicalOrder(g *Graph) (order []string, complete bool) {
	if g == nil || len(g.Nodes) == 0 {
		return []string{}, true
	}

	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		index[n.ID] = i
	}
	inDegree := make([]int, len(g.Nodes))
	successors := make([][]int, len(g.Nodes))
	for _, e := range g.Edges {
		src, okS := index[e.Source]
		dst, okT := index[e.Target]
		if !okS || !okT {
			continue
		}
		successors[src] = append(successors[src], dst)
		inDegree[dst]++
	}

	// ready 按声明顺序保存入度为 0 的节点
	ready := make([]bool, len(g.Nodes))
	for i, d := range inDegree {
		ready[i] = d == 0
	}
	done := make([]bool, len(g.Nodes))
	order = make([]string, 0, len(g.Nodes))
	for {
		next := -1
		for i := range g.Nodes {
			if ready[i] && !done[i] {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		order = append(order, g.Nodes[next].ID)
		for _, s := range successors[next] {
			inDegree[s]--
			if inDegree[s] == 0 {
				ready[s] = true
			}
		}
	}
	return order, len(order) == len(g.Nodes)
}

// Unordered returns the IDs of nodes missing from order, in declaration order.
func Unordered(g *Graph, order []string) []string {
	in := make(map[string]bool, len(order))
	for _, id := range order {
		in[id] = true
	}
	var out []string
	for _, n := range g.Nodes {
		if !in[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}
