package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopologicalOrder(t *testing.T) {
	tests := []struct {
		name     string
		graph    *Graph
		want     []string
		complete bool
	}{
		{name: "nil graph", graph: nil, want: []string{}, complete: true},
		{name: "empty graph", graph: &Graph{}, want: []string{}, complete: true},
		{name: "linear", graph: linear("in", "research", "out"), want: []string{"in", "research", "out"}, complete: true},
		{
			name: "edges declared out of order",
			graph: &Graph{
				Nodes: []Node{{ID: "out"}, {ID: "mid"}, {ID: "in"}},
				Edges: []Edge{{Source: "mid", Target: "out"}, {Source: "in", Target: "mid"}},
			},
			want:     []string{"in", "mid", "out"},
			complete: true,
		},
		{
			name:     "independent nodes keep declaration order",
			graph:    &Graph{Nodes: []Node{{ID: "c"}, {ID: "a"}, {ID: "b"}}},
			want:     []string{"c", "a", "b"},
			complete: true,
		},
		{
			name: "lowest declared ready node goes first",
			graph: &Graph{
				// root fans out to x and y; z was declared before both and is independent
				Nodes: []Node{{ID: "root"}, {ID: "y"}, {ID: "z"}, {ID: "x"}},
				Edges: []Edge{{Source: "root", Target: "x"}, {Source: "root", Target: "y"}},
			},
			want:     []string{"root", "y", "z", "x"},
			complete: true,
		},
		{
			name: "two-node cycle",
			graph: &Graph{
				Nodes: []Node{{ID: "a"}, {ID: "b"}},
				Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
			},
			want:     []string{},
			complete: false,
		},
		{
			name: "cycle behind an acyclic prefix",
			graph: &Graph{
				Nodes: []Node{{ID: "in"}, {ID: "a"}, {ID: "b"}, {ID: "solo"}},
				Edges: []Edge{{Source: "b", Target: "a"}, {Source: "a", Target: "b"}},
			},
			want:     []string{"in", "solo"},
			complete: false,
		},
		{
			name: "self loop",
			graph: &Graph{
				Nodes: []Node{{ID: "a"}, {ID: "b"}},
				Edges: []Edge{{Source: "a", Target: "a"}},
			},
			want:     []string{"b"},
			complete: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, complete := TopologicalOrder(tt.graph)
			assert.Equal(t, tt.want, order)
			assert.Equal(t, tt.complete, complete)
		})
	}
}

func TestTopologicalOrder_CycleShortensOrder(t *testing.T) {
	g := &Graph{
		Nodes: []Node{{ID: "start"}, {ID: "loop1"}, {ID: "loop2"}, {ID: "after"}},
		Edges: []Edge{
			{Source: "loop2", Target: "loop1"},
			{Source: "loop1", Target: "loop2"},
			{Source: "start", Target: "after"},
		},
	}

	order, complete := TopologicalOrder(g)
	assert.False(t, complete)
	assert.Less(t, len(order), len(g.Nodes))
	assert.NotContains(t, order, "loop1")
	assert.NotContains(t, order, "loop2")
	assert.Equal(t, []string{"loop1", "loop2"}, Unordered(g, order))
}

func TestUnordered_CompleteOrder(t *testing.T) {
	g := linear("a", "b")
	order, _ := TopologicalOrder(g)
	assert.Empty(t, Unordered(g, order))
}
