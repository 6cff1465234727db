package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeType defines the type of a graph node
type NodeType string

const (
	// NodeTypeAgent runs an agent on the node input
	NodeTypeAgent NodeType = "agent"
	// NodeTypeInput passes the input through
	NodeTypeInput NodeType = "input"
	// NodeTypeOutput passes the input through and records it as the final result
	NodeTypeOutput NodeType = "output"
)

var (
	// ErrUnknownNode is returned when an edge references a node that does not exist
	ErrUnknownNode = errors.New("edge references unknown node")
	// ErrMultiplePredecessors is returned when a node has more than one incoming edge
	ErrMultiplePredecessors = errors.New("node has more than one incoming edge")
	// ErrDuplicateNode is returned when two nodes share an ID
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrEmptyNodeID is returned when a node has no ID
	ErrEmptyNodeID = errors.New("node id cannot be empty")
)

// NodeData carries node-type specific settings
type NodeData struct {
	// AgentType is the registry key of the agent (agent nodes)
	AgentType    string `json:"agentType,omitempty" yaml:"agentType,omitempty"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// Node is a single step of the workflow graph
type Node struct {
	ID   string   `json:"id" yaml:"id"`
	Type NodeType `json:"type" yaml:"type"`
	Data NodeData `json:"data" yaml:"data"`
}

// Edge connects Source to Target
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Graph is the persisted node/edge description of an agent pipeline
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given ID
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Predecessor returns the source of the first edge that targets id
func (g *Graph) Predecessor(id string) (string, bool) {
	for _, e := range g.Edges {
		if e.Target == id {
			return e.Source, true
		}
	}
	return "", false
}

// Validate checks structural integrity. Cycles are tolerated here; the
// executor skips nodes that cannot be ordered.
func (g *Graph) Validate() error {
	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("node #%d: %w", i, ErrEmptyNodeID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		seen[n.ID] = true
	}

	incoming := make(map[string]string, len(g.Edges))
	for _, e := range g.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("%w: %s (edge %s -> %s)", ErrUnknownNode, e.Source, e.Source, e.Target)
		}
		if !seen[e.Target] {
			return fmt.Errorf("%w: %s (edge %s -> %s)", ErrUnknownNode, e.Target, e.Source, e.Target)
		}
		if prev, ok := incoming[e.Target]; ok {
			return fmt.Errorf("%w: %s has edges from %s and %s", ErrMultiplePredecessors, e.Target, prev, e.Source)
		}
		incoming[e.Target] = e.Source
	}
	return nil
}

// ToJSON serializes the graph
func (g *Graph) ToJSON() ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return data, nil
}

// ParseGraph decodes a JSON or YAML graph and validates it. JSON is
// detected by a leading '{'.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("graph definition is empty")
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal graph from JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal graph from YAML: %w", err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &g, nil
}

// LoadGraphFile reads a graph from a .json, .yaml or .yml file
func LoadGraphFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("unsupported graph file extension %q", filepath.Ext(path))
	}
	return ParseGraph(data)
}
