package engine

import "fmt"

// graph is the validated, build-time form of a node/connection list: nodes
// with their registry types resolved and defaults merged, plus adjacency
// structures the scheduler reads. Node order is the caller's insertion
// order, which makes ready-node tie-breaking deterministic.
type graph struct {
	nodes []Node
	types map[string]NodeType

	// inbound and outbound hold the kept connections per node, in insertion
	// order.
	inbound  map[string][]Connection
	outbound map[string][]Connection

	// feeders maps a node id to the unique ids of nodes feeding one of its
	// declared input ports. A node is ready once every feeder has executed.
	feeders map[string][]string
}

// buildGraph validates a node and connection list against the registry.
//
// Nodes whose type tag has no registry entry are silently discarded, along
// with any connection touching them; an unknown type is a canvas-side
// concern, not a run-time failure. Discarding everything, or starting from
// an empty list, fails with ErrNoExecutableNodes. A cycle among connected
// nodes fails with ErrCircularReference before anything executes.
func buildGraph(nodes []Node, connections []Connection, reg Registry) (*graph, error) {
	g := &graph{
		types:    make(map[string]NodeType),
		inbound:  make(map[string][]Connection),
		outbound: make(map[string][]Connection),
		feeders:  make(map[string][]string),
	}

	for _, n := range nodes {
		t, ok := reg[n.Type]
		if !ok {
			continue
		}
		if _, dup := g.types[n.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
		}
		n.Config = mergeConfig(t.Defaults, n.Config)
		g.nodes = append(g.nodes, n)
		g.types[n.ID] = t
	}
	if len(g.nodes) == 0 {
		return nil, ErrNoExecutableNodes
	}

	for _, c := range connections {
		c = c.normalized()
		if _, ok := g.types[c.Source]; !ok {
			continue
		}
		if _, ok := g.types[c.Target]; !ok {
			continue
		}
		g.outbound[c.Source] = append(g.outbound[c.Source], c)
		g.inbound[c.Target] = append(g.inbound[c.Target], c)
	}

	for _, n := range g.nodes {
		declared := inputPorts(n, g.types[n.ID])
		for _, c := range g.inbound[n.ID] {
			if !containsPort(declared, c.TargetPort) {
				continue
			}
			if !containsString(g.feeders[n.ID], c.Source) {
				g.feeders[n.ID] = append(g.feeders[n.ID], c.Source)
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycles runs a depth-first traversal with an explicit recursion
// stack over the connected subset of the graph. An edge into a node already
// on the active path is a cycle. Nodes with no connections are independent
// roots and are never visited.
func (g *graph) detectCycles() error {
	done := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if done[id] {
			return nil
		}
		if onStack[id] {
			return fmt.Errorf("%w: node %q is part of a cycle", ErrCircularReference, id)
		}
		onStack[id] = true
		for _, c := range g.outbound[id] {
			if err := visit(c.Target); err != nil {
				return err
			}
		}
		delete(onStack, id)
		done[id] = true
		return nil
	}

	for _, n := range g.nodes {
		if len(g.inbound[n.ID]) == 0 && len(g.outbound[n.ID]) == 0 {
			continue
		}
		if err := visit(n.ID); err != nil {
			return err
		}
	}
	return nil
}

func mergeConfig(defaults, cfg map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(cfg))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

func containsPort(ports []string, name string) bool {
	return containsString(ports, name)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
