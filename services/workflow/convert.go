package workflow

import "flomoji/api/services/engine"

// EngineGraph converts the stored document into the engine's node and
// connection lists. Canvas-only fields (positions, edge styling) do not
// survive the conversion.
func (w *Workflow) EngineGraph() ([]engine.Node, []engine.Connection) {
	nodes := make([]engine.Node, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		nodes = append(nodes, engine.Node{
			ID:     n.ID,
			Type:   n.Type,
			Name:   n.Data.Label,
			Config: n.Data.Config,
		})
	}

	connections := make([]engine.Connection, 0, len(w.Edges))
	for _, e := range w.Edges {
		connections = append(connections, engine.Connection{
			Source:     e.Source,
			SourcePort: e.SourceHandle,
			Target:     e.Target,
			TargetPort: e.TargetHandle,
		})
	}
	return nodes, connections
}

// nodeByID returns the document node with the given id.
func (w *Workflow) nodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
