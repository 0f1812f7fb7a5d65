package flow

import "fmt"

// Graph is the executable view of a Definition: adjacency in both directions
// plus the traversal queries the engine and validator need. Node order is
// definition order, which makes every query deterministic.
type Graph struct {
	order     []string
	nodes     map[string]*Node
	children  map[string][]string
	parents   map[string][]string
	edgesFrom map[string][]*Edge
}

// NewGraph builds a Graph from a definition. It rejects duplicate node ids
// and edges referencing nodes that do not exist; it does not reject cycles
// (HasCycle and TopologicalSort report those).
func NewGraph(def *Definition) (*Graph, error) {
	g := &Graph{
		nodes:     make(map[string]*Node, len(def.Nodes)),
		children:  make(map[string][]string),
		parents:   make(map[string][]string),
		edgesFrom: make(map[string][]*Edge),
	}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if _, ok := g.nodes[n.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	for i := range def.Edges {
		e := &def.Edges[i]
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge %q references unknown target node %q", e.ID, e.Target)
		}
		g.edgesFrom[e.Source] = append(g.edgesFrom[e.Source], e)
		if !contains(g.children[e.Source], e.Target) {
			g.children[e.Source] = append(g.children[e.Source], e.Target)
		}
		if !contains(g.parents[e.Target], e.Source) {
			g.parents[e.Target] = append(g.parents[e.Target], e.Source)
		}
	}
	return g, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in definition order.
func (g *Graph) NodeIDs() []string {
	return append([]string(nil), g.order...)
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.order) }

// RootIDs returns nodes with no incoming edges, in definition order.
func (g *Graph) RootIDs() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// LeafIDs returns nodes with no outgoing edges, in definition order.
func (g *Graph) LeafIDs() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.children[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Parents returns the direct upstream node ids of id.
func (g *Graph) Parents(id string) []string {
	return append([]string(nil), g.parents[id]...)
}

// EdgesFrom returns the outgoing edges of id.
func (g *Graph) EdgesFrom(id string) []*Edge {
	return append([]*Edge(nil), g.edgesFrom[id]...)
}

// ReadySet returns, in definition order, the nodes not yet done whose
// upstream dependencies are all done. For a fresh run this is exactly the
// root set.
func (g *Graph) ReadySet(done map[string]bool) []*Node {
	var ready []*Node
	for _, id := range g.order {
		if done[id] {
			continue
		}
		ok := true
		for _, p := range g.parents[id] {
			if !done[p] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, g.nodes[id])
		}
	}
	return ready
}

func (g *Graph) walk(start []string, next map[string][]string) map[string]bool {
	seen := make(map[string]bool)
	queue := append([]string(nil), start...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, next[id]...)
	}
	return seen
}

// Descendants returns every node reachable from id, excluding id itself,
// in definition order.
func (g *Graph) Descendants(id string) []string {
	seen := g.walk(g.children[id], g.children)
	delete(seen, id)
	return g.ordered(seen)
}

// UpstreamIDs returns every transitive ancestor of id, excluding id itself,
// in definition order.
func (g *Graph) UpstreamIDs(id string) []string {
	seen := g.walk(g.parents[id], g.parents)
	delete(seen, id)
	return g.ordered(seen)
}

func (g *Graph) ordered(set map[string]bool) []string {
	var out []string
	for _, id := range g.order {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

// BranchNodes returns the nodes reachable from a condition node through its
// outgoing edges labeled with the given branch, including those edges'
// immediate targets.
func (g *Graph) BranchNodes(conditionID, label string) []string {
	var starts []string
	for _, e := range g.edgesFrom[conditionID] {
		if e.ConditionLabel() == label {
			starts = append(starts, e.Target)
		}
	}
	seen := g.walk(starts, g.children)
	delete(seen, conditionID)
	return g.ordered(seen)
}

// ExclusiveBranchNodes returns the branch nodes that are reachable only
// through the condition's edges with the given label. A node also fed by the
// other branch, or by a path that bypasses the condition, is not exclusive
// and must not be skipped when the branch loses.
func (g *Graph) ExclusiveBranchNodes(conditionID, label string) []string {
	branch := make(map[string]bool)
	for _, id := range g.BranchNodes(conditionID, label) {
		branch[id] = true
	}
	if len(branch) == 0 {
		return nil
	}

	// Reachability with the labeled edges removed. Anything in the branch
	// still reachable from a root has another way in.
	pruned := make(map[string][]string, len(g.children))
	for _, id := range g.order {
		if id != conditionID {
			pruned[id] = g.children[id]
			continue
		}
		var kept []string
		for _, e := range g.edgesFrom[id] {
			if e.ConditionLabel() != label && !contains(kept, e.Target) {
				kept = append(kept, e.Target)
			}
		}
		pruned[id] = kept
	}
	reachable := g.walk(g.RootIDs(), pruned)

	exclusive := make(map[string]bool)
	for id := range branch {
		if !reachable[id] {
			exclusive[id] = true
		}
	}
	return g.ordered(exclusive)
}

// TopologicalSort returns a Kahn ordering of all nodes, stable with respect
// to definition order. It fails if the graph has a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.parents[id])
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, child := range g.children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if len(sorted) != len(g.order) {
		return nil, fmt.Errorf("workflow graph contains a cycle")
	}
	return sorted, nil
}

// HasCycle reports whether the graph contains a directed cycle.
func (g *Graph) HasCycle() bool {
	_, err := g.TopologicalSort()
	return err != nil
}

// ExecutionLevels groups nodes into layers where every node's dependencies
// live in strictly earlier layers. Nodes within a layer can run in parallel.
// Fails on cyclic graphs.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	level := make(map[string]int, len(sorted))
	maxLevel := 0
	for _, id := range sorted {
		l := 0
		for _, p := range g.parents[id] {
			if level[p]+1 > l {
				l = level[p] + 1
			}
		}
		level[id] = l
		if l > maxLevel {
			maxLevel = l
		}
	}
	levels := make([][]string, maxLevel+1)
	for _, id := range g.order {
		levels[level[id]] = append(levels[level[id]], id)
	}
	return levels, nil
}
