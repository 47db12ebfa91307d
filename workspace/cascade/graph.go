// Package cascade plans and executes removals across the fixed dependency
// graph of workspace entities. A removal is always materialized as a Plan and
// confirmed by the caller before the transaction that applies it begins.
package cascade

import (
	"fmt"
	"strings"

	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Action string

const (
	Archive Action = "archive"
	Delete  Action = "delete"
	Revert  Action = "revert"
)

// precedence decides which action wins when a row is reached along several paths.
func (a Action) precedence() int {
	switch a {
	case Delete:
		return 3
	case Revert:
		return 2
	case Archive:
		return 1
	}
	return 0
}

// nodeType is a vertex of the dependency graph. Assignments appear once per
// role so that each role carries its own removal rules.
type nodeType string

// selector returns the ids of the child rows that depend on the parent row.
type selector func(txn *gorm.DB, parentId uuid.UUID) ([]uuid.UUID, error)

type node struct {
	typ    nodeType
	entity schema.EntityType
	model  func() interface{}
	// root is the action applied to the entity a plan is built for. Empty
	// for virtual roots that only fan out to their children.
	root Action
}

type edge struct {
	parent nodeType
	child  nodeType
	action Action
	sel    selector
}

type graph struct {
	nodes    map[nodeType]node
	children map[nodeType][]edge
	// rank is the position of each node in topological order, parents first.
	rank map[nodeType]int
}

// newGraph validates the node and edge tables and computes a topological
// order, breaking ties by declaration order.
func newGraph(nodes []node, edges []edge) (*graph, error) {
	g := &graph{
		nodes:    make(map[nodeType]node, len(nodes)),
		children: make(map[nodeType][]edge),
		rank:     make(map[nodeType]int, len(nodes)),
	}

	for _, n := range nodes {
		if _, ok := g.nodes[n.typ]; ok {
			return nil, fmt.Errorf("node %v declared twice", n.typ)
		}
		g.nodes[n.typ] = n
	}

	indegree := make(map[nodeType]int, len(nodes))
	for _, e := range edges {
		if _, ok := g.nodes[e.parent]; !ok {
			return nil, fmt.Errorf("edge references undeclared node %v", e.parent)
		}
		if _, ok := g.nodes[e.child]; !ok {
			return nil, fmt.Errorf("edge references undeclared node %v", e.child)
		}
		g.children[e.parent] = append(g.children[e.parent], e)
		indegree[e.child]++
	}

	emitted := make(map[nodeType]bool, len(nodes))
	for len(emitted) < len(nodes) {
		next := nodeType("")
		for _, n := range nodes {
			if !emitted[n.typ] && indegree[n.typ] == 0 {
				next = n.typ
				break
			}
		}

		if next == "" {
			remaining := make([]string, 0)
			for _, n := range nodes {
				if !emitted[n.typ] {
					remaining = append(remaining, string(n.typ))
				}
			}
			return nil, fmt.Errorf("%w: between %v", schema.ErrDependencyCycle, strings.Join(remaining, ", "))
		}

		g.rank[next] = len(emitted)
		emitted[next] = true
		for _, e := range g.children[next] {
			indegree[e.child]--
		}
	}

	return g, nil
}

func mustGraph(nodes []node, edges []edge) *graph {
	g, err := newGraph(nodes, edges)
	if err != nil {
		panic(fmt.Sprintf("invalid cascade graph: %v", err))
	}
	return g
}
