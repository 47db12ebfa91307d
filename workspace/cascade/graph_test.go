package cascade

import (
	"testing"

	"label_pizza/workspace/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphRejectsCycles(t *testing.T) {
	a := node{typ: "a", entity: schema.VideoEntity, root: Archive}
	b := node{typ: "b", entity: schema.UserEntity, root: Archive}
	c := node{typ: "c", entity: schema.ProjectEntity, root: Archive}

	_, err := newGraph([]node{a, b, c}, []edge{
		{parent: "a", child: "b", action: Archive},
		{parent: "b", child: "c", action: Archive},
		{parent: "c", child: "a", action: Delete},
	})
	require.ErrorIs(t, err, schema.ErrDependencyCycle)

	_, err = newGraph([]node{a, b}, []edge{{parent: "a", child: "missing", action: Archive}})
	assert.Error(t, err)

	_, err = newGraph([]node{a, a}, nil)
	assert.Error(t, err)
}

func TestGraphOrderBreaksTiesByDeclaration(t *testing.T) {
	a := node{typ: "a"}
	b := node{typ: "b"}
	c := node{typ: "c"}
	d := node{typ: "d"}

	g, err := newGraph([]node{d, c, b, a}, []edge{
		{parent: "c", child: "a"},
		{parent: "b", child: "a"},
	})
	require.NoError(t, err)

	// d, c, b have no parents and keep declaration order; a follows its parents.
	assert.Equal(t, 0, g.rank["d"])
	assert.Equal(t, 1, g.rank["c"])
	assert.Equal(t, 2, g.rank["b"])
	assert.Equal(t, 3, g.rank["a"])
}

func TestBuiltInGraphsRespectEdges(t *testing.T) {
	for _, g := range []*graph{removalGraph, schemaChangeGraph, demotionGraph} {
		for parent, edges := range g.children {
			for _, e := range edges {
				assert.Less(t, g.rank[parent], g.rank[e.child], "%v -> %v", parent, e.child)
			}
		}
	}

	assert.Less(t, removalGraph.rank[annotatorRoleNode], removalGraph.rank[reviewerRoleNode])
	assert.Less(t, removalGraph.rank[reviewerRoleNode], removalGraph.rank[adminRoleNode])
	assert.Less(t, removalGraph.rank[adminRoleNode], removalGraph.rank[groundTruthNode])
}
