package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRejectsCycleAndLeavesGraphUnchanged(t *testing.T) {
	g := New()
	require.NoError(t, g.Set(1, []int64{2}, nil)) // A consumes B

	err := g.Set(2, []int64{1}, []int64{100}) // B consumes A
	var cyc *CyclicDependencyError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, []int64{2, 1, 2}, cyc.Path)

	assert.Equal(t, []int64{2}, g.ProducersOf(1))
	assert.Empty(t, g.ProducersOf(2))
	assert.Empty(t, g.ConsumersOfDataPoint(100))
	assert.False(t, g.Has(2))
}

func TestSelfReference(t *testing.T) {
	g := New()
	err := g.Set(7, []int64{7}, nil)
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []int64{7, 7}, cyc.Path)
}

func TestLongCyclePath(t *testing.T) {
	g := New()
	require.NoError(t, g.Set(1, []int64{2}, nil))
	require.NoError(t, g.Set(2, []int64{3}, nil))
	require.NoError(t, g.Set(3, nil, nil))

	err := g.Check(3, []int64{1})
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []int64{3, 1, 2, 3}, cyc.Path)
	assert.Equal(t, "cyclic dependency: 3 -> 1 -> 2 -> 3", cyc.Error())

	// Check never mutates.
	assert.Empty(t, g.ProducersOf(3))
}

func TestSetReplacesEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.Set(1, []int64{2, 3}, []int64{10}))
	require.NoError(t, g.Set(1, []int64{3}, []int64{11}))

	assert.Equal(t, []int64{3}, g.ProducersOf(1))
	assert.Empty(t, g.DependentsOf(2))
	assert.Equal(t, []int64{1}, g.DependentsOf(3))
	assert.Empty(t, g.ConsumersOfDataPoint(10))
	assert.Equal(t, []int64{1}, g.ConsumersOfDataPoint(11))

	// The old edge 1 -> 2 no longer blocks 2 -> 1.
	assert.NoError(t, g.Check(2, []int64{1}))
}

func TestRemoveKeepsIncomingEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.Set(1, []int64{2}, nil))
	require.NoError(t, g.Set(2, nil, []int64{50}))

	g.Remove(2)
	assert.False(t, g.Has(2))
	assert.Equal(t, []int64{1}, g.DependentsOf(2))
	assert.Empty(t, g.ConsumersOfDataPoint(50))

	g.Remove(1)
	assert.Empty(t, g.DependentsOf(2))
	assert.Equal(t, 0, g.Len())
}

func TestTopologicalOrder(t *testing.T) {
	g := New()
	// C consumes B consumes A; D consumes A; E is independent.
	require.NoError(t, g.Set(1, nil, nil))
	require.NoError(t, g.Set(2, []int64{1}, nil))
	require.NoError(t, g.Set(3, []int64{2}, nil))
	require.NoError(t, g.Set(4, []int64{1}, nil))
	require.NoError(t, g.Set(5, nil, nil))

	order, err := g.TopologicalOrder([]int64{3, 2, 4, 1, 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)

	priorities := map[int64]int{4: 10, 5: 20}
	order, err = g.TopologicalOrder([]int64{3, 2, 4, 1, 5}, func(id int64) int { return priorities[id] })
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 4, 2, 3}, order)

	// Producers outside the subset are ignored.
	order, err = g.TopologicalOrder([]int64{3, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, order)
}

func TestClosure(t *testing.T) {
	g := New()
	require.NoError(t, g.Set(2, []int64{1}, nil))
	require.NoError(t, g.Set(3, []int64{2}, nil))
	require.NoError(t, g.Set(4, []int64{3}, nil))
	require.NoError(t, g.Set(5, nil, []int64{99}))
	require.NoError(t, g.Set(6, []int64{5}, nil))

	all := func(int64) bool { return true }
	assert.Equal(t, []int64{2, 3, 4}, g.Closure(g.DependentsOf(1), all))
	assert.Equal(t, []int64{5, 6}, g.Closure(g.ConsumersOfDataPoint(99), all))

	// Traversal stops at excluded points.
	notThree := func(id int64) bool { return id != 3 }
	assert.Equal(t, []int64{2}, g.Closure(g.DependentsOf(1), notThree))
}
