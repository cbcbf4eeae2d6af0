package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	ordered, err := topologicalSort(Registry)
	require.NoError(t, err)

	position := make(map[string]int, len(ordered))
	for i, d := range ordered {
		position[d.Name] = i
	}

	for _, d := range ordered {
		for _, dep := range d.DependsOn {
			assert.Lessf(t, position[dep], position[d.Name],
				"%s must be created after its dependency %s", d.Name, dep)
		}
	}
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	cyclic := []Descriptor{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}

	_, err := topologicalSort(cyclic)
	assert.Error(t, err)
}

func TestTopologicalSortUnknownDependency(t *testing.T) {
	bad := []Descriptor{
		{Name: "a", DependsOn: []string{"missing"}},
	}

	_, err := topologicalSort(bad)
	assert.Error(t, err)
}
