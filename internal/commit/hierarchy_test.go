package commit

import (
	"testing"

	"github.com/org/secretplane/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func folder(id string, parent *string) models.Folder {
	return models.Folder{ID: id, ParentID: parent, Name: id}
}

func strPtr(s string) *string { return &s }

func TestSortFoldersByHierarchy(t *testing.T) {
	// root → a, b; a → a1, a2; a1 → deep. Input deliberately scrambled.
	input := []models.Folder{
		folder("deep", strPtr("a1")),
		folder("a2", strPtr("a")),
		folder("b", strPtr("root")),
		folder("root", nil),
		folder("a1", strPtr("a")),
		folder("a", strPtr("root")),
	}
	sorted := SortFoldersByHierarchy(input)
	require.Len(t, sorted, len(input))

	pos := map[string]int{}
	for i, f := range sorted {
		pos[f.ID] = i
	}
	assert.Less(t, pos["root"], pos["a"])
	assert.Less(t, pos["root"], pos["b"])
	assert.Less(t, pos["a"], pos["a1"])
	assert.Less(t, pos["a"], pos["a2"])
	assert.Less(t, pos["a1"], pos["deep"])
}

func TestSortFoldersByHierarchyBreadthFirst(t *testing.T) {
	input := []models.Folder{
		folder("root", nil),
		folder("a", strPtr("root")),
		folder("b", strPtr("root")),
		folder("a1", strPtr("a")),
		folder("b1", strPtr("b")),
	}
	sorted := SortFoldersByHierarchy(input)
	pos := map[string]int{}
	for i, f := range sorted {
		pos[f.ID] = i
	}
	// Whole level before the next, not depth-first.
	assert.Less(t, pos["b"], pos["a1"])
	assert.Less(t, pos["a"], pos["b1"])
}

// A folder whose parent is outside the input set is treated as a root rather
// than dropped.
func TestSortFoldersByHierarchyOrphan(t *testing.T) {
	input := []models.Folder{
		folder("orphan", strPtr("missing")),
		folder("root", nil),
		folder("child", strPtr("orphan")),
	}
	sorted := SortFoldersByHierarchy(input)
	require.Len(t, sorted, 3)
	pos := map[string]int{}
	for i, f := range sorted {
		pos[f.ID] = i
	}
	assert.Less(t, pos["orphan"], pos["child"])
}

func TestSortFoldersByHierarchyEmpty(t *testing.T) {
	assert.Empty(t, SortFoldersByHierarchy(nil))
}
