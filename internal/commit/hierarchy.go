package commit

import "github.com/org/secretplane/pkg/models"

// SortFoldersByHierarchy orders folders parent-before-children, breadth-first
// by depth. Roots (nil parent, or a parent outside the input set) come first.
// Initialization depends on this order: a child folder's checkpoint rows
// reference folder-version ids that its parent's pass must already have
// created.
func SortFoldersByHierarchy(folders []models.Folder) []models.Folder {
	byID := make(map[string]models.Folder, len(folders))
	children := make(map[string][]models.Folder, len(folders))
	var queue []models.Folder

	for _, f := range folders {
		byID[f.ID] = f
	}
	for _, f := range folders {
		if f.ParentID == nil {
			queue = append(queue, f)
			continue
		}
		if _, ok := byID[*f.ParentID]; !ok {
			// Parent not in the input set: treat as a root of its subtree.
			queue = append(queue, f)
			continue
		}
		children[*f.ParentID] = append(children[*f.ParentID], f)
	}

	out := make([]models.Folder, 0, len(folders))
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		out = append(out, f)
		queue = append(queue, children[f.ID]...)
	}
	return out
}
