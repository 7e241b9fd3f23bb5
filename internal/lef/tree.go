package lef

import "github.com/ewflib/goewf/ewferr"

// FileEntry is one node of the reconstructed LEF file-entry tree
// (spec §3's "LEF file entry"): identifier, parent identifier, and the
// children attached to it by Tree.
type FileEntry struct {
	Identifier       int64
	ParentIdentifier int64
	Name             string
	Fields           map[string]string
	Children         []*FileEntry
}

// Tree is a forest of FileEntry nodes rooted at the synthetic identifier
// zero, built from a flat slice of "file"-category records in a single
// pass (design §4.6, spec §3's "forest rooted at a synthetic root").
type Tree struct {
	Root *FileEntry
	byID map[int64]*FileEntry
}

// BuildTree attaches every non-root record to its parent. A record
// whose parent identifier is neither zero nor the identifier of some
// record in the stream fails DanglingParent — spec §4.6's "forward
// references to unknown identifiers fail DanglingParent". All records
// are collected before any is attached, so a parent may appear after
// its children in the stream.
func BuildTree(records []Record) (*Tree, error) {
	root := &FileEntry{Identifier: 0, Name: ""}
	t := &Tree{Root: root, byID: map[int64]*FileEntry{0: root}}

	for _, rec := range records {
		id, ok, err := rec.Int64("identifier")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ewferr.New(ewferr.MalformedRecord, "file entry missing identifier")
		}
		if id == 0 && root.Fields == nil {
			// The first record carrying identifier zero describes the
			// root itself rather than a new entry.
			root.Name, _ = rec.String("name")
			root.Fields = rec.Fields
			continue
		}
		if _, exists := t.byID[id]; exists {
			return nil, ewferr.New(ewferr.MalformedRecord, "duplicate file entry identifier").
				WithDetail("identifier", id)
		}

		parentID, hasParent, err := rec.Int64("parent_identifier")
		if err != nil {
			return nil, err
		}
		if !hasParent {
			parentID = 0
		}

		name, _ := rec.String("name")
		entry := &FileEntry{
			Identifier:       id,
			ParentIdentifier: parentID,
			Name:             name,
			Fields:           rec.Fields,
		}
		t.byID[id] = entry
	}

	for id, entry := range t.byID {
		if id == 0 {
			continue
		}
		parent, ok := t.byID[entry.ParentIdentifier]
		if !ok {
			return nil, ewferr.New(ewferr.DanglingParent, "file entry references unknown parent").
				WithDetail("identifier", entry.Identifier).
				WithDetail("parent_identifier", entry.ParentIdentifier)
		}
		parent.Children = append(parent.Children, entry)
	}

	for id, entry := range t.byID {
		if id == 0 {
			continue
		}
		if !t.reachesRoot(entry) {
			return nil, ewferr.New(ewferr.MalformedRecord, "file entry parent chain forms a cycle").
				WithDetail("identifier", entry.Identifier)
		}
	}
	return t, nil
}

// reachesRoot walks an entry's parent chain to the synthetic root,
// bounded by the tree's size: spec §8 invariant 7 forbids cycles, so a
// chain that doesn't reach the root within len(byID) hops must be
// looping among already-visited entries instead.
func (t *Tree) reachesRoot(entry *FileEntry) bool {
	cur := entry
	for i := 0; i <= len(t.byID); i++ {
		if cur.Identifier == 0 {
			return true
		}
		parent, ok := t.byID[cur.ParentIdentifier]
		if !ok {
			return false
		}
		cur = parent
	}
	return false
}

// Get looks up a file entry by identifier.
func (t *Tree) Get(id int64) (*FileEntry, bool) {
	e, ok := t.byID[id]
	return e, ok
}

// Len reports the number of entries in the tree, including the
// synthetic root.
func (t *Tree) Len() int { return len(t.byID) }
