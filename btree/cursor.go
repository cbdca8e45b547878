package btree

import (
	"bytes"

	"daemondb/page"
)

// frame records, for one interior page visited on the way down to the
// current leaf, which child index was taken — so Next can walk back up to
// find the next sibling subtree.
type frame struct {
	pageID uint32
	taken  int // child index taken, in [0, n]; n means rightChild
}

// Cursor provides ordered iteration over a Tree. It is invalidated by any
// structural modification (Insert/Delete) made after it was positioned;
// the caller must re-seek before continuing to use it.
type Cursor struct {
	tree    *Tree
	stack   []frame
	leafID  uint32
	entries []leafEntry
	idx     int
	ok      bool
}

// NewCursor creates an unpositioned cursor over t.
func NewCursor(t *Tree) *Cursor {
	return &Cursor{tree: t}
}

// SeekFirst positions the cursor at the smallest key in the tree.
func (c *Cursor) SeekFirst() error {
	c.stack = nil
	if c.tree.RootPageID == 0 {
		c.ok = false
		return nil
	}
	return c.descendLeftmost(c.tree.RootPageID)
}

// Seek positions the cursor at the first key >= key.
func (c *Cursor) Seek(key []byte) error {
	c.stack = nil
	if c.tree.RootPageID == 0 {
		c.ok = false
		return nil
	}
	id := c.tree.RootPageID
	for {
		pg, err := c.tree.pager.ReadPage(id)
		if err != nil {
			return err
		}
		if pg.Type() == page.TypeLeaf {
			entries, err := loadLeafEntries(pg)
			if err != nil {
				return err
			}
			idx, _ := searchLeaf(entries, key)
			c.leafID = id
			c.entries = entries
			c.idx = idx
			c.ok = idx < len(entries)
			if !c.ok {
				return c.advanceToNextLeaf()
			}
			return nil
		}
		entries, rightChild, err := loadInteriorEntries(pg)
		if err != nil {
			return err
		}
		childIdx := childIndex(entries, key)
		c.stack = append(c.stack, frame{pageID: id, taken: childIdx})
		if childIdx == len(entries) {
			id = rightChild
		} else {
			id = entries[childIdx].child
		}
	}
}

func (c *Cursor) descendLeftmost(id uint32) error {
	for {
		pg, err := c.tree.pager.ReadPage(id)
		if err != nil {
			return err
		}
		if pg.Type() == page.TypeLeaf {
			entries, err := loadLeafEntries(pg)
			if err != nil {
				return err
			}
			c.leafID = id
			c.entries = entries
			c.idx = 0
			c.ok = len(entries) > 0
			if !c.ok {
				return c.advanceToNextLeaf()
			}
			return nil
		}
		entries, rightChild, err := loadInteriorEntries(pg)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, frame{pageID: id, taken: 0})
		if len(entries) == 0 {
			id = rightChild
		} else {
			id = entries[0].child
		}
	}
}

// Valid reports whether the cursor is positioned on a live entry.
func (c *Cursor) Valid() bool { return c.ok }

// Key returns the current entry's key. Valid must be true.
func (c *Cursor) Key() []byte { return c.entries[c.idx].key }

// Payload returns the current entry's encoded record. Valid must be true.
func (c *Cursor) Payload() []byte { return c.entries[c.idx].payload }

// Next advances to the next entry in ascending key order.
func (c *Cursor) Next() error {
	if !c.ok {
		return nil
	}
	c.idx++
	if c.idx < len(c.entries) {
		return nil
	}
	return c.advanceToNextLeaf()
}

// advanceToNextLeaf walks the recorded path up until it finds an interior
// frame with an unvisited sibling to the right, then descends leftmost
// from there into the next leaf.
func (c *Cursor) advanceToNextLeaf() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		pg, err := c.tree.pager.ReadPage(top.pageID)
		if err != nil {
			return err
		}
		entries, rightChild, err := loadInteriorEntries(pg)
		if err != nil {
			return err
		}
		if top.taken < len(entries) {
			top.taken++
			var nextID uint32
			if top.taken == len(entries) {
				nextID = rightChild
			} else {
				nextID = entries[top.taken].child
			}
			return c.descendLeftmost(nextID)
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.ok = false
	c.entries = nil
	return nil
}

// Compare is exported for callers that need to re-derive key order without
// importing record, mirroring bytes.Compare's contract on raw keys.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }
