package store

import (
	"bytes"

	dbm "github.com/cometbft/cometbft-db"
)

// KV is a single key/value pair surfaced by a scan.
type KV struct {
	Key   string
	Value []byte
}

// Cursor is the Store's lazy, restartable scan primitive (spec.md §4.3).
// Each call to a scan method returns a fresh Cursor positioned before the
// first entry; Next must be called before the first Valid/Key/Value.
type Cursor interface {
	Next() bool
	Valid() bool
	Key() string
	Value() []byte
	Close() error
	Err() error
}

// dbCursor adapts a dbm.Iterator (half-open [start, end)) to Cursor.
type dbCursor struct {
	it      dbm.Iterator
	started bool
}

func newDBCursor(it dbm.Iterator) *dbCursor {
	return &dbCursor{it: it}
}

func (c *dbCursor) Next() bool {
	if !c.started {
		c.started = true
	} else {
		c.it.Next()
	}
	return c.it.Valid()
}

func (c *dbCursor) Valid() bool     { return c.it.Valid() }
func (c *dbCursor) Key() string     { return string(c.it.Key()) }
func (c *dbCursor) Value() []byte   { return c.it.Value() }
func (c *dbCursor) Close() error    { return c.it.Close() }
func (c *dbCursor) Err() error      { return c.it.Error() }

// sliceCursor iterates a pre-sorted, in-memory slice of staged entries.
// An entry with deleted set is a tombstone (a staged delete) so a merge
// layer above can mask the lower layer's value without materializing it.
type sliceCursor struct {
	entries []stagedEntry
	idx     int
}

type stagedEntry struct {
	key     string
	value   []byte
	deleted bool
}

func newSliceCursor(entries []stagedEntry) *sliceCursor {
	return &sliceCursor{entries: entries, idx: -1}
}

func (c *sliceCursor) Next() bool {
	c.idx++
	return c.idx < len(c.entries)
}
func (c *sliceCursor) Valid() bool   { return c.idx >= 0 && c.idx < len(c.entries) }
func (c *sliceCursor) Key() string   { return c.entries[c.idx].key }
func (c *sliceCursor) Value() []byte { return c.entries[c.idx].value }
func (c *sliceCursor) Deleted() bool { return c.entries[c.idx].deleted }
func (c *sliceCursor) Close() error  { return nil }
func (c *sliceCursor) Err() error    { return nil }

// tombstoneCursor is implemented by cursors that can themselves stage
// deletes (currently only sliceCursor). mergeCursor type-asserts for it
// rather than testing Value() == nil, so a staged empty-but-not-deleted
// value can never be mistaken for a tombstone.
type tombstoneCursor interface {
	Deleted() bool
}

func isTombstone(c Cursor) bool {
	tc, ok := c.(tombstoneCursor)
	return ok && tc.Deleted()
}

// mergeCursor merges a lower (base) layer with an upper (override) layer
// in ascending key order, preferring the upper layer's entry on a tie and
// skipping entries masked by a tombstone — spec.md §4.4's "staged entry
// wins" / "deletions mask lower layers" rule.
type mergeCursor struct {
	base, over         Cursor
	baseOK, overOK     bool
	baseDone, overDone bool
	curKey             string
	curVal             []byte
}

func newMergeCursor(base, over Cursor) *mergeCursor {
	return &mergeCursor{base: base, over: over}
}

func (c *mergeCursor) Next() bool {
	for {
		if !c.baseDone && !c.baseOK {
			c.baseOK = c.base.Next()
			if !c.baseOK {
				c.baseDone = true
			}
		}
		if !c.overDone && !c.overOK {
			c.overOK = c.over.Next()
			if !c.overOK {
				c.overDone = true
			}
		}

		if !c.baseOK && !c.overOK {
			return false
		}
		if c.overOK && (!c.baseOK || c.over.Key() <= c.base.Key()) {
			key := c.over.Key()
			val := c.over.Value()
			tombstone := isTombstone(c.over)
			skipBase := c.baseOK && c.base.Key() == key
			c.overOK = false
			if skipBase {
				c.baseOK = false
			}
			if tombstone { // masked: re-advance both sides and try again
				continue
			}
			c.curKey, c.curVal = key, val
			return true
		}
		// base wins
		c.curKey, c.curVal = c.base.Key(), c.base.Value()
		c.baseOK = false
		return true
	}
}

func (c *mergeCursor) Valid() bool   { return true }
func (c *mergeCursor) Key() string   { return c.curKey }
func (c *mergeCursor) Value() []byte { return c.curVal }
func (c *mergeCursor) Close() error {
	err1 := c.base.Close()
	err2 := c.over.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
func (c *mergeCursor) Err() error {
	if err := c.base.Err(); err != nil {
		return err
	}
	return c.over.Err()
}

// prefixEnd returns the smallest key that is strictly greater than every
// key beginning with prefix, for use as an exclusive upper iterator bound.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes; unbounded above
}

func bytesHasPrefix(b, prefix []byte) bool {
	return bytes.HasPrefix(b, prefix)
}
