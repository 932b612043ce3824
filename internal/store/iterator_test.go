package store

import "testing"

// sliceOf builds a sliceCursor directly from literal key/value pairs for
// merge-cursor tests; deleted: true marks a tombstone.
func sliceOf(pairs ...stagedEntry) *sliceCursor {
	return newSliceCursor(pairs)
}

func drain(t *testing.T, c Cursor) []KV {
	t.Helper()
	var out []KV
	for c.Next() {
		out = append(out, KV{Key: c.Key(), Value: append([]byte(nil), c.Value()...)})
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	return out
}

func TestMergeCursorPrefersOverlayOnTie(t *testing.T) {
	base := sliceOf(stagedEntry{key: "p/1", value: []byte("A")}, stagedEntry{key: "p/3", value: []byte("C")})
	over := sliceOf(stagedEntry{key: "p/1", value: []byte("A-new")}, stagedEntry{key: "p/2", value: []byte("B")})

	got := drain(t, newMergeCursor(base, over))
	want := []string{"p/1", "p/2", "p/3"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Errorf("entry %d: got key %q, want %q", i, got[i].Key, k)
		}
	}
	if string(got[0].Value) != "A-new" {
		t.Errorf("overlay value should win on tie: got %q", got[0].Value)
	}
}

func TestMergeCursorMasksTombstones(t *testing.T) {
	// Matches Scenario F: base {p/1:A, p/3:C}, staged put p/2=B, staged
	// delete p/1 -> result [(p/2,B), (p/3,C)].
	base := sliceOf(stagedEntry{key: "p/1", value: []byte("A")}, stagedEntry{key: "p/3", value: []byte("C")})
	over := sliceOf(stagedEntry{key: "p/1", value: nil, deleted: true}, stagedEntry{key: "p/2", value: []byte("B")})

	got := drain(t, newMergeCursor(base, over))
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(got), got)
	}
	if got[0].Key != "p/2" || string(got[0].Value) != "B" {
		t.Errorf("entry 0 mismatch: %+v", got[0])
	}
	if got[1].Key != "p/3" || string(got[1].Value) != "C" {
		t.Errorf("entry 1 mismatch: %+v", got[1])
	}
}

func TestMergeCursorEmptyBothSides(t *testing.T) {
	got := drain(t, newMergeCursor(sliceOf(), sliceOf()))
	if len(got) != 0 {
		t.Errorf("expected no entries, got %+v", got)
	}
}

func TestPrefixEnd(t *testing.T) {
	end := prefixEnd([]byte("ab"))
	if string(end) != "ac" {
		t.Errorf("prefixEnd(ab) = %q, want \"ac\"", end)
	}
	if prefixEnd([]byte{0xff, 0xff}) != nil {
		t.Error("prefixEnd of all-0xff bytes should be unbounded (nil)")
	}
}
