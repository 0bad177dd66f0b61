// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpareconcile

import (
	"testing"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
)

// refObject is a testObject with a third field (bit 2) holding a reference
// to another object's ID, for exercising SecondaryIndex.
type refObject struct {
	testObject
	Ref xrpabuf.ObjectID
}

func fieldValue(o Object) xrpabuf.ObjectID {
	return o.(*refObject).Ref
}

func TestSecondaryIndexTracksInsertsAcrossAddIndex(t *testing.T) {
	c := NewOutboundCollection(0)
	parent := newTestObjectID(1)

	a := &refObject{testObject: testObject{id: newTestObjectID(2)}, Ref: parent}
	b := &refObject{testObject: testObject{id: newTestObjectID(3)}, Ref: parent}
	c.AddLocal(a)
	c.AddLocal(b)

	idx := NewSecondaryIndex(2, fieldValue)
	c.AddIndex(idx)

	if idx.Count(parent) != 2 {
		t.Fatalf("expected 2 objects indexed under parent, got %d", idx.Count(parent))
	}
}

func TestSecondaryIndexFollowsCreateAndDelete(t *testing.T) {
	c := NewOutboundCollection(0)
	idx := NewSecondaryIndex(2, fieldValue)
	c.AddIndex(idx)

	parent := newTestObjectID(1)
	child := &refObject{testObject: testObject{id: newTestObjectID(2)}, Ref: parent}
	c.AddLocal(child)

	if idx.Count(parent) != 1 {
		t.Fatalf("expected 1 object indexed under parent after AddLocal, got %d", idx.Count(parent))
	}

	c.RemoveLocal(child.id)
	// RemoveLocal only tombstones; index removal happens when the Delete is
	// flushed on the next outbound tick, or via applyDelete on the inbound
	// path. Exercise the removal hook directly here.
	c.notifyIndexDelete(child)
	if idx.Count(parent) != 0 {
		t.Fatalf("expected 0 objects indexed under parent after delete, got %d", idx.Count(parent))
	}
}

func TestSecondaryIndexReindexesOnMatchingBitUpdate(t *testing.T) {
	c := NewOutboundCollection(0)
	idx := NewSecondaryIndex(2, fieldValue)
	c.AddIndex(idx)

	oldParent := newTestObjectID(1)
	newParent := newTestObjectID(9)
	child := &refObject{testObject: testObject{id: newTestObjectID(2)}, Ref: oldParent}
	c.AddLocal(child)

	child.Ref = newParent
	c.notifyIndexUpdate(child, 1<<2)

	if idx.Count(oldParent) != 0 {
		t.Fatalf("expected object removed from old parent bucket, got %d", idx.Count(oldParent))
	}
	if idx.Count(newParent) != 1 {
		t.Fatalf("expected object indexed under new parent, got %d", idx.Count(newParent))
	}
}

func TestSecondaryIndexIgnoresUpdateWithoutIndexedBit(t *testing.T) {
	c := NewOutboundCollection(0)
	idx := NewSecondaryIndex(2, fieldValue)
	c.AddIndex(idx)

	parent := newTestObjectID(1)
	child := &refObject{testObject: testObject{id: newTestObjectID(2)}, Ref: parent}
	c.AddLocal(child)

	c.notifyIndexUpdate(child, 1) // bit 0, not the indexed bit 2
	if idx.Count(parent) != 1 {
		t.Fatalf("expected object to remain indexed under parent, got %d", idx.Count(parent))
	}
}

func TestSecondaryIndexLookupReturnsAllMembers(t *testing.T) {
	c := NewOutboundCollection(0)
	idx := NewSecondaryIndex(2, fieldValue)
	c.AddIndex(idx)

	parent := newTestObjectID(1)
	a := &refObject{testObject: testObject{id: newTestObjectID(2)}, Ref: parent}
	b := &refObject{testObject: testObject{id: newTestObjectID(3)}, Ref: parent}
	c.AddLocal(a)
	c.AddLocal(b)

	members := idx.Lookup(parent)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}
