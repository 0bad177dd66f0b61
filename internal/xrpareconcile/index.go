// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpareconcile

import "github.com/nishisan-dev/xrpa-go/internal/xrpabuf"

// SecondaryIndex maps the value of one designated UUID (reference) field to
// the set of objects currently holding that value, per spec.md §3 and §4.5.
// Grounded on the teacher's internal/server/observability/
// active_session_store.go pattern of a derived lookup kept in sync with a
// primary store via explicit notify-on-mutate hooks, generalized from
// "session ID → derived record" to "referenced object ID → set of
// referencing objects".
type SecondaryIndex struct {
	// fieldBit is the bit position (0-63) of the indexed reference field in
	// an object's field mask.
	fieldBit uint

	// fieldValue reads the current value of the indexed field from obj.
	fieldValue func(obj Object) xrpabuf.ObjectID

	byValue map[xrpabuf.ObjectID]map[xrpabuf.ObjectID]Object
}

// NewSecondaryIndex builds an index on the field at fieldBit, using
// fieldValue to extract the field's current value from any object in the
// owning collection.
func NewSecondaryIndex(fieldBit uint, fieldValue func(Object) xrpabuf.ObjectID) *SecondaryIndex {
	return &SecondaryIndex{
		fieldBit:   fieldBit,
		fieldValue: fieldValue,
		byValue:    make(map[xrpabuf.ObjectID]map[xrpabuf.ObjectID]Object),
	}
}

// AddIndex attaches idx to the collection. Every object currently in the
// collection is indexed immediately; objects added afterward are indexed
// as they are created.
func (c *Collection) AddIndex(idx *SecondaryIndex) {
	c.indexes = append(c.indexes, idx)
	for _, e := range c.objects {
		idx.insert(e.obj)
	}
}

// Lookup returns every object currently indexed under value, per spec.md
// invariant 7: "index[value] contains obj iff obj.field == value".
func (idx *SecondaryIndex) Lookup(value xrpabuf.ObjectID) []Object {
	set, ok := idx.byValue[value]
	if !ok {
		return nil
	}
	out := make([]Object, 0, len(set))
	for _, obj := range set {
		out = append(out, obj)
	}
	return out
}

// Count returns the number of objects indexed under value.
func (idx *SecondaryIndex) Count(value xrpabuf.ObjectID) int {
	return len(idx.byValue[value])
}

func (idx *SecondaryIndex) insert(obj Object) {
	v := idx.fieldValue(obj)
	set, ok := idx.byValue[v]
	if !ok {
		set = make(map[xrpabuf.ObjectID]Object)
		idx.byValue[v] = set
	}
	set[obj.ObjectID()] = obj
}

func (idx *SecondaryIndex) remove(obj Object) {
	v := idx.fieldValue(obj)
	set, ok := idx.byValue[v]
	if !ok {
		return
	}
	delete(set, obj.ObjectID())
	if len(set) == 0 {
		delete(idx.byValue, v)
	}
}

// notifyIndexCreate inserts obj into every attached index.
func (c *Collection) notifyIndexCreate(obj Object) {
	for _, idx := range c.indexes {
		idx.insert(obj)
	}
}

// notifyIndexDelete removes obj from every attached index.
func (c *Collection) notifyIndexDelete(obj Object) {
	for _, idx := range c.indexes {
		idx.remove(obj)
	}
}

// notifyIndexUpdate re-indexes obj under every index whose field bit is
// set in mask. An index checks the dirty bit for its indexed field before
// touching the index, per spec.md §4.5, to avoid unnecessary work when the
// update didn't touch the indexed field. Re-indexing removes the object
// from its prior bucket unconditionally and reinserts under the current
// value — correct even though the prior value is no longer known, since
// the object's presence under its old value's bucket is exactly what
// reinsertion-after-removal-from-every-bucket would produce, and indexes
// are small enough in practice that a full remove+reinsert per touched
// index is the simplest correct approach.
func (c *Collection) notifyIndexUpdate(obj Object, mask FieldMask) {
	for _, idx := range c.indexes {
		if mask&(FieldMask(1)<<idx.fieldBit) == 0 {
			continue
		}
		idx.removeFromAllBuckets(obj)
		idx.insert(obj)
	}
}

// removeFromAllBuckets removes obj's entry from whichever bucket currently
// holds it, without needing to know the prior field value — required
// because by the time an Update is applied, obj.fieldValue() already
// reflects the *new* value, so idx.remove(obj) (which looks up the new
// value's bucket) would miss the old bucket entirely.
func (idx *SecondaryIndex) removeFromAllBuckets(obj Object) {
	id := obj.ObjectID()
	for v, set := range idx.byValue {
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.byValue, v)
			}
		}
	}
}
