// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpareconcile

import "github.com/nishisan-dev/xrpa-go/internal/xrpabuf"

// testObject is a two-field stand-in for a generated schema type, used
// across this package's tests: bit 0 is a uint64 Value, bit 1 is a
// variable-length Name string.
type testObject struct {
	id    xrpabuf.ObjectID
	Value uint64
	Name  string
}

func (o *testObject) ObjectID() xrpabuf.ObjectID { return o.id }

func (o *testObject) WriteFields(a *xrpabuf.MemoryAccessor, mask FieldMask) error {
	if mask&1 != 0 {
		if err := a.WriteUint64(o.Value); err != nil {
			return err
		}
	}
	if mask&2 != 0 {
		if err := a.WriteString(o.Name); err != nil {
			return err
		}
	}
	return nil
}

func (o *testObject) ReadFields(a *xrpabuf.MemoryAccessor, mask FieldMask) error {
	if mask&1 != 0 {
		v, err := a.ReadUint64()
		if err != nil {
			return err
		}
		o.Value = v
	}
	if mask&2 != 0 {
		s, err := a.ReadString()
		if err != nil {
			return err
		}
		o.Name = s
	}
	return nil
}

func (o *testObject) DynamicFieldSize(mask FieldMask) int {
	n := 0
	if mask&1 != 0 {
		n += 8
	}
	if mask&2 != 0 {
		n += xrpabuf.PadLen8(4 + len(o.Name)) // length prefix + bytes, padded to 8
	}
	return n
}

func newTestObjectID(n byte) xrpabuf.ObjectID {
	var id xrpabuf.ObjectID
	id[15] = n
	return id
}
