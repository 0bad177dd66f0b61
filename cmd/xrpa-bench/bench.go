// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpareconcile"
)

// counterObject is a stand-in for a generated schema type: one uint64
// field at bit 0 of the field mask. Real data stores have a code generator
// producing this boilerplate per-field; the bench tool hand-writes the
// smallest possible instance of the Object interface instead.
type counterObject struct {
	id    xrpabuf.ObjectID
	value uint64
}

func (o *counterObject) ObjectID() xrpabuf.ObjectID { return o.id }

func (o *counterObject) WriteFields(a *xrpabuf.MemoryAccessor, mask xrpareconcile.FieldMask) error {
	if mask&1 == 0 {
		return nil
	}
	return a.WriteUint64(o.value)
}

func (o *counterObject) ReadFields(a *xrpabuf.MemoryAccessor, mask xrpareconcile.FieldMask) error {
	if mask&1 == 0 {
		return nil
	}
	v, err := a.ReadUint64()
	if err != nil {
		return err
	}
	o.value = v
	return nil
}

func (o *counterObject) DynamicFieldSize(mask xrpareconcile.FieldMask) int {
	if mask&1 == 0 {
		return 0
	}
	return 8
}

// newObjectID builds a deterministic ObjectID from a small integer, for
// benchmark runs that don't need real random identity.
func newObjectID(n uint64) xrpabuf.ObjectID {
	var id xrpabuf.ObjectID
	binary.LittleEndian.PutUint64(id[:8], n)
	return id
}

// newSignalContext returns a context canceled on SIGINT/SIGTERM, so serve
// and loop both shut down cleanly under Ctrl-C.
func newSignalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// reportResourceUsage logs a one-shot CPU/memory snapshot at the end of a
// loop run, grounded on the teacher's internal/agent/monitor.go
// SystemMonitor — trimmed from a periodic background collector to a
// single on-demand sample, since the bench tool only needs one reading.
func reportResourceUsage(logger *slog.Logger) {
	var cpuPercent float64
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	} else {
		logger.Debug("failed to sample cpu usage", "err", err)
	}

	var memPercent float64
	if v, err := mem.VirtualMemory(); err == nil {
		memPercent = v.UsedPercent
	} else {
		logger.Debug("failed to sample memory usage", "err", err)
	}

	logger.Info("host resource usage", "cpu_percent", cpuPercent, "mem_percent", memPercent)
}
