// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command xrpa-bench exercises a DataStoreReconciler the way a real
// generated data store would, without requiring one: serve attaches to a
// named region and ticks forever; loop runs a writer and a reader
// in-process against a shared heap-backed region for a fixed number of
// ticks and reports throughput.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/xrpa-go/internal/backingstore"
	"github.com/nishisan-dev/xrpa-go/internal/backingstore/heapstore"
	"github.com/nishisan-dev/xrpa-go/internal/backingstore/mmapstore"
	"github.com/nishisan-dev/xrpa-go/internal/config"
	"github.com/nishisan-dev/xrpa-go/internal/logging"
	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaclock"
	"github.com/nishisan-dev/xrpa-go/internal/xrpareconcile"
	"github.com/nishisan-dev/xrpa-go/internal/xrpatransport"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: xrpa-bench <serve|loop> [flags]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "loop":
		runLoop(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (want serve or loop)\n", os.Args[1])
		os.Exit(1)
	}
}

// runServe attaches to the streams named in a StreamConfig and ticks the
// resulting reconciler until killed, logging a counterObject's value as it
// changes. Grounded on cmd/nbackup-agent/main.go's daemon-mode entry point.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "/etc/xrpa/stream.yaml", "path to stream config file")
	rateFlag := fs.Float64("rate", 50, "ticks per second")
	diagDir := fs.String("diag-dir", "", "if set, also write a per-run DEBUG log under this directory")
	runID := fs.String("run-id", "serve", "identifies this run's diagnostic log file")
	fs.Parse(args)

	cfg, err := config.LoadStreamConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	baseLogger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	logger, diagCloser, diagPath, err := logging.NewParticipantLogger(baseLogger, *diagDir, "serve", *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening diagnostic log: %v\n", err)
		os.Exit(1)
	}
	defer diagCloser.Close()
	if diagPath != "" {
		logger.Info("writing diagnostic log", "path", diagPath)
	}

	store, err := newStore(cfg.Store)
	if err != nil {
		logger.Error("building backing store", "err", err)
		os.Exit(1)
	}

	var inbound, outbound *xrpatransport.Stream
	clock := xrpaclock.System{}
	now := clock.NowMicros()
	for _, s := range cfg.Streams {
		role := xrpatransport.RoleReader
		if s.Role == "writer" {
			role = xrpatransport.RoleWriter
		}
		tcfg := xrpatransport.Config{ChangelogByteCount: s.ChangelogSizeRaw}
		stream, err := xrpatransport.Attach(store, s.Name, tcfg, role, now)
		if err != nil {
			logger.Error("attaching stream", "name", s.Name, "err", err)
			os.Exit(1)
		}
		if role == xrpatransport.RoleReader {
			inbound = stream
		} else {
			outbound = stream
		}
	}
	if inbound == nil || outbound == nil {
		logger.Error("stream config must declare exactly one reader and one writer")
		os.Exit(1)
	}

	rec := xrpareconcile.NewReconciler(inbound, outbound, clock, logger)
	coll := xrpareconcile.NewInboundCollection(0, func(id xrpabuf.ObjectID) xrpareconcile.Object {
		return &counterObject{id: id}
	})
	coll.OnFieldsChanged(func(id xrpabuf.ObjectID, mask xrpareconcile.FieldMask) {
		if obj, ok := coll.Get(id); ok {
			logger.Info("counter changed", "value", obj.(*counterObject).value)
		}
	})
	rec.RegisterCollection(coll)

	limiter := rate.NewLimiter(rate.Limit(*rateFlag), 1)
	ctx := newSignalContext()
	for ctx.Err() == nil {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if err := rec.TickInbound(); err != nil {
			logger.Error("tick inbound", "err", err)
		}
		if err := rec.TickOutbound(); err != nil {
			logger.Error("tick outbound", "err", err)
		}
	}

	if err := rec.Shutdown(); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

// runLoop drives a writer and reader reconciler in-process over a shared
// HeapBackingStore region for --ticks iterations, reporting throughput and
// host resource usage at the end — grounded on internal/server/server.go's
// RunWithListener test-harness split, which also wires two ends of the
// same transport together in one process for exercise.
func runLoop(args []string) {
	fs := flag.NewFlagSet("loop", flag.ExitOnError)
	ticks := fs.Int("ticks", 10000, "number of outbound ticks to run")
	changelogSize := fs.Int64("changelog-size", 1<<20, "ring capacity in bytes")
	rateFlag := fs.Float64("rate", 0, "ticks per second (0 = unthrottled)")
	fs.Parse(args)

	logger, _ := logging.NewLogger("info", "text", "")
	store := heapstore.New()
	clock := xrpaclock.System{}
	now := clock.NowMicros()

	tcfg := xrpatransport.Config{ChangelogByteCount: *changelogSize}
	writerSide, err := xrpatransport.Attach(store, "bench", tcfg, xrpatransport.RoleWriter, now)
	if err != nil {
		logger.Error("attaching writer stream", "err", err)
		os.Exit(1)
	}
	readerSide, err := xrpatransport.Attach(store, "bench", tcfg, xrpatransport.RoleReader, now)
	if err != nil {
		logger.Error("attaching reader stream", "err", err)
		os.Exit(1)
	}

	// A no-op reverse stream keeps the reader-side reconciler's outbound
	// Append calls (RequestFullUpdate on overrun) harmless for this bench.
	sink, err := xrpatransport.Attach(store, "bench-sink", tcfg, xrpatransport.RoleWriter, now)
	if err != nil {
		logger.Error("attaching sink stream", "err", err)
		os.Exit(1)
	}
	sinkReader, err := xrpatransport.Attach(store, "bench-sink", tcfg, xrpatransport.RoleReader, now)
	if err != nil {
		logger.Error("attaching sink reader stream", "err", err)
		os.Exit(1)
	}

	writerRec := xrpareconcile.NewReconciler(sinkReader, writerSide, clock, logger)
	writerColl := xrpareconcile.NewOutboundCollection(0)
	writerRec.RegisterCollection(writerColl)

	var received int
	readerRec := xrpareconcile.NewReconciler(readerSide, sink, clock, logger)
	readerColl := xrpareconcile.NewInboundCollection(0, func(id xrpabuf.ObjectID) xrpareconcile.Object {
		return &counterObject{id: id}
	})
	readerColl.OnFieldsChanged(func(id xrpabuf.ObjectID, mask xrpareconcile.FieldMask) { received++ })
	readerColl.OnCreate(func(xrpareconcile.Object) { received++ })
	readerRec.RegisterCollection(readerColl)

	obj := &counterObject{id: newObjectID(1)}
	writerColl.AddLocal(obj)

	var limiter *rate.Limiter
	if *rateFlag > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rateFlag), 1)
	}

	start := time.Now()
	ctx := newSignalContext()
	for i := 0; i < *ticks && ctx.Err() == nil; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		obj.value++
		writerColl.SetDirty(obj.id, 1)
		if err := writerRec.TickOutbound(); err != nil {
			logger.Error("writer tick", "err", err)
			break
		}
		if err := readerRec.TickInbound(); err != nil {
			logger.Error("reader tick", "err", err)
			break
		}
	}
	elapsed := time.Since(start)

	logger.Info("loop finished",
		"ticks", *ticks,
		"received", received,
		"elapsed", elapsed,
		"events_per_sec", float64(received)/elapsed.Seconds(),
	)
	reportResourceUsage(logger)

	writerRec.Shutdown()
	readerRec.Shutdown()
}

func newStore(cfg config.StoreConfig) (backingstore.Store, error) {
	if cfg.Backend == "mmap" {
		return mmapstore.New(cfg.Dir), nil
	}
	return heapstore.New(), nil
}
