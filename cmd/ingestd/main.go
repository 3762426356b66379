// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command ingestd is one rank of the correlator ingest pipeline: it
// merges the telescope metadata stream with its local share of the
// visibility datagram stream into VisChunks and drives them through the
// configured task pipeline.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/datagram"
	"github.com/radiotel/ingestd/internal/mergedsource"
	"github.com/radiotel/ingestd/internal/metadatasource"
	"github.com/radiotel/ingestd/internal/pipeline"
	_ "github.com/radiotel/ingestd/internal/pipeline/tasks"
	"github.com/radiotel/ingestd/internal/rankenv"
	"github.com/radiotel/ingestd/internal/visconverter"
	"github.com/radiotel/ingestd/pkg/baselinemap"
	"github.com/radiotel/ingestd/pkg/channelmanager"
	"github.com/radiotel/ingestd/pkg/collective"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/monitoring"
	"github.com/radiotel/ingestd/pkg/natsconn"
	"github.com/radiotel/ingestd/pkg/stokes"
)

func main() {
	flags := parseFlags()

	ccalog.SetLevel(flags.logLevel)
	ccalog.SetDateTime(flags.logDate)

	if flags.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			ccalog.Fatalf(1, "gops/agent.Listen failed: %s", err.Error())
		}
	}

	envFile := rankenv.ResolveEnvFile(flags.envFile, flags.rank)
	if err := rankenv.LoadEnv(envFile); err != nil && !os.IsNotExist(err) {
		ccalog.Fatalf(1, "parsing %q failed: %s", envFile, err.Error())
	}

	if flags.nprocs <= 0 {
		ccalog.Fatal(1, "nprocs must be positive; pass -nprocs or set INGESTD_NPROCS")
	}

	cfg, err := config.Load(flags.configFile, flags.rank, flags.nprocs)
	if err != nil {
		ccalog.Fatalf(1, "loading config: %s", err.Error())
	}

	natsClient, err := natsconn.Dial(cfg.NATS)
	if err != nil {
		ccalog.Fatalf(ingesterr.TransportError.ExitCode(), "connecting to NATS: %s", err.Error())
	}
	defer natsClient.Close()

	cfg.World = collective.New(natsClient, "ingestd-world", cfg.Rank, cfg.NProcs)

	reg := prometheus.NewRegistry()
	monitor := monitoring.New(natsClient, "ingestd.monitoring", reg)

	var wg sync.WaitGroup
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	wg.Add(1)
	go monitor.Run(monitorCtx, &wg)

	var interrupted int32

	source, closeSource, err := buildSource(cfg, natsClient, monitor, &interrupted)
	if err != nil {
		ccalog.Fatalf(ingesterr.ConfigInvalid.ExitCode(), "building source: %s", err.Error())
	}
	defer closeSource()

	tasks, err := pipeline.Build(cfg)
	if err != nil {
		ccalog.Fatalf(ingesterr.ConfigInvalid.ExitCode(), "building task pipeline: %s", err.Error())
	}

	ingest := pipeline.New(source, tasks, &interrupted)

	statusListener, err := net.Listen("tcp", statusAddr(cfg))
	if err != nil {
		ccalog.Fatalf(1, "binding status port: %s", err.Error())
	}

	statusServer := &http.Server{
		Handler:      statusRouter(reg, &interrupted),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if flags.user != "" || flags.group != "" {
		if err := rankenv.DropPrivileges(flags.user, flags.group); err != nil {
			ccalog.Fatalf(1, "dropping privileges: %s", err.Error())
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := statusServer.Serve(statusListener); err != nil && err != http.ErrServerClosed {
			ccalog.Errorf("status server: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		ccalog.Notef("ingestd: signal received, draining between ticks")
		atomic.StoreInt32(&interrupted, 1)
	}()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}

	rankenv.SystemdNotifiy(true, "running")

	if flags.dryRun {
		ccalog.Notef("ingestd: dry-run, pipeline built with %d tasks, exiting", len(tasks))
		rankenv.SystemdNotifiy(false, "dry-run complete")
		shutdown(statusServer, cancelMonitor, &wg)
		return
	}

	runErr := ingest.Start(context.Background())

	rankenv.SystemdNotifiy(false, "shutting down")
	shutdown(statusServer, cancelMonitor, &wg)

	if runErr != nil && !ingesterr.As(runErr, ingesterr.Interrupted) {
		ccalog.Fatalf(exitCode(runErr), "ingest pipeline stopped: %s", runErr.Error())
	}
	ccalog.Notef("ingestd: graceful shutdown complete")
}

func shutdown(statusServer *http.Server, cancelMonitor context.CancelFunc, wg *sync.WaitGroup) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	statusServer.Shutdown(ctx)
	cancelMonitor()
	wg.Wait()
}

func exitCode(err error) int {
	var k ingesterr.Kind
	for _, candidate := range []ingesterr.Kind{
		ingesterr.ConfigInvalid, ingesterr.ShapeMismatch, ingesterr.BadUVW,
		ingesterr.DuplicateTimestamp, ingesterr.BufferOverflow, ingesterr.TransportError,
		ingesterr.Interrupted, ingesterr.InvalidScan,
	} {
		if ingesterr.As(err, candidate) {
			k = candidate
			break
		}
	}
	if code := k.ExitCode(); code != 0 {
		return code
	}
	return 2
}

func statusAddr(cfg *config.Config) string {
	if cfg.StatusAddr != "" {
		return cfg.StatusAddr
	}
	return ":8090"
}

func statusRouter(reg *prometheus.Registry, interrupted *int32) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if atomic.LoadInt32(interrupted) != 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	return r
}

// buildSource wires the UDP datagram receiver, the metadata subscriber
// (fanned out over the collective fabric in multi-rank mode) and the
// baseline/channel geometry into one MergedSource.
func buildSource(cfg *config.Config, natsClient *natsconn.Client, monitor *monitoring.Monitor, interrupted *int32) (*mergedsource.MergedSource, func(), error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.VisSource.Listen)
	if err != nil {
		return nil, nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "cmd", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, nil, ingesterr.Wrap(ingesterr.TransportError, "cmd", err)
	}

	vis := datagram.NewVisSource(conn, cfg.VisSource.BufferCapacity, cfg.Rank, monitor)
	var wg sync.WaitGroup
	visCtx, cancelVis := context.WithCancel(context.Background())
	wg.Add(1)
	go vis.Run(visCtx, &wg)

	baselines, err := buildBaselineMap(cfg)
	if err != nil {
		cancelVis()
		conn.Close()
		return nil, nil, err
	}

	mode := defaultCorrelatorMode(cfg)
	chanMgr := channelmanager.New(mode.ChannelWidth, mode.NChan, cfg.ReceiverID(), cfg.NReceivingProcs())
	converter := visconverter.New(baselines, mode.NChan, cfg.Rank, monitor)

	metaOwner := metadataOwnerRank(cfg)
	var meta metadatasource.Source
	if cfg.Rank == metaOwner {
		inner, err := metadatasource.NewSubscriber(func(handler func(data []byte)) error {
			_, err := natsClient.Subscribe(cfg.MetadataSource.Topic, func(_ string, data []byte) {
				handler(data)
			})
			return err
		})
		if err != nil {
			cancelVis()
			conn.Close()
			return nil, nil, ingesterr.Wrap(ingesterr.TransportError, "cmd", err)
		}
		meta = metadatasource.NewParallelMetadataSource(cfg.World, metaOwner, inner)
	} else {
		meta = metadatasource.NewParallelMetadataSource(cfg.World, metaOwner, nil)
	}

	src := mergedsource.New(cfg, vis, meta, converter, chanMgr, baselines, monitor, interrupted)

	closeFn := func() {
		cancelVis()
		wg.Wait()
		conn.Close()
	}
	return src, closeFn, nil
}

// metadataOwnerRank designates the lowest-numbered rank as the one that
// actually subscribes to the metadata topic; every other rank receives
// the same decoded cycle over the collective fabric.
func metadataOwnerRank(cfg *config.Config) int {
	ranks := make([]int, 0, cfg.NProcs)
	for i := 0; i < cfg.NProcs; i++ {
		ranks = append(ranks, i)
	}
	sort.Ints(ranks)
	if len(ranks) == 0 {
		return 0
	}
	return ranks[0]
}

func defaultCorrelatorMode(cfg *config.Config) config.CorrelatorMode {
	names := make([]string, 0, len(cfg.CorrelatorModes))
	for name := range cfg.CorrelatorModes {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return config.CorrelatorMode{}
	}
	return cfg.CorrelatorModes[names[0]]
}

func buildBaselineMap(cfg *config.Config) (*baselinemap.BaselineMap, error) {
	switch cfg.BaselineMap.Mode {
	case "standard":
		if cfg.BaselineMap.Standard == nil {
			return nil, ingesterr.New(ingesterr.ConfigInvalid, "cmd", "baselineMap.standard is required for mode=standard")
		}
		return baselinemap.NewStandard(cfg.BaselineMap.Standard.NAntenna), nil
	case "explicit":
		entries := make([]baselinemap.ExplicitEntry, len(cfg.BaselineMap.Explicit))
		for i, e := range cfg.BaselineMap.Explicit {
			entries[i] = baselinemap.ExplicitEntry{ID: e.ID, Ant1: e.Ant1, Ant2: e.Ant2, Stokes: stokes.Stokes(e.Stokes)}
		}
		return baselinemap.NewExplicit(entries), nil
	default:
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "cmd", "baselineMap.mode must be \"standard\" or \"explicit\"")
	}
}
