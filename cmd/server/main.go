package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"voxelstream.ai/internal/metrics"
	"voxelstream.ai/internal/sim/game"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides tuning server.addr)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file means defaults)")
		worldID    = flag.String("world", "", "world to load (overrides tuning world.default_world)")
		watch      = flag.Bool("watch", true, "reload the stream section when tuning.yaml changes")
		shutdownTO = flag.Duration("shutdown_timeout", 30*time.Second, "max time to unload chunks and flush saves on exit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune, err = tuning.Load("")
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		tp = ""
	}
	if *addr != "" {
		tune.Server.Addr = *addr
	}
	if *worldID != "" {
		tune.World.DefaultWorld = *worldID
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	rt, err := game.Bootstrap(tune, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds), m)
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	wsSrv := ws.NewServer(rt.Session, ws.Config{
		ChunkSize:     tune.Stream.ChunkSize,
		SendQueue:     tune.Server.SendQueue,
		StatsEveryHz:  tune.Server.StatsEveryHz,
		MaxMessageLen: tune.Server.MaxMessageLen,
	}, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))

	api := &adminAPI{session: rt.Session, ws: wsSrv, index: rt.Index, pool: rt.Pool}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	if envBool("VOXEL_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", api.state)
		mux.HandleFunc("/admin/v1/save", api.save)
	} else {
		logger.Printf("admin endpoints disabled (VOXEL_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VOXEL_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              tune.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rt.Session.Run(gctx, *shutdownTO)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Printf("listening on %s", tune.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if *watch && tp != "" {
		g.Go(func() error {
			err := tuning.Watch(gctx, tp, logger, func(t tuning.Tuning) {
				rt.Session.UpdateStreamConfig(t.Stream.Config())
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("tuning watch stopped: %v", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
