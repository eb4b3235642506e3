package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"starsteps.app/internal/catalog"
	"starsteps.app/internal/config"
	"starsteps.app/internal/dice"
	"starsteps.app/internal/engine"
	"starsteps.app/internal/persistence/movelog"
	"starsteps.app/internal/store"
	"starsteps.app/internal/transport/httpapi"
	"starsteps.app/internal/transport/ws"
	"starsteps.app/internal/tuning"
)

func main() {
	envCfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		addr       = flag.String("addr", envCfg.Addr, "http listen address")
		dataDir    = flag.String("data", envCfg.DataDir, "runtime data directory")
		configDir  = flag.String("configs", envCfg.ConfigDir, "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		tasksPath  = flag.String("tasks", "", "path to tasks.yaml (default: <configs>/tasks.yaml)")
		disableDB  = flag.Bool("disable_db", envCfg.DisableDB, "disable sqlite persistence")
		pprofDebug = flag.Bool("pprof", envCfg.PprofDebug, "serve /debug/pprof")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	var st *store.Store
	if !*disableDB {
		st, err = store.Open(filepath.Join(*dataDir, "starsteps.db"), logger)
		if err != nil {
			logger.Fatalf("open store: %v", err)
		}
		defer st.Close()
	}

	moveLog := movelog.NewMoveLogger(*dataDir)
	auditLog := movelog.NewAuditLogger(*dataDir)
	defer moveLog.Close()
	defer auditLog.Close()

	tasksFile := strings.TrimSpace(*tasksPath)
	if tasksFile == "" {
		tasksFile = filepath.Join(*configDir, "tasks.yaml")
	}
	cat, err := catalog.Load(tasksFile, logger)
	if err != nil {
		logger.Fatalf("load tasks: %v", err)
	}
	logger.Printf("task catalog: %d entries", cat.Len())

	eng := engine.New(engine.Config{
		Tuning:  tune,
		Roller:  dice.NewRoller(tune.Seed),
		Catalog: cat,
		Store:   st,
		MoveLog: moveLog,
		Audit:   auditLog,
		Logger:  logger,
	})

	ctx, cancel := signalContext()
	defer cancel()

	if err := eng.Restore(ctx); err != nil {
		logger.Fatalf("restore sessions: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		mctx, mcancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer mcancel()
		m, err := eng.Stats(mctx)
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(rw, "# HELP starsteps_sessions Sessions held in memory.\n")
		fmt.Fprintf(rw, "# TYPE starsteps_sessions gauge\n")
		fmt.Fprintf(rw, "starsteps_sessions{status=%q} %d\n", "playing", m.Playing)
		fmt.Fprintf(rw, "starsteps_sessions{status=%q} %d\n", "completed", m.Completed)
		fmt.Fprintf(rw, "starsteps_sessions{status=%q} %d\n", "total", m.Sessions)
		fmt.Fprintf(rw, "# HELP starsteps_subscribers Connected push-feed subscribers.\n")
		fmt.Fprintf(rw, "# TYPE starsteps_subscribers gauge\n")
		fmt.Fprintf(rw, "starsteps_subscribers %d\n", m.Subscribers)
		fmt.Fprintf(rw, "# HELP starsteps_queue_depth Engine request backlog.\n")
		fmt.Fprintf(rw, "# TYPE starsteps_queue_depth gauge\n")
		fmt.Fprintf(rw, "starsteps_queue_depth %d\n", m.QueueDepth)
	})

	httpapi.NewServer(eng, logger).Register(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(eng, logger).Handler())

	if *pprofDebug {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	httpSrv := &http.Server{Addr: *addr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		return httpSrv.Shutdown(shutCtx)
	})
	g.Go(func() error {
		if err := cat.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("catalog watch: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
	if st != nil {
		st.Flush()
	}
	logger.Printf("shutdown complete")
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
