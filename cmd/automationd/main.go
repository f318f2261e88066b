package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flitsinc/go-automations/internal/api"
	"github.com/flitsinc/go-automations/internal/apps"
	"github.com/flitsinc/go-automations/internal/config"
	"github.com/flitsinc/go-automations/internal/event"
	"github.com/flitsinc/go-automations/internal/keepalive"
	"github.com/flitsinc/go-automations/internal/runtime"
	"github.com/flitsinc/go-automations/internal/sched"
	"github.com/flitsinc/go-automations/internal/source"
	"github.com/flitsinc/go-automations/internal/state"
)

func main() {
	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := state.NewStore(db)
	appMgr := apps.NewManager(db)
	bus := event.NewBus(event.NewDedupCache(cfg.DedupTTL, cfg.DedupMaxSize))
	scheduler := sched.New()
	keep := keepalive.NewTracker()

	orch := runtime.NewOrchestrator(runtime.Config{
		Apps:          appMgr,
		Store:         store,
		Bus:           bus,
		Scheduler:     scheduler,
		KeepAlive:     keep,
		Executor:      noopExecutor{},
		MaxConcurrent: cfg.MaxConcurrentRuns,
	})

	hooks := source.NewWebhook("hooks")
	if err := bus.RegisterSource(hooks); err != nil {
		log.Fatalf("register webhook source: %v", err)
	}
	if cfg.WatchDir != "" {
		if err := bus.RegisterSource(source.NewFile("watcher", cfg.WatchDir)); err != nil {
			log.Fatalf("register file source: %v", err)
		}
	}
	if cfg.RemoteURL != "" {
		if err := bus.RegisterSource(source.NewRemote("remote", cfg.RemoteURL)); err != nil {
			log.Fatalf("register remote source: %v", err)
		}
	}

	if err := bus.Start(); err != nil {
		log.Fatalf("start bus: %v", err)
	}

	bootCtx := context.Background()
	orch.RecoverPendingEscalations(bootCtx)
	orch.ActivateAll(bootCtx)

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	go pruneLoop(pruneCtx, store, cfg.Retention)

	apiServer := &api.Server{
		Apps:      appMgr,
		Store:     store,
		Bus:       bus,
		Runtime:   orch,
		Webhook:   hooks,
		StartedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Handler())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	httpServer := &http.Server{
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("automationd listening on %s", listener.Addr())
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	_ = httpServer.Close()

	stopPrune()
	orch.DeactivateAll()
	scheduler.Stop()
	bus.Stop()
	log.Printf("automationd stopped, keep-alive reasons left: %v", keep.Reasons())
}

func pruneLoop(ctx context.Context, store *state.Store, retention time.Duration) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneOldData(ctx, retention)
			if err != nil {
				log.Printf("prune old runs: %v", err)
				continue
			}
			if pruned > 0 {
				log.Printf("pruned %d old runs", pruned)
			}
		}
	}
}

// noopExecutor stands in until a real AI backend is configured. Runs
// succeed but do no work, so schedules and activity plumbing can be
// exercised end to end.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, req runtime.ExecRequest) (runtime.ExecResult, error) {
	log.Printf("app %s run %s: no executor configured", req.App.ID, req.Run.ID)
	return runtime.ExecResult{Outcome: runtime.OutcomeNoop, Summary: "no executor configured"}, nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
