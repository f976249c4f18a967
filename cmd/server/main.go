// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/app"
	"github.com/unclebandit/mailpacer-backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal("startup failed: ", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.RunWorkerInServer {
		runner := a.Runner()
		wg.Add(2)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			app.ScheduleWarmupSweeps(ctx, a.Queue, cfg.WarmupSweepEvery)
		}()
		log.Println("🛠  Worker running inside the server process")
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error: ", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ graceful shutdown failed: %v", err)
	}
	wg.Wait()
}
