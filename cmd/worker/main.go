package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/unclebandit/mailpacer-backend/internal/app"
	"github.com/unclebandit/mailpacer-backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	if cfg.QueueBackend == "memory" {
		log.Fatal("the standalone worker needs a shared queue; set QUEUE_BACKEND=postgres or run the worker in the server")
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal("startup failed: ", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.ScheduleWarmupSweeps(ctx, a.Queue, cfg.WarmupSweepEvery)
	}()

	log.Printf("Worker running with %d goroutines, waiting for jobs...", cfg.WorkerConcurrency)
	a.Runner().Run(ctx)
	wg.Wait()
	log.Println("worker stopped")
}
