// Package app builds the object graph shared by the server and the worker.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/mailpacer-backend/internal/config"
	"github.com/unclebandit/mailpacer-backend/internal/controller"
	"github.com/unclebandit/mailpacer-backend/internal/database"
	"github.com/unclebandit/mailpacer-backend/internal/db"
	"github.com/unclebandit/mailpacer-backend/internal/events"
	"github.com/unclebandit/mailpacer-backend/internal/handler"
	"github.com/unclebandit/mailpacer-backend/internal/mail"
	"github.com/unclebandit/mailpacer-backend/internal/queue"
	"github.com/unclebandit/mailpacer-backend/internal/repository"
	"github.com/unclebandit/mailpacer-backend/internal/service"
	"github.com/unclebandit/mailpacer-backend/migrations"
)

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Queue     queue.Backend
	Events    events.Publisher
	Capacity  *service.CapacityService
	Campaigns *service.CampaignService
	Worker    *service.BatchWorker

	closers []func() error
}

// New connects to every backing service named in cfg.
func New(cfg *config.Config) (*App, error) {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn}
	a.closers = append(a.closers, conn.Close)

	if cfg.AutoMigrate {
		if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
			a.Close()
			return nil, err
		}
	}

	capacityRepo, closeCapacity, err := NewCapacityRepository(cfg, conn)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeCapacity != nil {
		a.closers = append(a.closers, closeCapacity)
	}

	transport, err := NewTransport(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Queue, err = NewQueue(cfg, conn)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Events = NewPublisher(cfg)
	if c, ok := a.Events.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	domainRepo := &repository.DomainRepository{DB: conn}

	a.Capacity = service.NewCapacityService(domainRepo, capacityRepo, service.CapacityConfig{
		DefaultDailyLimit: cfg.DefaultDailyLimit(),
		WarmupPeriod:      cfg.WarmupPeriod(),
	})
	a.Capacity.Events = a.Events

	a.Campaigns = &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		ContactRepo:   &repository.ContactRepository{DB: conn},
		DomainRepo:    domainRepo,
		Queue:         a.Queue,
		Events:        a.Events,
	}
	a.Worker = &service.BatchWorker{
		Campaigns:     a.Campaigns,
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		DomainRepo:    domainRepo,
		Capacity:      a.Capacity,
		Mailer: &service.TransportMailer{
			Transport:  transport,
			SentEmails: &repository.SentEmailRepository{DB: conn},
		},
		Events:        a.Events,
		FromLocalPart: cfg.FromLocalPart,
	}

	log.Printf("✅ %s environment, default daily limit %d, queue=%s capacity=%s mail=%s",
		cfg.Env, cfg.DefaultDailyLimit(), cfg.QueueBackend, cfg.CapacityBackend, transport.Name())
	return a, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("⚠️ shutdown: %v", err)
		}
	}
}

// Runner returns a worker pool with every job handler registered.
func (a *App) Runner() *queue.Runner {
	r := queue.NewRunner(a.Queue, queue.RunnerOptions{
		Concurrency:   a.Config.WorkerConcurrency,
		PollInterval:  a.Config.QueuePollInterval,
		KeepCompleted: a.Config.QueueKeepCompleted,
		KeepFailed:    a.Config.QueueKeepFailed,
	})
	service.RegisterHandlers(r, a.Worker, a.Capacity)
	return r
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Health(a.DB))
	(&controller.CampaignController{CampaignService: a.Campaigns}).Routes(r)
	(&handler.DomainHandler{Capacity: a.Capacity}).Routes(r)
	return r
}

// NewCapacityRepository picks the ledger store. The returned closer may be nil.
func NewCapacityRepository(cfg *config.Config, conn *sql.DB) (repository.CapacityRepositoryInterface, func() error, error) {
	switch cfg.CapacityBackend {
	case "", "postgres":
		return &repository.CapacityRepository{DB: conn}, nil, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Println("✅ Connected to Redis")
		return repository.NewRedisCapacityRepository(rdb), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown CAPACITY_BACKEND %q", cfg.CapacityBackend)
	}
}

// NewQueue picks the job store. The memory queue only works when the worker
// runs inside the server process.
func NewQueue(cfg *config.Config, conn *sql.DB) (queue.Backend, error) {
	switch cfg.QueueBackend {
	case "", "postgres":
		return queue.NewPostgresQueue(conn), nil
	case "memory":
		if !cfg.RunWorkerInServer {
			log.Println("⚠️ memory queue without RUN_WORKER_IN_SERVER: jobs will never run")
		}
		return queue.NewInMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

func NewTransport(cfg *config.Config) (mail.Transport, error) {
	switch cfg.MailTransport {
	case "", "log":
		return mail.LogTransport{}, nil
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST is required for the smtp transport")
		}
		return mail.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass), nil
	case "ses":
		ses, err := mail.NewSESTransport(cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		if cfg.SESMaxSendRate > 0 {
			return mail.NewThrottledTransport(ses, cfg.SESMaxSendRate), nil
		}
		return ses, nil
	default:
		return nil, fmt.Errorf("unknown MAIL_TRANSPORT %q", cfg.MailTransport)
	}
}

// NewPublisher falls back to a no-op publisher when RabbitMQ is not
// configured or unreachable; events are notifications, not state.
func NewPublisher(cfg *config.Config) events.Publisher {
	if cfg.RabbitMQURL == "" {
		return events.NoopPublisher{}
	}
	p, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		log.Printf("⚠️ events disabled: %v", err)
		return events.NoopPublisher{}
	}
	return p
}

// ScheduleWarmupSweeps queues a sweep job every interval until ctx ends.
func ScheduleWarmupSweeps(ctx context.Context, q queue.Queue, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := service.EnqueueWarmupSweep(ctx, q); err != nil {
			log.Printf("⚠️ failed to queue warm-up sweep: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
