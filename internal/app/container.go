package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/acme/attendance-dispatch/internal/api/handlers"
	"github.com/acme/attendance-dispatch/internal/config"
	"github.com/acme/attendance-dispatch/internal/idempotency"
	"github.com/acme/attendance-dispatch/internal/infra/db"
	"github.com/acme/attendance-dispatch/internal/infra/redis"
	"github.com/acme/attendance-dispatch/internal/queue"
	"github.com/acme/attendance-dispatch/internal/repository"
	pgrepo "github.com/acme/attendance-dispatch/internal/repository/postgres"
	scyllarepo "github.com/acme/attendance-dispatch/internal/repository/scylla"
	intakesvc "github.com/acme/attendance-dispatch/internal/service/intake"
	"github.com/acme/attendance-dispatch/internal/service/throttle"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

// Container wires together the intake service's shared infrastructure.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
	}
}

type repositories struct {
	Attendance repository.AttendanceRepository
	Devices    repository.DeviceRepository
	Receipts   repository.ReceiptLedger
}

type services struct {
	Intake      *intakesvc.Service
	Idempotency *idempotency.Store
	Throttle    *throttle.Limiter
}

type publishers struct {
	Attendance *queue.AttendancePublisher
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}
	container.Postgres = pg

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}
	container.Scylla = scylla

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	container.Redis = redisClient

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}
	container.Kafka = kafka

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Attendance: pgrepo.NewAttendanceRepository(c.Postgres.DB()),
			Devices:    pgrepo.NewDeviceRepository(c.Postgres.DB()),
			Receipts:   scyllarepo.NewReceiptLedger(c.Scylla.Session()),
		}

		pubs := &publishers{
			Attendance: queue.NewAttendancePublisher(c.Kafka, c.Config.Kafka.AttendanceTopic),
		}

		loc, err := time.LoadLocation(c.Config.App.TimeZone)
		if err != nil {
			c.Logger.Warn("unknown time zone, using UTC")
			loc = time.UTC
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.services = &services{
			Intake:      intakesvc.NewService(repos.Attendance, repos.Devices, pubs.Attendance, loc, c.Logger),
			Idempotency: idempotency.NewStore(c.Redis.Inner(), c.Config.Idempotency),
			Throttle:    throttle.NewLimiter(c.Redis.Inner(), c.Config.Throttle),
		}
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	c.initComponents()
	svc := c.components.services
	repos := c.components.repositories
	return handlers.NewHandlerSet(handlers.Deps{
		Intake:      svc.Intake,
		Idempotency: svc.Idempotency,
		Throttle:    svc.Throttle,
		Ledger:      repos.Receipts,
		Health: map[string]handlers.HealthCheck{
			"postgres": c.Postgres.Ping,
			"redis":    c.Redis.Ping,
			"scylla":   c.Scylla.Ping,
		},
		Logger: c.Logger,
	})
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.AttendanceTopic}, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil && p.Attendance != nil {
		if err := p.Attendance.Close(); err != nil {
			errs = append(errs, fmt.Errorf("attendance publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
