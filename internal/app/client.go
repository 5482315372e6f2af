package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/acme/attendance-dispatch/internal/attendance"
	"github.com/acme/attendance-dispatch/internal/config"
	"github.com/acme/attendance-dispatch/internal/dispatcher"
	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/notify"
	"github.com/acme/attendance-dispatch/internal/probe"
	"github.com/acme/attendance-dispatch/internal/queue"
	"github.com/acme/attendance-dispatch/internal/transport/httpclient"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

// ClientOptions adjusts how a field client is assembled.
type ClientOptions struct {
	Device domain.Device
	// AssumeOnline skips the reachability probe.
	AssumeOnline bool
	// Visibility, when set, lets submissions wait for the foreground.
	Visibility *probe.Visibility
}

// Client wires a dispatcher and the attendance client on top of it.
type Client struct {
	Config *config.Config
	Logger *logger.Logger

	Dispatcher *dispatcher.Dispatcher
	Attendance *attendance.Client
	Board      *notify.Board

	kafka     *notify.Kafka
	publisher *queue.NotificationPublisher
}

// BuildClient loads configuration and assembles a field client.
func BuildClient(configPath string, opts ClientOptions) (*Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}

	return NewClient(cfg, lg, opts)
}

// NewClient assembles a field client from an already loaded configuration.
func NewClient(cfg *config.Config, lg *logger.Logger, opts ClientOptions) (*Client, error) {
	if lg == nil {
		lg = logger.Nop()
	}
	c := &Client{Config: cfg, Logger: lg}

	var connectivity dispatcher.ConnectivityProbe = probe.NewStatic(true)
	if !opts.AssumeOnline && cfg.Dispatcher.BaseURL != "" {
		dial, err := probe.NewDial(cfg.Dispatcher.BaseURL, cfg.Dispatcher.ProbeTimeout, lg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap probe: %w", err)
		}
		connectivity = dial
	}

	c.Board = notify.NewBoard(cfg.Dispatcher.ToastTTL, nil)
	sinks := notify.Multi{notify.NewLog(lg), c.Board}

	if cfg.Dispatcher.NotifyTopic != "" && len(cfg.Kafka.Brokers) > 0 {
		kafka, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("bootstrap kafka: %w", err)
		}
		c.publisher = queue.NewNotificationPublisher(kafka, cfg.Dispatcher.NotifyTopic)
		source := opts.Device.ID
		if source == "" {
			source = cfg.App.Name
		}
		c.kafka = notify.NewKafka(c.publisher, source, 0, lg)
		sinks = append(sinks, c.kafka)
	}

	deps := dispatcher.Deps{
		Transport:    httpclient.New(httpclient.Options{UserAgent: userAgent(cfg.App)}),
		Connectivity: connectivity,
		Notifier:     sinks,
		Logger:       lg,
	}
	if opts.Visibility != nil {
		deps.Visibility = opts.Visibility
	}

	d, err := dispatcher.New(dispatcher.Config{
		BaseURL:         cfg.Dispatcher.BaseURL,
		MaxRetries:      cfg.Dispatcher.MaxRetries,
		RetryDelay:      cfg.Dispatcher.RetryDelay,
		Timeout:         cfg.Dispatcher.Timeout,
		DeferWhenHidden: cfg.Dispatcher.DeferWhenHidden,
		MaxHiddenDefer:  cfg.Dispatcher.MaxHiddenDefer,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("bootstrap dispatcher: %w", err)
	}
	c.Dispatcher = d
	c.Attendance = attendance.NewClient(d, opts.Device, lg)
	return c, nil
}

// Close flushes pending notifications and releases resources.
func (c *Client) Close(_ context.Context) error {
	var errs []error
	if c.kafka != nil {
		c.kafka.Flush()
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notification publisher close: %w", err))
		}
	}
	if c.Board != nil {
		c.Board.Dismiss()
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}

func userAgent(cfg config.AppConfig) string {
	name := cfg.Name
	if name == "" {
		name = "attendance"
	}
	if cfg.Version == "" {
		return name
	}
	return name + "/" + cfg.Version
}
