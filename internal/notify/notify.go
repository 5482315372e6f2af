// Package notify holds the user-facing notification sinks a dispatcher reports to.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/attendance-dispatch/internal/dispatcher"
	"github.com/acme/attendance-dispatch/internal/queue"
	"github.com/acme/attendance-dispatch/internal/schedule"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

var (
	_ dispatcher.Notifier = (*Log)(nil)
	_ dispatcher.Notifier = (*Kafka)(nil)
	_ dispatcher.Notifier = (*Board)(nil)
	_ dispatcher.Notifier = Multi(nil)
)

// Log writes notifications to the structured log.
type Log struct {
	logger *logger.Logger
}

// NewLog constructs a log sink.
func NewLog(log *logger.Logger) *Log {
	if log == nil {
		log = logger.Nop()
	}
	return &Log{logger: log.Component("notify")}
}

// Notify implements dispatcher.Notifier.
func (l *Log) Notify(_ context.Context, severity dispatcher.Severity, message string) {
	switch severity {
	case dispatcher.SeverityError:
		l.logger.Error(message, zap.String("severity", string(severity)))
	case dispatcher.SeverityWarning:
		l.logger.Warn(message, zap.String("severity", string(severity)))
	default:
		l.logger.Info(message, zap.String("severity", string(severity)))
	}
}

// Publisher is the queue side of the Kafka sink.
type Publisher interface {
	PublishNotification(ctx context.Context, msg queue.NotificationMessage) error
}

// Kafka forwards notifications to a topic without blocking the caller.
type Kafka struct {
	publisher Publisher
	source    string
	timeout   time.Duration
	logger    *logger.Logger
	wg        sync.WaitGroup
}

// NewKafka builds a Kafka sink. source identifies this client in every message.
func NewKafka(publisher Publisher, source string, timeout time.Duration, log *logger.Logger) *Kafka {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Kafka{publisher: publisher, source: source, timeout: timeout, logger: log.Component("notify.kafka")}
}

// Notify implements dispatcher.Notifier. The write outlives ctx cancellation
// but not the sink timeout.
func (k *Kafka) Notify(ctx context.Context, severity dispatcher.Severity, message string) {
	msg := queue.NotificationMessage{
		ID:         uuid.New(),
		Source:     k.source,
		Severity:   string(severity),
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	wctx := context.WithoutCancel(ctx)

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		pctx, cancel := context.WithTimeout(wctx, k.timeout)
		defer cancel()
		if err := k.publisher.PublishNotification(pctx, msg); err != nil {
			k.logger.Warn("publish notification failed", zap.String("notification_id", msg.ID.String()), zap.Error(err))
		}
	}()
}

// Flush waits for in-flight publishes.
func (k *Kafka) Flush() {
	k.wg.Wait()
}

// Notice is the notification currently shown on a Board.
type Notice struct {
	Severity dispatcher.Severity
	Message  string
	PostedAt time.Time
}

// Board keeps the latest notification visible and dismisses it after a TTL.
// A newer notification replaces the older one and restarts the timer.
type Board struct {
	ttl  time.Duration
	slot schedule.Slot

	mu       sync.Mutex
	current  *Notice
	onChange func(*Notice)
}

// NewBoard returns a board whose notices live for ttl. onChange, if set, is
// called with the new notice or nil on dismissal.
func NewBoard(ttl time.Duration, onChange func(*Notice)) *Board {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Board{ttl: ttl, onChange: onChange}
}

// Notify implements dispatcher.Notifier.
func (b *Board) Notify(_ context.Context, severity dispatcher.Severity, message string) {
	n := &Notice{Severity: severity, Message: message, PostedAt: time.Now()}
	b.set(n)
	b.slot.Schedule(b.ttl, func() { b.clear(n) })
}

// Current returns the visible notice, if any.
func (b *Board) Current() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Notice{}, false
	}
	return *b.current, true
}

// Dismiss hides the current notice immediately.
func (b *Board) Dismiss() {
	b.slot.Cancel()
	b.mu.Lock()
	n := b.current
	b.mu.Unlock()
	if n != nil {
		b.clear(n)
	}
}

func (b *Board) set(n *Notice) {
	b.mu.Lock()
	b.current = n
	cb := b.onChange
	b.mu.Unlock()
	if cb != nil {
		cb(n)
	}
}

// clear only removes n; a newer notice stays.
func (b *Board) clear(n *Notice) {
	b.mu.Lock()
	if b.current != n {
		b.mu.Unlock()
		return
	}
	b.current = nil
	cb := b.onChange
	b.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

// Multi fans a notification out to every sink. A panicking sink does not stop
// the rest.
type Multi []dispatcher.Notifier

// Notify implements dispatcher.Notifier.
func (m Multi) Notify(ctx context.Context, severity dispatcher.Severity, message string) {
	for _, n := range m {
		if n == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			n.Notify(ctx, severity, message)
		}()
	}
}
