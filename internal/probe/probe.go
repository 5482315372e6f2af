// Package probe provides connectivity and visibility probes for the dispatcher.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/acme/attendance-dispatch/internal/dispatcher"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

var (
	_ dispatcher.ConnectivityProbe = (*Dial)(nil)
	_ dispatcher.ConnectivityProbe = (*Static)(nil)
	_ dispatcher.VisibilityProbe   = (*Visibility)(nil)
)

// Dial reports the device online when a TCP connection to the target host can
// be opened within the timeout.
type Dial struct {
	address string
	timeout time.Duration
	dialer  net.Dialer
	logger  *logger.Logger
}

// NewDial derives host:port from a base URL, defaulting to the scheme's port.
func NewDial(baseURL string, timeout time.Duration, log *logger.Logger) (*Dial, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, fmt.Errorf("probe: base url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("probe: parse base url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("probe: base url %q has no host", baseURL)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if strings.EqualFold(u.Scheme, "http") {
			port = "80"
		}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dial{
		address: net.JoinHostPort(u.Hostname(), port),
		timeout: timeout,
		logger:  log.Component("probe"),
	}, nil
}

// Address is the host:port being dialed.
func (d *Dial) Address() string { return d.address }

// IsOnline implements dispatcher.ConnectivityProbe.
func (d *Dial) IsOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	conn, err := d.dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		d.logger.Debug("connectivity probe failed", zap.String("address", d.address), zap.Error(err))
		return false
	}
	_ = conn.Close()
	return true
}

// Static always gives the same answer until Set is called.
type Static struct {
	online atomic.Bool
}

// NewStatic returns a probe fixed at online.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Set changes the reported state.
func (s *Static) Set(online bool) { s.online.Store(online) }

// IsOnline implements dispatcher.ConnectivityProbe.
func (s *Static) IsOnline(context.Context) bool { return s.online.Load() }

// Visibility tracks whether the host UI is foregrounded.
type Visibility struct {
	mu         sync.Mutex
	foreground bool
	waiters    chan struct{}
}

// NewVisibility starts in the given state.
func NewVisibility(foreground bool) *Visibility {
	return &Visibility{foreground: foreground, waiters: make(chan struct{})}
}

// IsForegrounded implements dispatcher.VisibilityProbe.
func (v *Visibility) IsForegrounded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.foreground
}

// WaitForeground implements dispatcher.VisibilityProbe.
func (v *Visibility) WaitForeground() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.foreground {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return v.waiters
}

// SetForeground records a transition. Moving to the foreground releases every
// pending waiter.
func (v *Visibility) SetForeground(foreground bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if foreground == v.foreground {
		return
	}
	v.foreground = foreground
	if foreground {
		close(v.waiters)
		v.waiters = make(chan struct{})
	}
}
