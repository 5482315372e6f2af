package dispatcher

import (
	"context"
	"io"
	"net/http"
)

// Response is what a Transport hands back for one attempt. Body must be closed
// by the dispatcher.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Transport performs exactly one HTTP exchange. Cancelling ctx must abort the
// in-flight exchange.
type Transport interface {
	Do(ctx context.Context, req *Outbound) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Outbound) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, req *Outbound) (*Response, error) {
	return f(ctx, req)
}

// ConnectivityProbe reports whether the device currently has network access.
type ConnectivityProbe interface {
	IsOnline(ctx context.Context) bool
}

// VisibilityProbe reports whether the host UI is in the foreground.
type VisibilityProbe interface {
	IsForegrounded() bool
	// WaitForeground returns a channel that is closed on the next transition
	// to the foreground, or immediately if already foregrounded.
	WaitForeground() <-chan struct{}
}

// Severity grades a user-facing notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier surfaces user-facing messages. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string)
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline(context.Context) bool { return true }

type alwaysForeground struct{}

func (alwaysForeground) IsForegrounded() bool { return true }

func (alwaysForeground) WaitForeground() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Severity, string) {}
