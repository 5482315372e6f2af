// Package attendance is the field client for the attendance intake service.
// Every call goes through a dispatcher and is interpreted as an envelope reply.
package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/attendance-dispatch/internal/dispatcher"
	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

// Poster is the dispatcher surface the client needs.
type Poster interface {
	PostPayload(ctx context.Context, payload any, opts ...dispatcher.Option) (*dispatcher.Result, error)
}

// Rejection is returned when a call did not produce a confirmed reply.
// Retry is true when the failure was in delivery rather than a refusal by the
// server, so asking again may help.
type Rejection struct {
	Head   string
	Text   string
	Icon   string
	Retry  bool
	Result *dispatcher.Result
}

func (r *Rejection) Error() string {
	if r.Text == "" {
		return "attendance: " + r.Head
	}
	return fmt.Sprintf("attendance: %s: %s", r.Head, r.Text)
}

// Offline reports whether the rejection came from a missing connection.
func (r *Rejection) Offline() bool {
	return r.Result != nil && r.Result.Status == dispatcher.StatusOffline
}

// Client talks to the intake service on behalf of one device.
type Client struct {
	poster Poster
	device domain.Device
	logger *logger.Logger
	now    func() time.Time
}

// NewClient constructs a client for device.
func NewClient(poster Poster, device domain.Device, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		poster: poster,
		device: device,
		logger: log.Component("attendance"),
		now:    time.Now,
	}
}

// Device returns the device this client sends as.
func (c *Client) Device() domain.Device { return c.device }

// FetchRoster loads the supervisor to worker roster.
func (c *Client) FetchRoster(ctx context.Context) (*domain.Roster, error) {
	var roster domain.Roster
	if _, err := c.call(ctx, domain.RequestRoster, c.device.Name, &roster); err != nil {
		return nil, err
	}
	return &roster, nil
}

// FetchRecent loads the records of the last days.
func (c *Client) FetchRecent(ctx context.Context) (*domain.Recent, error) {
	var recent domain.Recent
	if _, err := c.call(ctx, domain.RequestRecent, c.device.Name, &recent); err != nil {
		return nil, err
	}
	return &recent, nil
}

// Submit records one attendance entry. A missing receipt is generated. The
// confirmed reply is returned so callers can show its status line.
func (c *Client) Submit(ctx context.Context, sub domain.Submission) (*domain.Reply, error) {
	if sub.Receipt == "" {
		sub.Receipt = NewReceipt(c.now())
	}
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("attendance: submit: %w", err)
	}
	return c.call(ctx, domain.RequestSubmit, sub, nil)
}

// Validate registers the device with the service and returns the stored
// device record.
func (c *Client) Validate(ctx context.Context) (*domain.Device, error) {
	var device domain.Device
	if _, err := c.call(ctx, domain.RequestValidate, nil, &device); err != nil {
		return nil, err
	}
	c.device = mergeDevice(c.device, device)
	return &c.device, nil
}

func (c *Client) call(ctx context.Context, typ domain.RequestType, data any, into any) (*domain.Reply, error) {
	env := domain.Envelope{Type: typ, Device: &c.device}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("attendance: encode %s data: %w", typ, err)
		}
		env.Data = raw
	}

	res, err := c.poster.PostPayload(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("attendance: %s: %w", typ, err)
	}
	lg := c.logger.WithRequest(res.Meta.RequestID)

	if !res.Succeeded {
		lg.Warn("request not delivered", zap.String("type", string(typ)), zap.String("status", string(res.Status)))
		return nil, &Rejection{Head: res.Error.Code, Text: res.Error.Message, Retry: true, Result: res}
	}

	var reply domain.Reply
	if err := res.Payload.Into(&reply); err != nil {
		lg.Warn("reply is not an envelope", zap.String("type", string(typ)), zap.Error(err))
		return nil, &Rejection{Head: dispatcher.CodeParseError, Text: "could not parse the server response", Retry: true, Result: res}
	}
	if !reply.Confirm {
		lg.Info("request refused", zap.String("type", string(typ)), zap.String("status", reply.Status))
		return nil, &Rejection{Head: reply.Status, Text: reply.Msg, Icon: reply.Icon, Retry: false, Result: res}
	}

	if into != nil && len(reply.Data) > 0 {
		if err := json.Unmarshal(reply.Data, into); err != nil {
			return nil, &Rejection{Head: dispatcher.CodeParseError, Text: fmt.Sprintf("unexpected %s data", typ), Retry: true, Result: res}
		}
	}
	return &reply, nil
}

// NewReceipt returns a unique receipt stamped with the local date and time.
func NewReceipt(now time.Time) string {
	return uuid.NewString() + " " + now.Format("2/1/2006_15:04")
}

func mergeDevice(local, remote domain.Device) domain.Device {
	if remote.ID != "" {
		local.ID = remote.ID
	}
	if remote.Name != "" {
		local.Name = remote.Name
	}
	if remote.Email != "" {
		local.Email = remote.Email
	}
	if remote.Token != "" {
		local.Token = remote.Token
	}
	if remote.LastSeen != nil {
		local.LastSeen = remote.LastSeen
	}
	return local
}
