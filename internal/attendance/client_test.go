package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/attendance-dispatch/internal/dispatcher"
	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/probe"
	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

// server answers envelopes with a handler keyed by request type.
func server(t *testing.T, handle func(env domain.Envelope) (int, any)) dispatcher.Transport {
	t.Helper()
	return dispatcher.TransportFunc(func(_ context.Context, out *dispatcher.Outbound) (*dispatcher.Response, error) {
		var env domain.Envelope
		if err := json.Unmarshal(out.Body, &env); err != nil {
			return nil, err
		}
		status, body := handle(env)
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		return &dispatcher.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(string(raw)))}, nil
	})
}

func newClient(t *testing.T, tr dispatcher.Transport, connectivity dispatcher.ConnectivityProbe) *Client {
	t.Helper()
	d, err := dispatcher.New(dispatcher.Config{
		BaseURL:    "https://intake.example.com",
		RetryDelay: time.Millisecond,
	}, dispatcher.Deps{Transport: tr, Connectivity: connectivity})
	require.NoError(t, err)
	return NewClient(d, domain.Device{ID: "dev-1", Name: "Bendhard16"}, nil)
}

func confirmed(data any) domain.Reply {
	raw, _ := json.Marshal(data)
	return domain.Reply{Confirm: true, Status: "OK", Data: raw}
}

func TestFetchRoster(t *testing.T) {
	var seen domain.Envelope
	c := newClient(t, server(t, func(env domain.Envelope) (int, any) {
		seen = env
		return 200, confirmed(domain.Roster{
			Supervisors: []string{"Ana"},
			Workers:     map[string][]string{"Ana": {"Budi", "Citra"}},
		})
	}), nil)

	roster, err := c.FetchRoster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Budi", "Citra"}, roster.Workers["Ana"])
	assert.Equal(t, domain.RequestRoster, seen.Type)
	assert.Equal(t, "dev-1", seen.DeviceID())
	assert.JSONEq(t, `"Bendhard16"`, string(seen.Data))
}

func TestFetchRecent(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 15, 0, 0, time.UTC)
	c := newClient(t, server(t, func(env domain.Envelope) (int, any) {
		var recent domain.Recent
		recent.Add("Ana", "2026-03-02", "Pasar", domain.RecentEntry{Worker: "Budi", Presence: domain.PresencePresent, Timestamp: at})
		return 200, confirmed(recent)
	}), nil)

	recent, err := c.FetchRecent(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Ana"}, recent.Supervisors)
	entries := recent.Data["Ana"]["2026-03-02"]["Pasar"]
	require.Len(t, entries, 1)
	assert.Equal(t, "Budi", entries[0].Worker)
	assert.True(t, entries[0].Timestamp.Equal(at))
}

func validSubmission() domain.Submission {
	return domain.Submission{
		Kind:       "daily",
		Supervisor: "Ana",
		Worker:     "Budi",
		Location:   "Pasar",
		Presence:   domain.PresencePresent,
		Photo:      &domain.Attachment{Name: "face.jpg", ContentType: "image/jpeg", Data: "/9j/4BA="},
	}
}

func TestSubmitGeneratesReceipt(t *testing.T) {
	var got domain.Submission
	c := newClient(t, server(t, func(env domain.Envelope) (int, any) {
		require.NoError(t, json.Unmarshal(env.Data, &got))
		return 200, domain.Reply{Confirm: true, Status: "Absen Berhasil"}
	}), nil)
	c.now = func() time.Time { return time.Date(2026, 3, 2, 7, 5, 0, 0, time.UTC) }

	reply, err := c.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, "Absen Berhasil", reply.Status)
	assert.True(t, strings.HasSuffix(got.Receipt, " 2/3/2026_07:05"), got.Receipt)
}

func TestSubmitValidatesLocally(t *testing.T) {
	calls := 0
	c := newClient(t, dispatcher.TransportFunc(func(context.Context, *dispatcher.Outbound) (*dispatcher.Response, error) {
		calls++
		return nil, errors.New("unexpected")
	}), nil)

	sub := validSubmission()
	sub.Photo = nil
	_, err := c.Submit(context.Background(), sub)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Zero(t, calls)
}

func TestServerRefusalIsNotRetryable(t *testing.T) {
	c := newClient(t, server(t, func(domain.Envelope) (int, any) {
		return 200, domain.Reply{Confirm: false, Status: "Ditolak", Msg: "Worker already checked in today", Icon: "fas fa-ban"}
	}), nil)

	_, err := c.Submit(context.Background(), validSubmission())
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.False(t, rej.Retry)
	assert.Equal(t, "Ditolak", rej.Head)
	assert.Equal(t, "Worker already checked in today", rej.Text)
	assert.Equal(t, "fas fa-ban", rej.Icon)
}

func TestDeliveryFailureIsRetryable(t *testing.T) {
	c := newClient(t, server(t, func(domain.Envelope) (int, any) {
		return 503, map[string]string{"message": "maintenance", "code": "MAINTENANCE"}
	}), nil)

	_, err := c.FetchRoster(context.Background())
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.True(t, rej.Retry)
	assert.Equal(t, "MAINTENANCE", rej.Head)
	assert.Equal(t, "maintenance", rej.Text)
	assert.Equal(t, dispatcher.StatusServerError, rej.Result.Status)
	assert.False(t, rej.Offline())
}

func TestOfflineRejection(t *testing.T) {
	c := newClient(t, server(t, func(domain.Envelope) (int, any) {
		t.Fatal("transport must not be called while offline")
		return 0, nil
	}), probe.NewStatic(false))

	_, err := c.FetchRecent(context.Background())
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.True(t, rej.Offline())
	assert.Equal(t, "OFFLINE", rej.Head)
}

func TestNonEnvelopeReply(t *testing.T) {
	c := newClient(t, dispatcher.TransportFunc(func(context.Context, *dispatcher.Outbound) (*dispatcher.Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "image/png")
		return &dispatcher.Response{StatusCode: 200, Header: h, Body: io.NopCloser(strings.NewReader("\x89PNG"))}, nil
	}), nil)

	_, err := c.FetchRoster(context.Background())
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, dispatcher.CodeParseError, rej.Head)
	assert.True(t, rej.Retry)
}

func TestValidateMergesDevice(t *testing.T) {
	c := newClient(t, server(t, func(env domain.Envelope) (int, any) {
		d := *env.Device
		d.Email = "ana@example.com"
		return 200, confirmed(d)
	}), nil)

	dev, err := c.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", dev.Email)
	assert.Equal(t, "Bendhard16", c.Device().Name)
}
