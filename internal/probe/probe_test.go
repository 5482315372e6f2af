package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDialDerivesAddress(t *testing.T) {
	cases := map[string]string{
		"https://script.example.com/exec": "script.example.com:443",
		"http://10.1.2.3/api":             "10.1.2.3:80",
		"example.com:8443":                "example.com:8443",
		"//cdn.example.com":               "cdn.example.com:443",
	}
	for in, want := range cases {
		d, err := NewDial(in, time.Second, nil)
		require.NoError(t, err, in)
		assert.Equal(t, want, d.Address(), in)
	}

	_, err := NewDial("  ", time.Second, nil)
	assert.Error(t, err)
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	d, err := NewDial("http://"+ln.Addr().String(), time.Second, nil)
	require.NoError(t, err)
	assert.True(t, d.IsOnline(context.Background()))

	require.NoError(t, ln.Close())
	assert.False(t, d.IsOnline(context.Background()))
}

func TestStatic(t *testing.T) {
	s := NewStatic(false)
	assert.False(t, s.IsOnline(context.Background()))
	s.Set(true)
	assert.True(t, s.IsOnline(context.Background()))
}

func TestVisibilityReleasesWaiters(t *testing.T) {
	v := NewVisibility(false)
	assert.False(t, v.IsForegrounded())

	wait := v.WaitForeground()
	select {
	case <-wait:
		t.Fatal("waiter released while hidden")
	default:
	}

	v.SetForeground(true)
	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("waiter not released on foreground")
	}

	// Already foregrounded: the channel is closed immediately.
	select {
	case <-v.WaitForeground():
	default:
		t.Fatal("expected closed channel while foregrounded")
	}

	v.SetForeground(false)
	v.SetForeground(false)
	next := v.WaitForeground()
	select {
	case <-next:
		t.Fatal("new waiter released while hidden")
	default:
	}
}
