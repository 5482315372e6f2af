package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/attendance-dispatch/internal/config"
)

// Scylla holds the session for the intake receipt ledger.
type Scylla struct {
	session *gocql.Session
}

// NewScylla opens a session on the configured keyspace.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("scylla: no hosts configured")
	}
	if cfg.Keyspace == "" {
		return nil, fmt.Errorf("scylla: keyspace is required")
	}
	consistency, err := parseConsistency(cfg.Consistency)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	// Receipt writes are idempotent per receipt_id, so retrying them is safe.
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{NumRetries: 3, Min: 100 * time.Millisecond, Max: time.Second}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session for keyspace %s: %w", cfg.Keyspace, err)
	}

	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Ping runs a trivial query against the cluster.
func (s *Scylla) Ping(ctx context.Context) error {
	if s.session == nil || s.session.Closed() {
		return fmt.Errorf("scylla: session closed")
	}
	return s.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Exec()
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

// parseConsistency accepts the CQL names in any case, with dashes or
// underscores. An empty level means LOCAL_QUORUM.
func parseConsistency(level string) (gocql.Consistency, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(level), "-", "_"))
	if name == "" {
		return gocql.LocalQuorum, nil
	}
	c, err := gocql.ParseConsistencyWrapper(name)
	if err != nil {
		return 0, fmt.Errorf("scylla: unknown consistency %q", level)
	}
	return c, nil
}
