package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/repository"
)

// ReceiptLedger records every intake attempt in Scylla, bucketed by day.
type ReceiptLedger struct {
	session *gocql.Session
}

var _ repository.ReceiptLedger = (*ReceiptLedger)(nil)

// NewReceiptLedger creates a new ledger.
func NewReceiptLedger(session *gocql.Session) *ReceiptLedger {
	return &ReceiptLedger{session: session}
}

// Append inserts one receipt.
func (l *ReceiptLedger) Append(ctx context.Context, receipt domain.Receipt) error {
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}
	if err := l.session.Query(`INSERT INTO intake_receipts (bucket, received_at, receipt_id, idempotency_key, device_id, request_type, status_code, replayed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		bucketDate(receipt.ReceivedAt), receipt.ReceivedAt, gocql.TimeUUID(), receipt.IdempotencyKey, receipt.DeviceID,
		string(receipt.Type), receipt.StatusCode, receipt.Replayed,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("receipt ledger: insert: %w", err)
	}
	return nil
}

// ListByDay pages through the receipts of one day, newest first.
func (l *ReceiptLedger) ListByDay(ctx context.Context, day time.Time, limit int, pagingState []byte) ([]domain.Receipt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := l.session.Query(`SELECT received_at, idempotency_key, device_id, request_type, status_code, replayed
		FROM intake_receipts WHERE bucket = ?`, bucketDate(day)).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	receipts := make([]domain.Receipt, 0, limit)

	var (
		receivedAt time.Time
		key        string
		deviceID   string
		reqType    string
		statusCode int
		replayed   bool
	)
	for iter.Scan(&receivedAt, &key, &deviceID, &reqType, &statusCode, &replayed) {
		receipts = append(receipts, domain.Receipt{
			IdempotencyKey: key,
			DeviceID:       deviceID,
			Type:           domain.RequestType(reqType),
			StatusCode:     statusCode,
			Replayed:       replayed,
			ReceivedAt:     receivedAt,
		})
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("receipt ledger: iter close: %w", err)
	}
	return receipts, nextState, nil
}

// Ping runs a trivial query against the cluster.
func (l *ReceiptLedger) Ping(ctx context.Context) error {
	if err := l.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("receipt ledger: ping: %w", err)
	}
	return nil
}

func bucketDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
