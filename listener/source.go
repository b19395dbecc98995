package listener

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotConnected is returned by source operations before Connect succeeds or
// after the connection drops.
var ErrNotConnected = errors.New("source not connected")

// Notification is one raw message from the event source.
type Notification struct {
	Channel string
	Payload string
}

// Source abstracts the LISTEN/NOTIFY operations of the event source so the
// listener loop can be driven by a fake in tests.
type Source interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*Notification, error)
	Close(ctx context.Context) error
}

// PgSource is the Postgres implementation of Source, one dedicated
// connection in auto-commit mode.
type PgSource struct {
	dsn  string
	conn *pgx.Conn
}

// NewPgSource creates a source for the given connection string.
func NewPgSource(dsn string) *PgSource {
	return &PgSource{dsn: dsn}
}

// Connect opens the dedicated notification connection.
func (s *PgSource) Connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to notification source: %w", err)
	}
	s.conn = conn
	return nil
}

// Listen issues LISTEN for the given channel.
func (s *PgSource) Listen(ctx context.Context, channel string) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	stmt := fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
	if _, err := s.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives, the connection
// fails, or ctx is cancelled.
func (s *PgSource) WaitForNotification(ctx context.Context) (*Notification, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

// Close tears down the connection. Safe to call when not connected.
func (s *PgSource) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(ctx)
	s.conn = nil
	return err
}
