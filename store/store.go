package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNotFound is returned when an engagement id does not exist in the
// tenant's schema.
var ErrNotFound = errors.New("engagement not found")

// Each tenant schema carries its own copy of this table.
const tableName = "eng_interactions"

// DefaultListLimit bounds unpaginated list reads.
const DefaultListLimit = 100

// Engagement is one customer interaction row.
type Engagement struct {
	ID             int64     `db:"id" json:"id"`
	Channel        string    `db:"channel" json:"channel"`
	UserIdentifier string    `db:"user_identifier" json:"user_identifier"`
	Status         string    `db:"status" json:"status"`
	Text           string    `db:"text" json:"text"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// StatusCount is one row of the per-tenant stats aggregate.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// Store reads and writes engagement rows across tenant schemas on a shared
// connection pool. The schema argument selects the tenant partition.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// Open creates the pool. Connections are established lazily; call Ping to
// verify reachability.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, dialect: goqu.Dialect("postgres")}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) listSQL(schema string, limit uint) (string, []interface{}, error) {
	return s.dialect.
		From(goqu.S(schema).Table(tableName)).
		Select("id", "channel", "user_identifier", "status", "text", "created_at").
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(limit).
		Prepared(true).
		ToSQL()
}

// List returns the tenant's most recent engagements, newest first.
func (s *Store) List(ctx context.Context, schema string, limit int) ([]Engagement, error) {
	if limit < 1 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	query, args, err := s.listSQL(schema, uint(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list engagements: %w", err)
	}
	defer rows.Close()

	out := make([]Engagement, 0, limit)
	for rows.Next() {
		var e Engagement
		var text sql.NullString
		if err := rows.Scan(&e.ID, &e.Channel, &e.UserIdentifier, &e.Status, &text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan engagement: %w", err)
		}
		e.Text = text.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) insertSQL(schema string, e *Engagement) (string, []interface{}, error) {
	return s.dialect.
		Insert(goqu.S(schema).Table(tableName)).
		Rows(goqu.Record{
			"channel":         e.Channel,
			"user_identifier": e.UserIdentifier,
			"status":          e.Status,
			"text":            e.Text,
		}).
		Returning("id", "created_at").
		Prepared(true).
		ToSQL()
}

// Insert creates a row in the tenant's schema and fills in the generated id
// and timestamp. The trigger layer emits the change notification.
func (s *Store) Insert(ctx context.Context, schema string, e *Engagement) error {
	query, args, err := s.insertSQL(schema, e)
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert engagement: %w", err)
	}
	return nil
}

func (s *Store) updateStatusSQL(schema string, id int64, status string) (string, []interface{}, error) {
	return s.dialect.
		Update(goqu.S(schema).Table(tableName)).
		Set(goqu.Record{"status": status}).
		Where(goqu.C("id").Eq(id)).
		Returning("id", "channel", "user_identifier", "status", "text", "created_at").
		Prepared(true).
		ToSQL()
}

// UpdateStatus transitions one engagement and returns the updated row. The
// trigger layer emits the status change notification.
func (s *Store) UpdateStatus(ctx context.Context, schema string, id int64, status string) (Engagement, error) {
	query, args, err := s.updateStatusSQL(schema, id, status)
	if err != nil {
		return Engagement{}, fmt.Errorf("failed to build update query: %w", err)
	}

	var e Engagement
	var text sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&e.ID, &e.Channel, &e.UserIdentifier, &e.Status, &text, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Engagement{}, ErrNotFound
	}
	if err != nil {
		return Engagement{}, fmt.Errorf("failed to update engagement %d: %w", id, err)
	}
	e.Text = text.String
	return e, nil
}

func (s *Store) statsSQL(schema string) (string, []interface{}, error) {
	return s.dialect.
		From(goqu.S(schema).Table(tableName)).
		Select(goqu.C("status"), goqu.COUNT(goqu.Star()).As("count")).
		GroupBy(goqu.C("status")).
		Order(goqu.C("status").Asc()).
		Prepared(true).
		ToSQL()
}

// Stats aggregates the tenant's engagement counts by status.
func (s *Store) Stats(ctx context.Context, schema string) ([]StatusCount, error) {
	query, args, err := s.statsSQL(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build stats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer rows.Close()

	out := []StatusCount{}
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
