// Package negostore persists call attempts, carrier status updates, recordings
// and negotiation outcomes in Postgres. A nil *Store disables persistence; all
// methods are nil-receiver safe.
package negostore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voxcobra/voxbridge/pkg/outcome"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to Postgres, applies pending migrations and returns a Store.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("negostore: migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("negostore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("negostore: ping: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports backend health for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Attempt is one outbound call attempt.
type Attempt struct {
	SessionID     string
	CallSID       string
	TargetID      string
	CampaignID    string
	AttemptNumber int
	ToNumber      string
	Status        string
}

// RecordAttempt inserts a placed call.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_attempts (session_id, call_sid, target_id, campaign_id, attempt_number, to_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE
		SET call_sid = EXCLUDED.call_sid, status = EXCLUDED.status, updated_at = now()`,
		a.SessionID, a.CallSID, a.TargetID, a.CampaignID, a.AttemptNumber, a.ToNumber, a.Status,
	)
	if err != nil {
		return fmt.Errorf("negostore: record attempt: %w", err)
	}
	return nil
}

// UpdateCallStatus applies a carrier status callback.
func (s *Store) UpdateCallStatus(ctx context.Context, callSID, status string, durationSeconds int) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE call_attempts
		SET status = $2, duration_seconds = $3, updated_at = now()
		WHERE call_sid = $1`,
		callSID, status, durationSeconds,
	)
	if err != nil {
		return fmt.Errorf("negostore: update call status: %w", err)
	}
	return nil
}

// RecordRecording stores a recording availability callback.
func (s *Store) RecordRecording(ctx context.Context, callSID, recordingSID, url string, durationSeconds int) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_recordings (call_sid, recording_sid, url, duration_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recording_sid) DO UPDATE
		SET url = EXCLUDED.url, duration_seconds = EXCLUDED.duration_seconds`,
		callSID, recordingSID, url, durationSeconds,
	)
	if err != nil {
		return fmt.Errorf("negostore: record recording: %w", err)
	}
	return nil
}

// SaveOutcome stores the negotiation result of a finished call.
func (s *Store) SaveOutcome(ctx context.Context, sessionID string, oc outcome.ConversationOutcome) error {
	if s == nil || s.pool == nil {
		return nil
	}

	transcript, err := json.Marshal(oc.Transcript)
	if err != nil {
		return fmt.Errorf("negostore: marshal transcript: %w", err)
	}

	var amount *float64
	var dueDate, method *string
	if oc.PromiseDetails != nil {
		amount = &oc.PromiseDetails.Amount
		dueDate = &oc.PromiseDetails.DueDate
		method = &oc.PromiseDetails.PaymentMethod
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_outcomes (session_id, promise_made, unwilling_to_pay, promise_amount, promise_due_date, promise_method, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE
		SET promise_made = EXCLUDED.promise_made,
		    unwilling_to_pay = EXCLUDED.unwilling_to_pay,
		    promise_amount = EXCLUDED.promise_amount,
		    promise_due_date = EXCLUDED.promise_due_date,
		    promise_method = EXCLUDED.promise_method,
		    transcript = EXCLUDED.transcript`,
		sessionID, oc.PromiseMade, oc.UnwillingToPay, amount, dueDate, method, transcript,
	)
	if err != nil {
		return fmt.Errorf("negostore: save outcome: %w", err)
	}
	return nil
}
