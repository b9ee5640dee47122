// Package broker requests ephemeral realtime sessions from the AI backend and
// parks their one-time credentials where the audio bridge can claim them.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxcobra/voxbridge/pkg/credstore"
	"github.com/voxcobra/voxbridge/pkg/realtime"
)

// SessionCreator is the slice of the realtime client the broker needs.
type SessionCreator interface {
	CreateSession(ctx context.Context, req realtime.SessionRequest) (realtime.Session, error)
}

// CallerContext carries the business correlation keys of one call attempt.
type CallerContext struct {
	TargetID      string
	CampaignID    string
	AttemptNumber int
}

// Config tunes the broker.
type Config struct {
	Model  string
	Voice  string
	MinTTL time.Duration
}

// Broker creates sessions and writes their credentials into the store.
type Broker struct {
	ai     SessionCreator
	store  credstore.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Broker.
func New(ai SessionCreator, store credstore.Store, cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = 30 * time.Second
	}
	return &Broker{
		ai:     ai,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CreateSession requests one realtime session and persists its credentials
// under the session id. Exactly one store write happens per successful call;
// any failure is returned without a write, so no call is placed against a
// session that does not exist.
func (b *Broker) CreateSession(ctx context.Context, prompt string, caller CallerContext) (realtime.Session, error) {
	sess, err := b.ai.CreateSession(ctx, realtime.SessionRequest{
		Model:        b.cfg.Model,
		Voice:        b.cfg.Voice,
		Instructions: prompt,
		Modalities:   []string{"text", "audio"},
	})
	if err != nil {
		return realtime.Session{}, fmt.Errorf("broker: create session: %w", err)
	}

	ttl := sess.ExpiresAt.Sub(b.now())
	if ttl < b.cfg.MinTTL {
		ttl = b.cfg.MinTTL
	}

	creds := credstore.Credentials{
		TransportURL: sess.TransportURL,
		Secret:       sess.Secret,
		ExpiresAt:    sess.ExpiresAt,
	}
	if err := b.store.PutWithTTL(ctx, sess.ID, creds, ttl); err != nil {
		return realtime.Session{}, fmt.Errorf("broker: store credentials: %w", err)
	}

	b.logger.Info("realtime session created",
		"session_id", sess.ID,
		"target_id", caller.TargetID,
		"campaign_id", caller.CampaignID,
		"attempt", caller.AttemptNumber,
		"ttl_ms", ttl.Milliseconds(),
	)
	return sess, nil
}
