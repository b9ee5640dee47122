// Package server assembles the HTTP surface: management API, carrier
// callbacks and the media-stream WebSocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/voxcobra/voxbridge/pkg/bridge"
	"github.com/voxcobra/voxbridge/pkg/broker"
	"github.com/voxcobra/voxbridge/pkg/carrier"
	"github.com/voxcobra/voxbridge/pkg/credstore"
	"github.com/voxcobra/voxbridge/pkg/gateway/bridges"
	"github.com/voxcobra/voxbridge/pkg/gateway/config"
	"github.com/voxcobra/voxbridge/pkg/gateway/handlers"
	"github.com/voxcobra/voxbridge/pkg/gateway/metrics"
	"github.com/voxcobra/voxbridge/pkg/gateway/mw"
	"github.com/voxcobra/voxbridge/pkg/gateway/ratelimit"
	"github.com/voxcobra/voxbridge/pkg/negostore"
	"github.com/voxcobra/voxbridge/pkg/realtime"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics   *metrics.Metrics
	tracker   *bridges.Tracker
	limiter   *ratelimit.Limiter
	negoStore *negostore.Store

	redisClient *redis.Client
}

// New wires the service together. negoStore may be nil when persistence is
// disabled.
func New(cfg config.Config, logger *slog.Logger, negoStore *negostore.Store) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		metrics:   metrics.New("voxbridge"),
		tracker:   bridges.NewTracker(),
		negoStore: negoStore,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                cfg.LimitRPS,
			Burst:              cfg.LimitBurst,
			MaxConcurrentCalls: cfg.LimitMaxConcurrentCalls,
		}),
	}

	var creds credstore.Store
	if cfg.RedisAddr != "" {
		s.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		creds = credstore.NewRedisStore(s.redisClient)
		logger.Info("credential store", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		creds = credstore.NewMemoryStore()
		logger.Info("credential store", "backend", "memory")
	}

	aiOpts := []realtime.Option{realtime.WithLogger(logger)}
	if cfg.AIBaseURL != "" {
		base := strings.TrimRight(cfg.AIBaseURL, "/")
		aiOpts = append(aiOpts,
			realtime.WithHTTPURL(base+"/v1/realtime/sessions"),
			realtime.WithTransportURL("wss"+strings.TrimPrefix(base, "https")+"/v1/realtime"),
		)
	}
	aiClient := realtime.NewClient(cfg.AIAPIKey, aiOpts...)

	sessionBroker := broker.New(aiClient, creds, broker.Config{
		Model:  cfg.AIModel,
		Voice:  cfg.AIVoice,
		MinTTL: cfg.MinSessionTTL,
	}, logger)

	carrierClient, err := carrier.NewClient(carrier.ClientConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("server: carrier client: %w", err)
	}
	initiator, err := carrier.NewInitiator(carrierClient, carrier.InitiatorConfig{
		From:                 cfg.TwilioFrom,
		StreamURL:            cfg.StreamURL(),
		StatusCallbackURL:    cfg.CallbackURL("/callbacks/status"),
		RecordingCallbackURL: cfg.CallbackURL("/callbacks/recording"),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("server: initiator: %w", err)
	}

	dial := func(ctx context.Context, transportURL, secret string) (bridge.AILeg, error) {
		return aiClient.Dial(ctx, transportURL, secret)
	}
	audioBridge := bridge.New(creds, dial, bridge.Config{
		CommitBatchFrames: cfg.CommitBatchFrames,
		CommitInactivity:  cfg.CommitInactivity,
		DrainGrace:        cfg.DrainGrace,
	}, logger, metrics.BridgeObserver{M: s.metrics})

	s.routes(sessionBroker, initiator, audioBridge)
	return s, nil
}

func (s *Server) routes(sessionBroker *broker.Broker, initiator *carrier.Initiator, audioBridge *bridge.Bridge) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Store:              s.negoStore,
		Tracker:            s.tracker,
		PersistenceEnabled: s.negoStore != nil,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	// Carrier-facing endpoints bypass bearer auth; the carrier proves itself
	// by naming a live one-time session.
	s.mux.Handle("/media-stream", &handlers.MediaHandler{
		Bridge:  audioBridge,
		Tracker: s.tracker,
		Store:   s.negoStore,
		Metrics: s.metrics,
		Logger:  s.logger,
	})
	s.mux.Handle("/callbacks/status", handlers.StatusCallbackHandler{
		Store:   s.negoStore,
		Metrics: s.metrics,
		Logger:  s.logger,
	})
	s.mux.Handle("/callbacks/recording", handlers.RecordingCallbackHandler{
		Store:  s.negoStore,
		Logger: s.logger,
	})

	api := http.NewServeMux()
	api.Handle("/v1/calls", handlers.CallsHandler{
		Broker:    sessionBroker,
		Initiator: initiator,
		Store:     s.negoStore,
		Limiter:   s.limiter,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})
	s.mux.Handle("/v1/", mw.Auth(s.cfg.APIKeys, api))

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// ActiveBridges reports how many calls are currently bridged.
func (s *Server) ActiveBridges() int {
	return s.tracker.Count()
}

// WaitBridges blocks until every bridge finishes or ctx expires.
func (s *Server) WaitBridges(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelBridges tears down every in-flight bridge.
func (s *Server) CancelBridges() int {
	return s.tracker.CancelAll()
}

// Close releases backend connections.
func (s *Server) Close() error {
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}
