// Package bridge pumps audio between a carrier media stream and an AI
// realtime session, driving both legs from a single event loop.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxcobra/voxbridge/pkg/carrier"
	"github.com/voxcobra/voxbridge/pkg/credstore"
	"github.com/voxcobra/voxbridge/pkg/outcome"
	"github.com/voxcobra/voxbridge/pkg/realtime"
)

// State names the bridge lifecycle phases.
type State string

const (
	StateAwaitingCredentials State = "awaiting_credentials"
	StateConnectingUpstream  State = "connecting_upstream"
	StateStreaming           State = "streaming"
	StateDraining            State = "draining"
	StateClosed              State = "closed"
)

// ErrSessionExpired is returned when the one-time credentials for a session
// are gone: consumed already, expired, or never created.
var ErrSessionExpired = errors.New("bridge: session expired")

// CarrierLeg is the media-stream side of the bridge.
type CarrierLeg interface {
	ReadFrame() (*carrier.Frame, error)
	WriteFrame(f *carrier.Frame) error
	CloseWithReason(reason string) error
	Close() error
}

// AILeg is the realtime side of the bridge. *realtime.Conn satisfies it.
type AILeg interface {
	UpdateSession(config realtime.SessionConfig) error
	AppendAudio(audioBase64 string) error
	CommitInput() error
	ClearInput() error
	CommitOutputAudio(responseID string) error
	ReadEvent() (*realtime.ServerEvent, error)
	Close() error
}

// DialFunc opens the AI leg with a session's one-time secret.
type DialFunc func(ctx context.Context, transportURL, secret string) (AILeg, error)

// Metrics receives bridge counters. All methods must be nil-receiver safe or
// callers pass NopMetrics.
type Metrics interface {
	InputCommit(trigger string)
	StaleDeltaDropped()
	BridgeClosed(state State)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) InputCommit(string) {}
func (NopMetrics) StaleDeltaDropped() {}
func (NopMetrics) BridgeClosed(State) {}

// Config tunes the bridge commit policy.
type Config struct {
	// CommitBatchFrames commits the input buffer every N media frames.
	CommitBatchFrames int
	// CommitInactivity commits buffered frames after this much silence.
	CommitInactivity time.Duration
	// DrainGrace is how long to keep the AI leg open after the carrier
	// stream ends, to collect trailing transcripts and function calls.
	DrainGrace time.Duration
	// Model selects the input transcription model.
	TranscriptionModel string
}

func (c *Config) applyDefaults() {
	if c.CommitBatchFrames <= 0 {
		c.CommitBatchFrames = 10
	}
	if c.CommitInactivity <= 0 {
		c.CommitInactivity = 250 * time.Millisecond
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = time.Second
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = "whisper-1"
	}
}

// Bridge connects carrier media streams to AI realtime sessions.
type Bridge struct {
	store   credstore.Store
	dial    DialFunc
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
}

// New creates a Bridge.
func New(store credstore.Store, dial DialFunc, cfg Config, logger *slog.Logger, metrics Metrics) *Bridge {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Bridge{store: store, dial: dial, cfg: cfg, logger: logger, metrics: metrics}
}

// Result is what one bridged call produced.
type Result struct {
	CallSID   string
	StreamSID string
	Outcome   outcome.ConversationOutcome
}

type carrierRead struct {
	frame *carrier.Frame
	err   error
}

type aiRead struct {
	event *realtime.ServerEvent
	err   error
}

// Run drives one call from credential claim to teardown. It blocks until the
// bridge closes and returns whatever outcome was extracted, even on transport
// errors mid-call.
func (b *Bridge) Run(ctx context.Context, sessionID string, leg CarrierLeg) (Result, error) {
	logger := b.logger.With("session_id", sessionID)
	logger.Info("bridge starting", "state", StateAwaitingCredentials)

	creds, err := b.store.GetDelete(ctx, sessionID)
	if err != nil {
		_ = leg.CloseWithReason("session expired")
		b.metrics.BridgeClosed(StateAwaitingCredentials)
		if errors.Is(err, credstore.ErrNotFound) {
			return Result{}, ErrSessionExpired
		}
		return Result{}, fmt.Errorf("bridge: claim credentials: %w", err)
	}

	logger.Info("bridge connecting upstream", "state", StateConnectingUpstream)
	ai, err := b.dial(ctx, creds.TransportURL, creds.Secret)
	if err != nil {
		_ = leg.CloseWithReason("upstream unavailable")
		b.metrics.BridgeClosed(StateConnectingUpstream)
		return Result{}, fmt.Errorf("bridge: dial upstream: %w", err)
	}

	return b.stream(ctx, logger, leg, ai)
}

func (b *Bridge) stream(ctx context.Context, logger *slog.Logger, leg CarrierLeg, ai AILeg) (Result, error) {
	done := make(chan struct{})
	defer close(done)
	defer func() {
		_ = ai.Close()
		_ = leg.Close()
	}()

	carrierCh := make(chan carrierRead)
	go func() {
		for {
			f, err := leg.ReadFrame()
			select {
			case carrierCh <- carrierRead{frame: f, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	aiCh := make(chan aiRead)
	go func() {
		for {
			ev, err := ai.ReadEvent()
			select {
			case aiCh <- aiRead{event: ev, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	fl := newFlusher(b.cfg.CommitBatchFrames, b.cfg.CommitInactivity)
	defer fl.stop()

	extractor := outcome.NewExtractor(logger)

	var (
		state             = StateStreaming
		result            Result
		sessionConfigured bool
		currentResponseID string
		drainTimer        *time.Timer
		drainCh           <-chan time.Time
	)
	defer func() {
		if drainTimer != nil {
			drainTimer.Stop()
		}
		b.metrics.BridgeClosed(state)
	}()

	startDrain := func() {
		if state == StateDraining {
			return
		}
		state = StateDraining
		fl.drop()
		drainTimer = time.NewTimer(b.cfg.DrainGrace)
		drainCh = drainTimer.C
		logger.Info("bridge draining", "state", state)
	}

	finish := func(err error) (Result, error) {
		state = StateClosed
		result.Outcome = extractor.Outcome()
		return result, err
	}

	logger.Info("bridge streaming", "state", state)

	for {
		select {
		case r := <-carrierCh:
			if r.err != nil {
				if state == StateDraining {
					continue
				}
				// Abrupt stream end still commits what we buffered.
				if fl.hasPending() {
					_ = ai.CommitInput()
					b.metrics.InputCommit("stream_end")
				}
				startDrain()
				continue
			}
			f := r.frame
			switch f.Event {
			case carrier.FrameEventConnected:
				// Handshake preamble, nothing to do.
			case carrier.FrameEventStart:
				result.StreamSID = f.Start.StreamSID
				result.CallSID = f.Start.CallSID
				logger.Info("media stream started", "stream_sid", result.StreamSID, "call_sid", result.CallSID)
				if !sessionConfigured {
					sessionConfigured = true
					if err := ai.UpdateSession(b.sessionConfig()); err != nil {
						return finish(fmt.Errorf("bridge: configure session: %w", err))
					}
				}
			case carrier.FrameEventMedia:
				if state == StateDraining || f.Media == nil {
					continue
				}
				if err := ai.AppendAudio(f.Media.Payload); err != nil {
					return finish(fmt.Errorf("bridge: append audio: %w", err))
				}
				if fl.observe() {
					if err := ai.CommitInput(); err != nil {
						return finish(fmt.Errorf("bridge: commit input: %w", err))
					}
					b.metrics.InputCommit("batch")
				}
			case carrier.FrameEventStop:
				if state == StateDraining {
					continue
				}
				if fl.hasPending() {
					if err := ai.CommitInput(); err != nil {
						return finish(fmt.Errorf("bridge: final commit: %w", err))
					}
					b.metrics.InputCommit("stream_end")
				}
				if err := ai.ClearInput(); err != nil {
					return finish(fmt.Errorf("bridge: clear input: %w", err))
				}
				startDrain()
			default:
				logger.Debug("ignoring carrier frame", "event", f.Event)
			}

		case r := <-aiCh:
			if r.err != nil {
				if state == StateDraining {
					return finish(nil)
				}
				_ = leg.CloseWithReason("upstream closed")
				return finish(fmt.Errorf("bridge: upstream read: %w", r.err))
			}
			ev := r.event
			switch ev.Type {
			case realtime.EventTypeResponseCreated:
				if ev.Response != nil {
					currentResponseID = ev.Response.ID
				}
			case realtime.EventTypeResponseDone, realtime.EventTypeResponseCompleted:
				currentResponseID = ""
			case realtime.EventTypeResponseAudioDelta:
				if ev.ResponseID != "" && ev.ResponseID != currentResponseID {
					b.metrics.StaleDeltaDropped()
					continue
				}
				if result.StreamSID == "" || state == StateDraining {
					continue
				}
				if err := leg.WriteFrame(carrier.OutboundMedia(result.StreamSID, ev.Delta)); err != nil {
					return finish(fmt.Errorf("bridge: forward audio: %w", err))
				}
			case realtime.EventTypeResponseAudioDone:
				if currentResponseID != "" {
					if err := ai.CommitOutputAudio(currentResponseID); err != nil {
						return finish(fmt.Errorf("bridge: commit output: %w", err))
					}
				}
			case realtime.EventTypeInputAudioTranscriptionCompleted:
				extractor.AppendUtterance(outcome.SpeakerCaller, ev.Transcript)
			case realtime.EventTypeResponseAudioTranscriptDone:
				extractor.AppendUtterance(outcome.SpeakerAgent, ev.Transcript)
			case realtime.EventTypeResponseFunctionCallArgumentsDone:
				if err := extractor.HandleFunctionCall(ev.Name, ev.Arguments); err != nil {
					logger.Warn("function call rejected", "name", ev.Name, "error", err)
				}
			case realtime.EventTypeError:
				msg := ""
				if ev.Err != nil {
					msg = ev.Err.Message
				}
				logger.Warn("upstream error event", "message", msg)
			default:
				// Unknown event shapes are not fatal.
			}

		case <-fl.c():
			if fl.fire() {
				if err := ai.CommitInput(); err != nil {
					return finish(fmt.Errorf("bridge: commit input: %w", err))
				}
				b.metrics.InputCommit("inactivity")
			}

		case <-drainCh:
			return finish(nil)

		case <-ctx.Done():
			_ = leg.CloseWithReason("shutting down")
			return finish(ctx.Err())
		}
	}
}

func (b *Bridge) sessionConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
		},
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: &realtime.TranscriptionConfig{Model: b.cfg.TranscriptionModel},
		Modalities:              []string{"text", "audio"},
	}
}
