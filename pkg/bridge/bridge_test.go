package bridge

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxcobra/voxbridge/pkg/carrier"
	"github.com/voxcobra/voxbridge/pkg/credstore"
	"github.com/voxcobra/voxbridge/pkg/realtime"
)

type fakeCarrierLeg struct {
	in chan *carrier.Frame

	mu     sync.Mutex
	out    []*carrier.Frame
	reason string

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeCarrierLeg() *fakeCarrierLeg {
	return &fakeCarrierLeg{in: make(chan *carrier.Frame), closed: make(chan struct{})}
}

func (l *fakeCarrierLeg) ReadFrame() (*carrier.Frame, error) {
	select {
	case f := <-l.in:
		return f, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

func (l *fakeCarrierLeg) WriteFrame(f *carrier.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, f)
	return nil
}

func (l *fakeCarrierLeg) CloseWithReason(reason string) error {
	l.mu.Lock()
	l.reason = reason
	l.mu.Unlock()
	return l.Close()
}

func (l *fakeCarrierLeg) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeCarrierLeg) closeReason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

func (l *fakeCarrierLeg) written() []*carrier.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*carrier.Frame(nil), l.out...)
}

type fakeAILeg struct {
	events chan *realtime.ServerEvent

	mu   sync.Mutex
	cmds []string

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeAILeg() *fakeAILeg {
	return &fakeAILeg{events: make(chan *realtime.ServerEvent), closed: make(chan struct{})}
}

func (a *fakeAILeg) record(cmd string) {
	a.mu.Lock()
	a.cmds = append(a.cmds, cmd)
	a.mu.Unlock()
}

func (a *fakeAILeg) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.cmds...)
}

func (a *fakeAILeg) UpdateSession(realtime.SessionConfig) error { a.record("session.update"); return nil }
func (a *fakeAILeg) AppendAudio(b64 string) error               { a.record("append:" + b64); return nil }
func (a *fakeAILeg) CommitInput() error                         { a.record("commit"); return nil }
func (a *fakeAILeg) ClearInput() error                          { a.record("clear"); return nil }
func (a *fakeAILeg) CommitOutputAudio(id string) error          { a.record("commit_output:" + id); return nil }

func (a *fakeAILeg) ReadEvent() (*realtime.ServerEvent, error) {
	select {
	case ev := <-a.events:
		return ev, nil
	case <-a.closed:
		return nil, io.EOF
	}
}

func (a *fakeAILeg) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

func putCreds(t *testing.T, store credstore.Store, sessionID string) {
	t.Helper()
	err := store.PutWithTTL(context.Background(), sessionID, credstore.Credentials{
		TransportURL: "wss://upstream.example/v1/realtime",
		Secret:       "ek_test",
		ExpiresAt:    time.Now().Add(time.Minute),
	}, time.Minute)
	if err != nil {
		t.Fatalf("PutWithTTL: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startFrame(streamSID, callSID string) *carrier.Frame {
	return &carrier.Frame{
		Event:     carrier.FrameEventStart,
		StreamSID: streamSID,
		Start:     &carrier.StartFrame{StreamSID: streamSID, CallSID: callSID},
	}
}

func mediaFrame(payload string) *carrier.Frame {
	return &carrier.Frame{Event: carrier.FrameEventMedia, Media: &carrier.MediaFrame{Payload: payload}}
}

func stopFrame() *carrier.Frame {
	return &carrier.Frame{Event: carrier.FrameEventStop, Stop: &carrier.StopFrame{}}
}

type runResult struct {
	result Result
	err    error
}

func runBridge(store credstore.Store, ai *fakeAILeg, cfg Config, sessionID string, leg CarrierLeg) chan runResult {
	dial := func(ctx context.Context, transportURL, secret string) (AILeg, error) {
		return ai, nil
	}
	b := New(store, dial, cfg, nil, nil)
	ch := make(chan runResult, 1)
	go func() {
		res, err := b.Run(context.Background(), sessionID, leg)
		ch <- runResult{result: res, err: err}
	}()
	return ch
}

func countCommits(cmds []string) int {
	n := 0
	for _, c := range cmds {
		if c == "commit" {
			n++
		}
	}
	return n
}

func TestRun_SessionExpired(t *testing.T) {
	store := credstore.NewMemoryStore()
	leg := newFakeCarrierLeg()
	dialed := false
	dial := func(ctx context.Context, transportURL, secret string) (AILeg, error) {
		dialed = true
		return newFakeAILeg(), nil
	}

	b := New(store, dial, Config{}, nil, nil)
	_, err := b.Run(context.Background(), "sess_gone", leg)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if dialed {
		t.Error("upstream dialed without credentials")
	}
	if got := leg.closeReason(); got != "session expired" {
		t.Errorf("close reason = %q", got)
	}
}

func TestRun_CredentialsConsumedOnce(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_1")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{DrainGrace: 10 * time.Millisecond}, "sess_1", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	leg.in <- stopFrame()
	<-ch

	// A second bridge for the same session must find nothing.
	leg2 := newFakeCarrierLeg()
	b := New(store, func(ctx context.Context, u, s string) (AILeg, error) { return newFakeAILeg(), nil }, Config{}, nil, nil)
	if _, err := b.Run(context.Background(), "sess_1", leg2); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("second claim err = %v, want ErrSessionExpired", err)
	}
}

func TestRun_BatchCommit(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_b")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{
		CommitBatchFrames: 3,
		CommitInactivity:  time.Hour,
		DrainGrace:        10 * time.Millisecond,
	}, "sess_b", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	leg.in <- mediaFrame("f1")
	leg.in <- mediaFrame("f2")
	leg.in <- mediaFrame("f3")
	leg.in <- stopFrame()

	out := <-ch
	if out.err != nil {
		t.Fatalf("Run: %v", out.err)
	}
	if out.result.StreamSID != "MZ_1" || out.result.CallSID != "CA_1" {
		t.Errorf("result = %+v", out.result)
	}

	cmds := ai.commands()
	if cmds[0] != "session.update" {
		t.Errorf("first command = %q, want session.update", cmds[0])
	}
	if got := countCommits(cmds); got != 1 {
		t.Errorf("commits = %d, want 1 (batch only, nothing pending at stop): %v", got, cmds)
	}
	if cmds[len(cmds)-1] != "clear" {
		t.Errorf("last command = %q, want clear: %v", cmds[len(cmds)-1], cmds)
	}
}

func TestRun_FinalCommitOnStop(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_f")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{
		CommitBatchFrames: 10,
		CommitInactivity:  time.Hour,
		DrainGrace:        10 * time.Millisecond,
	}, "sess_f", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	for i := 0; i < 7; i++ {
		leg.in <- mediaFrame("f")
	}
	leg.in <- stopFrame()

	out := <-ch
	if out.err != nil {
		t.Fatalf("Run: %v", out.err)
	}

	cmds := ai.commands()
	if got := countCommits(cmds); got != 1 {
		t.Errorf("commits = %d, want exactly 1 final commit: %v", got, cmds)
	}
	// The final commit precedes the buffer clear.
	var commitIdx, clearIdx int
	for i, c := range cmds {
		switch c {
		case "commit":
			commitIdx = i
		case "clear":
			clearIdx = i
		}
	}
	if commitIdx > clearIdx {
		t.Errorf("commit after clear: %v", cmds)
	}
}

func TestRun_InactivityCommit(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_i")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{
		CommitBatchFrames: 10,
		CommitInactivity:  15 * time.Millisecond,
		DrainGrace:        10 * time.Millisecond,
	}, "sess_i", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	leg.in <- mediaFrame("f1")
	leg.in <- mediaFrame("f2")

	waitFor(t, func() bool { return countCommits(ai.commands()) == 1 }, "inactivity commit never happened")

	leg.in <- stopFrame()
	out := <-ch
	if out.err != nil {
		t.Fatalf("Run: %v", out.err)
	}
	// Nothing was pending at stop, so the inactivity commit stays the only one.
	if got := countCommits(ai.commands()); got != 1 {
		t.Errorf("commits = %d, want 1: %v", got, ai.commands())
	}
}

func TestRun_StaleDeltaDropped(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_s")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{DrainGrace: 10 * time.Millisecond}, "sess_s", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	waitFor(t, func() bool { return len(ai.commands()) > 0 }, "session.update never sent")

	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseCreated, Response: &realtime.ResponseResource{ID: "resp_current"}}
	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseAudioDelta, ResponseID: "resp_stale", Delta: "STALE"}
	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseAudioDelta, ResponseID: "resp_current", Delta: "LIVE"}
	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseAudioDone, ResponseID: "resp_current"}

	waitFor(t, func() bool {
		for _, c := range ai.commands() {
			if strings.HasPrefix(c, "commit_output:") {
				return true
			}
		}
		return false
	}, "output commit never sent")

	leg.in <- stopFrame()
	out := <-ch
	if out.err != nil {
		t.Fatalf("Run: %v", out.err)
	}

	frames := leg.written()
	if len(frames) != 1 {
		t.Fatalf("forwarded frames = %d, want 1 (stale dropped): %+v", len(frames), frames)
	}
	if frames[0].StreamSID != "MZ_1" || frames[0].Media.Payload != "LIVE" {
		t.Errorf("frame = %+v", frames[0])
	}

	var gotOutputCommit string
	for _, c := range ai.commands() {
		if strings.HasPrefix(c, "commit_output:") {
			gotOutputCommit = c
		}
	}
	if gotOutputCommit != "commit_output:resp_current" {
		t.Errorf("output commit = %q", gotOutputCommit)
	}
}

func TestRun_NoOutputCommitAfterResponseDone(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_late")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{DrainGrace: 10 * time.Millisecond}, "sess_late", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	waitFor(t, func() bool { return len(ai.commands()) > 0 }, "session.update never sent")

	// The response finishes before its audio.done trickles in.
	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseCreated, Response: &realtime.ResponseResource{ID: "resp_a"}}
	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseDone, Response: &realtime.ResponseResource{ID: "resp_a"}}
	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseAudioDone, ResponseID: "resp_a"}

	leg.in <- stopFrame()
	out := <-ch
	if out.err != nil {
		t.Fatalf("Run: %v", out.err)
	}

	for _, c := range ai.commands() {
		if strings.HasPrefix(c, "commit_output:") {
			t.Errorf("output committed for a finished response: %v", ai.commands())
		}
	}
}

func TestRun_OutcomeFromFunctionCalls(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_o")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{DrainGrace: 10 * time.Millisecond}, "sess_o", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	waitFor(t, func() bool { return len(ai.commands()) > 0 }, "session.update never sent")

	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeInputAudioTranscriptionCompleted, Transcript: "I can pay next week"}
	ai.events <- &realtime.ServerEvent{Type: realtime.EventTypeResponseAudioTranscriptDone, Transcript: "Great, confirming that now"}
	ai.events <- &realtime.ServerEvent{
		Type:      realtime.EventTypeResponseFunctionCallArgumentsDone,
		Name:      "confirm_payment_promise",
		Arguments: `{"amount":5000,"dueDate":"2025-11-15","paymentMethod":"pix"}`,
	}

	leg.in <- stopFrame()
	out := <-ch
	if out.err != nil {
		t.Fatalf("Run: %v", out.err)
	}

	oc := out.result.Outcome
	if !oc.PromiseMade || oc.PromiseDetails == nil {
		t.Fatalf("outcome = %+v", oc)
	}
	if oc.PromiseDetails.Amount != 5000 || oc.PromiseDetails.DueDate != "2025-11-15" || oc.PromiseDetails.PaymentMethod != "pix" {
		t.Errorf("details = %+v", oc.PromiseDetails)
	}
	if len(oc.Transcript) != 2 {
		t.Errorf("transcript = %+v", oc.Transcript)
	}
	if oc.Transcript[0].Speaker != "caller" || oc.Transcript[1].Speaker != "agent" {
		t.Errorf("speakers = %+v", oc.Transcript)
	}
}

func TestRun_UpstreamCloseTearsDownCarrier(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_u")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{DrainGrace: time.Hour}, "sess_u", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	waitFor(t, func() bool { return len(ai.commands()) > 0 }, "session.update never sent")

	_ = ai.Close()

	out := <-ch
	if out.err == nil {
		t.Fatal("Run returned nil error on upstream close mid-stream")
	}
	if got := leg.closeReason(); got != "upstream closed" {
		t.Errorf("close reason = %q", got)
	}
}

func TestRun_CarrierDropCommitsPending(t *testing.T) {
	store := credstore.NewMemoryStore()
	putCreds(t, store, "sess_d")

	leg := newFakeCarrierLeg()
	ai := newFakeAILeg()
	ch := runBridge(store, ai, Config{
		CommitBatchFrames: 10,
		CommitInactivity:  time.Hour,
		DrainGrace:        10 * time.Millisecond,
	}, "sess_d", leg)

	leg.in <- startFrame("MZ_1", "CA_1")
	leg.in <- mediaFrame("f1")
	leg.in <- mediaFrame("f2")
	_ = leg.Close()

	out := <-ch
	if out.err != nil {
		t.Fatalf("Run: %v", out.err)
	}
	if got := countCommits(ai.commands()); got != 1 {
		t.Errorf("commits = %d, want 1 on abrupt stream end: %v", got, ai.commands())
	}
}
