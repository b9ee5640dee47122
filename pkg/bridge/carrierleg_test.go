package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/voxcobra/voxbridge/pkg/carrier"
)

func dialCarrierLeg(t *testing.T, messages []string) CarrierLeg {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, m := range messages {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return NewCarrierLeg(ws, nil)
}

func TestCarrierLeg_SkipsMalformedFrames(t *testing.T) {
	leg := dialCarrierLeg(t, []string{
		`{"event":"start","start":{"streamSid":"MZ_1","callSid":"CA_1"}}`,
		`this is not json{{`,
		`{"event":"media","media":{"payload":"AAAA"}}`,
	})

	f, err := leg.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Event != carrier.FrameEventStart {
		t.Fatalf("event = %q, want start", f.Event)
	}

	// The garbled message is skipped; the frame after it still arrives.
	f, err = leg.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame after malformed message: %v", err)
	}
	if f.Event != carrier.FrameEventMedia || f.Media == nil || f.Media.Payload != "AAAA" {
		t.Errorf("frame = %+v", f)
	}
}

func TestCarrierLeg_SurfacesSocketErrors(t *testing.T) {
	leg := dialCarrierLeg(t, nil)

	// The server closes after sending nothing.
	if _, err := leg.ReadFrame(); err == nil {
		t.Fatal("ReadFrame returned nil error on closed socket")
	}
}
