package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		AccountSID: "AC_test",
		AuthToken:  "tok_test",
		BaseURL:    baseURL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestPlaceCall(t *testing.T) {
	var gotForm url.Values
	var gotUser, gotPass string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sid":    "CA_123",
			"to":     r.PostForm.Get("To"),
			"from":   r.PostForm.Get("From"),
			"status": CallStatusQueued,
		})
	}))
	defer srv.Close()

	init, err := NewInitiator(newTestClient(t, srv.URL), InitiatorConfig{
		From:                 "+15550000001",
		StreamURL:            "wss://bridge.example/media-stream",
		StatusCallbackURL:    "https://bridge.example/callbacks/status",
		RecordingCallbackURL: "https://bridge.example/callbacks/recording",
	}, nil)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}

	placed, err := init.PlaceCall(context.Background(), PlaceCallParams{
		To:            "+15550000002",
		SessionID:     "sess_1",
		TargetID:      "t_9",
		CampaignID:    "c_4",
		AttemptNumber: 3,
	})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if placed.CallID != "CA_123" || placed.Status != CallStatusQueued {
		t.Errorf("placed = %+v", placed)
	}

	if gotUser != "AC_test" || gotPass != "tok_test" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	if got := gotForm.Get("To"); got != "+15550000002" {
		t.Errorf("To = %q", got)
	}
	if got := gotForm.Get("Record"); got != "true" {
		t.Errorf("Record = %q", got)
	}
	if got := gotForm.Get("RecordingChannels"); got != "dual" {
		t.Errorf("RecordingChannels = %q", got)
	}
	if got := gotForm.Get("StatusCallback"); got != "https://bridge.example/callbacks/status" {
		t.Errorf("StatusCallback = %q", got)
	}
	if got := gotForm.Get("RecordingStatusCallback"); got != "https://bridge.example/callbacks/recording" {
		t.Errorf("RecordingStatusCallback = %q", got)
	}
	if got := gotForm["StatusCallbackEvent"]; len(got) != 4 {
		t.Errorf("StatusCallbackEvent = %v", got)
	}

	twiml := gotForm.Get("Twiml")
	if !strings.Contains(twiml, "<Connect><Stream url=") {
		t.Errorf("TwiML missing Connect/Stream: %s", twiml)
	}
	// Query separators must be escaped inside the attribute.
	if !strings.Contains(twiml, "&amp;") {
		t.Errorf("TwiML stream URL not XML-escaped: %s", twiml)
	}
	for _, want := range []string{"sessionId=sess_1", "targetId=t_9", "campaignId=c_4", "attemptNumber=3"} {
		if !strings.Contains(twiml, want) {
			t.Errorf("TwiML stream URL missing %q: %s", want, twiml)
		}
	}
}

func TestPlaceCall_CarrierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":    21211,
			"message": "Invalid 'To' Phone Number",
			"status":  400,
		})
	}))
	defer srv.Close()

	init, err := NewInitiator(newTestClient(t, srv.URL), InitiatorConfig{
		From:      "+15550000001",
		StreamURL: "wss://bridge.example/media-stream",
	}, nil)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}

	_, err = init.PlaceCall(context.Background(), PlaceCallParams{To: "not-a-number", SessionID: "sess_1"})
	if err == nil {
		t.Fatal("PlaceCall succeeded, want carrier error")
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Errorf("err = %v, want carrier code in message", err)
	}
}

func TestPlaceCall_Validation(t *testing.T) {
	init, err := NewInitiator(newTestClient(t, "http://unused.example"), InitiatorConfig{
		From:      "+15550000001",
		StreamURL: "wss://bridge.example/media-stream",
	}, nil)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}

	if _, err := init.PlaceCall(context.Background(), PlaceCallParams{SessionID: "s"}); err == nil {
		t.Error("missing To accepted")
	}
	if _, err := init.PlaceCall(context.Background(), PlaceCallParams{To: "+15550000002"}); err == nil {
		t.Error("missing SessionID accepted")
	}
}

func TestParseFrame(t *testing.T) {
	raw := `{"event":"start","streamSid":"MZ_1","start":{"streamSid":"MZ_1","callSid":"CA_1","customParameters":{"foo":"bar"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`
	f, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Event != FrameEventStart || f.Start == nil {
		t.Fatalf("frame = %+v", f)
	}
	if f.Start.CallSID != "CA_1" || f.Start.MediaFormat.SampleRate != 8000 {
		t.Errorf("start = %+v", f.Start)
	}
}

func TestOutboundMedia(t *testing.T) {
	f := OutboundMedia("MZ_9", "c29tZSBhdWRpbw==")
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if back.Event != FrameEventMedia || back.StreamSID != "MZ_9" || back.Media.Payload != "c29tZSBhdWRpbw==" {
		t.Errorf("frame = %+v", back)
	}
}
