package carrier

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
)

// InitiatorConfig tunes outbound call placement.
type InitiatorConfig struct {
	// From is the caller ID presented to the debtor.
	From string
	// StreamURL is the wss:// endpoint the carrier connects its media stream
	// to, without query parameters.
	StreamURL string
	// StatusCallbackURL receives call status changes. Optional.
	StatusCallbackURL string
	// RecordingCallbackURL receives recording availability events. Optional.
	RecordingCallbackURL string
	// RingTimeout is the ring timeout in seconds. Zero means carrier default.
	RingTimeout int
}

// Initiator places outbound calls that connect their media stream back to us.
type Initiator struct {
	client *Client
	cfg    InitiatorConfig
	logger *slog.Logger
}

// NewInitiator creates an Initiator.
func NewInitiator(client *Client, cfg InitiatorConfig, logger *slog.Logger) (*Initiator, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("carrier: initiator From number is required")
	}
	if cfg.StreamURL == "" {
		return nil, fmt.Errorf("carrier: initiator stream URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Initiator{client: client, cfg: cfg, logger: logger}, nil
}

// PlaceCallParams identify one call attempt.
type PlaceCallParams struct {
	To            string
	SessionID     string
	TargetID      string
	CampaignID    string
	AttemptNumber int
}

// PlacedCall is the carrier's acknowledgement of a placed call.
type PlacedCall struct {
	CallID string
	Status string
}

// PlaceCall asks the carrier to dial the target and, once answered, open a
// media stream carrying the session id and correlation keys as query
// parameters. The call is recorded on both channels.
func (i *Initiator) PlaceCall(ctx context.Context, params PlaceCallParams) (PlacedCall, error) {
	if params.To == "" {
		return PlacedCall{}, fmt.Errorf("carrier: destination number is required")
	}
	if params.SessionID == "" {
		return PlacedCall{}, fmt.Errorf("carrier: session id is required")
	}

	streamURL := i.streamURL(params)
	twiml, err := connectStreamTwiML(streamURL)
	if err != nil {
		return PlacedCall{}, fmt.Errorf("carrier: build TwiML: %w", err)
	}

	call, err := i.client.MakeCall(ctx, MakeCallParams{
		To:                      params.To,
		From:                    i.cfg.From,
		Twiml:                   twiml,
		StatusCallback:          i.cfg.StatusCallbackURL,
		StatusCallbackEvent:     []string{"initiated", "ringing", "answered", "completed"},
		Record:                  true,
		RecordingChannels:       "dual",
		RecordingStatusCallback: i.cfg.RecordingCallbackURL,
		Timeout:                 i.cfg.RingTimeout,
	})
	if err != nil {
		return PlacedCall{}, fmt.Errorf("carrier: place call: %w", err)
	}

	i.logger.Info("call placed",
		"call_sid", call.SID,
		"status", call.Status,
		"session_id", params.SessionID,
		"target_id", params.TargetID,
		"campaign_id", params.CampaignID,
		"attempt", params.AttemptNumber,
	)
	return PlacedCall{CallID: call.SID, Status: call.Status}, nil
}

func (i *Initiator) streamURL(params PlaceCallParams) string {
	q := url.Values{}
	q.Set("sessionId", params.SessionID)
	if params.TargetID != "" {
		q.Set("targetId", params.TargetID)
	}
	if params.CampaignID != "" {
		q.Set("campaignId", params.CampaignID)
	}
	if params.AttemptNumber > 0 {
		q.Set("attemptNumber", strconv.Itoa(params.AttemptNumber))
	}
	return i.cfg.StreamURL + "?" + q.Encode()
}

// connectStreamTwiML renders the <Connect><Stream> document. The stream URL is
// XML-escaped; query strings carry & and would otherwise produce invalid TwiML.
func connectStreamTwiML(streamURL string) (string, error) {
	type stream struct {
		XMLName xml.Name `xml:"Stream"`
		URL     string   `xml:"url,attr"`
	}
	type connect struct {
		XMLName xml.Name `xml:"Connect"`
		Stream  stream
	}
	type response struct {
		XMLName xml.Name `xml:"Response"`
		Connect connect
	}

	doc, err := xml.Marshal(response{Connect: connect{Stream: stream{URL: streamURL}}})
	if err != nil {
		return "", err
	}
	return xml.Header + string(doc), nil
}
