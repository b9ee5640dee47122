package carrier

import "encoding/json"

// Media-stream frame events.
const (
	FrameEventConnected = "connected"
	FrameEventStart     = "start"
	FrameEventMedia     = "media"
	FrameEventStop      = "stop"
	FrameEventMark      = "mark"
)

// Frame is one JSON message on the media-stream WebSocket. Only the fields
// relevant to the received event are populated.
type Frame struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
	Stop      *StopFrame  `json:"stop,omitempty"`
}

// StartFrame announces a new stream and carries the custom parameters the
// TwiML attached to it.
type StartFrame struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

// MediaFormat describes the stream's audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaFrame carries one chunk of base64-encoded audio.
type MediaFrame struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopFrame ends a stream.
type StopFrame struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// ParseFrame decodes one media-stream message.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// OutboundMedia builds a media frame to play audio back on the stream.
func OutboundMedia(streamSID, payloadBase64 string) *Frame {
	return &Frame{
		Event:     FrameEventMedia,
		StreamSID: streamSID,
		Media:     &MediaFrame{Payload: payloadBase64},
	}
}
