package realtime

// Client event types (sent to the AI backend).
const (
	EventTypeSessionUpdate = "session.update"

	EventTypeInputAudioBufferAppend = "input_audio_buffer.append"
	EventTypeInputAudioBufferCommit = "input_audio_buffer.commit"
	EventTypeInputAudioBufferClear  = "input_audio_buffer.clear"

	EventTypeOutputAudioBufferCommit = "response.output_audio_buffer.commit"
)

// Server event types (received from the AI backend).
const (
	EventTypeError = "error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeResponseCreated   = "response.created"
	EventTypeResponseDone      = "response.done"
	EventTypeResponseCompleted = "response.completed"

	EventTypeResponseAudioDelta = "response.audio.delta"
	EventTypeResponseAudioDone  = "response.audio.done"

	EventTypeResponseAudioTranscriptDone = "response.audio_transcript.done"

	EventTypeInputAudioTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"

	EventTypeResponseFunctionCallArgumentsDone = "response.function_call_arguments.done"
)

// ServerEvent is one event read off the realtime WebSocket. The shape is a
// union across event types; only the fields named by an event's type are set.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// Session carries session info for session.created / session.updated.
	Session *SessionResource `json:"session,omitempty"`

	// Response carries response info for response.* lifecycle events.
	Response *ResponseResource `json:"response,omitempty"`

	// ResponseID identifies the response for delta/done events.
	ResponseID string `json:"response_id,omitempty"`

	// ItemID identifies the conversation item for transcription events.
	ItemID string `json:"item_id,omitempty"`

	// Delta carries base64 audio for response.audio.delta.
	Delta string `json:"delta,omitempty"`

	// Transcript carries the text for transcription events.
	Transcript string `json:"transcript,omitempty"`

	// CallID, Name and Arguments describe a completed function call.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Err carries details for error events.
	Err *EventError `json:"error,omitempty"`

	// Raw is the original JSON message.
	Raw []byte `json:"-"`
}

// SessionResource describes a realtime session.
type SessionResource struct {
	ID string `json:"id"`
}

// ResponseResource describes a model response.
type ResponseResource struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// EventError is the error payload of an error event.
type EventError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// TranscriptionConfig selects the input transcription model.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// SessionConfig is the payload of a session.update event.
type SessionConfig struct {
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
}
