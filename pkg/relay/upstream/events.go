package upstream

// Event is a decoded realtime-API server event. Only the event kinds
// the relay acts on get their own type; everything else is dropped in
// the read loop.
type Event interface {
	EventType() string
}

// AudioDelta carries one base64 chunk of synthesized assistant audio.
type AudioDelta struct {
	ItemID     string
	ResponseID string
	AudioB64   string
}

func (AudioDelta) EventType() string { return "audio_delta" }

// AssistantTranscriptDone is the final transcript of an assistant turn.
type AssistantTranscriptDone struct {
	Text string
}

func (AssistantTranscriptDone) EventType() string { return "assistant_transcript_done" }

// UserTranscriptDone is the final transcript of a user utterance.
type UserTranscriptDone struct {
	Text string
}

func (UserTranscriptDone) EventType() string { return "user_transcript_done" }

// SpeechStarted fires when server-side VAD detects the caller speaking.
type SpeechStarted struct {
	AudioStartMS int64
}

func (SpeechStarted) EventType() string { return "speech_started" }

// SpeechStopped fires when server-side VAD detects the caller stopped.
type SpeechStopped struct{}

func (SpeechStopped) EventType() string { return "speech_stopped" }

// ResponseDone marks the end of an assistant response generation.
type ResponseDone struct {
	ResponseID string
}

func (ResponseDone) EventType() string { return "response_done" }

// SessionCreated acknowledges the realtime session.
type SessionCreated struct {
	SessionID string
}

func (SessionCreated) EventType() string { return "session_created" }

// ServerError reports an upstream error event. It does not terminate
// the connection.
type ServerError struct {
	Code    string
	Message string
}

func (ServerError) EventType() string { return "server_error" }
