package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientStart marks the beginning of a recording turn. The browser
// sends it once the microphone stream is live.
type ClientStart struct {
	Type string `json:"type"`
}

// ClientStop ends the recording turn without closing the socket.
type ClientStop struct {
	Type string `json:"type"`
}

// ClientAudio carries one base64 chunk of microphone audio together
// with the browser's capture-clock position in milliseconds.
type ClientAudio struct {
	Type        string `json:"type"`
	AudioB64    string `json:"audio"`
	TimestampMS int64  `json:"timestamp"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start":
		return ClientStart{Type: typ}, nil
	case "stop":
		return ClientStop{Type: typ}, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.AudioB64) == "" {
			return nil, badRequest("audio.audio is required", "audio")
		}
		if msg.TimestampMS < 0 {
			return nil, badRequest("audio.timestamp must be >= 0", "timestamp")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ServerAudio forwards one base64 chunk of synthesized reply audio.
type ServerAudio struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio"`
}

// ServerClear tells the browser to drop any buffered reply audio. Sent
// when the caller barges in over the assistant.
type ServerClear struct {
	Type string `json:"type"`
}

// ServerError reports a non-fatal problem on the session.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewServerAudio(audioB64 string) ServerAudio {
	return ServerAudio{Type: "audio", AudioB64: audioB64}
}

func NewServerClear() ServerClear {
	return ServerClear{Type: "clear"}
}

func NewServerError(code, message string) ServerError {
	return ServerError{Type: "error", Code: code, Message: message}
}
