package stt

import (
	"encoding/json"
	"fmt"
)

// Inbound message types on the streaming transcription socket.
const (
	TypeResults       = "Results"
	TypeMetadata      = "Metadata"
	TypeSpeechStarted = "SpeechStarted"
	TypeUtteranceEnd  = "UtteranceEnd"
	TypeError         = "Error"
)

type envelope struct {
	Type string `json:"type"`
}

// WordResult is one recognized word with its diarization tag.
type WordResult struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker,omitempty"`
}

// Alternative is one hypothesis for a recognized span.
type Alternative struct {
	Transcript string       `json:"transcript"`
	Confidence float64      `json:"confidence"`
	Words      []WordResult `json:"words"`
}

// Result is a transcription result message.
type Result struct {
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []Alternative `json:"alternatives"`
	} `json:"channel"`
}

// Metadata is the stream metadata message.
type Metadata struct {
	RequestID string  `json:"request_id"`
	ModelUUID string  `json:"model_uuid"`
	Duration  float64 `json:"duration"`
}

// UtteranceEnd signals the end of a spoken utterance.
type UtteranceEnd struct {
	LastWordEnd float64 `json:"last_word_end"`
}

// ErrorMessage is a protocol-level error from the backend.
type ErrorMessage struct {
	ErrCode     string `json:"err_code"`
	Description string `json:"description"`
}

func (e ErrorMessage) Error() string {
	return fmt.Sprintf("transcription backend error %s: %s", e.ErrCode, e.Description)
}

// decode parses one inbound text message and returns its type tag plus the
// decoded payload.
func decode(data []byte) (string, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode message envelope: %w", err)
	}

	switch env.Type {
	case TypeResults:
		var r Result
		if err := json.Unmarshal(data, &r); err != nil {
			return env.Type, nil, fmt.Errorf("decode results: %w", err)
		}
		return env.Type, r, nil
	case TypeMetadata:
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return env.Type, nil, fmt.Errorf("decode metadata: %w", err)
		}
		return env.Type, m, nil
	case TypeUtteranceEnd:
		var u UtteranceEnd
		if err := json.Unmarshal(data, &u); err != nil {
			return env.Type, nil, fmt.Errorf("decode utterance end: %w", err)
		}
		return env.Type, u, nil
	case TypeSpeechStarted:
		return env.Type, struct{}{}, nil
	case TypeError:
		var e ErrorMessage
		if err := json.Unmarshal(data, &e); err != nil {
			return env.Type, nil, fmt.Errorf("decode error message: %w", err)
		}
		return env.Type, e, nil
	default:
		return env.Type, nil, nil
	}
}
