package types

import "encoding/json"

const (
	ChunkObject = "chat.completion.chunk"

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	FinishReasonStop = "stop"
)

// ChatCompletionChunk is one frame of an OpenAI-compatible delta stream.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
	// StopReason is only present, as an explicit null, on the final frame.
	StopReason json.RawMessage `json:"stop_reason,omitempty"`
}

type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// StreamMetadata is what the aggregator keeps from an upstream stream besides
// the text. Nil fields were never seen.
type StreamMetadata struct {
	ID           *string
	Model        *string
	Created      *int64
	FinishReason *string
}

// ErrorEnvelope is the body of an SSE error frame.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
