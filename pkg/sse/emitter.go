package sse

import (
	"bytes"
	"encoding/json"
	"iter"
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/types"
)

const (
	DefaultChunkSize = 5

	ErrorTypeContentPolicy  = "content_policy_violation"
	ErrorCodeContentBlocked = "content_blocked"
)

var stopReasonNull = json.RawMessage("null")

// Emitter re-serializes a complete text as an OpenAI-compatible delta stream.
type Emitter struct {
	chunkSize int
	now       func() time.Time
}

func NewEmitter(chunkSize int) *Emitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Emitter{chunkSize: chunkSize, now: time.Now}
}

// Frames lazily yields the wire frames for text: a role frame, content frames
// of at most chunkSize runes, a stop frame and the [DONE] terminator. Every
// frame carries id and model; created is stamped when the frame is produced.
func (e *Emitter) Frames(id, model, text string) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if !yield(e.frame(id, model, types.ChunkDelta{Role: types.RoleAssistant}, nil, nil)) {
			return
		}

		runes := []rune(text)
		for start := 0; start < len(runes); start += e.chunkSize {
			end := min(start+e.chunkSize, len(runes))
			delta := types.ChunkDelta{Content: string(runes[start:end])}
			if !yield(e.frame(id, model, delta, nil, nil)) {
				return
			}
		}

		stop := types.FinishReasonStop
		if !yield(e.frame(id, model, types.ChunkDelta{}, &stop, stopReasonNull)) {
			return
		}
		yield(DoneFrame())
	}
}

func (e *Emitter) frame(id, model string, delta types.ChunkDelta, finish *string, stopReason json.RawMessage) []byte {
	return encodeFrame(types.ChatCompletionChunk{
		ID:      id,
		Object:  types.ChunkObject,
		Created: e.now().Unix(),
		Model:   model,
		Choices: []types.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
			StopReason:   stopReason,
		}},
	})
}

// ErrorFrame is the single frame sent instead of a stream when a request is
// rejected.
func ErrorFrame(message string) []byte {
	return encodeFrame(types.ErrorEnvelope{Error: types.ErrorBody{
		Message: message,
		Type:    ErrorTypeContentPolicy,
		Code:    ErrorCodeContentBlocked,
	}})
}

func DoneFrame() []byte {
	return []byte("data: [DONE]\n\n")
}

func encodeFrame(v any) []byte {
	var buf bytes.Buffer
	buf.Write(dataPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// only fails for unsupported types
	_ = enc.Encode(v)
	// Encode terminates with one newline, the frame needs two
	buf.WriteByte('\n')
	return buf.Bytes()
}
