package pipeline

import (
	"fmt"
	"strings"

	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InjectSystemPrompt prepends a system message when prompt is set and the
// messages array has no system message yet. Applying it twice is a no-op.
func InjectSystemPrompt(body []byte, prompt string) ([]byte, bool, error) {
	if prompt == "" {
		return body, false, nil
	}
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body, false, nil
	}

	hasSystem := false
	messages.ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("role").String() == types.RoleSystem {
			hasSystem = true
			return false
		}
		return true
	})
	if hasSystem {
		return body, false, nil
	}

	systemMsg, err := sjson.SetBytes([]byte(`{"role":"system"}`), "content", prompt)
	if err != nil {
		return body, false, fmt.Errorf("building system message: %w", err)
	}

	inner := strings.TrimSpace(messages.Raw)
	inner = strings.TrimSpace(inner[1 : len(inner)-1])
	var b strings.Builder
	b.WriteByte('[')
	b.Write(systemMsg)
	if inner != "" {
		b.WriteByte(',')
		b.WriteString(inner)
	}
	b.WriteByte(']')

	out, err := sjson.SetRawBytes(body, "messages", []byte(b.String()))
	if err != nil {
		return body, false, fmt.Errorf("injecting system prompt: %w", err)
	}
	return out, true, nil
}

// OverrideModel sets the outgoing model and returns the model the client
// asked for.
func OverrideModel(body []byte, model string) ([]byte, string, error) {
	original := gjson.GetBytes(body, "model").String()
	if model == "" {
		return body, original, nil
	}
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return body, original, fmt.Errorf("overriding model: %w", err)
	}
	return out, original, nil
}

// RestoreModel writes original back into a response body that carries a
// model field.
func RestoreModel(body []byte, original string) ([]byte, bool, error) {
	if original == "" {
		return body, false, nil
	}
	if !gjson.ValidBytes(body) {
		return body, false, fmt.Errorf("response is not valid JSON")
	}
	current := gjson.GetBytes(body, "model")
	if !current.Exists() || (current.Type == gjson.String && current.String() == original) {
		return body, false, nil
	}
	out, err := sjson.SetBytes(body, "model", original)
	if err != nil {
		return body, false, fmt.Errorf("restoring model: %w", err)
	}
	return out, true, nil
}

// MessageText returns the scannable text of a message content: the string
// itself, or the text parts of a multimodal content array joined by newlines.
func MessageText(content gjson.Result) (string, bool) {
	switch {
	case content.Type == gjson.String:
		return content.String(), true
	case content.IsArray():
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				if text := part.Get("text"); text.Type == gjson.String {
					parts = append(parts, text.String())
				}
			}
			return true
		})
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "\n"), true
	default:
		return "", false
	}
}
