// Package sse reduces OpenAI-compatible delta streams to a complete text and
// re-serializes a complete text as a synthetic delta stream.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/tidwall/gjson"
	"github.com/valyala/fastjson"
)

var (
	dataPrefix  = []byte("data: ")
	doneMarker  = []byte("[DONE]")
	doneLineRaw = []byte("data: [DONE]")
	unicodeEsc  = []byte(`\u`)
)

// Aggregate consumes an upstream stream until EOF and returns the joined
// delta content with the metadata latched along the way. Unparseable data
// payloads are skipped. The only error returned is a read error from r.
func Aggregate(r io.Reader) (string, types.StreamMetadata, error) {
	var (
		meta   types.StreamMetadata
		text   bytes.Buffer
		parser fastjson.Parser
	)

	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			consumeLine(&parser, line, &text, &meta)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return text.String(), meta, fmt.Errorf("reading upstream stream: %w", readErr)
		}
	}

	return text.String(), meta, nil
}

func consumeLine(parser *fastjson.Parser, line []byte, text *bytes.Buffer, meta *types.StreamMetadata) {
	line = bytes.TrimRight(line, "\r\n")
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || bytes.Equal(trimmed, doneLineRaw) {
		return
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	payload := line[len(dataPrefix):]
	if bytes.Equal(bytes.TrimSpace(payload), doneMarker) {
		return
	}

	v, err := parser.ParseBytes(payload)
	if err != nil {
		return
	}

	if meta.ID == nil {
		meta.ID = stringField(v, "id")
		meta.Model = stringField(v, "model")
		meta.Created = intField(v, "created")
	}

	choice := v.Get("choices", "0")
	if choice == nil {
		return
	}
	if content := choice.Get("delta", "content"); content != nil && content.Type() == fastjson.TypeString {
		text.Write(contentBytes(content, payload))
	}
	if reason := stringField(choice, "finish_reason"); reason != nil && *reason != "" {
		meta.FinishReason = reason
	}
}

// contentBytes returns the unescaped delta content. fastjson keeps unpaired
// surrogate escapes such as \ud800 verbatim, so any content still holding a
// \u sequence is decoded again with gjson, which maps them to U+FFFD.
func contentBytes(content *fastjson.Value, payload []byte) []byte {
	b := content.GetStringBytes()
	if !bytes.Contains(b, unicodeEsc) {
		return b
	}
	return []byte(gjson.GetBytes(payload, "choices.0.delta.content").String())
}

func stringField(v *fastjson.Value, key string) *string {
	f := v.Get(key)
	if f == nil || f.Type() != fastjson.TypeString {
		return nil
	}
	s := string(f.GetStringBytes())
	return &s
}

func intField(v *fastjson.Value, key string) *int64 {
	f := v.Get(key)
	if f == nil || f.Type() != fastjson.TypeNumber {
		return nil
	}
	n, err := f.Int64()
	if err != nil {
		fl := f.GetFloat64()
		n = int64(fl)
	}
	return &n
}
