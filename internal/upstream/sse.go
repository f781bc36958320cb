package upstream

import (
	"encoding/json"
	"strings"
)

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// FlattenSSE collapses an OpenAI-style server-sent-event stream into the
// concatenated assistant text. Some upstreams answer form posts with a full
// SSE transcript in one response body; this recovers the reply from it.
// Lines that are not valid JSON chunks are skipped. If nothing could be
// decoded the trimmed raw body is returned as a fallback.
func FlattenSSE(body string) string {
	var out strings.Builder
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			out.WriteString(choice.Delta.Content)
		}
	}

	if text := strings.TrimSpace(out.String()); text != "" {
		return text
	}
	return strings.TrimSpace(body)
}
