package streamclient

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/guming3d/azure-openai-benchmark/internal/stats"
)

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// readStream consumes a 200 response body line by line, stamping
// first-token time on the first "data:" line, decoding each event's
// delta.role/delta.content, and stopping at the "[DONE]" sentinel.
// Malformed lines are logged and skipped rather than treated as fatal.
func (c *Client) readStream(resp *http.Response, record *stats.Request) {
	defer resp.Body.Close()
	record.ResponseTime = time.Now()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		if record.GeneratedTokens == nil {
			record.FirstTokenTime = time.Now()
			zero := 0
			record.GeneratedTokens = &zero
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.cfg.Logger.Debug().Err(err).Str("line", line).Msg("failed to parse stream line")
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if c.cfg.LogRequestContent && delta.Role != "" {
			record.OutputContent = append(record.OutputContent, stats.Message{Role: delta.Role, Content: ""})
		}
		if delta.Content != "" {
			*record.GeneratedTokens++
			if c.cfg.LogRequestContent {
				if len(record.OutputContent) == 0 {
					record.OutputContent = append(record.OutputContent, stats.Message{Role: "assistant", Content: ""})
				}
				last := &record.OutputContent[len(record.OutputContent)-1]
				cur, _ := last.Content.(string)
				last.Content = cur + delta.Content
			}
		}
	}

	record.ResponseEndTime = time.Now()
}
