// Package tokencounter estimates text and image token counts for chat
// completion requests, so the load generator can report context size
// without depending on the provider to echo it back.
package tokencounter

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/guming3d/azure-openai-benchmark/internal/chatmsg"
)

// Counter counts text and image tokens for a message list.
type Counter interface {
	Count(messages []chatmsg.Message) (textTokens, imageTokens int, err error)
}

// Tiktoken counts text tokens with a tiktoken-go encoding and image tokens
// with the tiling estimate in image.go. It replicates the original tool's
// num_tokens_from_messages accounting: a fixed per-message overhead, a
// fixed reply-priming overhead, and the OpenAI vision tiling formula for
// image parts.
type Tiktoken struct {
	enc              *tiktoken.Tiktoken
	tokensPerMessage int
}

// NewTiktoken builds a Tiktoken counter for model. Models outside the
// tiktoken-go model table fall back to the cl100k_base encoding used by
// every gpt-3.5/gpt-4-family model, since this tool only needs a consistent
// estimate, not provider-exact accounting.
func NewTiktoken(model string) (*Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &Tiktoken{enc: enc, tokensPerMessage: 3}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(messages []chatmsg.Message) (int, int, error) {
	textTokens := 0
	imageTokens := 0

	for _, m := range messages {
		textTokens += t.tokensPerMessage

		if m.Content.IsText() {
			text := *m.Content.Text
			if strings.TrimSpace(text) != "" {
				textTokens += len(t.enc.Encode(text, nil, nil))
			}
			continue
		}

		for _, part := range m.Content.Parts {
			switch part.Type {
			case "text":
				if strings.TrimSpace(part.Text) != "" {
					textTokens += len(t.enc.Encode(part.Text, nil, nil))
				}
			case "image_url":
				if part.ImageURL == nil {
					continue
				}
				quality := part.ImageURL.Detail
				if quality != "high" && quality != "low" {
					quality = "low"
				}
				width, height, err := decodeDataURIDimensions(part.ImageURL.URL)
				if err != nil {
					continue
				}
				imageTokens += NumTokensFromImage(width, height, quality)
			}
		}
	}

	textTokens += 3 // every reply is primed with <|start|>assistant<|message|>
	return textTokens, imageTokens, nil
}
