package streamclient

import "github.com/guming3d/azure-openai-benchmark/internal/chatmsg"

// RequestBody is the chat-completion request payload. Optional numeric
// fields are pointers so their zero value can be omitted from the wire
// body instead of being sent as an explicit 0.
type RequestBody struct {
	Model            string            `json:"model,omitempty"`
	Messages         []chatmsg.Message `json:"messages"`
	Stream           bool              `json:"stream"`
	N                int               `json:"n,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`

	// PresencePenalty is forwarded under its correct wire name. The tool
	// this was distilled from forwards it as the misspelled
	// "presenece_penalty" - an upstream bug this implementation does not
	// carry forward; see DESIGN.md.
	PresencePenalty *float64 `json:"presence_penalty,omitempty"`
}
