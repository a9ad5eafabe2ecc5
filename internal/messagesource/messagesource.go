// Package messagesource produces request bodies for the load generator:
// either synthetic random-filler prompts sized to a target context-token
// count, or samples drawn from a recorded replay file.
package messagesource

import (
	"github.com/guming3d/azure-openai-benchmark/internal/chatmsg"
)

// TokenCounts is the (text, image) token accounting for one generated body.
type TokenCounts struct {
	Text  int
	Image int
}

// Body is one request's message list, ready to be embedded in a
// chat-completion request body.
type Body struct {
	Messages []chatmsg.Message
}

// Source lazily produces the next request body. The executor's worker
// pool calls Next concurrently from multiple goroutines, so implementations
// must be safe for concurrent use.
type Source interface {
	Next() (Body, TokenCounts, error)
}
