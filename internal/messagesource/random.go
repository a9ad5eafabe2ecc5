package messagesource

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/guming3d/azure-openai-benchmark/internal/chatmsg"
	"github.com/guming3d/azure-openai-benchmark/internal/tokencounter"
)

// wordlist is a small fixed vocabulary used to pad the synthetic prompt out
// to the requested context-token size. The original tool drew from a much
// larger dictionary (wonderwords); a fixed list of common English words is
// an adequate stand-in since only token count, not content, matters here.
var wordlist = []string{
	"apple", "bridge", "candle", "dragon", "eagle", "forest", "garden", "harbor",
	"island", "jungle", "kingdom", "lantern", "mountain", "nectar", "ocean",
	"palace", "quartz", "river", "summit", "temple", "umbrella", "valley",
	"whisper", "xylophone", "yonder", "zenith", "amber", "breeze", "cascade",
	"desert", "ember", "falcon", "glacier", "horizon", "ivory", "jasmine",
	"knoll", "lagoon", "meadow", "nimbus", "oasis", "pebble", "quarry",
	"ridge", "shore", "thicket", "utopia", "vapor", "willow", "canyon",
}

// RandomGenerator builds one synthetic message list once, sized so that
// its text-token count is close to the requested contextTokens, and
// returns a copy of it on every call to Next.
type RandomGenerator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	messages []chatmsg.Message
	tokens   TokenCounts
}

// NewRandomGenerator builds a RandomGenerator. If maxTokens is > 0, a
// second message asking for an essay of at least maxTokens tokens is
// appended, mirroring the original tool's generation-shape prompt.
func NewRandomGenerator(counter tokencounter.Counter, contextTokens int, maxTokens int) (*RandomGenerator, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	messages := []chatmsg.Message{
		{Role: "user", Content: chatmsg.NewTextContent("")},
	}
	if maxTokens > 0 {
		messages = append(messages, chatmsg.Message{
			Role:    "user",
			Content: chatmsg.NewTextContent(fmt.Sprintf("write a long essay about life in at least %d tokens", maxTokens)),
		})
	}

	textTokens, imageTokens, err := counter.Count(messages)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	for {
		remaining := contextTokens - textTokens
		if remaining <= 0 {
			break
		}
		prompt.WriteString(randomWords(rng, remaining))
		prompt.WriteString(" ")
		messages[0].Content = chatmsg.NewTextContent(prompt.String())

		textTokens, imageTokens, err = counter.Count(messages)
		if err != nil {
			return nil, err
		}
	}

	return &RandomGenerator{
		rng:      rng,
		messages: messages,
		tokens:   TokenCounts{Text: textTokens, Image: imageTokens},
	}, nil
}

// randomWords returns a space-joined run of ceil(remainingTokens/4) random
// words (at least one); the caller re-counts tokens and calls it again
// until the target is reached.
func randomWords(rng *rand.Rand, remainingTokens int) string {
	count := int(math.Ceil(float64(remainingTokens) / 4))
	if count < 1 {
		count = 1
	}
	words := make([]string, count)
	for i := range words {
		words[i] = wordlist[rng.Intn(len(wordlist))]
	}
	return strings.Join(words, " ")
}

// Next implements Source. The returned message slice is a fresh copy, so
// callers may replace its elements or their fields (the streaming client's
// anti-cache prefix builds new Content values). The copy is shallow: each
// Content still points at the cached text and parts.
func (g *RandomGenerator) Next() (Body, TokenCounts, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]chatmsg.Message, len(g.messages))
	copy(out, g.messages)
	return Body{Messages: out}, g.tokens, nil
}
