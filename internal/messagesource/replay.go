package messagesource

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/guming3d/azure-openai-benchmark/internal/chatmsg"
	"github.com/guming3d/azure-openai-benchmark/internal/tokencounter"
)

type cachedEntry struct {
	messages []chatmsg.Message
	tokens   TokenCounts
}

// ReplayGenerator samples uniformly at random from a fixed set of message
// lists loaded from a JSON replay file at construction time.
type ReplayGenerator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	entries []cachedEntry
}

// NewReplayGenerator loads path, a JSON array of message-list arrays, and
// pre-computes the token counts for each entry.
func NewReplayGenerator(counter tokencounter.Counter, path string) (*ReplayGenerator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error loading replay file: %w", err)
	}

	var allMessageLists [][]chatmsg.Message
	if err := json.Unmarshal(raw, &allMessageLists); err != nil {
		return nil, fmt.Errorf("replay file must contain a JSON array of message lists: %w", err)
	}
	if len(allMessageLists) == 0 {
		return nil, fmt.Errorf("replay file must contain at least one list of messages")
	}
	for i, messages := range allMessageLists {
		if len(messages) == 0 {
			return nil, fmt.Errorf("replay file entry %d is an empty message list", i)
		}
	}

	entries := make([]cachedEntry, 0, len(allMessageLists))
	for _, messages := range allMessageLists {
		text, image, err := counter.Count(messages)
		if err != nil {
			return nil, err
		}
		entries = append(entries, cachedEntry{messages: messages, tokens: TokenCounts{Text: text, Image: image}})
	}

	return &ReplayGenerator{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: entries,
	}, nil
}

// Next implements Source, sampling one recorded message list uniformly at
// random.
func (g *ReplayGenerator) Next() (Body, TokenCounts, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry := g.entries[g.rng.Intn(len(g.entries))]
	out := make([]chatmsg.Message, len(entry.messages))
	copy(out, entry.messages)
	return Body{Messages: out}, entry.tokens, nil
}
