// Package history retrieves prior messages for a peer pair and merges
// them with live channel traffic into one transcript.
//
// The history store is an external collaborator: this package only
// reads from it, seeding the transcript that live messages are
// appended to.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pairline/pairline/internal/identity"
)

// Message is one transcript entry. Live messages carry ID 0 until the
// store assigns one.
type Message struct {
	ID        int64             `json:"id"`
	Text      string            `json:"text"`
	Author    identity.Identity `json:"author"`
	CreatedAt time.Time         `json:"created_at"`
	Read      bool              `json:"-"`
}

// Client reads message history from the REST store.
type Client struct {
	http    *resty.Client
	baseURL string
	log     *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{http: resty.New(), baseURL: baseURL, log: log}
}

// Messages fetches the ordered history for a canonical pair.
func (c *Client) Messages(ctx context.Context, pair identity.Pair) ([]Message, error) {
	var out []Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("user_id1", fmt.Sprintf("%d", pair.Low)).
		SetQueryParam("user_id2", fmt.Sprintf("%d", pair.High)).
		Get(c.baseURL + "/messages")
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode())
	}
	return out, nil
}

// Transcript is the merged view of history seed plus live messages.
// Seeding is read-only; live appends de-duplicate by store ID.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	seen     map[int64]bool
}

func NewTranscript() *Transcript {
	return &Transcript{seen: make(map[int64]bool)}
}

// Seed replaces the transcript with the store's ordered history.
func (t *Transcript) Seed(messages []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
	t.seen = make(map[int64]bool)
	for _, msg := range messages {
		if msg.ID != 0 {
			if t.seen[msg.ID] {
				continue
			}
			t.seen[msg.ID] = true
		}
		t.messages = append(t.messages, msg)
	}
}

// Append adds one live message, skipping store IDs already seeded.
func (t *Transcript) Append(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg.ID != 0 {
		if t.seen[msg.ID] {
			return
		}
		t.seen[msg.ID] = true
	}
	t.messages = append(t.messages, msg)
}

// MarkRead flags every message authored by the given identity as read.
// Used when the peer acknowledges the conversation.
func (t *Transcript) MarkRead(author identity.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.messages {
		if t.messages[i].Author == author {
			t.messages[i].Read = true
		}
	}
}

// Messages returns a copy of the transcript in order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of transcript entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
