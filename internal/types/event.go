// Package types provides shared type definitions used across internal packages.
package types

// Event kinds used by the research client.
const (
	KindNote         = 1
	KindReaction     = 7
	KindComment      = 1111
	KindHighlight    = 9802
	KindNostrConnect = 24133
	KindPaper        = 30023
)

// UnsignedEvent is an event that has not been given an id or signature yet.
type UnsignedEvent struct {
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
}

// Event represents a signed Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// Unsigned strips the id and signature.
func (e Event) Unsigned() UnsignedEvent {
	return UnsignedEvent{
		PubKey:    e.PubKey,
		CreatedAt: e.CreatedAt,
		Kind:      e.Kind,
		Tags:      e.Tags,
		Content:   e.Content,
	}
}

// TagValue returns the first value for the given tag name, or empty string if not found.
func (e Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// TagValues returns all values for the given tag name.
func (e Event) TagValues(name string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}
