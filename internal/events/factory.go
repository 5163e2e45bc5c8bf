// Package events builds the research client's protocol events and folds
// fetched annotation events back into a read model.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/carsonminor/nostr-research-client/internal/identity"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

// IdentitySource yields the active identity, or nil when signed out.
type IdentitySource interface {
	Identity() *identity.Identity
}

type staticSource struct{ id *identity.Identity }

func (s staticSource) Identity() *identity.Identity { return s.id }

// Static wraps a fixed identity as an IdentitySource.
func Static(id *identity.Identity) IdentitySource { return staticSource{id} }

// Factory turns domain inputs into signed events for the current identity.
type Factory struct {
	source IdentitySource
	now    func() time.Time
}

func NewFactory(source IdentitySource) *Factory {
	return &Factory{source: source, now: time.Now}
}

// Paper builds a long-form research paper (kind 30023).
func (f *Factory) Paper(ctx context.Context, title, content, abstract, identifier string) (*types.Event, error) {
	now := f.now().Unix()
	return f.sign(ctx, now, types.KindPaper, content, [][]string{
		{"title", title},
		{"summary", abstract},
		{"d", identifier},
		{"published_at", strconv.FormatInt(now, 10)},
	})
}

// Highlight builds a highlight of text within sourceEventID (kind 9802).
// The context tag is omitted when empty, the range tag when r is nil.
func (f *Factory) Highlight(ctx context.Context, text, sourceEventID, contextText string, r *Range) (*types.Event, error) {
	tags := [][]string{{"e", sourceEventID}}
	if contextText != "" {
		tags = append(tags, []string{"context", contextText})
	}
	if r != nil {
		tags = append(tags, []string{"range", r.String()})
	}
	return f.sign(ctx, f.now().Unix(), types.KindHighlight, text, tags)
}

// HighlightComment builds a note replying to a highlight.
func (f *Factory) HighlightComment(ctx context.Context, content, highlightEventID string) (*types.Event, error) {
	return f.sign(ctx, f.now().Unix(), types.KindNote, content, [][]string{
		{"e", highlightEventID},
		{"k", strconv.Itoa(types.KindHighlight)},
	})
}

// ThreadComment builds a comment (kind 1111) rooted at a paper, optionally
// replying to parentEventID.
func (f *Factory) ThreadComment(ctx context.Context, content, rootEventID, parentEventID string) (*types.Event, error) {
	tags := [][]string{
		{"E", rootEventID},
		{"K", strconv.Itoa(types.KindPaper)},
	}
	if parentEventID != "" {
		tags = append(tags, []string{"e", parentEventID})
	}
	return f.sign(ctx, f.now().Unix(), types.KindComment, content, tags)
}

// Reaction builds a reaction (kind 7) to a note. Empty content means "+".
func (f *Factory) Reaction(ctx context.Context, targetEventID, content string) (*types.Event, error) {
	if content == "" {
		content = "+"
	}
	return f.sign(ctx, f.now().Unix(), types.KindReaction, content, [][]string{
		{"e", targetEventID},
		{"k", strconv.Itoa(types.KindNote)},
	})
}

func (f *Factory) sign(ctx context.Context, createdAt int64, kind int, content string, tags [][]string) (*types.Event, error) {
	id := f.source.Identity()
	if id == nil {
		return nil, identity.ErrNoIdentity
	}
	return id.Sign(ctx, types.UnsignedEvent{
		PubKey:    id.PublicKey(),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	})
}
