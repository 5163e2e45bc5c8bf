package events

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/carsonminor/nostr-research-client/internal/types"
)

var ErrInvalidRange = errors.New("invalid range")

// Range is a pair of character offsets into a paper's content.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) String() string {
	return strconv.Itoa(r.Start) + ":" + strconv.Itoa(r.End)
}

// ParseRange parses a "start:end" range tag value.
func ParseRange(s string) (Range, error) {
	startStr, endStr, ok := strings.Cut(s, ":")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	end, err := strconv.Atoi(endStr)
	if err != nil || start < 0 || end < start {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	return Range{Start: start, End: end}, nil
}

type Highlight struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Range     Range     `json:"range"`
	Context   string    `json:"context,omitempty"`
	Author    string    `json:"author"`
	CreatedAt int64     `json:"created_at"`
	Comments  []Comment `json:"comments,omitempty"`
}

type Comment struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	CreatedAt   int64     `json:"created_at"`
	Likes       int       `json:"likes"`
	HighlightID string    `json:"highlight_id,omitempty"`
	Replies     []Comment `json:"replies,omitempty"`
}

// BuildHighlights assembles the highlights on sourceEventID, each with its
// comments and their "+" reaction counts. Highlights are ordered by range
// start, comments oldest first. Events are expected to be deduplicated.
func BuildHighlights(sourceEventID string, evts []types.Event) []Highlight {
	likes := countLikes(evts)

	commentsByHighlight := make(map[string][]Comment)
	for _, ev := range evts {
		if ev.Kind != types.KindNote || ev.TagValue("k") != strconv.Itoa(types.KindHighlight) {
			continue
		}
		target := ev.TagValue("e")
		commentsByHighlight[target] = append(commentsByHighlight[target], Comment{
			ID:          ev.ID,
			Content:     ev.Content,
			Author:      ev.PubKey,
			CreatedAt:   ev.CreatedAt,
			Likes:       likes[ev.ID],
			HighlightID: target,
		})
	}

	var highlights []Highlight
	for _, ev := range evts {
		if ev.Kind != types.KindHighlight || ev.TagValue("e") != sourceEventID {
			continue
		}
		// Missing or malformed ranges fall back to 0:0
		r, _ := ParseRange(ev.TagValue("range"))
		comments := commentsByHighlight[ev.ID]
		sortComments(comments)
		highlights = append(highlights, Highlight{
			ID:        ev.ID,
			Text:      ev.Content,
			Range:     r,
			Context:   ev.TagValue("context"),
			Author:    ev.PubKey,
			CreatedAt: ev.CreatedAt,
			Comments:  comments,
		})
	}

	sort.SliceStable(highlights, func(i, j int) bool {
		if highlights[i].Range.Start != highlights[j].Range.Start {
			return highlights[i].Range.Start < highlights[j].Range.Start
		}
		return highlights[i].CreatedAt < highlights[j].CreatedAt
	})
	return highlights
}

// BuildThread assembles the comment tree rooted at rootEventID. Comments
// whose parent is missing are attached to the root.
func BuildThread(rootEventID string, evts []types.Event) []Comment {
	likes := countLikes(evts)

	type node struct {
		comment Comment
		parent  string
	}
	nodes := make(map[string]*node)
	var order []string
	for _, ev := range evts {
		if ev.Kind != types.KindComment || ev.TagValue("E") != rootEventID {
			continue
		}
		if _, dup := nodes[ev.ID]; dup {
			continue
		}
		nodes[ev.ID] = &node{
			comment: Comment{ID: ev.ID, Content: ev.Content, Author: ev.PubKey, CreatedAt: ev.CreatedAt, Likes: likes[ev.ID]},
			parent:  ev.TagValue("e"),
		}
		order = append(order, ev.ID)
	}

	children := make(map[string][]string)
	for _, id := range order {
		parent := nodes[id].parent
		if _, ok := nodes[parent]; !ok || parent == id {
			parent = rootEventID
		}
		children[parent] = append(children[parent], id)
	}

	var build func(id string, depth int) []Comment
	build = func(id string, depth int) []Comment {
		ids := children[id]
		if len(ids) == 0 || depth > len(order) {
			return nil
		}
		out := make([]Comment, 0, len(ids))
		for _, childID := range ids {
			c := nodes[childID].comment
			c.Replies = build(childID, depth+1)
			out = append(out, c)
		}
		sortComments(out)
		return out
	}
	return build(rootEventID, 0)
}

func countLikes(evts []types.Event) map[string]int {
	likes := make(map[string]int)
	for _, ev := range evts {
		if ev.Kind == types.KindReaction && ev.Content == "+" {
			likes[ev.TagValue("e")]++
		}
	}
	return likes
}

func sortComments(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt < comments[j].CreatedAt
	})
}
