package domain

import (
	"strings"
	"time"
)

const (
	maxTitleLen = 512
	maxTextLen  = 16 * 1024
)

// Validate checks the shape of an intent before any state is touched.
func (i Intent) Validate() error {
	if _, err := i.Key(); err != nil {
		return err
	}
	switch i.Type {
	case IntentJoin:
		if strings.TrimSpace(i.User) == "" {
			return Invalid("user is required")
		}
	case IntentLeave:
	case IntentAddCard:
		if !i.Status.Valid() {
			return Invalid("unknown status %q", i.Status)
		}
		if i.Card == nil {
			return Invalid("card is required")
		}
		if err := validateCard(*i.Card); err != nil {
			return err
		}
		switch i.Position {
		case "", PositionTop, PositionBottom:
		default:
			return Invalid("unknown position %q", i.Position)
		}
	case IntentUpdateCard:
		if i.CardID == "" {
			return Invalid("cardId is required")
		}
		if i.Updates == nil || i.Updates.Empty() {
			return Invalid("card %s update had no fields", i.CardID)
		}
		if i.Updates.Title != nil && strings.TrimSpace(*i.Updates.Title) == "" {
			return Invalid("title cannot be empty")
		}
		if i.Updates.Title != nil && len(*i.Updates.Title) > maxTitleLen {
			return Invalid("title exceeds %d bytes", maxTitleLen)
		}
		if i.Updates.AttachmentCount != nil && *i.Updates.AttachmentCount < 0 {
			return Invalid("attachmentCount cannot be negative")
		}
	case IntentMoveCard:
		if i.CardID == "" {
			return Invalid("cardId is required")
		}
		if !i.FromStatus.Valid() {
			return Invalid("unknown fromStatus %q", i.FromStatus)
		}
		if !i.ToStatus.Valid() {
			return Invalid("unknown toStatus %q", i.ToStatus)
		}
	case IntentReorderCards:
		if !i.Status.Valid() {
			return Invalid("unknown status %q", i.Status)
		}
		if i.OrderedIDs == nil {
			return Invalid("orderedIds is required")
		}
	case IntentAddComment:
		if i.CardID == "" {
			return Invalid("cardId is required")
		}
		if i.Post == nil || strings.TrimSpace(i.Post.Text) == "" {
			return Invalid("post text is required")
		}
		if len(i.Post.Text) > maxTextLen {
			return Invalid("post text exceeds %d bytes", maxTextLen)
		}
	default:
		return Invalid("unknown intent type %q", i.Type)
	}
	return nil
}

func validateCard(c Card) error {
	if strings.TrimSpace(c.ID) == "" {
		return Invalid("card id is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return Invalid("card %s title is required", c.ID)
	}
	if len(c.Title) > maxTitleLen {
		return Invalid("card %s title exceeds %d bytes", c.ID, maxTitleLen)
	}
	if c.CommentCount < 0 || c.AttachmentCount < 0 {
		return Invalid("card %s counters cannot be negative", c.ID)
	}
	return nil
}

// Apply performs a single mutating intent on b. On error b is left unchanged.
// newPostID is only consulted for add-comment.
func Apply(b *Board, in Intent, now time.Time, newPostID func() string) error {
	switch in.Type {
	case IntentAddCard:
		return AddCard(b, in.Status, *in.Card, in.Position)
	case IntentUpdateCard:
		return UpdateCard(b, in.CardID, *in.Updates)
	case IntentMoveCard:
		return MoveCard(b, in.CardID, in.FromStatus, in.ToStatus)
	case IntentReorderCards:
		return ReorderCards(b, in.Status, in.OrderedIDs)
	case IntentAddComment:
		post := Post{ID: newPostID(), Author: in.Post.Author, Text: in.Post.Text, CreatedAt: now, UpdatedAt: now}
		return AddComment(b, in.CardID, post)
	}
	return Invalid("intent %q does not mutate the board", in.Type)
}

// AddCard inserts card into status at the requested end.
func AddCard(b *Board, status Status, card Card, pos Position) error {
	list := b.List(status)
	if list == nil {
		return Invalid("unknown status %q", status)
	}
	if s, _, ok := b.Find(card.ID); ok {
		return Invalid("card %s already exists in %s", card.ID, s)
	}
	card = card.Clone()
	card.Labels = uniqueLabels(card.Labels)
	if pos == PositionTop {
		*list = append([]Card{card}, *list...)
	} else {
		*list = append(*list, card)
	}
	return nil
}

// UpdateCard merges the non-nil fields of upd into the card wherever it lives.
func UpdateCard(b *Board, cardID string, upd CardUpdate) error {
	s, idx, ok := b.Find(cardID)
	if !ok {
		return Invalid("card %s not found", cardID)
	}
	c := &(*b.List(s))[idx]
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Description != nil {
		c.Description = *upd.Description
	}
	if upd.Author != nil {
		c.Author = *upd.Author
	}
	if upd.Assignee != nil {
		c.Assignee = *upd.Assignee
	}
	if upd.Deadline != nil {
		d := *upd.Deadline
		c.Deadline = &d
	}
	if upd.Labels != nil {
		c.Labels = uniqueLabels(*upd.Labels)
	}
	if upd.Priority != nil {
		p := *upd.Priority
		c.Priority = &p
	}
	if upd.AttachmentCount != nil {
		c.AttachmentCount = *upd.AttachmentCount
	}
	return nil
}

// MoveCard removes the card from "from" and appends it to the end of "to".
// The card must currently be in "from"; a stale client view is rejected.
func MoveCard(b *Board, cardID string, from, to Status) error {
	src, dst := b.List(from), b.List(to)
	if src == nil || dst == nil {
		return Invalid("unknown status")
	}
	idx := -1
	for i, c := range *src {
		if c.ID == cardID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Invalid("card %s not found in %s", cardID, from)
	}
	card := (*src)[idx]
	*src = append((*src)[:idx:idx], (*src)[idx+1:]...)
	*dst = append(*dst, card)
	return nil
}

// ReorderCards replaces the order of status with orderedIDs, which must hold
// exactly the ids currently in that list.
func ReorderCards(b *Board, status Status, orderedIDs []string) error {
	list := b.List(status)
	if list == nil {
		return Invalid("unknown status %q", status)
	}
	if len(orderedIDs) != len(*list) {
		return Invalid("reorder of %s has %d ids, list has %d", status, len(orderedIDs), len(*list))
	}
	byID := make(map[string]Card, len(*list))
	for _, c := range *list {
		byID[c.ID] = c
	}
	out := make([]Card, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		c, ok := byID[id]
		if !ok {
			return Invalid("reorder of %s: card %s is not in the list or repeated", status, id)
		}
		delete(byID, id)
		out = append(out, c)
	}
	*list = out
	return nil
}

// AddComment appends post to the card and bumps its comment counter.
func AddComment(b *Board, cardID string, post Post) error {
	s, idx, ok := b.Find(cardID)
	if !ok {
		return Invalid("card %s not found", cardID)
	}
	c := &(*b.List(s))[idx]
	c.Posts = append(c.Posts, post)
	c.CommentCount++
	return nil
}

func uniqueLabels(labels []string) []string {
	if labels == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
