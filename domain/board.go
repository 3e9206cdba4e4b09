package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const maxKeyPartLen = 128

// Status names one of the ordered card lists of a board.
type Status string

const (
	StatusTodo     Status = "todo"
	StatusDoing    Status = "doing"
	StatusDone     Status = "done"
	StatusArchived Status = "archived"
)

// Statuses lists every status in board order.
var Statuses = []Status{StatusTodo, StatusDoing, StatusDone, StatusArchived}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone, StatusArchived:
		return true
	}
	return false
}

// BoardKey identifies one persisted board and one room.
type BoardKey struct {
	ProjectID string `json:"projectId"`
	BoardName string `json:"boardName"`
}

// NewBoardKey trims and validates both parts of a key.
func NewBoardKey(projectID, boardName string) (BoardKey, error) {
	k := BoardKey{ProjectID: strings.TrimSpace(projectID), BoardName: strings.TrimSpace(boardName)}
	if err := k.Validate(); err != nil {
		return BoardKey{}, err
	}
	return k, nil
}

// Validate checks that the key is well formed.
func (k BoardKey) Validate() error {
	if err := validateKeyPart("projectId", k.ProjectID); err != nil {
		return err
	}
	return validateKeyPart("boardName", k.BoardName)
}

func (k BoardKey) String() string {
	return k.ProjectID + "/" + k.BoardName
}

func validateKeyPart(name, v string) error {
	if v == "" || strings.TrimSpace(v) != v {
		return Invalid("%s is required", name)
	}
	if len(v) > maxKeyPartLen {
		return Invalid("%s exceeds %d bytes", name, maxKeyPartLen)
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return Invalid("%s contains control characters", name)
		}
	}
	return nil
}

// Post is a comment attached to a card.
type Post struct {
	ID        string    `json:"id"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card is a single item on a board. It lives in exactly one status list.
type Card struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Author          string     `json:"author,omitempty"`
	Assignee        string     `json:"assignee,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	Labels          []string   `json:"labels,omitempty"`
	Posts           []Post     `json:"posts,omitempty"`
	CommentCount    int        `json:"commentCount"`
	AttachmentCount int        `json:"attachmentCount"`
	Priority        *int       `json:"priority,omitempty"`
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	if c.Deadline != nil {
		d := *c.Deadline
		out.Deadline = &d
	}
	if c.Priority != nil {
		p := *c.Priority
		out.Priority = &p
	}
	if c.Labels != nil {
		out.Labels = append([]string(nil), c.Labels...)
	}
	if c.Posts != nil {
		out.Posts = append([]Post(nil), c.Posts...)
	}
	return out
}

// Board is the authoritative state of one board.
type Board struct {
	BoardKey
	Todo      []Card    `json:"todo"`
	Doing     []Card    `json:"doing"`
	Done      []Card    `json:"done"`
	Archived  []Card    `json:"archived"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewBoard returns an empty board for key.
func NewBoard(key BoardKey) Board {
	return Board{
		BoardKey: key,
		Todo:     []Card{},
		Doing:    []Card{},
		Done:     []Card{},
		Archived: []Card{},
	}
}

// Key returns the board's key.
func (b *Board) Key() BoardKey { return b.BoardKey }

// List returns a pointer to the list for status s, or nil for an unknown status.
func (b *Board) List(s Status) *[]Card {
	switch s {
	case StatusTodo:
		return &b.Todo
	case StatusDoing:
		return &b.Doing
	case StatusDone:
		return &b.Done
	case StatusArchived:
		return &b.Archived
	}
	return nil
}

// Find locates a card by id. It returns the status and index of the card.
func (b *Board) Find(cardID string) (Status, int, bool) {
	for _, s := range Statuses {
		for i, c := range *b.List(s) {
			if c.ID == cardID {
				return s, i, true
			}
		}
	}
	return "", 0, false
}

// Clone returns a deep copy of the board.
func (b Board) Clone() Board {
	out := b
	for _, s := range Statuses {
		src := *b.List(s)
		dst := make([]Card, len(src))
		for i, c := range src {
			dst[i] = c.Clone()
		}
		*out.List(s) = dst
	}
	return out
}

// Normalize replaces nil lists with empty ones so snapshots always carry all four lists.
func (b *Board) Normalize() {
	for _, s := range Statuses {
		if l := b.List(s); *l == nil {
			*l = []Card{}
		}
	}
}

// CheckPartition verifies that every card id appears in exactly one list.
func (b *Board) CheckPartition() error {
	seen := make(map[string]Status)
	for _, s := range Statuses {
		for _, c := range *b.List(s) {
			if c.ID == "" {
				return fmt.Errorf("board %s: card without id in %s", b.BoardKey, s)
			}
			if prev, ok := seen[c.ID]; ok {
				return fmt.Errorf("board %s: card %s in both %s and %s", b.BoardKey, c.ID, prev, s)
			}
			seen[c.ID] = s
		}
	}
	return nil
}
