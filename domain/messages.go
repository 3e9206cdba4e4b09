package domain

import "time"

// Client intent types.
const (
	IntentJoin         = "join"
	IntentLeave        = "leave"
	IntentAddCard      = "add-card"
	IntentUpdateCard   = "update-card"
	IntentMoveCard     = "move-card"
	IntentReorderCards = "reorder-cards"
	IntentAddComment   = "add-comment"
)

// Server notification types.
const (
	MessageBoardUpdate = "board-update"
	MessageUserList    = "user-list"
	MessageError       = "error"
)

// Position selects which end of a list a new card is inserted at.
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
)

// CardUpdate carries partial changes for a card. Nil fields are left untouched.
type CardUpdate struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Author          *string    `json:"author,omitempty"`
	Assignee        *string    `json:"assignee,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	Labels          *[]string  `json:"labels,omitempty"`
	Priority        *int       `json:"priority,omitempty"`
	AttachmentCount *int       `json:"attachmentCount,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u CardUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Author == nil && u.Assignee == nil &&
		u.Deadline == nil && u.Labels == nil && u.Priority == nil && u.AttachmentCount == nil
}

// PostInput is the client supplied part of a new comment.
type PostInput struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// Intent is a client to server message. Fields not used by Type are ignored.
type Intent struct {
	Type       string      `json:"type"`
	ProjectID  string      `json:"projectId"`
	BoardName  string      `json:"boardName"`
	RequestID  string      `json:"requestId,omitempty"`
	User       string      `json:"user,omitempty"`
	Status     Status      `json:"status,omitempty"`
	Card       *Card       `json:"card,omitempty"`
	Position   Position    `json:"position,omitempty"`
	CardID     string      `json:"cardId,omitempty"`
	Updates    *CardUpdate `json:"updates,omitempty"`
	FromStatus Status      `json:"fromStatus,omitempty"`
	ToStatus   Status      `json:"toStatus,omitempty"`
	OrderedIDs []string    `json:"orderedIds,omitempty"`
	Post       *PostInput  `json:"post,omitempty"`
}

// Key builds the validated board key the intent targets.
func (i Intent) Key() (BoardKey, error) {
	return NewBoardKey(i.ProjectID, i.BoardName)
}

// Mutating reports whether the intent changes board state.
func (i Intent) Mutating() bool {
	switch i.Type {
	case IntentAddCard, IntentUpdateCard, IntentMoveCard, IntentReorderCards, IntentAddComment:
		return true
	}
	return false
}

// BoardUpdate carries a full board snapshot.
type BoardUpdate struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	BoardName string `json:"boardName"`
	Board     Board  `json:"board"`
}

// NewBoardUpdate wraps a snapshot of b.
func NewBoardUpdate(b Board) BoardUpdate {
	b.Normalize()
	return BoardUpdate{Type: MessageBoardUpdate, ProjectID: b.ProjectID, BoardName: b.BoardName, Board: b}
}

// UserList carries the presence set of a room.
type UserList struct {
	Type      string   `json:"type"`
	ProjectID string   `json:"projectId"`
	BoardName string   `json:"boardName"`
	Users     []string `json:"users"`
}

// NewUserList builds a presence notification for key.
func NewUserList(key BoardKey, users []string) UserList {
	if users == nil {
		users = []string{}
	}
	return UserList{Type: MessageUserList, ProjectID: key.ProjectID, BoardName: key.BoardName, Users: users}
}

// ErrorMessage reports a rejected intent to the connection that sent it.
type ErrorMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId,omitempty"`
	BoardName string `json:"boardName,omitempty"`
	Intent    string `json:"intent,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewErrorMessage describes err as a failure of intent in.
func NewErrorMessage(in Intent, err error) ErrorMessage {
	return ErrorMessage{
		Type:      MessageError,
		ProjectID: in.ProjectID,
		BoardName: in.BoardName,
		Intent:    in.Type,
		RequestID: in.RequestID,
		Code:      ErrorCode(err),
		Message:   err.Error(),
	}
}
