// Package comment holds the comment model, the depth policy that bounds
// reply nesting and the builder that turns a flat page of comments into a
// reply forest.
package comment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"portal/threads/internal/rbac"
)

type ScopeKind string

const (
	ScopeAnnouncement  ScopeKind = "announcement"
	ScopeCalendarEvent ScopeKind = "calendar_event"
)

// Scope identifies the announcement or calendar event a comment belongs to.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   int64     `json:"id"`
}

func (s Scope) Valid() bool {
	return (s.Kind == ScopeAnnouncement || s.Kind == ScopeCalendarEvent) && s.ID > 0
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + strconv.FormatInt(s.ID, 10)
}

// ParseScope reverses String.
func ParseScope(value string) (Scope, error) {
	kind, rawID, ok := strings.Cut(value, ":")
	if !ok {
		return Scope{}, fmt.Errorf("invalid scope %q", value)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Scope{}, fmt.Errorf("invalid scope id %q: %w", rawID, err)
	}
	scope := Scope{Kind: ScopeKind(kind), ID: id}
	if !scope.Valid() {
		return Scope{}, fmt.Errorf("invalid scope %q", value)
	}
	return scope, nil
}

type Author struct {
	ActorType   rbac.Role `json:"actorType"`
	ActorID     int64     `json:"actorId"`
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	IsAnonymous bool      `json:"isAnonymous"`
}

type Comment struct {
	ID              int64     `json:"id"`
	ThreadID        *int64    `json:"threadId,omitempty"`
	CalendarEventID *int64    `json:"calendarEventId,omitempty"`
	ParentID        *int64    `json:"parentId"`
	Author          Author    `json:"author"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	IsFlagged       bool      `json:"isFlagged"`
	FlagReason      string    `json:"flagReason,omitempty"`
	IsDeleted       bool      `json:"isDeleted"`
	ReactionCount   int       `json:"reactionCount"`
	ViewerReaction  *string   `json:"viewerReaction"`
	// Pending marks a locally created placeholder that the server has not confirmed.
	Pending bool       `json:"pending,omitempty"`
	Replies []*Comment `json:"replies,omitempty"`
}

// Scope reports the scope the comment is attached to. A comment carrying
// both or neither scope reference is malformed.
func (c *Comment) Scope() (Scope, bool) {
	switch {
	case c.ThreadID != nil && c.CalendarEventID == nil:
		return Scope{Kind: ScopeAnnouncement, ID: *c.ThreadID}, true
	case c.CalendarEventID != nil && c.ThreadID == nil:
		return Scope{Kind: ScopeCalendarEvent, ID: *c.CalendarEventID}, true
	default:
		return Scope{}, false
	}
}

// SetScope points the comment at exactly one scope.
func (c *Comment) SetScope(scope Scope) {
	id := scope.ID
	c.ThreadID = nil
	c.CalendarEventID = nil
	switch scope.Kind {
	case ScopeAnnouncement:
		c.ThreadID = &id
	case ScopeCalendarEvent:
		c.CalendarEventID = &id
	}
}

func (c *Comment) IsRoot() bool {
	return c.ParentID == nil
}

func (c *Comment) HasParent(parentID *int64) bool {
	if c.ParentID == nil || parentID == nil {
		return c.ParentID == nil && parentID == nil
	}
	return *c.ParentID == *parentID
}

// React records the viewer's reaction. The count moves only when the viewer
// had not reacted before.
func (c *Comment) React(reactionID string) {
	if c.ViewerReaction == nil {
		c.ReactionCount++
	}
	c.ViewerReaction = &reactionID
}

// Unreact clears the viewer's reaction, never driving the count below zero.
func (c *Comment) Unreact() {
	if c.ViewerReaction != nil {
		c.AdjustReactions(-1)
	}
	c.ViewerReaction = nil
}

func (c *Comment) AdjustReactions(delta int) {
	c.ReactionCount += delta
	if c.ReactionCount < 0 {
		c.ReactionCount = 0
	}
}

// Clone deep-copies the comment and its replies.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := c.CloneFields()
	if c.Replies != nil {
		out.Replies = make([]*Comment, len(c.Replies))
		for i, reply := range c.Replies {
			out.Replies[i] = reply.Clone()
		}
	}
	return out
}

// CloneFields copies everything except the replies list, which is left nil.
func (c *Comment) CloneFields() *Comment {
	out := *c
	out.ThreadID = clonePtr(c.ThreadID)
	out.CalendarEventID = clonePtr(c.CalendarEventID)
	out.ParentID = clonePtr(c.ParentID)
	out.ViewerReaction = clonePtr(c.ViewerReaction)
	out.Replies = nil
	return &out
}

// RestoreFields overwrites every field but Replies with those of snapshot.
func (c *Comment) RestoreFields(snapshot *Comment) {
	replies := c.Replies
	*c = *snapshot.CloneFields()
	c.Replies = replies
}

func CloneAll(roots []*Comment) []*Comment {
	if roots == nil {
		return nil
	}
	out := make([]*Comment, len(roots))
	for i, root := range roots {
		out[i] = root.Clone()
	}
	return out
}

func clonePtr[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func Ptr[T any](v T) *T {
	return &v
}
