// Package realtime merges comment events pushed by the portal into the held
// forest.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"portal/threads/internal/comment"
)

type Kind string

const (
	KindAdded           Kind = "comment-added"
	KindUpdated         Kind = "comment-updated"
	KindDeleted         Kind = "comment-deleted"
	KindReactionUpdated Kind = "comment-reaction-updated"
)

type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidEvent = errors.New("invalid event")
)

// Envelope is the wire form of a pushed event.
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is a decoded push event. Which fields are set depends on Kind.
type Event struct {
	Kind           Kind           `json:"-"`
	AnnouncementID *int64         `json:"announcementId,omitempty"`
	CalendarID     *int64         `json:"calendarId,omitempty"`
	CommentID      int64          `json:"commentId,omitempty"`
	Updates        *comment.Patch `json:"updates,omitempty"`
	Action         ReactionAction `json:"action,omitempty"`
	ReactionID     string         `json:"reactionId,omitempty"`
	IsCurrentUser  bool           `json:"isCurrentUser,omitempty"`
}

// Scope reports the scope named by the event, if any.
func (e Event) Scope() (comment.Scope, bool) {
	switch {
	case e.AnnouncementID != nil && e.CalendarID == nil:
		return comment.Scope{Kind: comment.ScopeAnnouncement, ID: *e.AnnouncementID}, true
	case e.CalendarID != nil && e.AnnouncementID == nil:
		return comment.Scope{Kind: comment.ScopeCalendarEvent, ID: *e.CalendarID}, true
	default:
		return comment.Scope{}, false
	}
}

// WithScope returns a copy of e addressed to scope.
func (e Event) WithScope(scope comment.Scope) Event {
	id := scope.ID
	e.AnnouncementID, e.CalendarID = nil, nil
	switch scope.Kind {
	case comment.ScopeAnnouncement:
		e.AnnouncementID = &id
	case comment.ScopeCalendarEvent:
		e.CalendarID = &id
	}
	return e
}

func (e Event) validate() error {
	if e.AnnouncementID != nil && e.CalendarID != nil {
		return fmt.Errorf("%w: %s names two scopes", ErrInvalidEvent, e.Kind)
	}
	switch e.Kind {
	case KindAdded:
		return nil
	case KindUpdated:
		if e.CommentID <= 0 {
			return fmt.Errorf("%w: %s without commentId", ErrInvalidEvent, e.Kind)
		}
		if e.Updates == nil {
			return fmt.Errorf("%w: %s without updates", ErrInvalidEvent, e.Kind)
		}
	case KindDeleted:
		if e.CommentID <= 0 {
			return fmt.Errorf("%w: %s without commentId", ErrInvalidEvent, e.Kind)
		}
	case KindReactionUpdated:
		if e.CommentID <= 0 {
			return fmt.Errorf("%w: %s without commentId", ErrInvalidEvent, e.Kind)
		}
		if e.Action != ReactionAdded && e.Action != ReactionRemoved {
			return fmt.Errorf("%w: reaction action %q", ErrInvalidEvent, e.Action)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Kind)
	}
	return nil
}

// Decode parses and checks one pushed message.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	ev := Event{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return Event{}, fmt.Errorf("%w: %s payload: %v", ErrInvalidEvent, env.Event, err)
		}
	}
	ev.Kind = env.Event
	if err := ev.validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Encode renders ev in wire form.
func Encode(ev Event) ([]byte, error) {
	if err := ev.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.Kind, Data: data})
}
