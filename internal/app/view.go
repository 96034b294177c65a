package app

import (
	"context"
	"time"

	"portal/threads/internal/comment"
	"portal/threads/internal/rbac"
)

// NodeView is a comment as the UI renders it.
type NodeView struct {
	ID             int64          `json:"id"`
	ParentID       *int64         `json:"parentId"`
	Author         comment.Author `json:"author"`
	Text           string         `json:"text"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	IsFlagged      bool           `json:"isFlagged"`
	FlagReason     string         `json:"flagReason,omitempty"`
	IsDeleted      bool           `json:"isDeleted"`
	ReactionCount  int            `json:"reactionCount"`
	ViewerReaction *string        `json:"viewerReaction"`
	Pending        bool           `json:"pending"`
	Depth          int            `json:"depth"`
	CanReply       bool           `json:"canReply"`
	Indent         int            `json:"indent"`
	Relative       string         `json:"relative"`
	Mine           bool           `json:"mine"`
	Replies        []NodeView     `json:"replies"`
}

type ForestView struct {
	Scope   *comment.Scope `json:"scope"`
	Version uint64         `json:"version"`
	Count   int            `json:"count"`
	Roots   []NodeView     `json:"roots"`
}

// Forest renders the current forest.
func (s *Service) Forest() ForestView {
	forest := s.state.Snapshot()
	view := ForestView{Version: forest.Version, Roots: []NodeView{}}
	if forest.Scope.Valid() {
		scope := forest.Scope
		view.Scope = &scope
	}
	view.Roots, view.Count = s.nodes(forest.Roots, 0)
	return view
}

func (s *Service) nodes(list []*comment.Comment, depth int) ([]NodeView, int) {
	out := make([]NodeView, 0, len(list))
	count := 0
	for _, c := range list {
		replies, n := s.nodes(c.Replies, depth+1)
		count += n + 1
		out = append(out, NodeView{
			ID:             c.ID,
			ParentID:       c.ParentID,
			Author:         c.Author,
			Text:           c.Text,
			CreatedAt:      c.CreatedAt,
			UpdatedAt:      c.UpdatedAt,
			IsFlagged:      c.IsFlagged,
			FlagReason:     c.FlagReason,
			IsDeleted:      c.IsDeleted,
			ReactionCount:  c.ReactionCount,
			ViewerReaction: c.ViewerReaction,
			Pending:        c.Pending,
			Depth:          depth,
			CanReply:       comment.CanReply(depth) && !c.Pending && !c.IsDeleted,
			Indent:         comment.Indentation(depth),
			Relative:       s.relative(c.CreatedAt),
			Mine:           s.ownedBy(c),
			Replies:        replies,
		})
	}
	return out, count
}

func (s *Service) relative(ts time.Time) string {
	if s.clock == nil || ts.IsZero() {
		return ""
	}
	return s.clock.Relative(ts)
}

// Permissions lists what the viewer may do through the hinted binding, for
// UI affordances. A hint the viewer may not assume grants nothing.
func (s *Service) Permissions(roleHint string) map[rbac.Action]bool {
	ctx, err := s.withViewer(context.Background(), roleHint)
	out := make(map[rbac.Action]bool)
	for _, action := range []rbac.Action{rbac.ActionRead, rbac.ActionComment, rbac.ActionReact, rbac.ActionFlag, rbac.ActionModerate} {
		out[action] = err == nil && s.authorize(ctx, action) == nil
	}
	return out
}
