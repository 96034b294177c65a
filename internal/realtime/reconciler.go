package realtime

import (
	"go.uber.org/zap"

	"portal/threads/internal/comment"
	"portal/threads/internal/thread"
)

// Refresher reloads the held scope from the backend.
type Refresher interface {
	ScheduleRefresh()
}

// Reconciler applies pushed events to the held forest. Every handler is an
// idempotent upsert keyed by comment id, so duplicated or reordered delivery
// converges. Nothing it does is reported back as an error; the next refresh
// is always authoritative.
type Reconciler struct {
	state     *thread.State
	refresher Refresher
	log       *zap.Logger
}

func NewReconciler(state *thread.State, refresher Refresher, log *zap.Logger) *Reconciler {
	return &Reconciler{state: state, refresher: refresher, log: log.Named("reconciler")}
}

// HandleMessage decodes raw and applies it. Malformed messages are logged
// and dropped.
func (r *Reconciler) HandleMessage(raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		r.log.Warn("dropping malformed event", zap.Error(err), zap.ByteString("payload", truncate(raw, 256)))
		return
	}
	r.Apply(ev)
}

// Apply merges ev into the forest and reports whether it had any effect.
func (r *Reconciler) Apply(ev Event) bool {
	if err := ev.validate(); err != nil {
		r.log.Warn("dropping invalid event", zap.Error(err))
		return false
	}
	held := r.state.Snapshot().Scope
	if scope, ok := ev.Scope(); ok && scope != held {
		r.log.Debug("event for another scope ignored",
			zap.String("event", string(ev.Kind)),
			zap.String("scope", scope.String()),
			zap.String("held_scope", held.String()))
		return false
	}

	var applied bool
	switch ev.Kind {
	case KindAdded:
		applied = r.added(held)
	case KindUpdated:
		applied = r.update(held, ev, func(c *comment.Comment) bool {
			if ev.Updates.Empty() {
				return false
			}
			if ev.Updates.Stale(c) {
				r.log.Debug("stale update rejected", zap.Int64("comment_id", c.ID))
				return false
			}
			return ev.Updates.ApplyTo(c)
		})
	case KindDeleted:
		_, applied = r.state.Update(held, func(roots []*comment.Comment) ([]*comment.Comment, bool) {
			return comment.Remove(roots, ev.CommentID)
		})
	case KindReactionUpdated:
		applied = r.update(held, ev, func(c *comment.Comment) bool {
			return applyReaction(c, ev)
		})
	}

	if !applied {
		r.log.Debug("event had no effect",
			zap.String("event", string(ev.Kind)),
			zap.Int64("comment_id", ev.CommentID))
	}
	return applied
}

func (r *Reconciler) added(held comment.Scope) bool {
	if !held.Valid() || r.refresher == nil {
		return false
	}
	r.refresher.ScheduleRefresh()
	return true
}

func (r *Reconciler) update(held comment.Scope, ev Event, fn func(*comment.Comment) bool) bool {
	_, applied := r.state.Update(held, func(roots []*comment.Comment) ([]*comment.Comment, bool) {
		target, _, ok := comment.Find(roots, ev.CommentID)
		if !ok {
			return roots, false
		}
		return roots, fn(target)
	})
	return applied
}

// applyReaction moves the count by one. Events about the viewer's own
// reaction also drive viewerReaction, and are skipped when the forest
// already shows that state, which is the case for the echo of an
// optimistic toggle.
func applyReaction(c *comment.Comment, ev Event) bool {
	if ev.IsCurrentUser {
		// reactionCount moves only with a viewerReaction transition, so the
		// count never double-increments for a viewer who already reacted.
		switch {
		case ev.Action == ReactionAdded && c.ViewerReaction != nil:
			return false
		case ev.Action == ReactionRemoved && c.ViewerReaction == nil:
			return false
		case ev.Action == ReactionAdded:
			reactionID := ev.ReactionID
			if reactionID == "" {
				reactionID = "like"
			}
			c.React(reactionID)
		default:
			c.Unreact()
		}
		return true
	}

	before := c.ReactionCount
	if ev.Action == ReactionAdded {
		c.AdjustReactions(1)
	} else {
		c.AdjustReactions(-1)
	}
	return c.ReactionCount != before
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
