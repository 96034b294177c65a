package thread

import (
	"context"

	"portal/threads/internal/comment"
)

// command is a local change made ahead of its network call. snapshot and
// apply run together under the state lock; rollback runs under it again if
// the call fails.
type command interface {
	snapshot(roots []*comment.Comment)
	apply(roots []*comment.Comment) ([]*comment.Comment, bool)
	commit(ctx context.Context)
	rollback(roots []*comment.Comment) ([]*comment.Comment, bool)
}

// runOptimistic applies cmd, performs call, and then commits or rolls back.
func (o *Orchestrator) runOptimistic(ctx context.Context, scope comment.Scope, cmd command, call func(context.Context) error) error {
	o.state.Update(scope, func(roots []*comment.Comment) ([]*comment.Comment, bool) {
		cmd.snapshot(roots)
		return cmd.apply(roots)
	})

	if err := call(ctx); err != nil {
		o.state.Update(scope, cmd.rollback)
		return err
	}
	cmd.commit(ctx)
	return nil
}

// createCommand shows a pending placeholder until the server confirms the
// comment. Confirmation triggers a full refresh rather than a local splice.
type createCommand struct {
	placeholder *comment.Comment
	inserted    bool
	onCommit    func()
}

func (c *createCommand) snapshot([]*comment.Comment) {}

func (c *createCommand) apply(roots []*comment.Comment) ([]*comment.Comment, bool) {
	if c.placeholder.ParentID == nil {
		out := make([]*comment.Comment, 0, len(roots)+1)
		out = append(out, c.placeholder.Clone())
		c.inserted = true
		return append(out, roots...), true
	}
	parent, _, ok := comment.Find(roots, *c.placeholder.ParentID)
	if !ok {
		return roots, false
	}
	parent.Replies = append(parent.Replies, c.placeholder.Clone())
	c.inserted = true
	return roots, true
}

func (c *createCommand) commit(context.Context) {
	if c.onCommit != nil {
		c.onCommit()
	}
}

// rollback removes only the placeholder this command inserted.
func (c *createCommand) rollback(roots []*comment.Comment) ([]*comment.Comment, bool) {
	if !c.inserted {
		return roots, false
	}
	id, parentID := c.placeholder.ID, c.placeholder.ParentID
	return comment.RemoveMatch(roots, func(candidate *comment.Comment) bool {
		return candidate.Pending && candidate.ID == id && candidate.HasParent(parentID)
	})
}

// reactionCommand toggles the viewer's reaction on one comment.
type reactionCommand struct {
	id         int64
	reactionID string
	like       bool
	before     *comment.Comment
}

func (c *reactionCommand) snapshot(roots []*comment.Comment) {
	if target, _, ok := comment.Find(roots, c.id); ok {
		c.before = target.CloneFields()
	}
}

func (c *reactionCommand) apply(roots []*comment.Comment) ([]*comment.Comment, bool) {
	target, _, ok := comment.Find(roots, c.id)
	if !ok {
		return roots, false
	}
	if c.like {
		target.React(c.reactionID)
	} else {
		target.Unreact()
	}
	return roots, true
}

func (c *reactionCommand) commit(context.Context) {}

// rollback restores the target's own fields as they were before apply. Its
// replies are left alone so concurrent changes beneath it survive.
func (c *reactionCommand) rollback(roots []*comment.Comment) ([]*comment.Comment, bool) {
	if c.before == nil {
		return roots, false
	}
	target, _, ok := comment.Find(roots, c.id)
	if !ok {
		return roots, false
	}
	target.RestoreFields(c.before)
	return roots, true
}
