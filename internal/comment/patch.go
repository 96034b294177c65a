package comment

import "time"

// Patch is a partial update pushed for an existing comment. Identity, scope,
// parent and the viewer-specific reaction are not patchable.
type Patch struct {
	Text          *string    `json:"text,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	IsFlagged     *bool      `json:"isFlagged,omitempty"`
	FlagReason    *string    `json:"flagReason,omitempty"`
	IsDeleted     *bool      `json:"isDeleted,omitempty"`
	ReactionCount *int       `json:"reactionCount,omitempty"`
	Author        *Author    `json:"author,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Text == nil && p.UpdatedAt == nil && p.IsFlagged == nil && p.FlagReason == nil &&
		p.IsDeleted == nil && p.ReactionCount == nil && p.Author == nil
}

// Stale reports whether the patch predates what c already holds. Patches
// without a timestamp are never stale.
func (p Patch) Stale(c *Comment) bool {
	return p.UpdatedAt != nil && !c.UpdatedAt.IsZero() && p.UpdatedAt.Before(c.UpdatedAt)
}

// ApplyTo merges the patch into c. It returns false, leaving c unchanged,
// when the patch is stale.
func (p Patch) ApplyTo(c *Comment) bool {
	if p.Stale(c) {
		return false
	}
	if p.Text != nil {
		c.Text = *p.Text
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	if p.IsFlagged != nil {
		c.IsFlagged = *p.IsFlagged
	}
	if p.FlagReason != nil {
		c.FlagReason = *p.FlagReason
	}
	if p.IsDeleted != nil {
		c.IsDeleted = *p.IsDeleted
	}
	if p.ReactionCount != nil {
		c.ReactionCount = max(*p.ReactionCount, 0)
	}
	if p.Author != nil {
		c.Author = *p.Author
	}
	return true
}
