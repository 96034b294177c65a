package comment

import (
	"errors"
	"fmt"
)

const (
	// MaxDepth is the deepest level a rendered reply may sit at. Roots are depth 0.
	MaxDepth = 2

	maxVisualDepth = 3
	indentStep     = 20
)

var ErrDepthCycle = errors.New("comment parent chain contains a cycle")

// Index is an id lookup over the flat comment list of one scope.
type Index map[int64]*Comment

func NewIndex(all []*Comment) Index {
	index := make(Index, len(all))
	for _, c := range all {
		if c != nil {
			index[c.ID] = c
		}
	}
	return index
}

// Depth walks the parent chain of c. The walk stops at a root or at a parent
// missing from the index; revisiting an id fails with ErrDepthCycle.
func (ix Index) Depth(c *Comment) (int, error) {
	depth := 0
	visited := map[int64]struct{}{c.ID: {}}
	current := c
	for current.ParentID != nil {
		parent, ok := ix[*current.ParentID]
		if !ok {
			break
		}
		if _, seen := visited[parent.ID]; seen {
			return depth, fmt.Errorf("comment %d via parent %d: %w", c.ID, parent.ID, ErrDepthCycle)
		}
		visited[parent.ID] = struct{}{}
		depth++
		current = parent
	}
	return depth, nil
}

// Root returns the top-most ancestor of c that is present in the index.
func (ix Index) Root(c *Comment) (*Comment, error) {
	visited := map[int64]struct{}{c.ID: {}}
	current := c
	for current.ParentID != nil {
		parent, ok := ix[*current.ParentID]
		if !ok {
			break
		}
		if _, seen := visited[parent.ID]; seen {
			return nil, fmt.Errorf("comment %d via parent %d: %w", c.ID, parent.ID, ErrDepthCycle)
		}
		visited[parent.ID] = struct{}{}
		current = parent
	}
	return current, nil
}

// RedirectParent picks where a reply to c should attach: c itself while it
// can still take replies, otherwise the root of its thread.
func (ix Index) RedirectParent(c *Comment) (int64, error) {
	depth, err := ix.Depth(c)
	if err != nil {
		return 0, err
	}
	if depth < MaxDepth {
		return c.ID, nil
	}
	root, err := ix.Root(c)
	if err != nil {
		return 0, err
	}
	return root.ID, nil
}

func Depth(c *Comment, all []*Comment) (int, error) {
	return NewIndex(all).Depth(c)
}

func RedirectParent(c *Comment, all []*Comment) (int64, error) {
	return NewIndex(all).RedirectParent(c)
}

func CanReply(depth int) bool {
	return depth < MaxDepth
}

// Indentation is the horizontal offset, in visual units, for a comment at depth.
func Indentation(depth int) int {
	if depth < 0 {
		return 0
	}
	return min(depth, maxVisualDepth) * indentStep
}
