package comment

// Build turns the flat, server-ordered comment list of one scope into a
// reply forest. A comment is attached under its parent only when the parent
// is present and can still take replies; anything else is flattened onto the
// root list. The input is left untouched and duplicate ids keep their first
// occurrence.
func Build(flat []*Comment) []*Comment {
	nodes := make(Index, len(flat))
	ordered := make([]*Comment, 0, len(flat))
	for _, c := range flat {
		if c == nil {
			continue
		}
		if _, dup := nodes[c.ID]; dup {
			continue
		}
		node := c.CloneFields()
		node.Replies = []*Comment{}
		nodes[node.ID] = node
		ordered = append(ordered, node)
	}

	roots := make([]*Comment, 0, len(ordered))
	for _, node := range ordered {
		if node.ParentID != nil {
			if parent, ok := nodes[*node.ParentID]; ok && parent.ID != node.ID {
				if depth, err := nodes.Depth(parent); err == nil && CanReply(depth) {
					parent.Replies = append(parent.Replies, node)
					continue
				}
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// Walk visits every rendered comment depth-first in display order. Returning
// false from visit stops the walk.
func Walk(roots []*Comment, visit func(c *Comment, depth int) bool) {
	walk(roots, 0, visit)
}

func walk(list []*Comment, depth int, visit func(*Comment, int) bool) bool {
	for _, c := range list {
		if !visit(c, depth) {
			return false
		}
		if !walk(c.Replies, depth+1, visit) {
			return false
		}
	}
	return true
}

// Find returns the rendered comment with the given id and its depth in the forest.
func Find(roots []*Comment, id int64) (*Comment, int, bool) {
	var (
		found      *Comment
		foundDepth int
	)
	Walk(roots, func(c *Comment, depth int) bool {
		if c.ID == id {
			found, foundDepth = c, depth
			return false
		}
		return true
	})
	return found, foundDepth, found != nil
}

// Flatten lists the rendered comments in display order, without their replies.
func Flatten(roots []*Comment) []*Comment {
	var out []*Comment
	Walk(roots, func(c *Comment, _ int) bool {
		out = append(out, c.CloneFields())
		return true
	})
	return out
}

// RemoveRoot drops a root-level comment. Nested replies are not touched.
func RemoveRoot(roots []*Comment, id int64) ([]*Comment, bool) {
	return removeWhere(roots, func(c *Comment) bool { return c.ID == id })
}

// Remove drops the comment from whichever list in the forest holds it.
func Remove(roots []*Comment, id int64) ([]*Comment, bool) {
	return RemoveMatch(roots, func(c *Comment) bool { return c.ID == id })
}

// RemoveMatch drops the first comment satisfying match, searching the root
// list and then every replies list.
func RemoveMatch(roots []*Comment, match func(*Comment) bool) ([]*Comment, bool) {
	if out, ok := removeWhere(roots, match); ok {
		return out, true
	}
	for _, c := range roots {
		if replies, ok := RemoveMatch(c.Replies, match); ok {
			c.Replies = replies
			return roots, true
		}
	}
	return roots, false
}

func removeWhere(list []*Comment, match func(*Comment) bool) ([]*Comment, bool) {
	for i, c := range list {
		if match(c) {
			out := make([]*Comment, 0, len(list)-1)
			out = append(out, list[:i]...)
			out = append(out, list[i+1:]...)
			return out, true
		}
	}
	return list, false
}
