package comment

import (
	"math/rand"
	"reflect"
	"testing"
)

func treeParents(roots []*Comment) map[int64]int64 {
	parents := make(map[int64]int64)
	var visit func(list []*Comment, parent int64)
	visit = func(list []*Comment, parent int64) {
		for _, c := range list {
			parents[c.ID] = parent
			visit(c.Replies, c.ID)
		}
	}
	visit(roots, 0)
	return parents
}

func TestBuildFlattensOverflow(t *testing.T) {
	flat := []*Comment{node(1, 0), node(2, 1), node(3, 2), node(4, 3), node(5, 0)}
	roots := Build(flat)

	if len(roots) != 3 {
		t.Fatalf("roots = %d, want 3", len(roots))
	}
	if roots[0].ID != 1 || roots[1].ID != 4 || roots[2].ID != 5 {
		t.Fatalf("root order = %d,%d,%d", roots[0].ID, roots[1].ID, roots[2].ID)
	}
	b := roots[0].Replies[0]
	if b.ID != 2 || len(b.Replies) != 1 || b.Replies[0].ID != 3 {
		t.Fatalf("unexpected nesting under root 1: %+v", b)
	}
	if got := b.Replies[0].Replies; got == nil || len(got) != 0 {
		t.Fatalf("depth-2 replies = %v, want empty list", got)
	}
}

func TestBuildOrphansAndCyclesBecomeRoots(t *testing.T) {
	flat := []*Comment{node(1, 99), node(2, 3), node(3, 2), node(4, 4), node(5, 2)}
	roots := Build(flat)
	parents := treeParents(roots)
	for _, id := range []int64{1, 2, 3, 4, 5} {
		if parents[id] != 0 {
			t.Fatalf("comment %d attached under %d, want root", id, parents[id])
		}
	}
}

func TestBuildLeavesInputUntouched(t *testing.T) {
	flat := []*Comment{node(1, 0), node(2, 1)}
	Build(flat)
	for _, c := range flat {
		if c.Replies != nil {
			t.Fatalf("input comment %d gained replies", c.ID)
		}
	}
}

func TestBuildSkipsDuplicateIDs(t *testing.T) {
	first := node(1, 0)
	first.Text = "first"
	second := node(1, 0)
	second.Text = "second"
	roots := Build([]*Comment{first, second})
	if len(roots) != 1 || roots[0].Text != "first" {
		t.Fatalf("roots = %+v", roots)
	}
}

func randomFlat(seed int64, n int) []*Comment {
	rng := rand.New(rand.NewSource(seed))
	flat := make([]*Comment, 0, n)
	for id := int64(1); id <= int64(n); id++ {
		c := node(id, 0)
		switch roll := rng.Intn(10); {
		case roll < 3 || id == 1:
		case roll == 9:
			c.ParentID = Ptr(int64(n + rng.Intn(n) + 1))
		default:
			c.ParentID = Ptr(int64(rng.Intn(int(id-1)) + 1))
		}
		flat = append(flat, c)
	}
	return flat
}

func TestBuildDepthBound(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		roots := Build(randomFlat(seed, 150))
		count := 0
		Walk(roots, func(c *Comment, depth int) bool {
			count++
			if depth > MaxDepth {
				t.Fatalf("seed %d: comment %d at depth %d", seed, c.ID, depth)
			}
			if depth == MaxDepth && len(c.Replies) != 0 {
				t.Fatalf("seed %d: comment %d at max depth has %d replies", seed, c.ID, len(c.Replies))
			}
			return true
		})
		if count != 150 {
			t.Fatalf("seed %d: forest holds %d comments, want 150", seed, count)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	flat := randomFlat(42, 80)
	if !reflect.DeepEqual(Build(flat), Build(flat)) {
		t.Fatal("two builds of the same list differ")
	}

	shuffled := make([]*Comment, len(flat))
	copy(shuffled, flat)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if got, want := treeParents(Build(shuffled)), treeParents(Build(flat)); !reflect.DeepEqual(got, want) {
		t.Fatal("permuted input produced a different tree structure")
	}
}

func TestFindAndRemove(t *testing.T) {
	roots := Build([]*Comment{node(1, 0), node(2, 1), node(3, 2), node(4, 0)})

	c, depth, ok := Find(roots, 3)
	if !ok || c.ID != 3 || depth != 2 {
		t.Fatalf("Find(3) = %v, %d, %v", c, depth, ok)
	}

	if _, removed := RemoveRoot(roots, 2); removed {
		t.Fatal("RemoveRoot removed a nested reply")
	}
	roots, removed := Remove(roots, 3)
	if !removed {
		t.Fatal("Remove(3) found nothing")
	}
	if _, _, ok := Find(roots, 3); ok {
		t.Fatal("comment 3 still present")
	}
	roots, removed = RemoveRoot(roots, 4)
	if !removed || len(roots) != 1 {
		t.Fatalf("RemoveRoot(4) = %v, roots = %d", removed, len(roots))
	}
	if flat := Flatten(roots); len(flat) != 2 {
		t.Fatalf("Flatten = %d comments, want 2", len(flat))
	}
}
