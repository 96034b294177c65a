package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"portal/threads/internal/comment"
	"portal/threads/internal/commentapi"
	"portal/threads/internal/rbac"
	"portal/threads/internal/realtime"
	"portal/threads/internal/snapshot"
	"portal/threads/internal/thread"
)

func TestOpenScopeWarmStartsFromSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.snapshots.loadFn = func(_ context.Context, scope comment.Scope) (snapshot.Entry, bool, error) {
		return snapshot.Entry{Scope: scope, Comments: []*comment.Comment{{ID: 1, Text: "cached"}}}, true, nil
	}
	var warmSeen bool
	env.student.fetchFn = func(context.Context, comment.Scope, commentapi.PageQuery) (commentapi.Page, error) {
		_, warmSeen = env.service.find(1)
		return commentapi.Page{Comments: []*comment.Comment{
			{ID: 1, Text: "fresh"},
			{ID: 2, ParentID: comment.Ptr(int64(1))},
		}}, nil
	}

	if err := env.service.OpenScope(context.Background(), testScope); err != nil {
		t.Fatalf("open scope: %v", err)
	}
	if !warmSeen {
		t.Fatal("cached comments were not shown before the fetch finished")
	}
	c, ok := env.service.find(1)
	if !ok || c.Text != "fresh" {
		t.Fatalf("forest not refreshed: %+v", c)
	}
	if saved := env.snapshots.Saved(testScope); len(saved) != 2 {
		t.Fatalf("saved %d comments, want 2", len(saved))
	}
}

func TestOpenScopeSurvivesSnapshotFailure(t *testing.T) {
	env := newTestEnv(t)
	env.snapshots.loadFn = func(context.Context, comment.Scope) (snapshot.Entry, bool, error) {
		return snapshot.Entry{}, false, errors.New("redis down")
	}
	env.open(t, &comment.Comment{ID: 1})

	if _, ok := env.service.find(1); !ok {
		t.Fatal("forest not loaded")
	}
}

func TestOpenScopeRejectsInvalidScope(t *testing.T) {
	env := newTestEnv(t)
	err := env.service.OpenScope(context.Background(), comment.Scope{Kind: "poll", ID: 1})
	if !errors.Is(err, commentapi.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(env.student.Calls()) != 0 {
		t.Fatal("binding called for invalid scope")
	}
}

func TestPushedEventsReachForest(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, &comment.Comment{ID: 1}, &comment.Comment{ID: 7})

	updates, unsubscribe := env.service.State().Subscribe()
	defer unsubscribe()

	payload, err := realtime.Encode(realtime.Event{Kind: realtime.KindDeleted, CommentID: 7})
	if err != nil {
		t.Fatal(err)
	}
	env.events.sub(testScope).messages <- payload

	select {
	case forest := <-updates:
		if _, _, ok := comment.Find(forest.Roots, 7); ok {
			t.Fatal("comment 7 still present")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not applied")
	}
}

func TestSwitchingScopeClosesPreviousFeed(t *testing.T) {
	env := newTestEnv(t)
	env.open(t)
	first := env.events.sub(testScope)

	other := comment.Scope{Kind: comment.ScopeCalendarEvent, ID: 3}
	if err := env.service.OpenScope(context.Background(), other); err != nil {
		t.Fatalf("open scope: %v", err)
	}
	select {
	case <-first.closed:
	default:
		t.Fatal("previous subscription still open")
	}
	if env.events.sub(other) == nil {
		t.Fatal("new scope not subscribed")
	}
}

func TestConcurrentScopeSwitchesKeepOneFeed(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			scope := comment.Scope{Kind: comment.ScopeAnnouncement, ID: id}
			if err := env.service.OpenScope(context.Background(), scope); err != nil {
				t.Errorf("open %s: %v", scope, err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if n := env.events.live(); n != 1 {
		t.Fatalf("live feeds = %d, want 1", n)
	}
	held := env.service.State().Snapshot().Scope
	sub := env.events.sub(held)
	if sub == nil {
		t.Fatalf("held scope %s has no feed", held)
	}
	select {
	case <-sub.closed:
		t.Fatalf("feed for held scope %s was closed", held)
	default:
	}
}

func TestAdminMayActThroughStudentBinding(t *testing.T) {
	env := newTestEnvAs(t, testAdmin)
	env.open(t)

	if _, err := env.service.Create(context.Background(), "student", thread.CreateRequest{Text: "notice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if calls := env.student.Calls(); len(calls) != 1 || calls[0] != "create" {
		t.Fatalf("student calls = %v", calls)
	}
	for _, call := range env.admin.Calls() {
		if call == "create" {
			t.Fatal("admin binding used despite student hint")
		}
	}
}

func TestStudentCannotEditOthersComment(t *testing.T) {
	others := &comment.Comment{ID: 1, Author: comment.Author{ActorType: rbac.RoleStudent, ActorID: 99}}
	env := newTestEnv(t)
	env.open(t, others)

	for _, hint := range []string{"", "student", "admin"} {
		if _, err := env.service.Edit(context.Background(), hint, 1, "mine now"); !errors.Is(err, commentapi.ErrAuth) {
			t.Fatalf("hint %q: expected auth error, got %v", hint, err)
		}
	}
	if hasCall(env.student, "edit") || hasCall(env.admin, "edit") {
		t.Fatal("edit reached a binding")
	}

	admin := newTestEnvAs(t, testAdmin)
	admin.open(t, others)
	if _, err := admin.service.Edit(context.Background(), "", 1, "moderated"); err != nil {
		t.Fatalf("admin edit: %v", err)
	}
	if !hasCall(admin.admin, "edit") {
		t.Fatalf("admin calls = %v", admin.admin.Calls())
	}
}

func TestRoleHintCannotEscalate(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, &comment.Comment{ID: 1, Author: comment.Author{ActorType: rbac.RoleStudent, ActorID: 99}})

	err := env.service.Delete(context.Background(), "admin", 1)
	if !errors.Is(err, commentapi.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := env.service.Create(context.Background(), "admin", thread.CreateRequest{Text: "hi"}); !errors.Is(err, commentapi.ErrAuth) {
		t.Fatalf("create with admin hint: expected auth error, got %v", err)
	}
	if calls := env.admin.Calls(); len(calls) != 0 {
		t.Fatalf("admin binding called: %v", calls)
	}
}

func TestAdminHintedToStudentCannotModerate(t *testing.T) {
	env := newTestEnvAs(t, testAdmin)
	env.open(t, &comment.Comment{ID: 1, Author: comment.Author{ActorType: rbac.RoleStudent, ActorID: 99}})

	if err := env.service.Delete(context.Background(), "student", 1); !errors.Is(err, commentapi.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if err := env.service.Delete(context.Background(), "", 1); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestOwnCommentStaysOwnedUnderHint(t *testing.T) {
	env := newTestEnvAs(t, testAdmin)
	env.open(t)
	var author comment.Author
	env.student.createFn = func(context.Context, commentapi.CreateInput) (*comment.Comment, error) {
		author = env.service.State().Snapshot().Roots[0].Author
		return &comment.Comment{ID: 50}, nil
	}

	if _, err := env.service.Create(context.Background(), "student", thread.CreateRequest{Text: "posted as student"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if author.ActorType != rbac.RoleAdmin || author.ActorID != testAdmin.ActorID {
		t.Fatalf("placeholder author = %+v, want the admin viewer", author)
	}
	if !env.service.ownedBy(&comment.Comment{Author: author}) {
		t.Fatal("viewer's own comment not recognised as theirs")
	}
}

func TestAuthorMayDeleteOwnReply(t *testing.T) {
	env := newTestEnv(t)
	env.open(t,
		&comment.Comment{ID: 1},
		&comment.Comment{ID: 2, ParentID: comment.Ptr(int64(1)), Author: comment.Author{ActorType: rbac.RoleStudent, ActorID: 42}},
	)

	if err := env.service.Delete(context.Background(), "", 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestFlagOwnCommentRejected(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, &comment.Comment{ID: 1, Author: comment.Author{ActorType: rbac.RoleStudent, ActorID: 42}})

	err := env.service.Flag(context.Background(), "", 1, "spam")
	if !errors.Is(err, commentapi.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, call := range env.student.Calls() {
		if call == "flag" {
			t.Fatal("flag reached the binding")
		}
	}
}

func TestForestView(t *testing.T) {
	env := newTestEnv(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.open(t,
		&comment.Comment{ID: 1, CreatedAt: created, Author: comment.Author{ActorType: rbac.RoleStudent, ActorID: 42}},
		&comment.Comment{ID: 2, ParentID: comment.Ptr(int64(1)), CreatedAt: created},
		&comment.Comment{ID: 3, ParentID: comment.Ptr(int64(2)), CreatedAt: created},
	)

	view := env.service.Forest()
	if view.Scope == nil || *view.Scope != testScope || view.Count != 3 {
		t.Fatalf("scope=%v count=%d", view.Scope, view.Count)
	}
	a := view.Roots[0]
	b := a.Replies[0]
	c := b.Replies[0]
	tests := []struct {
		name     string
		node     NodeView
		depth    int
		canReply bool
		indent   int
	}{
		{"root", a, 0, true, 0},
		{"reply", b, 1, true, 20},
		{"deepest", c, 2, false, 40},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.node.Depth != tc.depth || tc.node.CanReply != tc.canReply || tc.node.Indent != tc.indent {
				t.Fatalf("depth=%d canReply=%v indent=%d", tc.node.Depth, tc.node.CanReply, tc.node.Indent)
			}
			if tc.node.Relative != "earlier" {
				t.Fatalf("relative=%q", tc.node.Relative)
			}
		})
	}
	if !a.Mine || b.Mine {
		t.Fatalf("ownership: a=%v b=%v", a.Mine, b.Mine)
	}
}

func TestPermissions(t *testing.T) {
	student := newTestEnv(t)
	admin := newTestEnvAs(t, testAdmin)

	tests := []struct {
		name     string
		env      *testEnv
		hint     string
		comment  bool
		moderate bool
	}{
		{"student", student, "", true, false},
		{"student hinting admin", student, "admin", false, false},
		{"admin", admin, "", true, true},
		{"admin hinting student", admin, "student", true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			perms := tc.env.service.Permissions(tc.hint)
			if perms[rbac.ActionComment] != tc.comment || perms[rbac.ActionModerate] != tc.moderate {
				t.Fatalf("permissions = %v", perms)
			}
		})
	}
}

func TestRunStopsFeed(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.service.Run(ctx)
		close(done)
	}()
	env.open(t)
	sub := env.events.sub(testScope)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	select {
	case <-sub.closed:
	default:
		t.Fatal("feed still open after Run returned")
	}
}
