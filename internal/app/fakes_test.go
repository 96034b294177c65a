package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"portal/threads/internal/clock"
	"portal/threads/internal/comment"
	"portal/threads/internal/commentapi"
	"portal/threads/internal/rbac"
	"portal/threads/internal/session"
	"portal/threads/internal/snapshot"
)

type fakeBinding struct {
	mu        sync.Mutex
	calls     []string
	fetchFn   func(context.Context, comment.Scope, commentapi.PageQuery) (commentapi.Page, error)
	createFn  func(context.Context, commentapi.CreateInput) (*comment.Comment, error)
	editFn    func(context.Context, int64, string) (*comment.Comment, error)
	deleteFn  func(context.Context, int64) error
	reactFn   func(context.Context, int64, string) error
	unreactFn func(context.Context, int64) error
	flagFn    func(context.Context, int64, string) error
}

func (f *fakeBinding) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeBinding) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func hasCall(f *fakeBinding, op string) bool {
	for _, call := range f.Calls() {
		if call == op {
			return true
		}
	}
	return false
}

func (f *fakeBinding) Fetch(ctx context.Context, scope comment.Scope, query commentapi.PageQuery) (commentapi.Page, error) {
	f.record("fetch")
	if f.fetchFn != nil {
		return f.fetchFn(ctx, scope, query)
	}
	return commentapi.Page{}, nil
}
func (f *fakeBinding) Create(ctx context.Context, input commentapi.CreateInput) (*comment.Comment, error) {
	f.record("create")
	if f.createFn != nil {
		return f.createFn(ctx, input)
	}
	return &comment.Comment{ID: 500, Text: input.Text}, nil
}
func (f *fakeBinding) Edit(ctx context.Context, id int64, text string) (*comment.Comment, error) {
	f.record("edit")
	if f.editFn != nil {
		return f.editFn(ctx, id, text)
	}
	return &comment.Comment{ID: id, Text: text}, nil
}
func (f *fakeBinding) Delete(ctx context.Context, id int64) error {
	f.record("delete")
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}
func (f *fakeBinding) React(ctx context.Context, id int64, reactionID string) error {
	f.record("react")
	if f.reactFn != nil {
		return f.reactFn(ctx, id, reactionID)
	}
	return nil
}
func (f *fakeBinding) Unreact(ctx context.Context, id int64) error {
	f.record("unreact")
	if f.unreactFn != nil {
		return f.unreactFn(ctx, id)
	}
	return nil
}
func (f *fakeBinding) Flag(ctx context.Context, id int64, reason string) error {
	f.record("flag")
	if f.flagFn != nil {
		return f.flagFn(ctx, id, reason)
	}
	return nil
}

type fakeSnapshots struct {
	mu     sync.Mutex
	saved  map[comment.Scope][]*comment.Comment
	loadFn func(context.Context, comment.Scope) (snapshot.Entry, bool, error)
	pingFn func(context.Context) error
}

func (f *fakeSnapshots) Save(_ context.Context, scope comment.Scope, flat []*comment.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[comment.Scope][]*comment.Comment)
	}
	f.saved[scope] = flat
	return nil
}

func (f *fakeSnapshots) Saved(scope comment.Scope) []*comment.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[scope]
}

func (f *fakeSnapshots) Load(ctx context.Context, scope comment.Scope) (snapshot.Entry, bool, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, scope)
	}
	return snapshot.Entry{}, false, nil
}

func (f *fakeSnapshots) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSubscription struct {
	messages chan []byte
	closed   chan struct{}
	once     sync.Once
}

func (f *fakeSubscription) Run(ctx context.Context, handle func([]byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.closed:
			return
		case msg := <-f.messages:
			handle(msg)
		}
	}
}

func (f *fakeSubscription) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeEvents struct {
	mu   sync.Mutex
	subs map[comment.Scope]*fakeSubscription
	all  []*fakeSubscription
}

func (f *fakeEvents) Subscribe(_ context.Context, scope comment.Scope) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[comment.Scope]*fakeSubscription)
	}
	sub := &fakeSubscription{messages: make(chan []byte, 4), closed: make(chan struct{})}
	f.subs[scope] = sub
	f.all = append(f.all, sub)
	return sub, nil
}

// live counts subscriptions that have not been closed.
func (f *fakeEvents) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.all {
		select {
		case <-sub.closed:
		default:
			n++
		}
	}
	return n
}

func (f *fakeEvents) sub(scope comment.Scope) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[scope]
}

type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick time.Time
}

func (f *fakeClock) Now() clock.Time {
	return clock.Time{Unix: f.now.Unix(), Timestamp: f.now}
}

func (f *fakeClock) NextTick() clock.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick = f.tick.Add(time.Millisecond)
	return clock.Time{Unix: f.tick.Unix(), Timestamp: f.tick}
}

func (f *fakeClock) Relative(ts time.Time) string {
	if f.now.Sub(ts) < time.Minute {
		return "just now"
	}
	return "earlier"
}

var testScope = comment.Scope{Kind: comment.ScopeAnnouncement, ID: 11}

var testViewer = session.Viewer{Role: rbac.RoleStudent, ActorID: 42, DisplayName: "Ada"}

var testAdmin = session.Viewer{Role: rbac.RoleAdmin, ActorID: 3, DisplayName: "Grace"}

type testEnv struct {
	service   *Service
	student   *fakeBinding
	admin     *fakeBinding
	snapshots *fakeSnapshots
	events    *fakeEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAs(t, testViewer)
}

func newTestEnvAs(t *testing.T, viewer session.Viewer) *testEnv {
	t.Helper()
	env := &testEnv{
		student:   &fakeBinding{},
		admin:     &fakeBinding{},
		snapshots: &fakeSnapshots{},
		events:    &fakeEvents{},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	selector := commentapi.NewSelector(map[rbac.Role]commentapi.Binding{
		rbac.RoleStudent: env.student,
		rbac.RoleAdmin:   env.admin,
	}, rbac.RoleStudent)
	svc, err := New(Deps{
		Selector:  selector,
		Clock:     &fakeClock{now: now, tick: now},
		Snapshots: env.snapshots,
		Events:    env.events,
		Viewer:    viewer,
		Log:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	env.service = svc
	t.Cleanup(svc.closeFeed)
	return env
}

// open makes testScope the held scope with flat as its server-side list.
func (e *testEnv) open(t *testing.T, flat ...*comment.Comment) {
	t.Helper()
	fetch := func(context.Context, comment.Scope, commentapi.PageQuery) (commentapi.Page, error) {
		return commentapi.Page{Comments: flat}, nil
	}
	e.student.fetchFn = fetch
	e.admin.fetchFn = fetch
	if err := e.service.OpenScope(context.Background(), testScope); err != nil {
		t.Fatalf("open scope: %v", err)
	}
}
