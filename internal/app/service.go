// Package app holds the comment scope a UI process is looking at and serves
// it, with the mutation operations, over a local HTTP surface.
package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"portal/threads/internal/comment"
	"portal/threads/internal/commentapi"
	"portal/threads/internal/rbac"
	"portal/threads/internal/realtime"
	"portal/threads/internal/session"
	"portal/threads/internal/snapshot"
	"portal/threads/internal/thread"
)

// SnapshotStore caches the last authoritative list of each scope.
type SnapshotStore interface {
	Save(context.Context, comment.Scope, []*comment.Comment) error
	Load(context.Context, comment.Scope) (snapshot.Entry, bool, error)
	Ping(context.Context) error
}

// Subscription is a live feed of pushed events for one scope.
type Subscription interface {
	Run(ctx context.Context, handle func([]byte))
	Close() error
}

type EventSource interface {
	Subscribe(context.Context, comment.Scope) (Subscription, error)
}

// RedisEvents adapts a Redis subscriber to the service's event source.
func RedisEvents(sub *realtime.RedisSubscriber) EventSource {
	return redisEvents{sub: sub}
}

type redisEvents struct {
	sub *realtime.RedisSubscriber
}

func (r redisEvents) Subscribe(ctx context.Context, scope comment.Scope) (Subscription, error) {
	sub, err := r.sub.Subscribe(ctx, scope)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

type TrustedClock interface {
	thread.Clock
	Relative(time.Time) string
}

type Deps struct {
	Selector  thread.Selector
	Clock     TrustedClock
	Snapshots SnapshotStore
	Events    EventSource
	Viewer    session.Viewer
	PageLimit int
	NodeID    int64
	Log       *zap.Logger
}

type Service struct {
	state        *thread.State
	orchestrator *thread.Orchestrator
	reconciler   *realtime.Reconciler
	clock        TrustedClock
	snapshots    SnapshotStore
	events       EventSource
	viewer       session.Viewer
	log          *zap.Logger

	// openMu serialises scope switches so only one feed is ever live.
	openMu sync.Mutex

	mu       sync.Mutex
	runCtx   context.Context
	stopFeed context.CancelFunc
	feedDone chan struct{}
}

func New(deps Deps) (*Service, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		state:     thread.NewState(),
		clock:     deps.Clock,
		snapshots: deps.Snapshots,
		events:    deps.Events,
		viewer:    deps.Viewer,
		log:       log.Named("service"),
		runCtx:    context.Background(),
	}
	orchestrator, err := thread.NewOrchestrator(s.state, deps.Selector, deps.Clock, log,
		thread.WithPageLimit(deps.PageLimit),
		thread.WithNodeID(deps.NodeID),
		thread.WithFetchObserver(s.saveSnapshot),
	)
	if err != nil {
		return nil, err
	}
	s.orchestrator = orchestrator
	s.reconciler = realtime.NewReconciler(s.state, orchestrator, log)
	return s, nil
}

// Run serves scheduled refreshes until ctx is done, then drops the live feed.
func (s *Service) Run(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.orchestrator.RunRefresher(ctx)
	s.closeFeed()
}

func (s *Service) State() *thread.State {
	return s.state
}

// OpenScope makes scope the held scope. The scope's event feed is joined
// before the cached list is shown and the authoritative list is loaded, so
// no pushed change made during the load is lost.
func (s *Service) OpenScope(ctx context.Context, scope comment.Scope) error {
	if !scope.Valid() {
		return commentapi.Validation("scope kind must be announcement or calendar_event with a positive id")
	}
	s.openMu.Lock()
	defer s.openMu.Unlock()
	s.closeFeed()

	var warm []*comment.Comment
	if s.snapshots != nil {
		entry, ok, err := s.snapshots.Load(ctx, scope)
		switch {
		case err != nil:
			s.log.Warn("snapshot load failed", zap.String("scope", scope.String()), zap.Error(err))
		case ok:
			warm = entry.Comments
			s.log.Debug("warm start from snapshot", zap.String("scope", scope.String()), zap.Int("count", len(warm)), zap.Time("saved_at", entry.SavedAt))
		}
	}

	s.openFeed(ctx, scope)
	ctx, _ = s.withViewer(ctx, "")
	return s.orchestrator.Open(ctx, scope, warm)
}

func (s *Service) openFeed(ctx context.Context, scope comment.Scope) {
	if s.events == nil {
		return
	}
	sub, err := s.events.Subscribe(ctx, scope)
	if err != nil {
		s.log.Warn("live updates unavailable", zap.String("scope", scope.String()), zap.Error(err))
		return
	}

	s.mu.Lock()
	feedCtx, cancel := context.WithCancel(s.runCtx)
	done := make(chan struct{})
	s.stopFeed, s.feedDone = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() { _ = sub.Close() }()
		sub.Run(feedCtx, s.reconciler.HandleMessage)
	}()
}

func (s *Service) closeFeed() {
	s.mu.Lock()
	stop, done := s.stopFeed, s.feedDone
	s.stopFeed, s.feedDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (s *Service) saveSnapshot(ctx context.Context, scope comment.Scope, flat []*comment.Comment) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(ctx, scope, flat); err != nil {
		s.log.Warn("snapshot save failed", zap.String("scope", scope.String()), zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.Ping(ctx)
}

// withViewer attaches the viewer and, when given, the binding hint. A hint
// the viewer's role may not assume is refused.
func (s *Service) withViewer(ctx context.Context, roleHint string) (context.Context, error) {
	ctx = session.WithViewer(ctx, s.viewer)
	role, ok := rbac.Parse(roleHint)
	if !ok {
		return ctx, nil
	}
	if !rbac.CanAssume(s.viewer.Role, role) {
		return ctx, commentapi.Auth("role " + string(s.viewer.Role) + " may not act as " + string(role))
	}
	return session.WithRoleHint(ctx, role), nil
}

// authorize checks action against the viewer's role and, when a hint picked
// another binding, against that binding's role too.
func (s *Service) authorize(ctx context.Context, action rbac.Action) error {
	allowed := rbac.Can(s.viewer.Role, action)
	if hinted, ok := session.RoleHint(ctx); ok {
		allowed = allowed && rbac.Can(hinted, action)
	}
	if !allowed {
		return commentapi.Auth("role may not " + string(action) + " comments")
	}
	return nil
}

func (s *Service) find(id int64) (*comment.Comment, bool) {
	c, _, ok := comment.Find(s.state.Snapshot().Roots, id)
	return c, ok
}

func (s *Service) ownedBy(c *comment.Comment) bool {
	return c.Author.ActorID == s.viewer.ActorID && c.Author.ActorType == s.viewer.Role
}

// requireOwnerOrModerator lets authors change their own comments and
// moderators change anyone's.
func (s *Service) requireOwnerOrModerator(ctx context.Context, id int64) error {
	if err := s.authorize(ctx, rbac.ActionComment); err != nil {
		return err
	}
	c, ok := s.find(id)
	if !ok || s.ownedBy(c) {
		return nil
	}
	return s.authorize(ctx, rbac.ActionModerate)
}

func (s *Service) Create(ctx context.Context, roleHint string, req thread.CreateRequest) (*comment.Comment, error) {
	ctx, err := s.withViewer(ctx, roleHint)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, rbac.ActionComment); err != nil {
		return nil, err
	}
	return s.orchestrator.Create(ctx, req)
}

func (s *Service) Edit(ctx context.Context, roleHint string, id int64, text string) (*comment.Comment, error) {
	ctx, err := s.withViewer(ctx, roleHint)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrModerator(ctx, id); err != nil {
		return nil, err
	}
	return s.orchestrator.Edit(ctx, id, text)
}

func (s *Service) Delete(ctx context.Context, roleHint string, id int64) error {
	ctx, err := s.withViewer(ctx, roleHint)
	if err != nil {
		return err
	}
	if err := s.requireOwnerOrModerator(ctx, id); err != nil {
		return err
	}
	return s.orchestrator.Delete(ctx, id)
}

func (s *Service) React(ctx context.Context, roleHint string, id int64, reactionID string) error {
	ctx, err := s.withViewer(ctx, roleHint)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, rbac.ActionReact); err != nil {
		return err
	}
	return s.orchestrator.React(ctx, id, reactionID)
}

func (s *Service) Unreact(ctx context.Context, roleHint string, id int64) error {
	ctx, err := s.withViewer(ctx, roleHint)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, rbac.ActionReact); err != nil {
		return err
	}
	return s.orchestrator.Unreact(ctx, id)
}

func (s *Service) Flag(ctx context.Context, roleHint string, id int64, reason string) error {
	ctx, err := s.withViewer(ctx, roleHint)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, rbac.ActionFlag); err != nil {
		return err
	}
	if c, ok := s.find(id); ok && s.ownedBy(c) {
		return commentapi.Validation("you cannot flag your own comment")
	}
	return s.orchestrator.Flag(ctx, id, reason)
}

func (s *Service) Refresh(ctx context.Context) error {
	ctx, _ = s.withViewer(ctx, "")
	return s.orchestrator.Refresh(ctx)
}
