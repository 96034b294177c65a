package thread

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"portal/threads/internal/clock"
	"portal/threads/internal/comment"
	"portal/threads/internal/commentapi"
	"portal/threads/internal/session"
)

const (
	defaultPageLimit = 50
	maxPages         = 200
	defaultReaction  = "like"
)

type Selector interface {
	Resolve(ctx context.Context) (commentapi.Binding, error)
}

type Clock interface {
	Now() clock.Time
	NextTick() clock.Time
}

// FetchObserver sees every authoritative flat list fetched for a scope.
type FetchObserver func(ctx context.Context, scope comment.Scope, flat []*comment.Comment)

type CreateRequest struct {
	Text        string
	ParentID    *int64
	IsAnonymous bool
}

type Option func(*Orchestrator)

func WithPageLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.pageLimit = limit
		}
	}
}

func WithFetchObserver(observer FetchObserver) Option {
	return func(o *Orchestrator) {
		o.onFetched = observer
	}
}

func WithNodeID(nodeID int64) Option {
	return func(o *Orchestrator) {
		o.nodeID = nodeID
	}
}

// Orchestrator runs comment mutations against the binding chosen for the
// caller, keeping the forest in State in step with their outcome.
type Orchestrator struct {
	state     *State
	selector  Selector
	clock     Clock
	log       *zap.Logger
	tracer    trace.Tracer
	ids       *snowflake.Node
	nodeID    int64
	pageLimit int
	onFetched FetchObserver
	refreshCh chan struct{}
}

func NewOrchestrator(state *State, selector Selector, clk Clock, log *zap.Logger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		state:     state,
		selector:  selector,
		clock:     clk,
		log:       log.Named("orchestrator"),
		tracer:    otel.Tracer("portal/threads/thread"),
		nodeID:    1,
		pageLimit: defaultPageLimit,
		refreshCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	node, err := snowflake.NewNode(o.nodeID)
	if err != nil {
		return nil, fmt.Errorf("init operation id node: %w", err)
	}
	o.ids = node
	return o, nil
}

func (o *Orchestrator) State() *State {
	return o.state
}

// Open makes scope the held scope, shows warm (an earlier flat list, may be
// empty) immediately and then loads the authoritative list.
func (o *Orchestrator) Open(ctx context.Context, scope comment.Scope, warm []*comment.Comment) error {
	if !scope.Valid() {
		return commentapi.Validation("invalid comment scope")
	}
	o.state.Reset(scope, comment.Build(warm))
	return o.Refresh(ctx)
}

// Refresh fetches every page of the held scope and replaces the forest with
// the result. A scope switch during the fetch discards the result.
func (o *Orchestrator) Refresh(ctx context.Context) (err error) {
	scope := o.state.Snapshot().Scope
	if !scope.Valid() {
		return commentapi.Validation("no comment scope is open")
	}
	ctx, span, log := o.start(ctx, "Refresh", attribute.String("portal.scope", scope.String()))
	defer func() { finish(span, err) }()

	binding, err := o.selector.Resolve(ctx)
	if err != nil {
		return commentapi.Normalize(err)
	}

	var flat []*comment.Comment
	for page := 1; page <= maxPages; page++ {
		result, err := binding.Fetch(ctx, scope, commentapi.PageQuery{
			Page:      page,
			Limit:     o.pageLimit,
			SortBy:    "createdAt",
			SortOrder: "asc",
		})
		if err != nil {
			log.Warn("fetch comments failed", zap.Int("page", page), zap.Error(err))
			return commentapi.Normalize(err)
		}
		flat = append(flat, result.Comments...)
		if result.Last() || len(result.Comments) == 0 {
			break
		}
	}

	if _, ok := o.state.Replace(scope, comment.Build(flat)); !ok {
		log.Debug("scope changed during refresh, result discarded")
		return nil
	}
	log.Debug("comments refreshed", zap.Int("count", len(flat)))
	if o.onFetched != nil {
		o.onFetched(ctx, scope, flat)
	}
	return nil
}

// ScheduleRefresh asks the refresher loop for a refresh. Requests made while
// one is already pending collapse into it.
func (o *Orchestrator) ScheduleRefresh() {
	select {
	case o.refreshCh <- struct{}{}:
	default:
	}
}

// RunRefresher serves ScheduleRefresh until ctx is done.
func (o *Orchestrator) RunRefresher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.refreshCh:
			if err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
				o.log.Warn("scheduled refresh failed", zap.Error(err))
			}
		}
	}
}

// Create posts a comment. A pending placeholder is shown at once: first in
// the root list, or last among its parent's replies. Replies aimed at a
// comment that cannot take more are redirected to the thread root.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (created *comment.Comment, err error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, commentapi.Validation("comment text is required")
	}
	forest := o.state.Snapshot()
	scope := forest.Scope
	if !scope.Valid() {
		return nil, commentapi.Validation("no comment scope is open")
	}
	if req.ParentID != nil {
		if err := o.checkTarget(forest, *req.ParentID); err != nil {
			return nil, err
		}
	}

	ctx, span, log := o.start(ctx, "Create", attribute.String("portal.scope", scope.String()))
	defer func() { finish(span, err) }()

	binding, err := o.selector.Resolve(ctx)
	if err != nil {
		return nil, commentapi.Normalize(err)
	}

	parentID := req.ParentID
	if parentID != nil {
		parentID = o.redirectParent(forest.Roots, *parentID, log)
	}

	tick := o.clock.NextTick()
	placeholder := &comment.Comment{
		ID:        tick.Timestamp.UnixMilli(),
		ParentID:  parentID,
		Author:    o.author(ctx, req.IsAnonymous),
		Text:      text,
		CreatedAt: tick.Timestamp,
		UpdatedAt: tick.Timestamp,
		Pending:   true,
		Replies:   []*comment.Comment{},
	}
	placeholder.SetScope(scope)

	cmd := &createCommand{placeholder: placeholder, onCommit: o.ScheduleRefresh}
	err = o.runOptimistic(ctx, scope, cmd, func(ctx context.Context) error {
		var callErr error
		created, callErr = binding.Create(ctx, commentapi.CreateInput{
			Scope:       scope,
			ParentID:    parentID,
			Text:        text,
			IsAnonymous: req.IsAnonymous,
		})
		return callErr
	})
	if err != nil {
		log.Warn("create comment failed, placeholder rolled back", zap.Int64("placeholder_id", placeholder.ID), zap.Error(err))
		return nil, commentapi.Normalize(err)
	}
	log.Debug("comment created", zap.Int64("placeholder_id", placeholder.ID))
	return created, nil
}

func (o *Orchestrator) redirectParent(roots []*comment.Comment, parentID int64, log *zap.Logger) *int64 {
	index := comment.NewIndex(comment.Flatten(roots))
	parent, ok := index[parentID]
	if !ok {
		return &parentID
	}
	target, err := index.RedirectParent(parent)
	if err != nil {
		log.Warn("reply redirect failed", zap.Int64("parent_id", parentID), zap.Error(err))
		return &parentID
	}
	if target != parentID {
		log.Debug("reply redirected to thread root", zap.Int64("parent_id", parentID), zap.Int64("root_id", target))
	}
	return &target
}

func (o *Orchestrator) author(ctx context.Context, anonymous bool) comment.Author {
	author := comment.Author{IsAnonymous: anonymous}
	if viewer, ok := session.ViewerFrom(ctx); ok {
		author.ActorType = viewer.Role
		author.ActorID = viewer.ActorID
		author.DisplayName = viewer.DisplayName
		author.AvatarRef = viewer.AvatarRef
	}
	return author
}

// React applies the viewer's reaction optimistically.
func (o *Orchestrator) React(ctx context.Context, id int64, reactionID string) error {
	if reactionID = strings.TrimSpace(reactionID); reactionID == "" {
		reactionID = defaultReaction
	}
	return o.toggleReaction(ctx, "React", &reactionCommand{id: id, reactionID: reactionID, like: true},
		func(ctx context.Context, binding commentapi.Binding) error {
			return binding.React(ctx, id, reactionID)
		})
}

// Unreact clears the viewer's reaction optimistically.
func (o *Orchestrator) Unreact(ctx context.Context, id int64) error {
	return o.toggleReaction(ctx, "Unreact", &reactionCommand{id: id},
		func(ctx context.Context, binding commentapi.Binding) error {
			return binding.Unreact(ctx, id)
		})
}

func (o *Orchestrator) toggleReaction(ctx context.Context, op string, cmd *reactionCommand, call func(context.Context, commentapi.Binding) error) (err error) {
	forest := o.state.Snapshot()
	if err := o.checkTarget(forest, cmd.id); err != nil {
		return err
	}

	ctx, span, log := o.start(ctx, op, attribute.Int64("portal.comment_id", cmd.id))
	defer func() { finish(span, err) }()

	binding, err := o.selector.Resolve(ctx)
	if err != nil {
		return commentapi.Normalize(err)
	}
	err = o.runOptimistic(ctx, forest.Scope, cmd, func(ctx context.Context) error {
		return call(ctx, binding)
	})
	if err != nil {
		log.Warn("reaction failed, rolled back", zap.Int64("comment_id", cmd.id), zap.Error(err))
		return commentapi.Normalize(err)
	}
	return nil
}

// Edit replaces a comment's text once the server accepts it.
func (o *Orchestrator) Edit(ctx context.Context, id int64, text string) (edited *comment.Comment, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, commentapi.Validation("comment text is required")
	}
	forest := o.state.Snapshot()
	if err := o.checkTarget(forest, id); err != nil {
		return nil, err
	}

	ctx, span, log := o.start(ctx, "Edit", attribute.Int64("portal.comment_id", id))
	defer func() { finish(span, err) }()

	binding, err := o.selector.Resolve(ctx)
	if err != nil {
		return nil, commentapi.Normalize(err)
	}
	edited, err = binding.Edit(ctx, id, text)
	if err != nil {
		log.Warn("edit comment failed", zap.Int64("comment_id", id), zap.Error(err))
		return nil, commentapi.Normalize(err)
	}

	updatedAt := o.clock.Now().Timestamp
	if edited != nil && !edited.UpdatedAt.IsZero() {
		updatedAt = edited.UpdatedAt
	}
	o.state.Update(forest.Scope, func(roots []*comment.Comment) ([]*comment.Comment, bool) {
		target, _, ok := comment.Find(roots, id)
		if !ok {
			return roots, false
		}
		target.Text = text
		target.UpdatedAt = updatedAt
		return roots, true
	})
	return edited, nil
}

// Delete removes a comment. Locally only root comments are dropped; nested
// replies disappear with the next refresh or push event.
func (o *Orchestrator) Delete(ctx context.Context, id int64) (err error) {
	forest := o.state.Snapshot()
	if err := o.checkTarget(forest, id); err != nil {
		return err
	}

	ctx, span, log := o.start(ctx, "Delete", attribute.Int64("portal.comment_id", id))
	defer func() { finish(span, err) }()

	binding, err := o.selector.Resolve(ctx)
	if err != nil {
		return commentapi.Normalize(err)
	}
	if err := binding.Delete(ctx, id); err != nil {
		log.Warn("delete comment failed", zap.Int64("comment_id", id), zap.Error(err))
		return commentapi.Normalize(err)
	}
	o.state.Update(forest.Scope, func(roots []*comment.Comment) ([]*comment.Comment, bool) {
		return comment.RemoveRoot(roots, id)
	})
	return nil
}

// Flag reports a comment for moderation.
func (o *Orchestrator) Flag(ctx context.Context, id int64, reason string) (err error) {
	reason = strings.TrimSpace(reason)
	forest := o.state.Snapshot()
	if err := o.checkTarget(forest, id); err != nil {
		return err
	}

	ctx, span, log := o.start(ctx, "Flag", attribute.Int64("portal.comment_id", id))
	defer func() { finish(span, err) }()

	binding, err := o.selector.Resolve(ctx)
	if err != nil {
		return commentapi.Normalize(err)
	}
	if err := binding.Flag(ctx, id, reason); err != nil {
		log.Warn("flag comment failed", zap.Int64("comment_id", id), zap.Error(err))
		return commentapi.Normalize(err)
	}
	o.state.Update(forest.Scope, func(roots []*comment.Comment) ([]*comment.Comment, bool) {
		target, _, ok := comment.Find(roots, id)
		if !ok {
			return roots, false
		}
		target.IsFlagged = true
		target.FlagReason = reason
		return roots, true
	})
	return nil
}

// checkTarget rejects ids that cannot name a server comment.
func (o *Orchestrator) checkTarget(forest *Forest, id int64) error {
	if id <= 0 {
		return commentapi.Validation("comment id is required")
	}
	if target, _, ok := comment.Find(forest.Roots, id); ok && target.Pending {
		return commentapi.Validation("comment is still being posted")
	}
	return nil
}

func (o *Orchestrator) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, *zap.Logger) {
	opID := o.ids.Generate().String()
	attrs = append(attrs, attribute.String("portal.op_id", opID))
	ctx, span := o.tracer.Start(ctx, "thread."+op, trace.WithAttributes(attrs...))
	return ctx, span, o.log.With(zap.String("op", op), zap.String("op_id", opID))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
