package room

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/collab-service/internal/audit"
	"github.com/weiawesome/wes-io-live/collab-service/internal/cache"
	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/idgen"
	"github.com/weiawesome/wes-io-live/collab-service/internal/ratelimit"
	"github.com/weiawesome/wes-io-live/collab-service/internal/repository"
	"github.com/weiawesome/wes-io-live/collab-service/internal/stream"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

const KindChat = "chat"

// ChatDeps are the collaborators shared by every chat room.
type ChatDeps struct {
	Repo      repository.MessageRepository
	IDs       idgen.Generator
	Publisher stream.Publisher
	RateLimit ratelimit.Config
	CacheTTL  time.Duration
	Limits    domain.Limits

	// LimiterOptions and CacheOptions are applied to every room's limiter
	// and cache.
	LimiterOptions []ratelimit.Option
	CacheOptions   []cache.Option
}

// NewChatFactory returns a Factory for anonymous chat rooms. Each room gets
// its own RateLimiter and ReadCache.
func NewChatFactory(deps ChatDeps) Factory {
	if deps.Publisher == nil {
		deps.Publisher = stream.NopPublisher{}
	}
	if deps.IDs == nil {
		deps.IDs = idgen.NewULIDGenerator()
	}
	return func(a *Actor) Behavior {
		c := &chatRoom{
			actor:   a,
			deps:    deps,
			limiter: ratelimit.New(deps.RateLimit, deps.LimiterOptions...),
		}
		c.cache = cache.NewReadCache(func(ctx context.Context, limit int) ([]domain.Message, error) {
			return deps.Repo.Recent(ctx, a.RoomID(), limit)
		}, deps.CacheTTL, deps.CacheOptions...)
		return c
	}
}

type chatRoom struct {
	actor   *Actor
	deps    ChatDeps
	limiter *ratelimit.Limiter
	cache   *cache.ReadCache
}

// Chat connections carry no identity; senders name themselves per frame.
func (c *chatRoom) Admit(_ context.Context, _ Conn, hint domain.Identity) domain.Identity {
	return hint
}

func (c *chatRoom) OnJoin(ctx context.Context, s *Session) error {
	count := c.actor.Sessions().Len()
	if err := SendTo(s.Conn, domain.NewChatWelcome(count)); err != nil {
		return fmt.Errorf("failed to send welcome: %w", err)
	}
	_, err := c.actor.Broadcast(ctx, domain.NewConnectionsUpdate(count), "")
	return err
}

func (c *chatRoom) OnLeave(ctx context.Context, _ *Session) error {
	_, err := c.actor.Broadcast(ctx, domain.NewConnectionsUpdate(c.actor.Sessions().Len()), "")
	return err
}

func (c *chatRoom) Decode(data []byte) (domain.Inbound, error) {
	return domain.DecodeChat(data, c.deps.Limits)
}

func (c *chatRoom) Handle(ctx context.Context, s *Session, frame domain.Inbound) error {
	switch f := frame.(type) {
	case *domain.SendMessage:
		return c.handleSend(ctx, s, f.MessageDraft)
	case *domain.BatchMessages:
		return c.handleBatch(ctx, s, f.Messages)
	default:
		return fmt.Errorf("unexpected chat frame %s", frame.FrameType())
	}
}

func (c *chatRoom) Recent(ctx context.Context, limit int) ([]domain.Message, error) {
	return c.cache.GetRecent(ctx, limit)
}

func (c *chatRoom) handleSend(ctx context.Context, s *Session, draft domain.MessageDraft) error {
	l := log.Ctx(ctx)

	if !c.limiter.Accept(draft.SenderID) {
		return c.rejectRateLimited(ctx, s, draft.SenderID, 1)
	}

	msg, err := c.newMessage(draft)
	if err != nil {
		return c.replyInternal(s, err)
	}

	stored, err := c.deps.Repo.Append(ctx, msg)
	c.cache.Invalidate()
	if err != nil {
		l.Error().Err(err).Str(log.FieldSenderID, draft.SenderID).Msg("failed to persist message")
		audit.LogWithDetail(ctx, audit.ActionPersistFailed, draft.SenderID, "message not persisted")
		return nil
	}

	c.publish(ctx, stored)
	_, err = c.actor.Broadcast(ctx, domain.NewNewMessage(stored), "")
	return err
}

// handleBatch admits the whole batch or none of it. The first message's
// sender is charged for every message.
func (c *chatRoom) handleBatch(ctx context.Context, s *Session, drafts []domain.MessageDraft) error {
	l := log.Ctx(ctx)

	sender := drafts[0].SenderID
	if len(drafts) > c.limiter.Remaining(sender) {
		return c.rejectRateLimited(ctx, s, sender, len(drafts))
	}
	c.limiter.RecordN(sender, len(drafts))

	ids, err := c.deps.IDs.GenerateBatch(len(drafts))
	if err != nil {
		return c.replyInternal(s, err)
	}
	now := c.actor.Now().UTC()
	msgs := make([]domain.Message, len(drafts))
	for i, d := range drafts {
		msgs[i] = c.buildMessage(ids[i], d, now)
	}

	stored, err := c.deps.Repo.AppendBatch(ctx, msgs)
	c.cache.Invalidate()
	if err != nil {
		l.Error().Err(err).Str(log.FieldSenderID, sender).Int("count", len(msgs)).Msg("failed to persist message batch")
		audit.LogWithDetail(ctx, audit.ActionPersistFailed, sender, "message batch not persisted")
		return nil
	}

	c.publish(ctx, stored...)

	g, gctx := errgroup.WithContext(ctx)
	for _, msg := range stored {
		msg := msg
		g.Go(func() error {
			_, err := c.actor.Broadcast(gctx, domain.NewNewMessage(msg), "")
			return err
		})
	}
	return g.Wait()
}

func (c *chatRoom) rejectRateLimited(ctx context.Context, s *Session, sender string, n int) error {
	remaining := c.limiter.Remaining(sender)
	retryAfter := ceilSeconds(c.limiter.RetryAfter(sender, n))
	audit.LogWithDetail(ctx, audit.ActionRateLimited, sender, "send rejected by rate limit")
	return SendTo(s.Conn, domain.NewRateLimitedMessage(remaining, retryAfter))
}

func (c *chatRoom) replyInternal(s *Session, cause error) error {
	if err := SendTo(s.Conn, domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to send message")); err != nil {
		return err
	}
	return cause
}

func (c *chatRoom) newMessage(draft domain.MessageDraft) (domain.Message, error) {
	id, err := c.deps.IDs.Generate()
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to generate message id: %w", err)
	}
	return c.buildMessage(id, draft, c.actor.Now().UTC()), nil
}

func (c *chatRoom) buildMessage(id string, d domain.MessageDraft, at time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		RoomID:    c.actor.RoomID(),
		SenderID:  d.SenderID,
		Content:   d.Content,
		ReplyToID: d.ReplyToID,
		CreatedAt: at,
	}
}

func (c *chatRoom) publish(ctx context.Context, msgs ...domain.Message) {
	if err := c.deps.Publisher.Publish(ctx, msgs...); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Int("count", len(msgs)).Msg("failed to publish persisted messages")
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
