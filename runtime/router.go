package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/wire"
	errs "chat-hub/errors"
	"chat-hub/moderation"
	"chat-hub/runtime/workers"

	"github.com/abadojack/whatlanggo"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// SendRequest carries a validated send. Limits mirror the HTTP surface.
type SendRequest struct {
	ChatID  string `validate:"required"`
	Message string `validate:"required,max=2000"`
}

// Router turns accepted sends into durable messages and live deliveries.
//
// The algorithm per send: validate, resolve membership (authoritative,
// never client-asserted), censor, persist, then hand the frame to the
// delivery queue. The caller gets its answer as soon as persistence
// succeeded; fan-out completes asynchronously in accept order, which gives
// FIFO per chat on every recipient connection.
type Router struct {
	log        *slog.Logger
	registry   contract.IRegistry
	membership contract.MembershipResolver
	store      contract.MessageStore
	moderator  *moderation.Moderator
	validate   *validator.Validate
	pending    sync.WaitGroup
	deliveries chan<- workers.Delivery
}

func NewRouter(log *slog.Logger, registry contract.IRegistry,
	membership contract.MembershipResolver, store contract.MessageStore,
	moderator *moderation.Moderator, deliveries chan<- workers.Delivery) *Router {
	return &Router{
		log:        log,
		registry:   registry,
		membership: membership,
		store:      store,
		moderator:  moderator,
		validate:   validator.New(),
		deliveries: deliveries,
	}
}

// Send validates, persists, and schedules delivery of one chat message.
// A recipient with zero live connections is simply skipped at delivery
// time. Persistence failure aborts before any fan-out: a message is never
// delivered live without being durably recorded first.
func (r *Router) Send(ctx context.Context, senderID domain.UserID,
	chatID domain.ChatID, content string) (domain.Message, error) {
	if err := r.validate.Struct(SendRequest{ChatID: string(chatID), Message: content}); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}

	members, err := r.membership.MembersOf(ctx, chatID)
	if err != nil {
		return domain.Message{}, err
	}
	if !lo.Contains(members, senderID) {
		return domain.Message{}, errs.ErrNotAMember
	}

	msg, err := r.store.Persist(ctx, chatID, senderID, r.moderate(content))
	if err != nil {
		return domain.Message{}, err
	}

	frame, err := wire.EncodeMessage(msg)
	if err != nil {
		// Persisted but not deliverable; surfaced in history, not live.
		r.log.Error("Encoding message frame failed", "message", msg.ID, "err", err)
		return msg, nil
	}

	// The sender is a recipient too, so its other devices receive the echo.
	r.schedule(frame, members)
	return msg, nil
}

// Typing fans a typing indicator out to the other chat members. It is
// fire-and-forget: nothing is persisted and resolver failures only reject
// the indicator itself.
func (r *Router) Typing(ctx context.Context, senderID domain.UserID, chatID domain.ChatID) error {
	members, err := r.membership.MembersOf(ctx, chatID)
	if err != nil {
		return err
	}
	if !lo.Contains(members, senderID) {
		return errs.ErrNotAMember
	}

	frame, err := wire.EncodeTyping(chatID, senderID)
	if err != nil {
		return err
	}
	recipients := lo.Filter(members, func(m domain.UserID, _ int) bool { return m != senderID })
	r.schedule(frame, recipients)
	return nil
}

// Drain blocks until every scheduled delivery cycle finished. Called on
// shutdown and by tests that need the fan-out completion signal.
func (r *Router) Drain() {
	r.pending.Wait()
}

func (r *Router) schedule(frame []byte, recipients []domain.UserID) {
	r.pending.Add(1)
	r.deliveries <- workers.Delivery{
		Frame:      frame,
		Recipients: recipients,
		Done:       r.pending.Done,
	}
}

func (r *Router) moderate(content string) string {
	if r.moderator == nil {
		return content
	}
	censored, matched := r.moderator.Censor(content)
	if matched {
		info := whatlanggo.Detect(content)
		r.log.Warn("Censored message content", "lang", info.Lang.Iso6391())
	}
	return censored
}
