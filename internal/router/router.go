// Package router turns decoded client events into persistence and
// deliveries.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"carechat/internal/history"
	"carechat/internal/presence"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// Drop reasons reported by Stats
const (
	DropUnknownType      = "unknown_type"
	DropEmptyBody        = "empty_body"
	DropMissingRecipient = "missing_recipient"
	DropSelfMessage      = "self_message"
	DropMissingSender    = "missing_sender"
	DropMissingPeer      = "missing_peer"
	DropRateLimited      = "rate_limited"
	DropPersistFailed    = "persist_failed"
)

var dropReasons = []string{
	DropUnknownType,
	DropEmptyBody,
	DropMissingRecipient,
	DropSelfMessage,
	DropMissingSender,
	DropMissingPeer,
	DropRateLimited,
	DropPersistFailed,
}

// Options tune router behaviour.
type Options struct {
	// RateLimitPerMinute caps chat messages per user. 0 disables the limit.
	RateLimitPerMinute int
	// ReportPersistErrors sends the sender an error frame when a message
	// could not be saved. Off by default: failed sends are silent.
	ReportPersistErrors bool
}

// Stats counts routed and dropped events.
type Stats struct {
	MessagesPersisted int64            `json:"messages_persisted"`
	Dropped           map[string]int64 `json:"dropped"`
}

// Router implements per-kind event handling.
// ARCHITECTURAL DISCOVERY: Pure routing logic without connection handling;
// delivery goes through the presence registry, durability through the store
type Router struct {
	registry *presence.Registry
	store    interfaces.MessageStore
	history  *history.Service
	limiter  *RateLimiter
	opts     Options
	logger   zerolog.Logger

	persisted atomic.Int64
	dropped   map[string]*atomic.Int64 // fixed key set, read-only after construction
}

// NewRouter creates a router
func NewRouter(registry *presence.Registry, store interfaces.MessageStore, hist *history.Service, opts Options, logger zerolog.Logger) *Router {
	dropped := make(map[string]*atomic.Int64, len(dropReasons))
	for _, reason := range dropReasons {
		dropped[reason] = new(atomic.Int64)
	}

	return &Router{
		registry: registry,
		store:    store,
		history:  hist,
		limiter:  NewRateLimiter(opts.RateLimitPerMinute),
		opts:     opts,
		logger:   logger.With().Str("component", "router").Logger(),
		dropped:  dropped,
	}
}

// Dispatch routes one decoded event from sender. The switch covers every
// InboundEvent implementation. Errors the client should see are answered
// with an error frame on sender only; everything else is dropped quietly.
func (r *Router) Dispatch(ctx context.Context, sender interfaces.Session, event types.InboundEvent) {
	var err error

	switch ev := event.(type) {
	case types.ChatMessageEvent:
		err = r.HandleChatMessage(ctx, sender, ev)
	case types.TypingEvent:
		err = r.HandleTyping(ctx, sender, ev)
	case types.ReadReceiptEvent:
		err = r.HandleReadReceipt(ctx, sender, ev)
	case types.HistoryRequestEvent:
		err = r.HandleHistoryRequest(ctx, sender, ev)
	case types.UnknownEvent:
		r.drop(sender, DropUnknownType, ev.Type)
		return
	default:
		r.logger.Error().Str("event", fmt.Sprintf("%T", event)).Msg("unhandled inbound event")
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimitExceeded):
		r.reply(sender, types.NewErrorFrame(ErrRateLimitExceeded.Error()))
	case errors.Is(err, ErrPersistFailed):
		if r.opts.ReportPersistErrors {
			r.reply(sender, types.NewErrorFrame(ErrPersistFailed.Error()))
		}
	case errors.Is(err, ErrHistoryFailed):
		r.reply(sender, types.NewErrorFrame(ErrHistoryFailed.Error()))
	}
}

// HandleChatMessage persists a message and, once stored, delivers
// new_message to the recipient's group and message_sent to sender.
func (r *Router) HandleChatMessage(ctx context.Context, sender interfaces.Session, ev types.ChatMessageEvent) error {
	from := sender.Identity()

	body := types.NormalizeBody(ev.Message)
	if body == "" {
		r.drop(sender, DropEmptyBody, "")
		return ErrEmptyMessage
	}
	if ev.RecipientID.IsZero() {
		r.drop(sender, DropMissingRecipient, "")
		return ErrMissingRecipient
	}
	if ev.RecipientID == from.UserID {
		r.drop(sender, DropSelfMessage, "")
		return ErrSelfMessage
	}
	if !r.limiter.Allow(from.UserID) {
		r.drop(sender, DropRateLimited, "")
		return ErrRateLimitExceeded
	}

	// ARCHITECTURAL DISCOVERY: Persistence must complete before any delivery;
	// recipients only ever see durable messages
	msg, err := r.store.InsertMessage(ctx, from.UserID, ev.RecipientID, body)
	if err != nil {
		r.dropped[DropPersistFailed].Add(1)
		r.logger.Error().Err(err).
			Str("conn_id", sender.ID()).
			Stringer("user_id", from.UserID).
			Stringer("recipient_id", ev.RecipientID).
			Msg("failed to persist chat message")
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	r.persisted.Add(1)

	delivered := r.registry.FanOut(presence.GroupName(ev.RecipientID), types.NewNewMessage(msg, from.DisplayName))
	r.reply(sender, types.NewMessageSent(msg))

	r.logger.Debug().
		Stringer("message_id", msg.ID).
		Stringer("user_id", from.UserID).
		Stringer("recipient_id", ev.RecipientID).
		Int("delivered", delivered).
		Msg("chat message routed")
	return nil
}

// HandleTyping relays a typing indicator to the recipient's group.
func (r *Router) HandleTyping(_ context.Context, sender interfaces.Session, ev types.TypingEvent) error {
	if ev.RecipientID.IsZero() {
		r.drop(sender, DropMissingRecipient, "")
		return ErrMissingRecipient
	}
	r.registry.FanOut(presence.GroupName(ev.RecipientID), types.NewTyping(sender.Identity(), ev.IsTyping))
	return nil
}

// HandleReadReceipt relays a read receipt to the original sender's group.
// Read state is not stored.
func (r *Router) HandleReadReceipt(_ context.Context, sender interfaces.Session, ev types.ReadReceiptEvent) error {
	if ev.SenderID.IsZero() {
		r.drop(sender, DropMissingSender, "")
		return ErrMissingSender
	}
	r.registry.FanOut(presence.GroupName(ev.SenderID), types.NewReadReceipt(ev.MessageID, sender.Identity().UserID))
	return nil
}

// HandleHistoryRequest answers the requesting session with one history page.
func (r *Router) HandleHistoryRequest(ctx context.Context, sender interfaces.Session, ev types.HistoryRequestEvent) error {
	if ev.OtherUserID.IsZero() {
		r.drop(sender, DropMissingPeer, "")
		return ErrMissingPeer
	}

	messages, err := r.history.Query(ctx, sender.Identity().UserID, ev.OtherUserID, ev.LastID, 0)
	if err != nil {
		r.logger.Error().Err(err).Str("conn_id", sender.ID()).Msg("history query failed")
		return fmt.Errorf("%w: %v", ErrHistoryFailed, err)
	}

	r.reply(sender, types.NewMessageHistory(messages))
	return nil
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	dropped := make(map[string]int64, len(r.dropped))
	for reason, c := range r.dropped {
		dropped[reason] = c.Load()
	}
	return Stats{MessagesPersisted: r.persisted.Load(), Dropped: dropped}
}

// RunMaintenance prunes idle rate limiter state every interval until ctx
// is done.
func (r *Router) RunMaintenance(ctx context.Context, interval time.Duration) {
	if r.limiter == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.limiter.Cleanup(); n > 0 {
				r.logger.Debug().Int("removed", n).Msg("rate limiter cleanup")
			}
		}
	}
}

// reply delivers to the sender's own session. A failed delivery is fatal to
// that session.
func (r *Router) reply(sender interfaces.Session, event types.OutboundEvent) {
	if err := sender.Deliver(event); err != nil {
		r.logger.Warn().Err(err).Str("conn_id", sender.ID()).Str("event", event.EventType()).Msg("reply failed, closing session")
		_ = sender.Close()
	}
}

func (r *Router) drop(sender interfaces.Session, reason, eventType string) {
	r.dropped[reason].Add(1)
	e := r.logger.Debug().Str("conn_id", sender.ID()).Str("reason", reason)
	if eventType != "" {
		e = e.Str("type", eventType)
	}
	e.Msg("event dropped")
}
