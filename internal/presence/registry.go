// Package presence tracks which live sessions belong to which user group.
package presence

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

const groupPrefix = "chat_group_"

// GroupName returns the delivery group shared by every session of userID.
func GroupName(userID types.ID) string {
	return groupPrefix + userID.String()
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Groups      int `json:"groups"`
	Connections int `json:"connections"`
}

// Registry maps group names to their member sessions.
// ARCHITECTURAL DISCOVERY: Pure membership tracking without business logic;
// routing decisions live in the router, transport in the websocket package
type Registry struct {
	mu     sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out
	groups map[string]map[interfaces.Session]struct{}
	logger zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		groups: make(map[string]map[interfaces.Session]struct{}),
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// Join adds session to group. A user may hold any number of sessions in
// the same group at once. Joining twice is a no-op.
func (r *Registry) Join(group string, session interfaces.Session) error {
	if session == nil {
		return ErrNilSession
	}
	if group == "" {
		return ErrEmptyGroup
	}

	r.mu.Lock()
	members, ok := r.groups[group]
	if !ok {
		members = make(map[interfaces.Session]struct{})
		r.groups[group] = members
	}
	members[session] = struct{}{}
	size := len(members)
	r.mu.Unlock()

	r.logger.Debug().Str("group", group).Str("conn_id", session.ID()).Int("members", size).Msg("session joined")
	return nil
}

// Leave removes exactly this session from group. Other sessions of the same
// user are untouched. Idempotent.
func (r *Registry) Leave(group string, session interfaces.Session) {
	if session == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, session)
	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// Members returns a snapshot of the sessions currently in group.
func (r *Registry) Members(group string) []interfaces.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.groups[group])
}

// FanOut delivers event to every member present when the call starts.
// A member whose delivery fails is closed; the rest still receive the
// event. Returns how many deliveries succeeded.
func (r *Registry) FanOut(group string, event types.OutboundEvent) int {
	members := r.Members(group)

	delivered := 0
	for _, s := range members {
		if err := s.Deliver(event); err != nil {
			r.logger.Warn().Err(err).
				Str("group", group).
				Str("conn_id", s.ID()).
				Str("event", event.EventType()).
				Msg("delivery failed, closing session")
			_ = s.Close()
			r.Leave(group, s)
			continue
		}
		delivered++
	}
	return delivered
}

// ConnectionCount returns how many sessions are in group.
func (r *Registry) ConnectionCount(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(userID types.ID) bool {
	return r.ConnectionCount(GroupName(userID)) > 0
}

// Stats returns group and connection totals.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Groups: len(r.groups),
		Connections: lo.SumBy(lo.Values(r.groups), func(m map[interfaces.Session]struct{}) int {
			return len(m)
		}),
	}
}

// CloseAll closes every registered session and returns how many there
// were. Sessions leave their group as part of closing.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	var all []interfaces.Session
	for _, members := range r.groups {
		all = append(all, lo.Keys(members)...)
	}
	r.mu.RUnlock()

	for _, s := range all {
		_ = s.Close()
	}

	r.logger.Info().Int("sessions", len(all)).Msg("closed all sessions")
	return len(all)
}
