// Package invalidation maps domain events to the cache kinds they must
// invalidate and drains queued invalidations in batches with bounded
// retry. Domain callers go through InvalidateForEvent after a mutation so
// the event-to-cache mapping stays in one auditable place instead of being
// scattered across call sites.
package invalidation

import "strings"

// Kind identifies one cache wrapper. Kinds combine into a Set bitmask.
type Kind uint8

const (
	KindSession Kind = 1 << iota
	KindProfile
	KindToken
)

// Set is a combination of cache kinds.
type Set uint8

// NewSet builds a Set from individual kinds.
func NewSet(kinds ...Kind) Set {
	var s Set
	for _, k := range kinds {
		s |= Set(k)
	}
	return s
}

// Has reports whether the set contains a kind.
func (s Set) Has(k Kind) bool {
	return s&Set(k) != 0
}

// Union returns the combination of two sets.
func (s Set) Union(other Set) Set {
	return s | other
}

func (s Set) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	if s.Has(KindSession) {
		parts = append(parts, "session")
	}
	if s.Has(KindProfile) {
		parts = append(parts, "profile")
	}
	if s.Has(KindToken) {
		parts = append(parts, "oauth")
	}
	return strings.Join(parts, "+")
}

// Event is a domain event name.
type Event string

const (
	EventProfileUpdated   Event = "user.profile.updated"
	EventEmailChanged     Event = "user.email.changed"
	EventPasswordChanged  Event = "user.password.changed"
	EventSignedOut        Event = "user.signed.out"
	EventSessionRevoked   Event = "user.session.revoked"
	EventTokenRefreshed   Event = "user.oauth.refreshed"
	EventOAuthRevoked     Event = "user.oauth.revoked"
	EventUserDeleted      Event = "user.deleted"
	EventSecurityIncident Event = "security.incident"
)

// Rule maps one event to the cache kinds it invalidates. Several rules may
// name the same event; their kind sets are unioned at resolution time.
type Rule struct {
	Event  Event
	Caches Set
}

// DefaultRules is the standard event-to-cache mapping.
func DefaultRules() []Rule {
	all := NewSet(KindSession, KindProfile, KindToken)
	return []Rule{
		{Event: EventProfileUpdated, Caches: NewSet(KindProfile)},
		// A changed email invalidates the hashed email key and every
		// session carrying the old embedded summary.
		{Event: EventEmailChanged, Caches: NewSet(KindProfile, KindSession)},
		{Event: EventPasswordChanged, Caches: NewSet(KindSession, KindToken)},
		{Event: EventSignedOut, Caches: NewSet(KindSession)},
		{Event: EventSessionRevoked, Caches: NewSet(KindSession)},
		{Event: EventTokenRefreshed, Caches: NewSet(KindToken)},
		{Event: EventOAuthRevoked, Caches: NewSet(KindToken, KindSession)},
		{Event: EventUserDeleted, Caches: all},
		{Event: EventSecurityIncident, Caches: all},
	}
}

// resolve returns the union of the kind sets of every rule matching event.
func resolve(rules []Rule, event Event) Set {
	var s Set
	for _, r := range rules {
		if r.Event == event {
			s = s.Union(r.Caches)
		}
	}
	return s
}
