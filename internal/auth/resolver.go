package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/constants"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"

	gocache "github.com/patrickmn/go-cache"
)

// Store is the subset of the database the resolver needs.
type Store interface {
	ListAuthorizedConnections(ctx context.Context, phones []string) ([]models.Connection, error)
}

// PostEligibility is the outcome of validating a connection for posting.
// Reason is user-facing and only set when OK is false.
type PostEligibility struct {
	OK      bool
	Reason  string
	RetryIn time.Duration
}

// Resolver maps sender phones onto the connections they may post from and
// validates each connection's current ability to post.
type Resolver struct {
	store      Store
	quarantine time.Duration
	cache      *gocache.Cache
}

func NewResolver(store Store, quarantine time.Duration) *Resolver {
	if quarantine <= 0 {
		quarantine = constants.DefaultQuarantineHours * time.Hour
	}
	return &Resolver{
		store:      store,
		quarantine: quarantine,
		cache: gocache.New(
			constants.DefaultAuthCacheTTLSec*time.Second,
			constants.DefaultAuthCacheSweepSec*time.Second,
		),
	}
}

// Resolve returns every active connection the phone is authorized for.
// Results are cached briefly; authorization changes rarely mid-conversation.
func (r *Resolver) Resolve(ctx context.Context, phone string) ([]models.Connection, error) {
	variants := PhoneVariants(phone)
	if len(variants) == 0 {
		return nil, nil
	}

	cacheKey := variants[0]
	if cached, found := r.cache.Get(cacheKey); found {
		return cached.([]models.Connection), nil
	}

	conns, err := r.store.ListAuthorizedConnections(ctx, variants)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve authorized connections: %w", err)
	}

	r.cache.SetDefault(cacheKey, conns)
	return conns, nil
}

// Invalidate drops any cached resolution touching the phone.
func (r *Resolver) Invalidate(phone string) {
	variants := PhoneVariants(phone)
	if len(variants) > 0 {
		r.cache.Delete(variants[0])
	}
}

// Flush drops every cached resolution. Called when a connection's status
// changes, since cached entries embed connection snapshots.
func (r *Resolver) Flush() {
	r.cache.Flush()
}

// Validate checks connection health and the post-connection quarantine
// window, producing a user-facing explanation when posting is not allowed.
func (r *Resolver) Validate(conn *models.Connection, now time.Time) PostEligibility {
	if conn.Status != models.ConnectionConnected {
		return PostEligibility{
			OK:     false,
			Reason: fmt.Sprintf("%s is not connected right now. Reconnect it and try again.", conn.DisplayName),
		}
	}

	if CanPost(conn, now, r.quarantine) {
		return PostEligibility{OK: true}
	}

	since := conn.ConnectedSince()
	if since == nil {
		// Status says connected but no connect was ever recorded, so the
		// quarantine clock never started.
		return PostEligibility{
			OK: false,
			Reason: fmt.Sprintf(
				"%s has never completed a connection. Reconnect it and try again.",
				conn.DisplayName),
		}
	}
	remaining := since.Add(r.quarantine).Sub(now)
	return PostEligibility{
		OK: false,
		Reason: fmt.Sprintf(
			"%s connected recently and is in a safety waiting period. You can post in %s.",
			conn.DisplayName, FormatWait(remaining)),
		RetryIn: remaining,
	}
}

// CanPost is the single eligibility predicate shared by the synchronous
// validator and the queue processor, so the two can never drift apart.
func CanPost(conn *models.Connection, now time.Time, quarantine time.Duration) bool {
	if conn.Status != models.ConnectionConnected {
		return false
	}
	if conn.RestrictionLifted {
		return true
	}
	since := conn.ConnectedSince()
	if since == nil {
		return false
	}
	return !now.Before(since.Add(quarantine))
}

// FormatWait renders a remaining duration as "Xh Ym" or "Ym" for user
// messages, rounding up so we never promise an instant that is still
// inside the window.
func FormatWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	hours := minutes / 60
	minutes = minutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// PhoneVariants normalizes a sender phone into the plausible equivalent
// representations stored in authorized_numbers: the bare digits, the
// international form and the local zero-prefixed form.
func PhoneVariants(phone string) []string {
	digits := strings.TrimSuffix(phone, "@c.us")
	digits = strings.TrimPrefix(digits, "+")
	digits = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, digits)
	if digits == "" {
		return nil
	}

	seen := map[string]struct{}{}
	var variants []string
	add := func(v string) {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			variants = append(variants, v)
		}
	}

	add(digits)
	add("+" + digits)

	// International "972xxxxxxxxx" <-> local "0xxxxxxxxx"
	if strings.HasPrefix(digits, "972") && len(digits) > 3 {
		add("0" + digits[3:])
	} else if strings.HasPrefix(digits, "0") && len(digits) > 1 {
		add("972" + digits[1:])
		add("+972" + digits[1:])
	}

	return variants
}
