package service

import "time"

// sendGate enforces the fixed spacing between consecutive posts across
// every account. It is a pure decision over the lock row's last-sent
// stamp, deliberately independent of lock staleness.
type sendGate struct {
	cooldown time.Duration
}

func newSendGate(cooldown time.Duration) *sendGate {
	return &sendGate{cooldown: cooldown}
}

// Allow reports whether enough time has passed since the previous post.
func (g *sendGate) Allow(lastSentAt *time.Time, now time.Time) bool {
	if lastSentAt == nil {
		return true
	}
	return now.Sub(*lastSentAt) >= g.cooldown
}

// NextAllowed returns the earliest instant a post may go out.
func (g *sendGate) NextAllowed(lastSentAt *time.Time) time.Time {
	if lastSentAt == nil {
		return time.Time{}
	}
	return lastSentAt.Add(g.cooldown)
}
