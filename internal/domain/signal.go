package domain

import "time"

// SignalUrgency indicates how quickly a signal should be acted upon. It
// decides the entry style: High and Immediate signals cross the spread with
// a market order, lower urgencies rest a post-only limit.
type SignalUrgency int

const (
	SignalUrgencyLow SignalUrgency = iota
	SignalUrgencyMedium
	SignalUrgencyHigh
	SignalUrgencyImmediate
)

// Signal is emitted by a strategy to request a simulated order.
type Signal struct {
	ID         string // UUID for dedup
	Strategy   string
	Market     string
	Side       OrderSide
	Price      float64 // reference price at emission (mid)
	Size       float64
	Score      float64 // strategy-specific magnitude (z-score, volume ratio, 0-100 total)
	Confidence float64 // 0-100
	Urgency    SignalUrgency
	Reason     string
	Metadata   map[string]string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the signal's validity window has passed.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
