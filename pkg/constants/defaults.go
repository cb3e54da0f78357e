package constants

import "time"

const (
	// HistoryDepth is the default number of undo entries kept per session.
	HistoryDepth = 50

	// DebounceWindow is how long the batch manager coalesces writes
	// after the first one of a burst has been flushed.
	DebounceWindow = 100 * time.Millisecond

	// OnlineThreshold is how recent lastActiveAt must be for a
	// participant flagged online to be considered online.
	OnlineThreshold = 5 * time.Minute

	// HeartbeatInterval is how often presence refreshes lastActiveAt.
	HeartbeatInterval = time.Minute

	// RateLimitIdleTTL is how long an untouched rate-limit entry survives.
	RateLimitIdleTTL = time.Hour

	// DefaultInviteTTL is used when an invite is generated without a lifetime.
	DefaultInviteTTL = 7 * 24 * time.Hour

	// SubscriptionBuffer bounds the snapshot channel of a subscription.
	SubscriptionBuffer = 1

	// EventBuffer bounds the session event channel.
	EventBuffer = 64

	RequestIDLength = 16
	DefaultTimeout  = 30 * time.Second
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)
