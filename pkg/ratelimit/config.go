package ratelimit

import "time"

// Config guards one operation class.
type Config struct {
	// Key names the operation class. Entries are kept per key and client.
	Key string
	// MaxAttempts is how many calls a window allows.
	MaxAttempts int
	// Window is both the counting window and the base block duration.
	Window time.Duration
}

var (
	// AnonymousSignIn guards creating ephemeral identities.
	AnonymousSignIn = Config{Key: "anonymous_signin", MaxAttempts: 5, Window: time.Hour}

	// CanvasJoin guards redeeming share tokens.
	CanvasJoin = Config{Key: "canvas_join", MaxAttempts: 10, Window: time.Minute}

	// ShareTokenGeneration guards issuing invites.
	ShareTokenGeneration = Config{Key: "share_token_generation", MaxAttempts: 20, Window: time.Hour}

	// FailedLogin counts failed logins only; reset it on success.
	FailedLogin = Config{Key: "failed_login", MaxAttempts: 5, Window: 15 * time.Minute}

	// RelayConnect guards websocket connections to the relay, per remote address.
	RelayConnect = Config{Key: "relay_connect", MaxAttempts: 30, Window: time.Minute}
)

// Configs lists the client side operation classes.
var Configs = []Config{AnonymousSignIn, CanvasJoin, ShareTokenGeneration, FailedLogin}
