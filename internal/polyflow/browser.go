package polyflow

import "context"

// UIDriver is the opaque browser-automation capability used when the API
// path is unavailable. It returns the session token on success.
type UIDriver interface {
	RegisterViaUI(ctx context.Context, email string, traceID string) (string, error)
}

// ChallengeSolver produces a solved reCAPTCHA token for a page that gates
// signup behind a challenge.
type ChallengeSolver interface {
	SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error)
}
