package polyflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"polyflow-registrar/internal/correlator"
	"polyflow-registrar/internal/logging"
	"polyflow-registrar/internal/models"

	"github.com/google/uuid"
)

// API is what the registrar needs from the endpoint client.
type API interface {
	SendVerificationCode(ctx context.Context, email string) error
	LoginWithCode(ctx context.Context, email, code, referralCode string) (*LoginResult, error)
}

// CodeAwaiter yields the verification code correlated with a send instant.
type CodeAwaiter interface {
	AwaitCode(ctx context.Context, account string, sentAt time.Time, timeout time.Duration) (string, error)
}

// MailboxState is the session-state slice of the mailbox reader the
// registrar controls between accounts.
type MailboxState interface {
	ClearConsumed()
	SelectFolder() error
}

// TokenSink persists successful registrations.
type TokenSink interface {
	Append(email, token string, expiryUnix int64) error
	WriteDetail(attempt models.RegistrationAttempt, loginResponse json.RawMessage) error
}

// Registrar sequences request-code → wait → correlate → login → persist for
// one account at a time against a single mailbox session.
type Registrar struct {
	api     API
	codes   CodeAwaiter
	mailbox MailboxState
	tokens  TokenSink

	referralCode    string
	settleDelay     time.Duration
	codeWaitTimeout time.Duration
	interDelay      time.Duration

	// ui, when set, is tried after the API flow fails for an account.
	ui UIDriver

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// SetUIDriver enables the browser-automation fallback.
func (r *Registrar) SetUIDriver(d UIDriver) {
	r.ui = d
}

func NewRegistrar(api API, codes CodeAwaiter, mb MailboxState, tokens TokenSink, cfg models.PolyflowConfig, sec models.SecurityConfig) *Registrar {
	return &Registrar{
		api:             api,
		codes:           codes,
		mailbox:         mb,
		tokens:          tokens,
		referralCode:    cfg.ReferralCode,
		settleDelay:     cfg.SettleDelay,
		codeWaitTimeout: cfg.CodeWaitTimeout,
		interDelay:      sec.InterAccountDelay,
		now:             time.Now,
		sleep:           sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RegisterAccount runs one account's full flow. The consumed-code cache is
// cleared before the code request goes out and again on every exit path,
// so a failure here can never contaminate the next account.
func (r *Registrar) RegisterAccount(ctx context.Context, email string) models.RegistrationAttempt {
	attempt := models.RegistrationAttempt{
		Email:       email,
		TraceID:     uuid.New().String(),
		RequestedAt: r.now(),
	}
	locallog := logging.Log.WithField("trace_id", attempt.TraceID)
	state := models.StateIdle

	defer r.mailbox.ClearConsumed()
	r.mailbox.ClearConsumed()

	fail := func(err error) models.RegistrationAttempt {
		locallog.Warnf("API registration failed in state %s: %v", state, err)

		// No fallback once the run itself is shutting down.
		if r.ui != nil && ctx.Err() == nil {
			if token, uiErr := r.uiFallback(ctx, email, attempt.TraceID); uiErr == nil {
				attempt.Success = true
				attempt.Token = token
				attempt.CompletedAt = r.now()
				if werr := r.tokens.Append(email, token, 0); werr != nil {
					locallog.Errorf("Token persisted in memory only, write failed: %v", werr)
				}
				if werr := r.tokens.WriteDetail(attempt, nil); werr != nil {
					locallog.Warnf("Detail record write failed: %v", werr)
				}
				locallog.Infof("UI fallback succeeded for %s", email)
				return attempt
			} else {
				locallog.Warnf("UI fallback failed: %v", uiErr)
			}
		}

		attempt.Error = err.Error()
		attempt.CompletedAt = r.now()
		return attempt
	}

	state = models.StateCodeRequested
	sentAt := r.now()
	if err := r.api.SendVerificationCode(ctx, email); err != nil {
		// A failed send aborts immediately; there is no code to wait for.
		return fail(err)
	}

	// The email cannot have arrived yet; give delivery a head start
	// before burning poll cycles.
	state = models.StateAwaitingCode
	locallog.Infof("Code requested, settling %s before polling", r.settleDelay)
	if err := r.sleep(ctx, r.settleDelay); err != nil {
		return fail(err)
	}

	code, err := r.codes.AwaitCode(ctx, email, sentAt, r.codeWaitTimeout)
	if err != nil {
		switch {
		case errors.Is(err, correlator.ErrCodeAlreadyUsed):
			return fail(errors.New("all candidate codes were already consumed"))
		case errors.Is(err, correlator.ErrCodeNotFound):
			return fail(errors.New("verification code never arrived"))
		default:
			return fail(err)
		}
	}
	state = models.StateCodeReceived
	locallog.Infof("Verification code received for %s", email)

	state = models.StateLoggingIn
	login, err := r.api.LoginWithCode(ctx, email, code, r.referralCode)
	if err != nil {
		return fail(err)
	}

	state = models.StateCompleted
	attempt.Success = true
	attempt.Token = login.Token
	attempt.CompletedAt = r.now()

	if err := r.tokens.Append(email, login.Token, login.ExpiryUnix); err != nil {
		locallog.Errorf("Token persisted in memory only, write failed: %v", err)
	}
	if err := r.tokens.WriteDetail(attempt, login.Raw); err != nil {
		locallog.Warnf("Detail record write failed: %v", err)
	}

	locallog.Infof("Registration succeeded for %s (token %s...)", email, tokenPreview(login.Token))
	return attempt
}

// BatchRegister processes accounts strictly sequentially: the mailbox
// session is shared, and code isolation requires serialization. One
// account's failure never halts the batch.
func (r *Registrar) BatchRegister(ctx context.Context, emails []string) []models.RegistrationAttempt {
	logging.Log.Infof("Starting batch of %d accounts", len(emails))

	attempts := make([]models.RegistrationAttempt, 0, len(emails))
	for i, email := range emails {
		logging.Log.Infof("Processing account %d/%d: %s", i+1, len(emails), email)

		attempts = append(attempts, r.RegisterAccount(ctx, email))

		if ctx.Err() != nil {
			break
		}
		if i == len(emails)-1 {
			break
		}

		// Fresh state view for the next account.
		if err := r.mailbox.SelectFolder(); err != nil {
			logging.Log.Warnf("Folder re-select failed: %v", err)
		}

		delay := r.interDelay + interAccountJitter()
		if delay < 0 {
			delay = 0
		}
		logging.Log.Infof("Waiting %s before next account", delay.Round(100*time.Millisecond))
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}
	return attempts
}

// uiFallback shields the batch from a driver that panics instead of
// returning an error; a crashed browser run becomes a failed attempt.
func (r *Registrar) uiFallback(ctx context.Context, email, traceID string) (token string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ui driver panic: %v", rec)
		}
	}()
	return r.ui.RegisterViaUI(ctx, email, traceID)
}

// interAccountJitter spreads batch timing: -2s to +5s around the base.
func interAccountJitter() time.Duration {
	return -2*time.Second + time.Duration(rand.Int63n(int64(7*time.Second)))
}

func tokenPreview(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}
