package correlator

import (
	"context"
	"errors"
	"strings"
	"time"

	"polyflow-registrar/internal/logging"
	"polyflow-registrar/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	// ErrCodeNotFound means no qualifying message arrived before the timeout.
	ErrCodeNotFound = errors.New("verification code not found before timeout")
	// ErrCodeAlreadyUsed means qualifying messages arrived but every code in
	// them had already been handed out for an earlier request.
	ErrCodeAlreadyUsed = errors.New("all candidate codes already used")
)

// Inbox is the slice of the mailbox Reader the correlator depends on.
type Inbox interface {
	SearchRecent(sender, subject string, window time.Duration) []uint32
	FetchMessage(uid uint32) *models.Message
	ExtractCode(body string) (code string, replayOnly bool)
	MarkConsumed(code string)
}

// Options holds the poll-loop tuning values. The defaults are carried over
// from production tuning; treat them as adjustable, not optimal.
type Options struct {
	PollInterval     time.Duration // between cycles at first
	SlowPollInterval time.Duration // between cycles after SlowPollAfter
	SlowPollAfter    time.Duration
	InitialLookback  time.Duration // search window at the start of a wait
	MaxLookback      time.Duration // search window cap as the wait grows
	SkewBefore       time.Duration // tolerated clock skew: message before sentAt
	DeliveryAfter    time.Duration // tolerated delivery latency after sentAt
	MaxMessages      int           // newest messages examined per cycle
	SenderFilter     string
}

func DefaultOptions() Options {
	return Options{
		PollInterval:     5 * time.Second,
		SlowPollInterval: 10 * time.Second,
		SlowPollAfter:    30 * time.Second,
		InitialLookback:  5 * time.Minute,
		MaxLookback:      10 * time.Minute,
		SkewBefore:       30 * time.Second,
		DeliveryAfter:    300 * time.Second,
		MaxMessages:      10,
	}
}

// FromConfig merges configured overrides onto the defaults.
func FromConfig(cfg models.CorrelatorConfig, senderFilter string) Options {
	opts := DefaultOptions()
	opts.SenderFilter = senderFilter
	if cfg.PollInterval > 0 {
		opts.PollInterval = cfg.PollInterval
	}
	if cfg.SlowPollInterval > 0 {
		opts.SlowPollInterval = cfg.SlowPollInterval
	}
	if cfg.SlowPollAfter > 0 {
		opts.SlowPollAfter = cfg.SlowPollAfter
	}
	if cfg.InitialLookback > 0 {
		opts.InitialLookback = cfg.InitialLookback
	}
	if cfg.MaxLookback > 0 {
		opts.MaxLookback = cfg.MaxLookback
	}
	if cfg.SkewBefore > 0 {
		opts.SkewBefore = cfg.SkewBefore
	}
	if cfg.DeliveryAfter > 0 {
		opts.DeliveryAfter = cfg.DeliveryAfter
	}
	return opts
}

// Correlator matches an asynchronously arriving verification email to the
// instant its triggering request was sent.
type Correlator struct {
	inbox Inbox
	opts  Options

	// seams for deterministic tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(inbox Inbox, opts Options) *Correlator {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultOptions().MaxMessages
	}
	return &Correlator{
		inbox: inbox,
		opts:  opts,
		now:   time.Now,
		sleep: sleepCtx,
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

// AwaitCode polls the inbox until a code that correlates with sentAt turns
// up or timeout elapses. The winning code is marked consumed before it is
// returned, so a second call can never hand out the same code again.
//
// An empty mailbox never shortens the wait: the full timeout is respected.
// Retrying after a timeout (e.g. by resending the code) is the caller's
// decision, not this loop's.
func (c *Correlator) AwaitCode(ctx context.Context, account string, sentAt time.Time, timeout time.Duration) (string, error) {
	start := c.now()
	deadline := start.Add(timeout)
	locallog := logging.Log.WithField("account", account)

	locallog.Infof("Awaiting verification code (timeout %s)", timeout)

	replaySeen := false
	for {
		elapsed := c.now().Sub(start)

		code, replayed := c.pollOnce(account, sentAt, elapsed, locallog)
		if code != "" {
			c.inbox.MarkConsumed(code)
			locallog.Infof("Verification code obtained after %s", elapsed.Round(time.Second))
			return code, nil
		}
		replaySeen = replaySeen || replayed

		remaining := deadline.Sub(c.now())
		if remaining <= 0 {
			break
		}

		interval := c.opts.PollInterval
		if elapsed >= c.opts.SlowPollAfter {
			interval = c.opts.SlowPollInterval
		}
		if interval > remaining {
			interval = remaining
		}
		if err := c.sleep(ctx, interval); err != nil {
			return "", err
		}
	}

	if replaySeen {
		locallog.Warn("Only already-used codes found within the timeout")
		return "", ErrCodeAlreadyUsed
	}
	locallog.Warnf("No verification code arrived within %s", timeout)
	return "", ErrCodeNotFound
}

// pollOnce runs a single search/fetch/score cycle. Among all accepted
// candidates the one closest to sentAt wins, which disambiguates codes from
// overlapping requests.
func (c *Correlator) pollOnce(account string, sentAt time.Time, elapsed time.Duration, locallog *logrus.Entry) (string, bool) {
	lookback := c.opts.InitialLookback + elapsed
	if lookback > c.opts.MaxLookback {
		lookback = c.opts.MaxLookback
	}

	uids := c.inbox.SearchRecent(c.opts.SenderFilter, "", lookback)
	if len(uids) > c.opts.MaxMessages {
		uids = uids[:c.opts.MaxMessages]
	}

	var (
		bestCode string
		bestAbs  time.Duration
		replayed bool
	)

	for _, uid := range uids {
		msg := c.inbox.FetchMessage(uid)
		if msg == nil {
			continue
		}

		// Strict mode: a message whose Date header cannot be parsed
		// cannot be correlated and is skipped.
		if !msg.HasDate() {
			locallog.Debugf("UID %d has no parseable timestamp, skipping", msg.UID)
			continue
		}

		// time.Time.Sub compares absolute instants, so messages keep
		// their original offsets and still land on the same basis here.
		delta := msg.Date.Sub(sentAt)
		if delta < -c.opts.SkewBefore || delta > c.opts.DeliveryAfter {
			locallog.Debugf("UID %d outside correlation window (delta %s)", msg.UID, delta)
			continue
		}

		if !referencesAccount(msg, account) && !looksLikeVerification(msg) {
			continue
		}

		code, replayOnly := c.inbox.ExtractCode(msg.BodyText)
		if code == "" {
			replayed = replayed || replayOnly
			continue
		}

		abs := delta
		if abs < 0 {
			abs = -abs
		}
		if bestCode == "" || abs < bestAbs {
			bestCode, bestAbs = code, abs
		}
	}

	return bestCode, replayed
}

func referencesAccount(msg *models.Message, account string) bool {
	if account == "" {
		return false
	}
	needle := strings.ToLower(account)
	return strings.Contains(strings.ToLower(msg.BodyText), needle) ||
		strings.Contains(strings.ToLower(msg.Subject), needle)
}

var verificationKeywords = []string{"verification", "verify", "security code", "one-time"}

func looksLikeVerification(msg *models.Message) bool {
	haystack := strings.ToLower(msg.Subject + " " + msg.BodyText)
	for _, kw := range verificationKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
