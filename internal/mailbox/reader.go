package mailbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"polyflow-registrar/internal/logging"
	"polyflow-registrar/internal/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrAuthentication = errors.New("authentication failed")
	ErrConnection     = errors.New("connection failed")
)

// Reader owns one stateful IMAP session and the set of verification codes
// already handed out from it. The session is not safe for concurrent use
// across accounts; the consumed set carries its own mutex so the no-replay
// invariant holds even if a caller ever relaxes the sequential-batch rule.
type Reader struct {
	server       string
	username     string
	password     string
	folder       string
	fetchTimeout time.Duration

	client *client.Client

	mu       sync.Mutex
	consumed map[string]struct{}
}

// NewReader creates a disconnected Reader for the given mailbox profile.
func NewReader(cfg models.MailboxConfig) *Reader {
	return &Reader{
		server:       fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		username:     cfg.Username,
		password:     cfg.Password,
		folder:       cfg.Folder,
		fetchTimeout: cfg.FetchTimeout,
		consumed:     make(map[string]struct{}),
	}
}

// Connect establishes a TLS session, authenticates and selects the
// configured folder. Any failure collapses the Reader back to the
// disconnected state after best-effort cleanup.
func (r *Reader) Connect() error {
	if r.username == "" || r.password == "" {
		return fmt.Errorf("%w: missing credentials", ErrAuthentication)
	}

	cl, err := client.DialTLS(r.server, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, r.server, err)
	}

	if err := cl.Login(r.username, r.password); err != nil {
		_ = cl.Logout()
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	if _, err := cl.Select(r.folder, false); err != nil {
		_ = cl.Logout()
		return fmt.Errorf("%w: select %s: %v", ErrConnection, r.folder, err)
	}

	r.client = cl
	logging.Log.Infof("Connected to %s, folder %s selected", r.server, r.folder)
	return nil
}

// Disconnect releases the session. It is idempotent and never propagates
// protocol-level teardown errors.
func (r *Reader) Disconnect() {
	if r.client == nil {
		return
	}
	if err := r.client.Logout(); err != nil {
		logging.Log.Warnf("IMAP logout error (ignored): %v", err)
	}
	r.client = nil
}

// Connected reports whether a session is currently held.
func (r *Reader) Connected() bool {
	return r.client != nil
}

// SelectFolder re-selects the configured folder, forcing the server to hand
// back a fresh state view. Called between accounts.
func (r *Reader) SelectFolder() error {
	if r.client == nil {
		return ErrNotConnected
	}
	_, err := r.client.Select(r.folder, false)
	return err
}

// SearchRecent returns UIDs of messages received within window of now,
// newest first, optionally narrowed by sender and subject substrings.
// Search failures yield an empty slice and a warning, never an error:
// the poll loop treats them the same as an empty mailbox.
func (r *Reader) SearchRecent(sender, subject string, window time.Duration) []uint32 {
	if r.client == nil {
		logging.Log.Warn("Search attempted without an active session")
		return nil
	}

	// Some servers cache folder state; a CHECK forces a resync so a
	// just-delivered message is visible to the search.
	if err := r.client.Check(); err != nil {
		logging.Log.Debugf("Mailbox check failed: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-window)
	if sender != "" {
		criteria.Header.Add("From", sender)
	}
	if subject != "" {
		criteria.Header.Add("Subject", subject)
	}

	uids, err := r.client.Search(criteria)
	if err != nil {
		logging.Log.Warnf("Mail search failed: %v", err)
		return nil
	}

	// Server returns ascending order; newest first for the caller.
	for i, j := 0, len(uids)-1; i < j; i, j = i+1, j-1 {
		uids[i], uids[j] = uids[j], uids[i]
	}
	return uids
}

// FetchMessage retrieves and parses one message. Returns nil when the fetch
// or parse fails; a single bad message must not abort a poll cycle.
func (r *Reader) FetchMessage(uid uint32) *models.Message {
	if r.client == nil {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	prevTimeout := r.client.Timeout
	r.client.Timeout = r.fetchTimeout
	defer func() { r.client.Timeout = prevTimeout }()

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.client.Fetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}

	if err := <-done; err != nil {
		logging.Log.Warnf("Error fetching message UID %d: %v", uid, err)
		return nil
	}
	if msg == nil {
		logging.Log.Warnf("No message retrieved for UID %d", uid)
		return nil
	}

	parsed, err := parseMessage(msg, section)
	if err != nil {
		logging.Log.Warnf("Error parsing message UID %d: %v", uid, err)
		return nil
	}
	parsed.UID = uid
	return parsed
}

// MarkConsumed records a code as handed out. It will not be returned again
// until ClearConsumed is called.
func (r *Reader) MarkConsumed(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed[code] = struct{}{}
}

// IsConsumed reports whether the code was already handed out.
func (r *Reader) IsConsumed(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.consumed[code]
	return ok
}

// ClearConsumed empties the consumed set. Must be called between accounts
// to avoid cross-account code leakage.
func (r *Reader) ClearConsumed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = make(map[string]struct{})
	logging.Log.Debug("Consumed-code cache cleared")
}
