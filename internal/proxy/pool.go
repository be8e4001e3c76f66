package proxy

import (
	"bufio"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"sync"

	"polyflow-registrar/internal/logging"
)

// Pool is a flat list of outbound proxies rotated between retry attempts.
// It is rebuilt from configuration at client startup; nothing is persisted.
type Pool struct {
	mu      sync.Mutex
	entries []*url.URL
	current *url.URL
}

// LoadFile reads a newline-delimited proxy list. Blank lines and lines
// starting with '#' are ignored; entries without a scheme get the given
// default. A missing file is not an error: it means "no proxies".
func LoadFile(path, defaultScheme string) (*Pool, error) {
	if path == "" {
		return NewPool(nil)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Log.Infof("Proxy file %s not found, running without proxies", path)
			return NewPool(nil)
		}
		return nil, fmt.Errorf("opening proxy file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var raw []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = defaultScheme + "://" + line
		}
		raw = append(raw, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading proxy file: %w", err)
	}

	pool, err := NewPool(raw)
	if err != nil {
		return nil, err
	}
	logging.Log.Infof("Loaded %d proxies from %s", pool.Size(), path)
	return pool, nil
}

// NewPool parses the given proxy URLs. Supports user:pass@host:port auth.
func NewPool(raw []string) (*Pool, error) {
	p := &Pool{}
	for _, entry := range raw {
		u, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", entry, err)
		}
		p.entries = append(p.entries, u)
	}
	if len(p.entries) > 0 {
		p.current = p.entries[rand.Intn(len(p.entries))]
	}
	return p, nil
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Current returns the proxy in use, or nil when the pool is empty.
func (p *Pool) Current() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Rotate switches to a different random proxy when more than one is
// configured and returns the new selection.
func (p *Pool) Rotate() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) < 2 {
		return p.current
	}
	for {
		next := p.entries[rand.Intn(len(p.entries))]
		if next != p.current {
			p.current = next
			logging.Log.Infof("Switched proxy to %s", next.Host)
			return next
		}
	}
}
