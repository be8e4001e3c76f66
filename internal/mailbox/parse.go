package mailbox

import (
	"io"
	"mime"
	"regexp"
	"strings"
	"time"

	"polyflow-registrar/internal/models"

	"github.com/araddon/dateparse"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"
)

var addressPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func parseMessage(msg *imap.Message, section *imap.BodySectionName) (*models.Message, error) {
	r := msg.GetBody(section)
	if r == nil {
		return nil, io.EOF
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, err
	}

	header := mr.Header
	out := &models.Message{
		From:    extractEmailAddress(header.Get("From")),
		RawDate: header.Get("Date"),
	}

	if subject, err := decodeHeader(header.Get("Subject")); err == nil {
		out.Subject = subject
	}

	out.Date = parseDate(header, out.RawDate)

	var body strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, err := h.ContentType()
			if err != nil {
				continue
			}
			if contentType == "text/plain" || contentType == "text/html" {
				part, err := io.ReadAll(p.Body)
				if err != nil {
					continue
				}
				body.Write(part)
			}
		}
	}
	out.BodyText = body.String()

	return out, nil
}

// parseDate tries the RFC date grammar first, then a lenient parser. The
// original timezone offset is preserved either way; normalizing to UTC is
// the comparison layer's job, not this one's.
func parseDate(header mail.Header, raw string) time.Time {
	if t, err := header.Date(); err == nil && !t.IsZero() {
		return t
	}
	if raw == "" {
		return time.Time{}
	}
	if t, err := dateparse.ParseIn(raw, time.UTC); err == nil {
		return t
	}
	return time.Time{}
}

func extractEmailAddress(fromHeader string) string {
	return addressPattern.FindString(fromHeader)
}

// decodeHeader decodes MIME-encoded headers (e.g. "=?UTF-8?B?...?=")
func decodeHeader(encoded string) (string, error) {
	decoder := new(mime.WordDecoder)
	return decoder.DecodeHeader(encoded)
}
