package models

import "time"

// Message represents one retrieved and normalized email message. It is
// fetched on demand per poll cycle and never cached across cycles.
type Message struct {
	UID     uint32
	From    string
	Subject string
	// RawDate is the original Date header, kept for diagnostics.
	RawDate string
	// Date is the parsed header timestamp with its original timezone
	// offset preserved. Zero when the header could not be parsed.
	Date time.Time
	// BodyText is the concatenation of all text/plain and text/html
	// parts, best-effort decoded.
	BodyText string
}

// HasDate reports whether the Date header was parseable.
func (m *Message) HasDate() bool {
	return !m.Date.IsZero()
}
