package mailbox

import (
	"testing"

	"polyflow-registrar/internal/models"
)

func newTestReader() *Reader {
	return NewReader(models.MailboxConfig{
		Server:   "imap.test.com",
		Port:     993,
		Username: "user@test.com",
		Password: "secret",
		Folder:   "INBOX",
	})
}

func TestExtractCode_Patterns(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "Labeled verification code",
			body:     "Your verification code: 482913",
			expected: "482913",
		},
		{
			name:     "Verify code label",
			body:     "Please use verify code 771234 to continue",
			expected: "771234",
		},
		{
			name:     "Short code label",
			body:     "code: 9921",
			expected: "9921",
		},
		{
			name:     "Bare digit run fallback",
			body:     "Use 55667788 to sign in",
			expected: "55667788",
		},
		{
			name:     "Labeled match beats bare digit run",
			body:     "Order 12345678 confirmed. Your verification code: 482913",
			expected: "482913",
		},
		{
			name:     "Too short rejected",
			body:     "pin 123",
			expected: "",
		},
		{
			name:     "Too long rejected",
			body:     "reference 123456789",
			expected: "",
		},
		{
			name:     "No digits at all",
			body:     "Welcome to the service",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReader()
			code, _ := r.ExtractCode(tt.body)
			if code != tt.expected {
				t.Errorf("ExtractCode() = %q, want %q", code, tt.expected)
			}
			if code != "" {
				if len(code) < 4 || len(code) > 8 {
					t.Errorf("extracted code %q outside length bounds", code)
				}
				for _, c := range code {
					if c < '0' || c > '9' {
						t.Errorf("extracted code %q contains non-digit", code)
					}
				}
			}
		})
	}
}

func TestExtractCode_ConsumedSet(t *testing.T) {
	r := newTestReader()
	body := "Your verification code: 482913"

	code, replayOnly := r.ExtractCode(body)
	if code != "482913" || replayOnly {
		t.Fatalf("first extraction = (%q, %v), want (482913, false)", code, replayOnly)
	}

	r.MarkConsumed(code)

	code, replayOnly = r.ExtractCode(body)
	if code != "" {
		t.Errorf("consumed code returned again: %q", code)
	}
	if !replayOnly {
		t.Error("expected replayOnly to be reported for an all-consumed body")
	}

	r.ClearConsumed()

	code, replayOnly = r.ExtractCode(body)
	if code != "482913" || replayOnly {
		t.Errorf("after ClearConsumed extraction = (%q, %v), want (482913, false)", code, replayOnly)
	}
}

func TestExtractCode_SkipsConsumedPicksNext(t *testing.T) {
	r := newTestReader()
	body := "verification code: 111222 or use backup code: 333444"

	first, _ := r.ExtractCode(body)
	if first != "111222" {
		t.Fatalf("first extraction = %q, want 111222", first)
	}
	r.MarkConsumed(first)

	second, replayOnly := r.ExtractCode(body)
	if second != "333444" {
		t.Errorf("second extraction = %q, want 333444", second)
	}
	if replayOnly {
		t.Error("replayOnly must be false while unconsumed candidates remain")
	}
}

func TestValidCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"1234", true},
		{"12345678", true},
		{"123", false},
		{"123456789", false},
		{"12a4", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validCode(tt.code); got != tt.valid {
			t.Errorf("validCode(%q) = %v, want %v", tt.code, got, tt.valid)
		}
	}
}
