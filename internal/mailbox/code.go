package mailbox

import "regexp"

// Ordered most specific first: a labeled match beats a bare digit run even
// when both appear in the body.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)verification code[:\s]*(\d{4,8})`),
	regexp.MustCompile(`(?i)verify code[:\s]*(\d{4,8})`),
	regexp.MustCompile(`(?i)code[:\s]*(\d{4,8})`),
	regexp.MustCompile(`\b(\d{4,8})\b`),
}

// ExtractCode applies the ordered pattern list to the body and returns the
// first candidate passing the digit-length check that is not in the
// consumed set. replayOnly reports that valid candidates existed but every
// one of them had already been consumed, which lets the caller tell a
// replayed mailbox apart from an empty one.
func (r *Reader) ExtractCode(body string) (code string, replayOnly bool) {
	sawConsumed := false
	for _, pattern := range codePatterns {
		for _, match := range pattern.FindAllStringSubmatch(body, -1) {
			candidate := match[1]
			if !validCode(candidate) {
				continue
			}
			if r.IsConsumed(candidate) {
				sawConsumed = true
				continue
			}
			return candidate, false
		}
	}
	return "", sawConsumed
}

func validCode(code string) bool {
	if len(code) < 4 || len(code) > 8 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
