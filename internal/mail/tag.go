// Package mail turns provider payloads into inbound messages and composes
// outbound MIME messages that carry the ticket tag.
package mail

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tagPattern is the only wire-level correlation mechanism between a thread
// and a ticket. Replacement mail integrations must keep it verbatim.
var tagPattern = regexp.MustCompile(`\[#(\d+)\]`)

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fw|fwd|aw|sv)\s*(\[\d+\])?\s*:\s*)+`)

// ExtractTicketNumber returns the number in the first [#N] tag of subject.
func ExtractTicketNumber(subject string) (int64, bool) {
	match := tagPattern.FindStringSubmatch(subject)
	if match == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Tag renders the correlation tag for number.
func Tag(number int64) string {
	return fmt.Sprintf("[#%d]", number)
}

// FormatSubject prefixes subject with the ticket tag unless it already carries it.
func FormatSubject(number int64, subject string) string {
	subject = strings.TrimSpace(subject)
	tag := Tag(number)
	if strings.Contains(subject, tag) {
		return subject
	}
	if subject == "" {
		return tag
	}
	return tag + " " + subject
}

// ReplySubject builds "Re: [#N] subject", collapsing any existing reply or
// forward prefixes and tags so the subject does not grow with every round trip.
func ReplySubject(number int64, subject string) string {
	subject = replyPrefix.ReplaceAllString(subject, "")
	subject = strings.TrimSpace(strings.ReplaceAll(subject, Tag(number), ""))
	subject = replyPrefix.ReplaceAllString(subject, "")
	return "Re: " + FormatSubject(number, subject)
}

// StripTag removes tag markers and reply prefixes, leaving the human subject.
func StripTag(subject string) string {
	subject = replyPrefix.ReplaceAllString(subject, "")
	subject = tagPattern.ReplaceAllString(subject, "")
	return strings.Join(strings.Fields(subject), " ")
}
