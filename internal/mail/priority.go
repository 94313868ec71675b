package mail

import (
	"regexp"

	"github.com/deskflow/helpdesk-engine/internal/domain"
)

// Keywords match at the start of a word, so inflections such as
// "urgently" or "criticality" count while "nonurgent" does not.
var (
	urgentKeywords = regexp.MustCompile(`(?i)\b(urgent|asap|emergenc)`)
	highKeywords   = regexp.MustCompile(`(?i)\b(important|critical)`)
)

// DetectPriority derives a priority from keywords in the subject and body.
func DetectPriority(subject, body string) domain.TicketPriority {
	content := subject + "\n" + body
	switch {
	case urgentKeywords.MatchString(content):
		return domain.TicketPriorityUrgent
	case highKeywords.MatchString(content):
		return domain.TicketPriorityHigh
	default:
		return domain.TicketPriorityNormal
	}
}
