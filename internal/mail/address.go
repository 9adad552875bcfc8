package mail

import (
	"fmt"
	netmail "net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var replyLocalPart = regexp.MustCompile(`(?i)^case-([a-f0-9-]+)$`)

// ReplyAddress encodes the case id into the reply-to address, so replies correlate without a token store.
func ReplyAddress(caseID uuid.UUID, domain string) string {
	return fmt.Sprintf("case-%s@%s", caseID, domain)
}

// ParseReplyAddress extracts the case id from an address built by ReplyAddress.
// Display names ("Lomito <case-...@reply.lomito.org>") are accepted.
func ParseReplyAddress(addr, domain string) (uuid.UUID, bool) {
	if parsed, err := netmail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || !strings.EqualFold(addr[at+1:], domain) {
		return uuid.Nil, false
	}
	m := replyLocalPart.FindStringSubmatch(addr[:at])
	if m == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// FirstCaseID returns the case id of the first recipient matching the reply convention.
func FirstCaseID(recipients []string, domain string) (uuid.UUID, bool) {
	for _, r := range recipients {
		if id, ok := ParseReplyAddress(r, domain); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}
