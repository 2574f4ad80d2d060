package pipedrive

import (
	"regexp"
	"strings"
	"time"
)

var (
	scriptPattern = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	markupPattern = regexp.MustCompile(`<[^>]*>`)
)

// cleanText strips executable markup from free-text fields and trims the
// result to the given rune limit.
func (c *Client) cleanText(s string, limit int) string {
	if c.sanitize {
		s = scriptPattern.ReplaceAllString(s, "")
		s = markupPattern.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(s)
	return truncate(s, limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// ComposeSubject builds the activity subject sent to the remote CRM. The
// campaign marker must stay bit-exact for compatibility with the remote
// record set already written in this format.
func ComposeSubject(subject, campaignCode string) string {
	if campaignCode == "" {
		return subject
	}
	return "[CMPGN-" + campaignCode + "] " + subject
}

func defaultSubject(now time.Time) string {
	return "Activity " + now.UTC().Format("2006-01-02")
}
