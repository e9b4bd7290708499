// Package chat talks to the external reply service that answers
// participant questions, and parses its tagged replies.
package chat

import (
	"strings"
	"unicode"
)

// TagLines is how many leading lines of a reply are classification tags.
const TagLines = 2

// Reply is a reply split into its tags and the text shown to the
// participant.
type Reply struct {
	Tags   []string
	Answer string
}

// ParseReply splits raw into TagLines tag lines followed by the answer,
// which may be empty. A reply with fewer lines than that is not tagged:
// the whole string becomes the answer and Tags is empty.
func ParseReply(raw string) Reply {
	raw = strings.TrimRightFunc(strings.ReplaceAll(raw, "\r\n", "\n"), unicode.IsSpace)
	lines := strings.SplitN(raw, "\n", TagLines+1)
	if len(lines) < TagLines {
		return Reply{Tags: []string{}, Answer: strings.TrimSpace(raw)}
	}
	tags := make([]string, TagLines)
	for i := range tags {
		tags[i] = strings.TrimSpace(lines[i])
	}
	var answer string
	if len(lines) > TagLines {
		answer = strings.TrimSpace(lines[TagLines])
	}
	return Reply{Tags: tags, Answer: answer}
}

// FormatReply is the inverse of ParseReply for services that produce the
// tags and answer separately.
func FormatReply(tags []string, answer string) string {
	var b strings.Builder
	for i := range TagLines {
		if i < len(tags) {
			b.WriteString(strings.ReplaceAll(tags[i], "\n", " "))
		}
		b.WriteByte('\n')
	}
	b.WriteString(answer)
	return b.String()
}
