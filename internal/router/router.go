// Package router classifies an incoming chat message into an action and payload.
// It does no I/O and holds no state.
package router

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type Action string

const (
	Analyst     Action = "analyst"
	Librarian   Action = "librarian"
	Recommender Action = "recommender"
	Setting     Action = "setting"
	SMS         Action = "sms"
	Help        Action = "help"
	Unknown     Action = "unknown"
)

// MinMemoLength is the rune count a plain message must exceed to be saved as a memo.
const MinMemoLength = 10

// Decision is the router output for one message.
type Decision struct {
	Action  Action `json:"action"`
	Payload string `json:"payload"`
}

var commands = map[string]Action{
	"save":      Analyst,
	"list":      Librarian,
	"search":    Librarian,
	"category":  Librarian,
	"view":      Librarian,
	"delete":    Librarian,
	"recommend": Recommender,
	"verbose":   Setting,
	"sms":       SMS,
	"help":      Help,
	"start":     Help,
}

var (
	commandRe    = regexp.MustCompile(`(?s)^/([\p{L}\p{N}_]+)(?:@[\w]+)?\s*(.*)$`)
	leadingURLRe = regexp.MustCompile(`^https?://`)
	anyURLRe     = regexp.MustCompile(`https?://\S+`)
	bareDomainRe = regexp.MustCompile(`(?i)\b[\w-]+\.(com|net|org|io|co|dev|ai|kr|me|app|xyz)\b`)
)

// Route applies the ordered rules: slash command, leading URL, URL anywhere,
// bare domain, long free text, otherwise unknown.
func Route(text string) Decision {
	text = strings.TrimSpace(text)

	if m := commandRe.FindStringSubmatch(text); m != nil {
		cmd := strings.ToLower(m[1])
		rest := strings.TrimSpace(m[2])
		if cmd == "save" {
			return Decision{Action: Analyst, Payload: rest}
		}
		action, ok := commands[cmd]
		if !ok {
			return Decision{Action: Unknown, Payload: rest}
		}
		if action == Librarian {
			return Decision{Action: Librarian, Payload: cmd + ":" + rest}
		}
		return Decision{Action: action, Payload: rest}
	}

	switch {
	case leadingURLRe.MatchString(text),
		anyURLRe.MatchString(text),
		bareDomainRe.MatchString(text),
		utf8.RuneCountInString(text) > MinMemoLength:
		return Decision{Action: Analyst, Payload: text}
	}

	return Decision{Action: Unknown, Payload: text}
}
