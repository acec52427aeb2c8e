package bot

import (
	"net/url"
	"regexp"
	"strings"
)

// Kind is the classification of one inbound text message. Classification
// runs before any handler logic so each variant can be handled (and tested)
// exhaustively.
type Kind int

const (
	// KindCommand is a slash command from the fixed vocabulary, or an
	// unknown slash-prefixed string.
	KindCommand Kind = iota
	// KindCallbackURL is a pasted OAuth2 callback URL carrying code and
	// state query parameters.
	KindCallbackURL
	// KindFreeText is anything else; it is forwarded to the transformer.
	KindFreeText
)

// Input is the parsed form of one inbound message.
type Input struct {
	Kind    Kind
	Command string // command name without the slash, lowercased
	Args    string // remainder after the command token
	Code    string // callback URL query parameters
	State   string
	Raw     string
}

var urlPattern = regexp.MustCompile(`^https?://\S+$`)

// knownCommands is the fixed command vocabulary.
var knownCommands = map[string]bool{
	"start":      true,
	"connect":    true,
	"post":       true,
	"state":      true,
	"disconnect": true,
	"help":       true,
}

// Classify parses raw text into exactly one variant, in order: slash
// command, callback URL, free text.
func Classify(text string) Input {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "/") {
		name, args := splitCommand(trimmed)
		if !knownCommands[name] {
			name = "" // unknown command, handler replies accordingly
		}
		return Input{Kind: KindCommand, Command: name, Args: args, Raw: trimmed}
	}

	if urlPattern.MatchString(trimmed) {
		in := Input{Kind: KindCallbackURL, Raw: trimmed}
		if u, err := url.Parse(trimmed); err == nil {
			q := u.Query()
			in.Code = q.Get("code")
			in.State = q.Get("state")
		}
		return in
	}

	return Input{Kind: KindFreeText, Raw: trimmed}
}

// splitCommand separates "/post some text" into ("post", "some text").
// A "@botname" suffix on the command token is dropped.
func splitCommand(text string) (name, args string) {
	rest := strings.TrimPrefix(text, "/")
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		name, args = rest[:i], strings.TrimSpace(rest[i+1:])
	} else {
		name = rest
	}
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), args
}
