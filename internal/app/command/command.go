// Package command classifies raw chat text into agenda commands.
package command

import (
	"strings"
	"unicode"
)

// Kind is the classification of a chat message.
type Kind int

const (
	NotACommand Kind = iota
	Add
	ShowAgenda
	Clear
	Help
	Unrecognized
)

func (k Kind) String() string {
	switch k {
	case NotACommand:
		return "not_a_command"
	case Add:
		return "add"
	case ShowAgenda:
		return "agenda"
	case Clear:
		return "clear"
	case Help:
		return "help"
	case Unrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

const (
	Prefix      = "!"
	AddPrefix   = "!add "
	AgendaToken = "!agenda"
	ClearToken  = "!clear"
	HelpToken   = "!help"
)

// Command is a parsed chat message. Title is set for Add; Sender is always
// the sender passed to Parse.
type Command struct {
	Kind   Kind
	Title  string
	Sender string
}

// Parse classifies message. It is pure: the same input always yields the
// same Command. An "!add " with nothing after it yields an Add with an empty
// title.
func Parse(message, sender string) Command {
	cmd := Command{Kind: NotACommand, Sender: sender}
	if !strings.HasPrefix(message, Prefix) {
		return cmd
	}
	if title, ok := strings.CutPrefix(message, AddPrefix); ok {
		cmd.Kind = Add
		cmd.Title = title
		return cmd
	}
	switch firstToken(message) {
	case AgendaToken:
		cmd.Kind = ShowAgenda
	case ClearToken:
		cmd.Kind = Clear
	case HelpToken:
		cmd.Kind = Help
	default:
		cmd.Kind = Unrecognized
	}
	return cmd
}

func firstToken(s string) string {
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i]
	}
	return s
}
