package commands

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// Usage is shown back to the user when arguments are missing or malformed.
	Usage     string
	AdminOnly bool
	Hidden    bool
	Aliases   []string
}

// Args returns the whitespace separated arguments following the command word.
func Args(c tele.Context) []string {
	if args := c.Args(); len(args) > 0 {
		return args
	}
	fields := strings.Fields(c.Text())
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
