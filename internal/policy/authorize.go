package policy

import "strings"

// CommandSender describes who issued a chat command.
type CommandSender struct {
	FromSelf  bool
	Forwarded bool
}

// AuthorizeCommand decides whether a chat command is honoured. Forwarded commands never are, and selfOnly
// restricts commands to the operator's own account.
func AuthorizeCommand(sender CommandSender, selfOnly bool) bool {
	if sender.Forwarded {
		return false
	}
	if selfOnly && !sender.FromSelf {
		return false
	}
	return true
}

// MatchCommand reports whether text is exactly the trigger, ignoring surrounding whitespace.
func MatchCommand(text, trigger string) bool {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		return false
	}
	return strings.TrimSpace(text) == trigger
}

// LooksLikeCommand reports whether text starts with any trigger. Such text is never spoken.
func LooksLikeCommand(text string, triggers ...string) bool {
	in := strings.TrimSpace(text)
	for _, trigger := range triggers {
		trigger = strings.TrimSpace(trigger)
		if trigger != "" && strings.HasPrefix(in, trigger) {
			return true
		}
	}
	return false
}
