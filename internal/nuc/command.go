package nuc

import "strings"

// Command is a hierarchical, slash-separated path identifying the
// operation a token authorizes (e.g. "nil/db/data/read").
type Command string

// segments splits a command into its path components.
func (c Command) segments() []string {
	if c == "" {
		return nil
	}
	return strings.Split(string(c), "/")
}

// IsPrefixOf reports whether c is a prefix of (or equal to) other: every
// segment of c matches the corresponding segment of other in order. A
// chain's effective command must be a prefix of the route's required
// command (spec §4.3 step 5: "a token permits a command iff its own
// command is a prefix of the one required") — a route requiring
// "nil/db/data/read" is satisfied by a chain whose effective command is
// "nil/db/data" or "nil/db/data/read", but not by
// "nil/db/data/read/tail", since a narrower grant cannot satisfy a
// broader requirement.
func (c Command) IsPrefixOf(other Command) bool {
	cs := c.segments()
	os := other.segments()
	if len(cs) > len(os) {
		return false
	}
	for i, seg := range cs {
		if seg != os[i] {
			return false
		}
	}
	return true
}

// narrowest returns the longer (more specific) of two commands if one is a
// prefix of the other, and ok=false if neither is a prefix of the other —
// the chain's effective command is undefined in that case.
func narrowest(a, b Command) (Command, bool) {
	if a == "" {
		return b, true
	}
	if b == "" {
		return a, true
	}
	if a.IsPrefixOf(b) {
		return b, true
	}
	if b.IsPrefixOf(a) {
		return a, true
	}
	return "", false
}

// EffectiveCommand folds a chain's per-token commands into the single
// longest-prefix-compatible command every link in the chain agrees to.
func EffectiveCommand(commands []Command) (Command, bool) {
	if len(commands) == 0 {
		return "", false
	}
	effective := commands[0]
	for _, c := range commands[1:] {
		next, ok := narrowest(effective, c)
		if !ok {
			return "", false
		}
		effective = next
	}
	return effective, true
}
