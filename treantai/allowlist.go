package treantai

import "strings"

// Allowlist is the set of usernames permitted to chat with the bot over
// direct messages. It's built once from configuration and never modified.
type Allowlist struct {
	usernames map[string]struct{}
}

// NewAllowlist returns an Allowlist containing the given usernames.
// Surrounding whitespace is trimmed and empty entries are skipped.
func NewAllowlist(usernames ...string) Allowlist {
	a := Allowlist{usernames: make(map[string]struct{}, len(usernames))}
	for _, u := range usernames {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		a.usernames[u] = struct{}{}
	}
	return a
}

// Allowed reports whether the username is in the allow-list.
// Matching is exact and case-sensitive.
func (a Allowlist) Allowed(username string) bool {
	_, ok := a.usernames[username]
	return ok
}

func (a Allowlist) Len() int {
	return len(a.usernames)
}
