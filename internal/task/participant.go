package task

import (
	"fmt"
	"strings"
)

// Participant identifies an agent taking part in a task, in the wire form
// "provider#alias" (e.g. "codex#author-A").
type Participant struct {
	Provider string
	Alias    string
}

// ParseParticipant parses the provider#alias form.
func ParseParticipant(s string) (Participant, error) {
	provider, alias, ok := strings.Cut(s, "#")
	if !ok || provider == "" || alias == "" {
		return Participant{}, fmt.Errorf("participant %q must have form provider#alias", s)
	}
	if strings.Contains(alias, "#") {
		return Participant{}, fmt.Errorf("participant %q has multiple separators", s)
	}
	return Participant{Provider: provider, Alias: alias}, nil
}

// String returns the wire form.
func (p Participant) String() string {
	return p.Provider + "#" + p.Alias
}

// ParseParticipants parses a list, reporting the index of the first bad entry.
func ParseParticipants(ids []string) ([]Participant, int, error) {
	out := make([]Participant, 0, len(ids))
	for i, id := range ids {
		p, err := ParseParticipant(id)
		if err != nil {
			return nil, i, err
		}
		out = append(out, p)
	}
	return out, -1, nil
}
