// Package mentions resolves structured mention sets for outgoing
// messages. Mentions are a structured field validated against chat
// membership; @name markup inside the content is only an additional
// input, never the canonical representation.
package mentions

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"agora/errors"
)

type Policy string

const (
	// PolicyDrop silently filters mentions of non-members out of the
	// stored set.
	PolicyDrop Policy = "drop"
	// PolicyReject fails the whole send when a mention references a
	// non-member.
	PolicyReject Policy = "reject"
)

// Resolver reconciles explicit mention lists and content markup against
// the current membership of a chat.
type Resolver struct {
	policy         Policy
	extractContent bool
}

func NewResolver(policy Policy, extractContent bool) Resolver {
	return Resolver{policy: policy, extractContent: extractContent}
}

// Resolve returns the final mention set for a message. members maps the
// chat's current member names to their ids; explicit is the structured
// list supplied by the sender.
func (r Resolver) Resolve(content string, explicit []uuid.UUID,
	members map[string]uuid.UUID) ([]uuid.UUID, error) {

	memberIDs := make(map[uuid.UUID]struct{}, len(members))
	for _, id := range members {
		memberIDs[id] = struct{}{}
	}

	var resolved []uuid.UUID
	for _, id := range lo.Uniq(explicit) {
		if _, ok := memberIDs[id]; ok {
			resolved = append(resolved, id)
			continue
		}
		if r.policy == PolicyReject {
			return nil, fmt.Errorf("mention of non-member %s: %w", id, errors.ErrValidation)
		}
	}

	if r.extractContent && len(members) > 0 {
		extracted, err := extract(content, members)
		if err != nil {
			return nil, err
		}
		for _, id := range extracted {
			if !lo.Contains(resolved, id) {
				resolved = append(resolved, id)
			}
		}
	}
	return resolved, nil
}

// extract scans the content for @name references using an Aho-Corasick
// automaton over the member names. Matching is case-insensitive; a match
// must end at a word boundary so @ann does not fire inside @annette.
func extract(content string, members map[string]uuid.UUID) ([]uuid.UUID, error) {
	patterns := make([][]rune, 0, len(members))
	byPattern := make(map[string]uuid.UUID, len(members))
	for name, id := range members {
		pattern := normalize("@" + name)
		patterns = append(patterns, []rune(pattern))
		byPattern[pattern] = id
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}

	haystack := []rune(normalize(content))
	var found []uuid.UUID
	for _, term := range machine.MultiPatternSearch(haystack, false) {
		end := term.Pos + len(term.Word)
		if end < len(haystack) && isNamePart(haystack[end]) {
			continue
		}
		if id, ok := byPattern[string(term.Word)]; ok && !lo.Contains(found, id) {
			found = append(found, id)
		}
	}
	return found, nil
}

func normalize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

func isNamePart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}
