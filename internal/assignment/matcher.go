// Package assignment matches the free-text staff name on an invoice to an
// active staff account and commits the assignment.
//
// Matching is split from committing: Match is a pure function over its
// inputs so the heuristics are independently testable, and the Service owns
// the persistence side effects.
package assignment

import (
	"sort"
	"strings"

	"notaria/internal/domain"
)

// MatchKind tags how a match was found.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchPartial MatchKind = "partial"
	MatchNone    MatchKind = "none"
)

// MatchResult is the outcome of matching a raw staff name. A None result is
// a recognized signal, not an error.
type MatchResult struct {
	Kind    MatchKind
	Account domain.StaffAccount
	Overlap int
}

// Match resolves a free-text staff name against the candidate accounts.
//
// An exact normalized "first last" match wins immediately. Otherwise a
// partial match requires the first input token to share a substring
// relationship with the candidate's first name, and enough of the remaining
// tokens (length >= 3) to overlap with any candidate token: at least two for
// inputs longer than two tokens, at least one otherwise. Ties between
// partial matches with equal overlap are broken by the role priority order,
// so repeated calls are deterministic.
func Match(raw string, candidates []domain.StaffAccount, priority []domain.StaffRole) MatchResult {
	input := normalizeName(raw)
	if input == "" || strings.EqualFold(raw, domain.UnassignedStaff) {
		return MatchResult{Kind: MatchNone}
	}

	ranked := rankCandidates(candidates, priority)

	for _, candidate := range ranked {
		if input == normalizeName(candidate.FullName()) {
			return MatchResult{Kind: MatchExact, Account: candidate}
		}
	}

	inputTokens := strings.Fields(input)
	required := 1
	if len(inputTokens) > 2 {
		required = 2
	}

	best := MatchResult{Kind: MatchNone}
	for _, candidate := range ranked {
		overlap, ok := partialOverlap(inputTokens, candidate)
		if !ok || overlap < required {
			continue
		}
		// ranked order already encodes the tie-break, so only a strictly
		// better overlap displaces the current best.
		if best.Kind == MatchNone || overlap > best.Overlap {
			best = MatchResult{Kind: MatchPartial, Account: candidate, Overlap: overlap}
		}
	}
	return best
}

// partialOverlap counts input tokens related to candidate name tokens. The
// gate is the first token: it must contain or be contained in the first
// token of the candidate's first name.
func partialOverlap(inputTokens []string, candidate domain.StaffAccount) (int, bool) {
	if len(inputTokens) == 0 {
		return 0, false
	}
	firstTokens := strings.Fields(normalizeName(candidate.FirstName))
	if len(firstTokens) == 0 || !related(inputTokens[0], firstTokens[0]) {
		return 0, false
	}

	candidateTokens := strings.Fields(normalizeName(candidate.FullName()))
	overlap := 0
	for _, token := range inputTokens {
		if len(token) < 3 {
			continue
		}
		for _, candidateToken := range candidateTokens {
			if related(token, candidateToken) {
				overlap++
				break
			}
		}
	}
	return overlap, true
}

// related reports a mutual substring relationship between two tokens.
func related(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// rankCandidates orders candidates by role priority, then name, so tie
// resolution is stable across calls. Roles missing from the priority list
// sort last.
func rankCandidates(candidates []domain.StaffAccount, priority []domain.StaffRole) []domain.StaffAccount {
	rank := make(map[domain.StaffRole]int, len(priority))
	for i, role := range priority {
		rank[role] = i
	}
	roleRank := func(role domain.StaffRole) int {
		if r, ok := rank[role]; ok {
			return r
		}
		return len(priority)
	}

	ranked := append([]domain.StaffAccount(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := roleRank(ranked[i].Role), roleRank(ranked[j].Role)
		if ri != rj {
			return ri < rj
		}
		return ranked[i].FullName() < ranked[j].FullName()
	})
	return ranked
}

// diacriticFold maps the accented letters that appear in Spanish names.
var diacriticFold = map[rune]rune{
	'á': 'a', 'é': 'e', 'í': 'i', 'ó': 'o', 'ú': 'u', 'ü': 'u', 'ñ': 'n',
}

// normalizeName lowercases, folds diacritics, strips punctuation, and
// collapses whitespace.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if folded, ok := diacriticFold[r]; ok {
			r = folded
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
