// Package sitematch picks the site a caller most likely meant from a spoken
// description.
package sitematch

import (
	"strings"
	"unicode"
)

// DefaultThreshold is the minimum score for a match to be trusted.
const DefaultThreshold = 0.5

// Candidate is a site that may be matched.
type Candidate struct {
	ID         string
	Name       string
	Identifier string
	Address    string
}

// Match is the chosen candidate and its score in [0,1].
type Match struct {
	Candidate Candidate
	Score     float64
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "at": true, "on": true, "in": true,
	"of": true, "for": true, "to": true, "and": true, "site": true,
	"project": true, "job": true, "update": true, "please": true, "its": true,
	"it": true, "is": true, "im": true, "i": true, "we": true, "our": true,
	"over": true, "down": true, "up": true,
}

// Best returns the highest scoring candidate. ok is false when nothing
// reaches threshold or when two different candidates tie below an exact
// match, so the caller asks instead of guessing.
func Best(query string, cands []Candidate, threshold float64) (Match, bool) {
	if strings.TrimSpace(query) == "" || len(cands) == 0 {
		return Match{}, false
	}
	var best Match
	tied := false
	for i, c := range cands {
		m := Match{Candidate: c, Score: Score(query, c)}
		if i == 0 {
			best = m
			continue
		}
		replace := false
		if m.Score > best.Score {
			replace = true
			tied = false
		} else if m.Score == best.Score {
			tied = true
			// deterministic order for ties: longer name, then lexical id
			if len(c.Name) > len(best.Candidate.Name) {
				replace = true
			} else if len(c.Name) == len(best.Candidate.Name) && c.ID < best.Candidate.ID {
				replace = true
			}
		}
		if replace {
			best = m
		}
	}
	if best.Score < threshold {
		return best, false
	}
	if tied && best.Score < 1 {
		return best, false
	}
	return best, true
}

// Score rates how well query describes c.
func Score(query string, c Candidate) float64 {
	q := normalize(query)
	if q == "" {
		return 0
	}
	qTokens := tokens(q)

	if id := normalize(c.Identifier); id != "" {
		if q == id || containsPhrase(q, id) {
			return 1
		}
	}

	name := normalize(c.Name)
	s := 0.0
	if name != "" {
		if q == name {
			return 1
		}
		if containsPhrase(q, name) {
			s = 0.95
		} else if len(q) >= 3 && containsPhrase(name, q) {
			s = 0.9
		}
		s = maxf(s, overlap(qTokens, tokens(name)))
	}
	if addr := normalize(c.Address); addr != "" {
		if containsPhrase(q, addr) {
			s = maxf(s, 0.9)
		}
		s = maxf(s, 0.8*overlap(qTokens, tokens(addr)))
	}
	return s
}

// overlap is the share of target tokens found in the query. A token prefix of
// four or more letters counts half, so "renovations" still meets "renovation".
func overlap(query, target []string) float64 {
	if len(target) == 0 || len(query) == 0 {
		return 0
	}
	hit := 0.0
	for _, t := range target {
		best := 0.0
		for _, q := range query {
			if q == t {
				best = 1
				break
			}
			if len(q) >= 4 && len(t) >= 4 && (strings.HasPrefix(t, q) || strings.HasPrefix(q, t)) {
				best = 0.5
			}
		}
		hit += best
	}
	return hit / float64(len(target))
}

func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case r == '\'':
		default:
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func tokens(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// containsPhrase matches whole words only.
func containsPhrase(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
