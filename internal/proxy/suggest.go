package proxy

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Match weights for Suggest.
const (
	scoreExact     = 100.0
	scorePrefix    = 75.0
	scoreSubstring = 50.0
	scoreFuzzy     = 25.0
	positionBonus  = 10.0

	// suggestions below this are noise
	minSuggestScore = 16.0
)

type suggestion struct {
	label string
	score float64
}

// Suggest ranks registered labels against a label that missed, best first.
// Both sides are split on "-" and "_" so "shop-api" matches a miss on "api".
func Suggest(miss string, labels []string, limit int) []string {
	query := fragments(miss)
	if len(query) == 0 {
		return nil
	}

	var ranked []suggestion
	for _, l := range labels {
		if l == miss {
			continue
		}
		if s := scoreLabel(query, fragments(l)); s >= minSuggestScore {
			ranked = append(ranked, suggestion{l, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].label < ranked[j].label
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.label
	}
	return out
}

func fragments(label string) []string {
	parts := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return r == '-' || r == '_'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = normalizeFragment(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// scoreLabel takes, for each query fragment, its best match among the
// label's fragments.
func scoreLabel(query, label []string) float64 {
	var total float64
	for _, q := range query {
		best := 0.0
		for i, f := range label {
			best = math.Max(best, scoreFragment(q, f, i))
		}
		total += best
	}
	return total / float64(len(query))
}

func scoreFragment(q, f string, position int) float64 {
	switch {
	case q == f:
		return scoreExact + positionWeight(position)
	case strings.HasPrefix(f, q) || strings.HasPrefix(q, f):
		return scorePrefix + positionWeight(position)
	case strings.Contains(f, q):
		idx := strings.Index(f, q)
		return scoreSubstring + positionBonus*(1-float64(idx)/float64(len(f)))
	}
	if sim := similarity(q, f); sim > 0.5 {
		return scoreFuzzy * sim
	}
	return 0
}

// positionWeight favors matches on earlier fragments.
func positionWeight(position int) float64 {
	return positionBonus * math.Exp(-float64(position)*0.3)
}

// similarity is the share of q's characters found in f, scaled down when
// the lengths differ a lot.
func similarity(q, f string) float64 {
	if q == "" || f == "" {
		return 0
	}
	matches := 0
	for _, c := range q {
		if strings.ContainsRune(f, c) {
			matches++
		}
	}
	ratio := float64(matches) / float64(len(q))
	shorter, longer := len(q), len(f)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	return ratio * float64(shorter) / float64(longer)
}

func normalizeFragment(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}
