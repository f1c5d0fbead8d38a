package service

import (
	"strings"

	"github.com/timmy/tunematch/internal/domain"
)

const (
	valencePositive = "positive"
	valenceNegative = "negative"
)

// moodTable answers valence and transition questions from the configured
// mood groups and good-transition lists.
type moodTable struct {
	groupsOf map[string][]string
	good     map[string]map[string]struct{}
}

func newMoodTable(groups, transitions map[string][]string) *moodTable {
	t := &moodTable{
		groupsOf: make(map[string][]string),
		good:     make(map[string]map[string]struct{}),
	}
	for group, moods := range groups {
		for _, mood := range moods {
			m := normalizeMood(mood)
			t.groupsOf[m] = append(t.groupsOf[m], group)
		}
	}
	for from, tos := range transitions {
		set := make(map[string]struct{}, len(tos))
		for _, to := range tos {
			set[normalizeMood(to)] = struct{}{}
		}
		t.good[normalizeMood(from)] = set
	}
	return t
}

func normalizeMood(mood string) string {
	return strings.ToLower(normalizeWhitespace(mood))
}

func (t *moodTable) inGroup(mood, group string) bool {
	for _, g := range t.groupsOf[normalizeMood(mood)] {
		if g == group {
			return true
		}
	}
	return false
}

// valence returns "positive", "negative" or "" for unknown and neutral moods.
func (t *moodTable) valence(mood string) string {
	switch {
	case t.inGroup(mood, valencePositive):
		return valencePositive
	case t.inGroup(mood, valenceNegative):
		return valenceNegative
	default:
		return ""
	}
}

// opposed reports whether two moods sit in opposite valence groups.
func (t *moodTable) opposed(a, b string) bool {
	va, vb := t.valence(a), t.valence(b)
	return va != "" && vb != "" && va != vb
}

// transition scores moving from one mood to the next.
func (t *moodTable) transition(from, to string) float64 {
	from, to = normalizeMood(from), normalizeMood(to)
	if from == to {
		return 1.0
	}
	if _, ok := t.good[from][to]; ok {
		return 0.8
	}
	for _, g := range t.groupsOf[from] {
		if t.inGroup(to, g) {
			return 0.6
		}
	}
	return 0.3
}

// journeyShape classifies a track's journey by its first and last mood.
// Tracks without a journey have no shape.
func (t *moodTable) journeyShape(steps []domain.JourneyStep) domain.JourneyShape {
	if len(steps) == 0 {
		return ""
	}
	first, last := normalizeMood(steps[0].Mood), normalizeMood(steps[len(steps)-1].Mood)
	switch {
	case first == "" || last == "":
		return ""
	case first == last:
		return domain.JourneyCyclical
	case t.valence(first) == valenceNegative && t.valence(last) == valencePositive:
		return domain.JourneyAscending
	case t.valence(first) == valencePositive && t.valence(last) == valenceNegative:
		return domain.JourneyDescending
	default:
		return domain.JourneyComplex
	}
}
