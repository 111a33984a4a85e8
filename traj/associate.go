package traj

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// TieBreak selects how candidates with equal time gaps are ordered
type TieBreak string

const (
	// TieBreakLexical orders equal-gap candidates by the stamp strings
	TieBreakLexical TieBreak = "lexical"
	// TieBreakNumeric orders equal-gap candidates by stamp value, then by string
	TieBreakNumeric TieBreak = "numeric"
)

// ParseTieBreak converts a config string to a TieBreak; empty means lexical
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "", TieBreakLexical:
		return TieBreakLexical, nil
	case TieBreakNumeric:
		return TieBreakNumeric, nil
	}
	return "", fmt.Errorf("unknown tie-break %q (want %q or %q)", s, TieBreakLexical, TieBreakNumeric)
}

// AssociateOptions tunes Associate beyond offset and tolerance
type AssociateOptions struct {
	TieBreak TieBreak
}

type stamp struct {
	key   string
	value float64
}

type candidate struct {
	diff float64
	a, b stamp
}

// Associate pairs stamps of first with stamps of second. A pair (a, b) is a
// candidate when |a - (b + offset)| < maxDifference; candidates are committed
// greedily by ascending gap so that each stamp is used at most once. The
// result is sorted by the first stamp.
func Associate[A, B any](first map[string]A, second map[string]B, offset, maxDifference float64) ([]Match, error) {
	return AssociateWith(first, second, offset, maxDifference, AssociateOptions{})
}

// AssociateWith is Associate with explicit options
func AssociateWith[A, B any](first map[string]A, second map[string]B, offset, maxDifference float64, opts AssociateOptions) ([]Match, error) {
	matches := []Match{}
	if len(first) == 0 || len(second) == 0 {
		return matches, nil
	}

	firstStamps, err := parseStamps(first)
	if err != nil {
		return nil, fmt.Errorf("first trajectory: %w", err)
	}
	secondStamps, err := parseStamps(second)
	if err != nil {
		return nil, fmt.Errorf("second trajectory: %w", err)
	}

	var candidates []candidate
	for _, a := range firstStamps {
		for _, b := range secondStamps {
			diff := math.Abs(a.value - (b.value + offset))
			if diff < maxDifference {
				candidates = append(candidates, candidate{diff: diff, a: a, b: b})
			}
		}
	}

	compare := compareLexical
	if opts.TieBreak == TieBreakNumeric {
		compare = compareNumeric
	}
	slices.SortFunc(candidates, compare)

	usedFirst := make(map[string]bool, len(firstStamps))
	usedSecond := make(map[string]bool, len(secondStamps))
	for _, c := range candidates {
		if usedFirst[c.a.key] || usedSecond[c.b.key] {
			continue
		}
		usedFirst[c.a.key] = true
		usedSecond[c.b.key] = true
		matches = append(matches, Match{First: c.a.key, Second: c.b.key})
	}

	slices.SortFunc(matches, func(x, y Match) int {
		return cmp.Or(cmp.Compare(x.First, y.First), cmp.Compare(x.Second, y.Second))
	})
	return matches, nil
}

func compareLexical(x, y candidate) int {
	return cmp.Or(
		cmp.Compare(x.diff, y.diff),
		cmp.Compare(x.a.key, y.a.key),
		cmp.Compare(x.b.key, y.b.key),
	)
}

func compareNumeric(x, y candidate) int {
	return cmp.Or(
		cmp.Compare(x.diff, y.diff),
		cmp.Compare(x.a.value, y.a.value),
		cmp.Compare(x.a.key, y.a.key),
		cmp.Compare(x.b.value, y.b.value),
		cmp.Compare(x.b.key, y.b.key),
	)
}

func parseStamps[V any](m map[string]V) ([]stamp, error) {
	stamps := make([]stamp, 0, len(m))
	for key := range m {
		v, err := ParseStamp(key)
		if err != nil {
			return nil, err
		}
		stamps = append(stamps, stamp{key: key, value: v})
	}
	return stamps, nil
}

// ParseStamp reads a stamp label as seconds
func ParseStamp(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w %q", ErrInvalidStamp, s)
	}
	return v, nil
}

// SortStamps returns the keys of m ordered by numeric value. Keys that do not
// parse sort last, in string order.
func SortStamps[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	values := make(map[string]float64, len(m))
	for k := range m {
		keys = append(keys, k)
		v, err := ParseStamp(k)
		if err != nil {
			v = math.Inf(1)
		}
		values[k] = v
	}
	slices.SortFunc(keys, func(x, y string) int {
		return cmp.Or(cmp.Compare(values[x], values[y]), cmp.Compare(x, y))
	})
	return keys
}
