package facet

import (
	"regexp"
	"strconv"
	"strings"
)

// TermComparator orders two terms, returning a negative number when a sorts
// first, zero when equal and a positive number otherwise.
type TermComparator func(a, b string) int

// AlphabeticalComparator sorts case-insensitively, falling back to byte
// order so the result is deterministic.
func AlphabeticalComparator(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

var lastNumber = regexp.MustCompile(`(\d+)\D*$`)

// annotationValue extracts the last integer in a label ("GRCh38 V29" -> 29).
func annotationValue(label string) (int, bool) {
	m := lastNumber.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// AssemblyComparator sorts genome assembly and annotation terms newest first
// by the numeric annotation value in their label. Labels without a number
// follow, alphabetically.
func AssemblyComparator(a, b string) int {
	av, aok := annotationValue(a)
	bv, bok := annotationValue(b)
	switch {
	case aok && bok && av != bv:
		return bv - av
	case aok && !bok:
		return -1
	case !aok && bok:
		return 1
	}
	return AlphabeticalComparator(a, b)
}

// AnalysisComparator sorts terms by their position in order, an externally
// supplied analysis list. Terms missing from order follow, alphabetically.
func AnalysisComparator(order []string) TermComparator {
	rank := make(map[string]int, len(order))
	for i, title := range order {
		if _, dup := rank[title]; !dup {
			rank[title] = i
		}
	}
	return func(a, b string) int {
		ai, aok := rank[a]
		bi, bok := rank[b]
		switch {
		case aok && bok:
			return ai - bi
		case aok:
			return -1
		case bok:
			return 1
		}
		return AlphabeticalComparator(a, b)
	}
}
