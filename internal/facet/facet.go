// Package facet derives term counts and the selected subset of cart items
// from a set of chosen filter terms.
//
// =============================================================================
// MATCH / NEAR-MATCH COUNTING
// =============================================================================
//
// An item is selected when, for every field holding at least one chosen term,
// one of its values for that field is chosen. Selected items count toward the
// terms of every field.
//
// An item that is not selected can still count toward ONE field F: when it
// would be selected with F's constraint dropped. That tells the user how many
// more items appear if they also choose one of F's other terms, without those
// items counting as already selected.
//
// Items failing every reduced test count nowhere. Chosen terms that end up
// with no count are kept at zero so an active filter never disappears.
// =============================================================================
package facet

import (
	"slices"
)

// Field declares one facetable property.
type Field struct {
	Name  string // dotted path into the item, e.g. "replicate.library.biosample.organism.scientific_name"
	Title string

	// Compare orders the terms; nil sorts alphabetically ignoring case.
	Compare TermComparator

	// Visualizable marks a term visualizable when any item counted toward
	// it satisfies the predicate. Optional.
	Visualizable func(Item) bool
}

// Term is one distinct value of a field with the number of items holding it.
type Term struct {
	Term         string `json:"term"`
	Count        int    `json:"count"`
	Visualizable bool   `json:"visualizable,omitempty"`
}

// Facet is the derived summary of one field.
type Facet struct {
	Field string `json:"field"`
	Title string `json:"title"`
	Terms []Term `json:"terms"`
}

// Result is the output of one assembly.
type Result struct {
	Facets   []Facet `json:"facets"`
	Selected []Item  `json:"selected"`
}

// SelectedTerms maps a field name to its chosen terms. A missing or empty
// entry means no filter on that field.
type SelectedTerms map[string][]string

// Clone returns a deep copy.
func (s SelectedTerms) Clone() SelectedTerms {
	out := make(SelectedTerms, len(s))
	for field, terms := range s {
		out[field] = slices.Clone(terms)
	}
	return out
}

// Toggle returns a copy of s with term added to or removed from field.
func (s SelectedTerms) Toggle(field, term string) SelectedTerms {
	out := s.Clone()
	terms := out[field]
	if i := slices.Index(terms, term); i >= 0 {
		out[field] = slices.Delete(terms, i, i+1)
	} else {
		out[field] = append(terms, term)
	}
	if len(out[field]) == 0 {
		delete(out, field)
	}
	return out
}

// engine holds the per-assembly lookups shared by Assemble and Filter.
type engine struct {
	fields []Field
	chosen []map[string]bool // indexed like fields; nil when the field has no selection
	active []int             // indexes of fields with a selection
}

func newEngine(selected SelectedTerms, fields []Field) *engine {
	e := &engine{
		fields: fields,
		chosen: make([]map[string]bool, len(fields)),
	}
	for i, f := range fields {
		terms := selected[f.Name]
		if len(terms) == 0 {
			continue
		}
		set := make(map[string]bool, len(terms))
		for _, t := range terms {
			set[t] = true
		}
		e.chosen[i] = set
		e.active = append(e.active, i)
	}
	return e
}

// matches reports whether values pass every active field except skip
// (-1 to check all of them).
func (e *engine) matches(values [][]string, skip int) bool {
	for _, i := range e.active {
		if i == skip {
			continue
		}
		hit := false
		for _, v := range values[i] {
			if e.chosen[i][v] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (e *engine) values(item Item) [][]string {
	values := make([][]string, len(e.fields))
	for i, f := range e.fields {
		values[i] = item.Values(f.Name)
	}
	return values
}

// Assemble computes the facets for fields over items and the subset of
// items the selection picks. The full set is rebuilt on every call.
func Assemble(selected SelectedTerms, items []Item, fields []Field) Result {
	e := newEngine(selected, fields)

	counts := make([]map[string]*Term, len(fields))
	for i := range counts {
		counts[i] = make(map[string]*Term)
	}
	count := func(fieldIdx int, item Item, values []string) {
		f := fields[fieldIdx]
		visualizable := f.Visualizable != nil && f.Visualizable(item)
		for _, v := range values {
			term, ok := counts[fieldIdx][v]
			if !ok {
				term = &Term{Term: v}
				counts[fieldIdx][v] = term
			}
			term.Count++
			term.Visualizable = term.Visualizable || visualizable
		}
	}

	result := Result{Selected: []Item{}}
	for _, item := range items {
		values := e.values(item)

		if e.matches(values, -1) {
			result.Selected = append(result.Selected, item)
			for i := range fields {
				count(i, item, values[i])
			}
			continue
		}

		for _, i := range e.active {
			if e.matches(values, i) {
				count(i, item, values[i])
			}
		}
	}

	result.Facets = make([]Facet, len(fields))
	for i, f := range fields {
		for _, t := range selected[f.Name] {
			if _, ok := counts[i][t]; !ok {
				counts[i][t] = &Term{Term: t}
			}
		}

		terms := make([]Term, 0, len(counts[i]))
		for _, t := range counts[i] {
			terms = append(terms, *t)
		}
		compare := f.Compare
		if compare == nil {
			compare = AlphabeticalComparator
		}
		slices.SortFunc(terms, func(a, b Term) int { return compare(a.Term, b.Term) })

		result.Facets[i] = Facet{Field: f.Name, Title: f.Title, Terms: terms}
	}
	return result
}

// Filter returns the items the selection picks, without counting terms.
func Filter(selected SelectedTerms, items []Item, fields []Field) []Item {
	e := newEngine(selected, fields)
	out := []Item{}
	for _, item := range items {
		if e.matches(e.values(item), -1) {
			out = append(out, item)
		}
	}
	return out
}
