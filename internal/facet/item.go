package facet

import (
	"strconv"
	"strings"
)

// Item is one dataset or file as decoded from portal JSON.
type Item map[string]any

// ID returns the item's @id, or "".
func (it Item) ID() string {
	id, _ := it["@id"].(string)
	return id
}

// Values resolves a dotted path through nested objects and arrays and
// returns the distinct scalar values found, in first-seen order.
// An absent path yields nil: absence is not a term.
func (it Item) Values(path string) []string {
	var out []string
	seen := make(map[string]bool)
	collect(map[string]any(it), strings.Split(path, "."), func(v string) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	})
	return out
}

func collect(node any, path []string, emit func(string)) {
	switch n := node.(type) {
	case nil:
		return
	case []any:
		for _, elem := range n {
			collect(elem, path, emit)
		}
		return
	case []string:
		if len(path) == 0 {
			for _, s := range n {
				emit(s)
			}
		}
		return
	case map[string]any:
		if len(path) == 0 {
			return
		}
		collect(n[path[0]], path[1:], emit)
		return
	case Item:
		collect(map[string]any(n), path, emit)
		return
	}

	if len(path) != 0 {
		return
	}
	switch v := node.(type) {
	case string:
		emit(v)
	case float64:
		emit(strconv.FormatFloat(v, 'f', -1, 64))
	case int:
		emit(strconv.Itoa(v))
	case bool:
		emit(strconv.FormatBool(v))
	}
}
