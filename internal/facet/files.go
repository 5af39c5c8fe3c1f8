package facet

// FieldFiles is the dataset property listing the dataset's files.
const FieldFiles = "files"

// FileFieldNames returns the dataset-relative paths that embed the given file
// fields, plus files.@id so bare references can be fetched separately.
func FileFieldNames(fields []Field) []string {
	out := make([]string, 0, len(fields)+1)
	out = append(out, FieldFiles+".@id")
	for _, f := range fields {
		out = append(out, FieldFiles+"."+f.Name)
	}
	return out
}

// Files pulls the files out of datasets. Files embedded as objects come back
// as items; files given only by @id come back in refs for a second fetch.
// Each @id is reported once, in first-seen order.
func Files(datasets []Item) (items []Item, refs []string) {
	seen := make(map[string]bool)
	ref := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			refs = append(refs, id)
		}
	}
	object := func(obj map[string]any) {
		it := Item(obj)
		id := it.ID()
		if len(obj) == 1 && id != "" {
			ref(id)
			return
		}
		if id != "" {
			if seen[id] {
				return
			}
			seen[id] = true
		}
		items = append(items, it)
	}

	for _, ds := range datasets {
		switch files := ds[FieldFiles].(type) {
		case []any:
			for _, f := range files {
				switch v := f.(type) {
				case string:
					ref(v)
				case map[string]any:
					object(v)
				case Item:
					object(v)
				}
			}
		case []string:
			for _, id := range files {
				ref(id)
			}
		case []map[string]any:
			for _, f := range files {
				object(f)
			}
		case []Item:
			for _, f := range files {
				object(f)
			}
		}
	}
	return items, refs
}
