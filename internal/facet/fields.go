package facet

// Field paths into the search projections of datasets and files.
const (
	FieldAssay      = "assay_term_name"
	FieldBiosample  = "biosample_ontology.term_name"
	FieldOrganism   = "replicates.library.biosample.donor.organism.scientific_name"
	FieldTarget     = "target.label"
	FieldLab        = "lab.title"
	FieldProject    = "award.project"
	FieldStatus     = "status"
	FieldAssembly   = "assembly"
	FieldFileFormat = "file_format"
	FieldOutputType = "output_type"
	FieldFileType   = "file_type"
)

// DatasetFields returns the facets shown over the datasets in a cart.
func DatasetFields() []Field {
	return []Field{
		{Name: FieldAssay, Title: "Assay"},
		{Name: FieldBiosample, Title: "Biosample"},
		{Name: FieldOrganism, Title: "Organism"},
		{Name: FieldTarget, Title: "Target"},
		{Name: FieldLab, Title: "Lab"},
		{Name: FieldProject, Title: "Project"},
		{Name: FieldStatus, Title: "Status"},
	}
}

// FileFields returns the facets shown over the files of a cart's datasets.
func FileFields() []Field {
	return []Field{
		{Name: FieldAssembly, Title: "Assembly", Compare: AssemblyComparator, Visualizable: Browsable},
		{Name: FieldFileFormat, Title: "File format", Visualizable: Browsable},
		{Name: FieldOutputType, Title: "Output type"},
		{Name: FieldFileType, Title: "File type"},
		{Name: FieldStatus, Title: "Status"},
	}
}

// Names returns the field paths, for requesting only what the facets need.
func Names(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// browsableFormats can be loaded into a genome browser.
var browsableFormats = map[string]bool{"bigWig": true, "bigBed": true, "hic": true}

// Browsable reports whether a released file can be shown in a genome browser.
func Browsable(it Item) bool {
	format, _ := it[FieldFileFormat].(string)
	status, _ := it[FieldStatus].(string)
	return browsableFormats[format] && (status == "" || status == "released")
}
