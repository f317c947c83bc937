package workspace

// TemplateContext carries the values a body template can interpolate when
// a new entry is created.
type TemplateContext struct {
	Title  string
	Date   string
	PartOf string
}

// TemplateFunc produces the initial body for a new entry.
type TemplateFunc func(TemplateContext) string

// DefaultTemplate is a single top-level heading.
func DefaultTemplate(tc TemplateContext) string {
	return "# " + tc.Title + "\n"
}
