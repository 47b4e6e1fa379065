package types

// Snapshot is a read-only bundle of the current page state handed to
// challenge detectors. The automation driver produces it; detectors only
// classify it and never mutate browser or session state.
type Snapshot struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Text       string        `json:"text,omitempty"` // visible text content
	HTTPStatus int           `json:"http_status,omitempty"`
	Elements   []PageElement `json:"elements,omitempty"` // interactive elements
	Screenshot []byte        `json:"screenshot,omitempty"`
}

// PageElement represents an interactive element on the page.
type PageElement struct {
	Tag      string            `json:"tag"`
	Type     string            `json:"type,omitempty"` // input type: password, text, etc.
	Selector string            `json:"selector,omitempty"`
	Text     string            `json:"text,omitempty"`
	Visible  bool              `json:"visible"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Empty reports whether the snapshot carries nothing a detector could
// classify. Detectors treat empty snapshots as "no trigger".
func (s *Snapshot) Empty() bool {
	return s == nil || (s.URL == "" && s.Title == "" && s.Text == "" &&
		len(s.Elements) == 0 && s.HTTPStatus == 0)
}
