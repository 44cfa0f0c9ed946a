package domain

import "strings"

// PaperRecord is a single paper as returned by the Scraper service.
// Records arrive as an ordered sequence; the order is preserved downstream
// so that prompt construction stays deterministic.
type PaperRecord struct {
	// ID uniquely identifies the paper within a response batch.
	ID string
	// Title is the paper title.
	Title string
	// Abstract is the abstract text used for prompt construction.
	Abstract string
	// Metadata carries open-ended scraper-provided fields
	// such as authors, year and venue.
	Metadata map[string]string
}

// Authors returns the authors metadata field, empty if absent.
func (p PaperRecord) Authors() string {
	return p.Metadata["authors"]
}

// Year returns the year metadata field, empty if absent.
func (p PaperRecord) Year() string {
	return p.Metadata["year"]
}

// HasAbstract reports whether the paper carries usable abstract text.
func (p PaperRecord) HasAbstract() bool {
	return strings.TrimSpace(p.Abstract) != ""
}
