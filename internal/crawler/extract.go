package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// AuthorSeparator joins author names in tabular output.
const AuthorSeparator = "; "

// Selectors are the CSS selectors used against listing and detail pages.
type Selectors struct {
	Listing string `mapstructure:"listing"`
	Authors string `mapstructure:"authors"`
	PDF     string `mapstructure:"pdf"`
}

// DefaultSelectors matches the papers.nips.cc markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Listing: "ul.paper-list li.conference a",
		Authors: "i",
		PDF:     `a[href$=".pdf"]`,
	}
}

// Extractor pulls structured fields out of listing and detail documents.
// All methods are pure and tolerate nil or empty documents.
type Extractor struct {
	base *url.URL
	sel  Selectors
}

// NewExtractor builds an Extractor that resolves links against baseURL.
func NewExtractor(baseURL string, sel Selectors) (*Extractor, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	defaults := DefaultSelectors()
	if sel.Listing == "" {
		sel.Listing = defaults.Listing
	}
	if sel.Authors == "" {
		sel.Authors = defaults.Authors
	}
	if sel.PDF == "" {
		sel.PDF = defaults.PDF
	}
	return &Extractor{base: base, sel: sel}, nil
}

// BaseURL returns the origin used for link resolution.
func (e *Extractor) BaseURL() string {
	return e.base.String()
}

// ExtractAuthors returns author names in page order, trimmed, empties dropped.
func (e *Extractor) ExtractAuthors(doc Document) []string {
	if doc == nil {
		return nil
	}
	var authors []string
	for _, el := range doc.Select(e.sel.Authors) {
		name := strings.TrimSpace(el.Text())
		if name == "" {
			continue
		}
		authors = append(authors, name)
	}
	return authors
}

// ExtractPDFURL returns the absolute URL of the first PDF link, or "".
func (e *Extractor) ExtractPDFURL(doc Document) string {
	if doc == nil {
		return ""
	}
	el, ok := doc.SelectFirst(e.sel.PDF)
	if !ok {
		return ""
	}
	href, ok := el.Attr("href")
	if !ok {
		return ""
	}
	resolved, ok := e.Resolve(href)
	if !ok {
		return ""
	}
	return resolved
}

// Anomaly describes a listing anchor that was skipped.
type Anomaly struct {
	Text   string
	Href   string
	Reason string
}

// ExtractReferences turns listing anchors into references for year.
// Anchors without a usable href are returned as anomalies.
func (e *Extractor) ExtractReferences(doc Document, year int) ([]PaperReference, []Anomaly) {
	if doc == nil {
		return nil, nil
	}
	var (
		refs      []PaperReference
		anomalies []Anomaly
	)
	for _, el := range doc.Select(e.sel.Listing) {
		title := strings.TrimSpace(el.Text())
		href, ok := el.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			anomalies = append(anomalies, Anomaly{Text: title, Reason: "missing href"})
			continue
		}
		detail, ok := e.Resolve(href)
		if !ok {
			anomalies = append(anomalies, Anomaly{Text: title, Href: href, Reason: "unparsable href"})
			continue
		}
		refs = append(refs, PaperReference{Year: year, Title: title, DetailURL: detail})
	}
	return refs, anomalies
}

// Resolve makes href absolute against the base URL.
func (e *Extractor) Resolve(href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	return e.base.ResolveReference(ref).String(), true
}

// JoinAuthors renders authors for tabular output.
func JoinAuthors(authors []string) string {
	return strings.Join(authors, AuthorSeparator)
}

// ValidateTarget reports whether rawURL is an absolute http(s) URL that can
// be requested.
func ValidateTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
