package crawler

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseDocument parses an HTML body into a queryable Document.
func ParseDocument(body []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &htmlDocument{sel: doc.Selection}, nil
}

// EmptyDocument returns a Document that matches nothing.
func EmptyDocument() Document {
	return &htmlDocument{}
}

type htmlDocument struct {
	sel *goquery.Selection
}

func (d *htmlDocument) Select(selector string) []Element {
	if d == nil || d.sel == nil || strings.TrimSpace(selector) == "" {
		return nil
	}
	matches := d.sel.Find(selector)
	out := make([]Element, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, htmlElement{sel: s})
	})
	return out
}

func (d *htmlDocument) SelectFirst(selector string) (Element, bool) {
	if d == nil || d.sel == nil || strings.TrimSpace(selector) == "" {
		return nil, false
	}
	first := d.sel.Find(selector).First()
	if first.Length() == 0 {
		return nil, false
	}
	return htmlElement{sel: first}, true
}

type htmlElement struct {
	sel *goquery.Selection
}

func (e htmlElement) Text() string {
	return e.sel.Text()
}

func (e htmlElement) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}
