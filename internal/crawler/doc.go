// Package crawler holds the domain types, interfaces, and pure logic of the
// proceedings crawler.
//
// The crawl is a fixed two-level walk: a per-year listing page yields
// PaperReference values, and each reference's detail page yields one
// PaperRecord. Network and storage concerns live behind the interfaces in
// interfaces.go so the year crawler, extractor, and workers can be exercised
// against fakes.
//
// Failures crossing a component boundary are *Error values carrying a Kind.
// Callers branch on KindOf or IsTransient rather than on message text.
package crawler
