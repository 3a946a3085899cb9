package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ListingURL returns the index page for one proceedings year.
func ListingURL(baseURL string, year int) string {
	return strings.TrimRight(baseURL, "/") + "/paper_files/paper/" + strconv.Itoa(year)
}

// YearDir returns the directory holding artifacts for year.
func YearDir(outputRoot string, year int) string {
	return filepath.Join(outputRoot, strconv.Itoa(year))
}

// YearCrawler expands a year listing into paper references.
type YearCrawler struct {
	fetcher    Fetcher
	extractor  *Extractor
	outputRoot string
	logger     *zap.Logger
}

// NewYearCrawler builds a YearCrawler writing year directories under outputRoot.
func NewYearCrawler(fetcher Fetcher, extractor *Extractor, outputRoot string, logger *zap.Logger) *YearCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YearCrawler{
		fetcher:    fetcher,
		extractor:  extractor,
		outputRoot: outputRoot,
		logger:     logger,
	}
}

// Crawl fetches year's listing and returns the references it links to.
// A listing fetch failure yields no references and a classified error; an
// empty listing yields no references and no error.
func (c *YearCrawler) Crawl(ctx context.Context, year int) ([]PaperReference, error) {
	log := c.logger.With(zap.Int("year", year))

	dir := YearDir(c.outputRoot, year)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.Error("create year directory failed", zap.String("path", dir), zap.Error(err))
		return nil, &Error{Kind: KindFilesystem, Op: "create year dir", Err: err}
	}

	listing := ListingURL(c.extractor.BaseURL(), year)
	doc, err := c.fetcher.Fetch(ctx, listing)
	if err != nil {
		log.Warn("listing fetch failed",
			zap.String("url", listing),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch listing for %d: %w", year, err)
	}

	refs, anomalies := c.extractor.ExtractReferences(doc, year)
	for _, a := range anomalies {
		log.Warn("skipping listing anchor",
			zap.String("kind", KindParseAnomaly.String()),
			zap.String("title", a.Text),
			zap.String("href", a.Href),
			zap.String("reason", a.Reason),
		)
	}
	if len(refs) == 0 {
		log.Info("no papers found", zap.String("url", listing))
		return nil, nil
	}
	log.Info("listing parsed", zap.Int("papers", len(refs)))
	return refs, nil
}
