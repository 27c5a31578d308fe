package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/Rorqualx/vidresolver-go/internal/selectors"
	"github.com/Rorqualx/vidresolver-go/internal/types"
)

// Extract parses rendered resolver HTML and returns one row per row element
// found in any results container, in document order.
//
// The site can render more than one container matching the results
// selector, so every one of them is searched. Format and resolution are the
// whitespace-normalised text of the first matching element; the link is the
// configured attribute of the first link element. Rows without a link cannot
// be downloaded and are skipped.
func Extract(r io.Reader, site *selectors.Site) ([]types.ResultRow, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, types.NewExtractionError("failed to parse resolver page", err)
	}

	resultsSel, err := cascadia.Compile(site.Results)
	if err != nil {
		return nil, types.NewExtractionError("invalid results selector", err)
	}
	containers := goquery.NewDocumentFromNode(root).FindMatcher(resultsSel)
	if containers.Length() == 0 {
		return nil, types.NewExtractionError(
			fmt.Sprintf("results container %q not found", site.Results),
			types.ErrResultsMissing,
		)
	}

	rows := make([]types.ResultRow, 0)
	// Find deduplicates, so rows of nested containers are read once
	containers.Find(site.Row).Each(func(_ int, s *goquery.Selection) {
		link, ok := s.Find(site.Link).First().Attr(site.LinkAttr)
		link = strings.TrimSpace(link)
		if !ok || link == "" {
			return
		}
		rows = append(rows, types.ResultRow{
			Format:     normalizeText(s.Find(site.Format).First().Text()),
			Resolution: normalizeText(s.Find(site.Resolution).First().Text()),
			Link:       link,
		})
	})

	return rows, nil
}

// ExtractString is Extract over an HTML string.
func ExtractString(page string, site *selectors.Site) ([]types.ResultRow, error) {
	return Extract(strings.NewReader(page), site)
}

// normalizeText collapses runs of whitespace, the site pads cells with newlines.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
