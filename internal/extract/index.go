package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ResolveDataLink finds the first <a href> on an HTML page whose path ends in
// .csv (preferred) or .zip and returns it resolved against pageURL.
func ResolveDataLink(pageURL string, page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html %s: %w", pageURL, err)
	}
	base, _ := url.Parse(pageURL)

	var csvHref, zipHref string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return true
		}
		abs := resolveHref(base, href)
		switch strings.ToLower(path.Ext(urlPath(abs))) {
		case ".csv":
			csvHref = abs
			return false
		case ".zip":
			if zipHref == "" {
				zipHref = abs
			}
		}
		return true
	})

	switch {
	case csvHref != "":
		return csvHref, nil
	case zipHref != "":
		return zipHref, nil
	}
	return "", fmt.Errorf("index page %s: no .csv or .zip link", pageURL)
}

// resolveHref resolves href against base. Invalid hrefs are returned unchanged.
func resolveHref(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
