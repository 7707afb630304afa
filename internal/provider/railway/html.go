package railway

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// looksLikeHTML reports whether an upstream body is a web page rather than
// JSON. The site serves its anti-automation challenge and its login page as
// HTML with a 200 status once the XSRF token has expired.
func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")) ||
		bytes.HasPrefix(trimmed, []byte("<!doctype")) ||
		bytes.HasPrefix(trimmed, []byte("<html"))
}

// pageSummary extracts a short description of an HTML page for error
// messages: its <title>, else the first heading, else "html page".
func pageSummary(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "html page"
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h := strings.TrimSpace(doc.Find("h1, h2").First().Text()); h != "" {
		return h
	}
	return "html page"
}
