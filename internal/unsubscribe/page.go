package unsubscribe

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Analysis is what the orchestrator needs to know about a fetched unsubscribe page.
type Analysis struct {
	AlreadyUnsubscribed bool
	NeedsConfirmation   bool
}

// Analyze looks for success phrases in the page text and, failing that,
// for a form, a button, a submit input or a link labelled with a confirmation keyword.
func Analyze(body []byte) Analysis {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Analysis{AlreadyUnsubscribed: ContainsSuccessPhrase(string(body))}
	}

	if ContainsSuccessPhrase(doc.Text()) {
		return Analysis{AlreadyUnsubscribed: true}
	}

	return Analysis{NeedsConfirmation: hasConfirmationControl(doc)}
}

func hasConfirmationControl(doc *goquery.Document) bool {
	if doc.Find("form, button").Length() > 0 {
		return true
	}

	submit := doc.Find("input").FilterFunction(func(_ int, s *goquery.Selection) bool {
		kind := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		return kind == "submit" || kind == "button"
	})
	if submit.Length() > 0 {
		return true
	}

	links := doc.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return MatchesConfirmKeyword(s.Text())
	})
	return links.Length() > 0
}
