package extraction

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/jonathan/applymate/internal/fetch"
)

// Strategy attempts to pull one field out of a parsed page.
// ok is false when the strategy found nothing usable.
type Strategy func(doc *goquery.Document) (value string, ok bool)

// First runs strategies in order and returns the first hit.
func First(doc *goquery.Document, chain []Strategy) (string, bool) {
	for _, s := range chain {
		if v, ok := s(doc); ok {
			return v, true
		}
	}
	return "", false
}

// Text matches the first element for selector and yields its cleaned text
// when it is longer than minLen characters.
func Text(selector string, minLen int) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return "", false
		}
		text := Clean(sel.Text())
		if text == "" || utf8.RuneCountInString(text) <= minLen {
			return "", false
		}
		return text, true
	}
}

// Attr yields the named attribute of the first match.
func Attr(selector, attr string) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		v, ok := doc.Find(selector).First().Attr(attr)
		v = Clean(v)
		return v, ok && v != ""
	}
}

// Present yields selector itself when at least one element matches it.
// Used for the apply affordance, where the selector is the useful output.
func Present(selector string) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		if doc.Find(selector).Length() > 0 {
			return selector, true
		}
		return "", false
	}
}

// ContainsText yields a selector for the first element of tag whose text
// contains needle. The returned selector is usable by the submitter.
func ContainsText(tag, needle string) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		found := false
		doc.Find(tag).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.Contains(strings.ToLower(s.Text()), strings.ToLower(needle)) {
				found = true
				return false
			}
			return true
		})
		if !found {
			return "", false
		}
		return tag + `:contains("` + needle + `")`, true
	}
}

// PageTitle yields the document's <title>.
func PageTitle() Strategy {
	return Text("head title", 0)
}

func textChain(selectors []string, minLen int) []Strategy {
	out := make([]Strategy, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, Text(s, minLen))
	}
	return out
}

func presenceChain(selectors []string) []Strategy {
	out := make([]Strategy, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, Present(s))
	}
	return out
}

// Clean normalises unicode and collapses whitespace.
func Clean(s string) string {
	return fetch.CleanWhitespace(norm.NFKC.String(s))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
