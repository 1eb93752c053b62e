// Package markdown renders page HTML as a short markdown excerpt for
// submission evidence.
package markdown

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var (
	imageLine  = regexp.MustCompile(`^!\[[^\]]*\]\([^\)]+\)$`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	controlRun = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	invisibles = strings.NewReplacer("\u200B", "", "\u200C", "", "\u200D", "", "\uFEFF", "", "\uFFFD", "")
)

// overlays are dropped before conversion; they bury confirmation messages.
var overlays = []string{"cookie", "consent", "gdpr", "newsletter", "popup", "modal"}

// ConvertHTMLToMarkdown converts the main content of a page to markdown.
// Forms are kept so a snapshot still shows validation messages next to fields.
func ConvertHTMLToMarkdown(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	content := doc.Find("body")
	for _, tag := range []string{"main", "[role=\"main\"]", "#content", "#main"} {
		if sel := doc.Find(tag); sel.Length() > 0 {
			content = sel.First()
			break
		}
	}

	content.Find("script, style, noscript, svg, iframe, nav, [aria-modal]").Remove()
	content.Find("[class], [id]").Each(func(_ int, sel *goquery.Selection) {
		class, _ := sel.Attr("class")
		id, _ := sel.Attr("id")
		lower := strings.ToLower(class + " " + id)
		for _, kw := range overlays {
			if strings.Contains(lower, kw) {
				sel.Remove()
				return
			}
		}
	})

	body, err := content.Html()
	if err != nil {
		return ""
	}
	out, err := md.NewConverter("", true, nil).ConvertString(body)
	if err != nil {
		return ""
	}
	return clean(out)
}

func clean(text string) string {
	text = invisibles.Replace(controlRun.ReplaceAllString(text, ""))
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if imageLine.MatchString(strings.TrimSpace(l)) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(kept, "\n"), "\n\n"))
}

// Excerpt converts a page to markdown and truncates it to at most max runes.
func Excerpt(html string, max int) string {
	out := ConvertHTMLToMarkdown(html)
	if max <= 0 {
		return out
	}
	runes := []rune(out)
	if len(runes) <= max {
		return out
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
