package markdown

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/russross/blackfriday/v2"
)

// MaxMessageLength is Telegram's limit for one text message
const MaxMessageLength = 4096

var (
	paragraphRe = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	headingRe   = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	codeBlockRe = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	brRe        = regexp.MustCompile(`<br\s*/?>`)
	hrRe        = regexp.MustCompile(`<hr\s*/?>`)
	tagRe       = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?>`)
	newlinesRe  = regexp.MustCompile(`\n{3,}`)

	supportedTags = map[string]bool{
		"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true, "a": true,
	}
)

// ToTelegramHTML converts markdown to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanHTMLForTelegram(html)
}

// cleanHTMLForTelegram cleans HTML to be compatible with Telegram
func cleanHTMLForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")
	html = headingRe.ReplaceAllString(html, "<b>$1</b>\n")

	html = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
	).Replace(html)

	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")
	html = brRe.ReplaceAllString(html, "\n")
	html = hrRe.ReplaceAllString(html, "\n")

	// lists become bullet lines
	html = strings.NewReplacer(
		"<ul>\n", "", "</ul>\n", "", "<ul>", "", "</ul>", "",
		"<ol>\n", "", "</ol>\n", "", "<ol>", "", "</ol>", "",
		"<li>", "• ", "</li>\n", "\n", "</li>", "\n",
	).Replace(html)

	html = tagRe.ReplaceAllStringFunc(html, func(match string) string {
		name := strings.ToLower(tagRe.FindStringSubmatch(match)[1])
		if supportedTags[name] {
			return match
		}
		return ""
	})

	html = newlinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

// Split breaks text into chunks of at most limit runes, preferring line breaks
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
