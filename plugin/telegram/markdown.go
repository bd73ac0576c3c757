package telegram

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
)

// Telegram's HTML parse mode supports only a small tag set; everything
// else must be stripped or the API rejects the message.
var (
	blockTagRe     = regexp.MustCompile(`</?(?:p|ul|ol|h[1-6]|blockquote)>`)
	listItemRe     = regexp.MustCompile(`<li>`)
	closeListRe    = regexp.MustCompile(`</li>`)
	unsupportedsRe = regexp.MustCompile(`</?(?:table|thead|tbody|tr|th|td|img[^>]*|hr */?)>`)
)

// RenderHTML converts assistant markdown into Telegram-safe HTML.
func RenderHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}

	html := buf.String()
	html = strings.ReplaceAll(html, "</p>\n", "\n")
	html = blockTagRe.ReplaceAllString(html, "")
	html = listItemRe.ReplaceAllString(html, "• ")
	html = closeListRe.ReplaceAllString(html, "")
	html = unsupportedsRe.ReplaceAllString(html, "")
	return strings.TrimSpace(html), nil
}
