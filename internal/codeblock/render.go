// ABOUTME: Markdown to HTML rendering for stored message bodies
// ABOUTME: Uses goldmark with GFM; raw HTML in messages is escaped, never passed through

package codeblock

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts a message body to HTML. Fenced blocks become
// <pre><code class="language-x"> elements.
func RenderHTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
