// ABOUTME: Fenced code block detection, extraction and segmentation for assistant replies
// ABOUTME: Follows the triple-backtick convention with an optional language tag

package codeblock

import (
	"regexp"
	"strings"
)

// DefaultLanguage is used when a fence carries no language tag.
const DefaultLanguage = "javascript"

var (
	// fenced takes the tag as the non-space run on the fence line and requires the line break.
	fenced = regexp.MustCompile("(?s)```([^\\s`]*)[ \\t]*\\r?\\n(.*?)```")

	// first is looser: any whitespace may follow the tag.
	first = regexp.MustCompile("(?s)```([^\\s`]*)\\s*(.*?)```")
)

// Block is a single extracted code sample.
type Block struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// SegmentKind distinguishes prose from code within a message.
type SegmentKind string

const (
	SegmentText SegmentKind = "text"
	SegmentCode SegmentKind = "code"
)

// Segment is one piece of a message in render order.
type Segment struct {
	Kind     SegmentKind `json:"kind"`
	Text     string      `json:"text"`
	Language string      `json:"language,omitempty"`
}

// Contains reports whether text holds at least one fenced code block.
func Contains(text string) bool {
	return fenced.MatchString(text)
}

// Extract returns the first code block in text with its trimmed body.
// When there is no block the whole text comes back with language "text".
func Extract(text string) Block {
	m := first.FindStringSubmatch(text)
	if m == nil {
		return Block{Language: "text", Code: text}
	}
	lang := m[1]
	if lang == "" {
		lang = DefaultLanguage
	}
	return Block{Language: lang, Code: strings.TrimSpace(m[2])}
}

// Split breaks text into alternating prose and code segments. Code bodies are kept
// verbatim; empty prose between adjacent blocks is dropped.
func Split(text string) []Segment {
	matches := fenced.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []Segment{{Kind: SegmentText, Text: text}}
	}

	segments := make([]Segment, 0, len(matches)*2+1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			segments = append(segments, Segment{Kind: SegmentText, Text: text[last:m[0]]})
		}
		lang := text[m[2]:m[3]]
		if lang == "" {
			lang = DefaultLanguage
		}
		segments = append(segments, Segment{Kind: SegmentCode, Text: text[m[4]:m[5]], Language: lang})
		last = m[1]
	}
	if last < len(text) {
		segments = append(segments, Segment{Kind: SegmentText, Text: text[last:]})
	}
	return segments
}

// LanguageLabel capitalizes the first letter of a language tag for headings.
func LanguageLabel(lang string) string {
	if lang == "" {
		return ""
	}
	return strings.ToUpper(lang[:1]) + lang[1:]
}
