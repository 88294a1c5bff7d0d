// ABOUTME: Terminal rendering for the chat REPL: message bubbles and the conversation list
// ABOUTME: Assistant markdown goes through glamour; chrome is styled with lipgloss

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389/chatdeck/internal/codeblock"
	"github.com/2389/chatdeck/internal/session"
	"github.com/2389/chatdeck/internal/store"
)

const glamourStyle = "dark"

var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("170"))
	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
	userBodyStyle = lipgloss.NewStyle().
			PaddingLeft(2)
	codeLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	currentRowStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))
	rowStyle    = lipgloss.NewStyle()
	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// renderer turns messages into terminal output
type renderer struct {
	md  *glamour.TermRenderer
	now func() time.Time
}

func newRenderer(width int) *renderer {
	r := &renderer{now: time.Now}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(glamourStyle),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.md = md
	}
	return r
}

// message renders one chat message with its role label and time
func (r *renderer) message(m store.Message) string {
	var b strings.Builder

	label := userLabelStyle.Render("You")
	if m.Role == store.RoleAssistant {
		label = assistantLabelStyle.Render("Assistant")
	}
	b.WriteString(label)
	b.WriteString(" ")
	b.WriteString(timeStyle.Render(formatMessageTime(time.UnixMilli(m.Timestamp))))
	b.WriteString("\n")

	switch {
	case m.IsLoading:
		b.WriteString(infoStyle.Render("  ..."))
		b.WriteString("\n")
	case m.Role == store.RoleUser:
		b.WriteString(userBodyStyle.Render(m.Content))
		b.WriteString("\n")
	case !m.IsCode:
		b.WriteString(r.markdown(m.Content))
	default:
		for _, seg := range codeblock.Split(m.Content) {
			b.WriteString(r.segment(seg))
		}
	}
	return b.String()
}

// segment renders prose as markdown and code under a language label
func (r *renderer) segment(seg codeblock.Segment) string {
	if seg.Kind == codeblock.SegmentText {
		if strings.TrimSpace(seg.Text) == "" {
			return ""
		}
		return r.markdown(seg.Text)
	}
	return "  " + codeLabelStyle.Render(codeblock.LanguageLabel(seg.Language)) + "\n" +
		r.markdown("```"+seg.Language+"\n"+seg.Text+"```")
}

func (r *renderer) markdown(content string) string {
	if r.md == nil {
		return content + "\n"
	}
	out, err := r.md.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

// conversations renders the sidebar list, marking currentID
func (r *renderer) conversations(convs []session.Summary, currentID string) string {
	if len(convs) == 0 {
		return infoStyle.Render("No conversations yet") + "\n"
	}

	now := r.now()
	var b strings.Builder
	for i, c := range convs {
		marker, style := "  ", rowStyle
		if c.ID == currentID {
			marker, style = "▶ ", currentRowStyle
		}
		line := fmt.Sprintf("%s%2d. %s", marker, i+1, c.Title)
		b.WriteString(style.Render(line))
		b.WriteString(" ")
		b.WriteString(timeStyle.Render(formatSidebarDate(time.UnixMilli(c.Timestamp), now)))
		b.WriteString(timeStyle.Render(fmt.Sprintf(" · %d msgs · %s", c.MessageCount, c.ID)))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *renderer) notification(n session.Notification) string {
	return noticeStyle.Render(n.Title+": ") + n.Message + "\n"
}

func (r *renderer) info(format string, args ...any) string {
	return infoStyle.Render(fmt.Sprintf(format, args...)) + "\n"
}

// formatSidebarDate shows the time for today, month and day for this year,
// and the full date otherwise.
func formatSidebarDate(t, now time.Time) string {
	t = t.In(now.Location())
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	switch {
	case ty == ny && tm == nm && td == nd:
		return t.Format("15:04")
	case ty == ny:
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func formatMessageTime(t time.Time) string {
	return t.Format("15:04")
}
