// Package render exports a stored thread for review, as Markdown or as a
// standalone HTML page.
package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/itai-hania/HFI/internal/database"
	"github.com/itai-hania/HFI/internal/media"
	"github.com/itai-hania/HFI/internal/thread"
	"github.com/itai-hania/HFI/internal/translate"
)

//go:embed page.html
var pageHTML string

var page = template.Must(template.New("page").Parse(pageHTML))

var md = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// MissingMedia marks a media item that is not stored locally.
const MissingMedia = "[media unavailable]"

// Markdown renders a thread and its posts. Failed translations show the
// original text with the error and a retry command; media that is not stored
// locally shows the MissingMedia marker.
func Markdown(th *database.Thread, posts []database.Post) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Thread #%d by @%s\n\n", th.ID, th.AuthorHandle)
	fmt.Fprintf(&b, "- Source: <%s>\n", th.SourceURL)
	fmt.Fprintf(&b, "- Status: %s\n", th.Status)
	if th.Mode != nil {
		fmt.Fprintf(&b, "- Mode: %s\n", *th.Mode)
	}
	if th.StopReason != nil && *th.StopReason != "" {
		fmt.Fprintf(&b, "- Stopped: %s\n", *th.StopReason)
	}
	if th.CollectedAt != nil {
		fmt.Fprintf(&b, "- Collected: %s\n", *th.CollectedAt)
	}
	b.WriteString("\n")

	consolidated := th.Mode != nil && *th.Mode == string(translate.Consolidated)
	if consolidated {
		b.WriteString("## Translation\n\n")
		switch th.Status {
		case database.StatusTranslated:
			b.WriteString(deref(th.TranslationDraft))
			b.WriteString("\n\n")
		case database.StatusFailed:
			writeFailure(&b, th.ID, deref(th.ErrorMessage))
		default:
			b.WriteString("_Not translated yet._\n\n")
		}
	} else if th.Status == database.StatusFailed {
		writeFailure(&b, th.ID, deref(th.ErrorMessage))
	}

	b.WriteString("## Posts\n")
	for _, p := range posts {
		fmt.Fprintf(&b, "\n### %d. [%s](%s)\n\n", p.Position, p.StatusID, p.Permalink)
		b.WriteString(quote(p.Text))
		b.WriteString("\n\n")

		if !consolidated {
			switch p.Status {
			case database.StatusTranslated:
				b.WriteString(escapeLines(deref(p.TranslationDraft)))
				b.WriteString("\n\n")
			case database.StatusFailed:
				fmt.Fprintf(&b, "**Translation failed:** %s\n\n", deref(p.ErrorMessage))
			}
		}

		for _, m := range p.Media {
			b.WriteString(mediaLine(m))
		}
		if len(p.Media) > 0 {
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// HTML renders the Markdown export into a standalone page.
func HTML(th *database.Thread, posts []database.Post) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(th, posts)), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	var out bytes.Buffer
	err := page.Execute(&out, map[string]any{
		"Title": fmt.Sprintf("Thread #%d by @%s", th.ID, th.AuthorHandle),
		"Body":  template.HTML(body.String()), //nolint: gosec
	})
	if err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return out.Bytes(), nil
}

func writeFailure(b *strings.Builder, threadID int64, msg string) {
	fmt.Fprintf(b, "**Translation failed:** %s\n\n", msg)
	fmt.Fprintf(b, "The original text is shown below. Retry with `hfi translate %d`.\n\n", threadID)
}

func mediaLine(m media.Download) string {
	if m.Status == media.StatusSuccess && m.LocalPath != nil {
		if m.Type == thread.Photo {
			return fmt.Sprintf("- ![photo](<%s>)\n", *m.LocalPath)
		}
		return fmt.Sprintf("- [%s](<%s>)\n", m.Type, *m.LocalPath)
	}
	reason := string(m.Status)
	if m.Error != "" {
		reason = m.Error
	}
	return fmt.Sprintf("- %s %s: %s (<%s>)\n", MissingMedia, m.Type, reason, m.SourceURI)
}

// quote renders text as a blockquote.
func quote(text string) string {
	lines := strings.Split(escapeLines(text), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// escapeLines keeps hashtags and list-like openings from turning into
// Markdown structure.
func escapeLines(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		if l == "" {
			continue
		}
		switch l[0] {
		case '#', '>', '-', '*', '+':
			lines[i] = `\` + l
		}
	}
	return strings.Join(lines, "\n")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
