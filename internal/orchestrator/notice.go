package orchestrator

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aiidateam/renku2-aiida-integration/internal/session"
)

const (
	noticeWidth    = 80
	noticeURLWidth = 50
)

// conflictNotice renders the boxed warning shown when the user already has a
// session bound to another archive.
func conflictNotice(existing session.Record, currentURL string) string {
	started := "Unknown"
	if !existing.StartedAt.IsZero() {
		started = existing.StartedAt.UTC().Format(time.DateTime)
	}
	previousURL := existing.ArchiveURL
	if previousURL == "" {
		previousURL = "Unknown"
	}
	if currentURL == "" {
		currentURL = "None"
	}

	var b strings.Builder
	border := strings.Repeat("═", noticeWidth)
	b.WriteString("╔" + border + "╗\n")
	b.WriteString(boxLine(center("SESSION CONFLICT DETECTED")))
	b.WriteString("╠" + border + "╣\n")
	for _, line := range []string{
		"",
		"  It appears you may have another active RenkuLab session running.",
		"",
		"  Previous session details:",
		"    • Archive URL: " + truncate(previousURL, noticeURLWidth),
		"    • Started: " + started,
		"",
		"  Current session:",
		"    • Archive URL: " + truncate(currentURL, noticeURLWidth),
		"",
		"  RECOMMENDED ACTION:",
		"  1. Close any other RenkuLab sessions by clicking the trash button",
		"  2. Wait a few seconds for the session to fully terminate",
		"  3. Refresh this page or restart this session",
		"",
		"  If you're sure this is the only session, this message can be ignored.",
		"",
	} {
		b.WriteString(boxLine(line))
	}
	b.WriteString("╚" + border + "╝\n")
	return b.String()
}

func boxLine(text string) string {
	pad := noticeWidth - utf8.RuneCountInString(text)
	if pad < 0 {
		pad = 0
	}
	return "║" + text + strings.Repeat(" ", pad) + "║\n"
}

func center(text string) string {
	left := (noticeWidth - utf8.RuneCountInString(text)) / 2
	if left < 0 {
		left = 0
	}
	return strings.Repeat(" ", left) + text
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
