// Package ui renders timelines, actor lists and profiles for the terminal.
package ui

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/murmur/domain"
)

const (
	COLOR_GREY      = "241"
	COLOR_MAGENTA   = "170"
	COLOR_LIGHTBLUE = "69"
	COLOR_PURPLE    = "#7D56F4"

	maxContentWidth = 80
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	postStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	authorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	handleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(COLOR_LIGHTBLUE))

	contentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(COLOR_GREY)).
			Faint(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(COLOR_GREY)).
			Italic(true)

	CaptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_MAGENTA))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_PURPLE)).Bold(true)
)

// RenderTimeline renders posts newest first, as stored.
func RenderTimeline(username string, posts []domain.TimelinePost, now time.Time) string {
	var s strings.Builder

	s.WriteString(headerStyle.Render(fmt.Sprintf("Timeline of %s (%d posts)", username, len(posts))))
	s.WriteString("\n")

	if len(posts) == 0 {
		s.WriteString(emptyStyle.Render("No posts yet.\nFollow some accounts to see their posts here!"))
		s.WriteString("\n")
		return s.String()
	}

	for _, tp := range posts {
		postContent := fmt.Sprintf("%s %s\n%s\n%s",
			authorStyle.Render(tp.Author.DisplayName()),
			handleStyle.Render(tp.Author.Handle),
			contentStyle.Render(truncate(html.UnescapeString(tp.Post.Content), maxContentWidth)),
			timeStyle.Render(FormatAge(tp.Post.Created, now)),
		)
		s.WriteString(postStyle.Render(postContent))
		s.WriteString("\n")
	}
	return s.String()
}

// RenderActors renders a titled list of actors, one per line.
func RenderActors(title string, actors []domain.Actor) string {
	var s strings.Builder

	s.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d)", title, len(actors))))
	s.WriteString("\n")

	if len(actors) == 0 {
		s.WriteString(emptyStyle.Render("Nobody here yet."))
		s.WriteString("\n")
		return s.String()
	}
	for i := range actors {
		s.WriteString(fmt.Sprintf("%s %s\n",
			authorStyle.Render(actors[i].DisplayName()),
			handleStyle.Render(actors[i].Handle)))
	}
	return s.String()
}

// RenderActor is the one-line confirmation printed after setup or follow.
func RenderActor(caption string, actor *domain.Actor) string {
	return fmt.Sprintf("%s %s %s\n",
		CaptionStyle.Render(caption),
		authorStyle.Render(actor.DisplayName()),
		handleStyle.Render(actor.URI))
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatAge renders the time elapsed between t and now.
func FormatAge(t, now time.Time) string {
	duration := now.Sub(t)

	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
}
