package client

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-runewidth"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

var homeContent = buildHomeContent()

// View renders the viewport, optional command hints, the input line, the
// log line and the status bar.
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	if a.showHelp && a.helpView != "" {
		b.WriteString(a.styles.help.Render(a.helpView))
		b.WriteString("\n")
	}

	b.WriteString(a.input.View())
	b.WriteString("\n")
	b.WriteString(a.logLineView())
	b.WriteString("\n")
	b.WriteString(a.statusLine())

	return b.String()
}

func (a *App) updateViewportContent() {
	width := a.viewport.Width
	if width <= 0 {
		width = a.width
	}
	switch a.view {
	case viewChat:
		if !a.hasActiveRoom() {
			a.viewport.SetContent(homeContent)
			return
		}
		lines := a.chatHistory
		if len(lines) == 0 {
			lines = []string{"No chat messages yet. Type and press Enter to send."}
		}
		if typing := a.typingLine(); typing != "" {
			lines = append(append([]string(nil), lines...), a.styles.label.Render(typing))
		}
		a.viewport.SetContent(strings.Join(wrapLines(lines, width), "\n"))
		a.viewport.GotoBottom()
	case viewDocument:
		a.viewport.SetContent(a.renderDocument())
	case viewCommits:
		a.viewport.SetContent(a.renderCommits())
	case viewHelp:
		a.viewport.SetContent(a.renderHelpView())
	}
}

func (a *App) renderDocument() string {
	if a.doc == nil {
		return "No document open. Use /open <path> after joining a room."
	}
	var b strings.Builder
	header := fmt.Sprintf("%s/%s  v%d", a.doc.room, a.doc.path, a.doc.version)
	b.WriteString(a.styles.title.Render(header))
	b.WriteString("\n\n")
	if a.doc.content == "" {
		b.WriteString(a.styles.label.Render("(empty)"))
		return b.String()
	}
	for i, line := range strings.Split(a.doc.content, "\n") {
		b.WriteString(a.styles.label.Render(fmt.Sprintf("%4d ", i+1)))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) renderCommits() string {
	if len(a.commitOrder) == 0 {
		return "No pending commits."
	}
	var b strings.Builder
	for i, id := range a.commitOrder {
		view := a.commits[id]
		b.WriteString(a.styles.title.Render(fmt.Sprintf("%s by %s", shortID(view.ID), view.AuthorID)))
		b.WriteString("\n")
		summary := view.Summary
		if summary == "" {
			summary = "(summarizing...)"
		}
		b.WriteString(a.styles.label.Render(summary))
		b.WriteString("\n")
		for _, diff := range view.Diffs {
			b.WriteString(a.styles.value.Render("--- " + diff.Path))
			b.WriteString("\n")
			b.WriteString(a.renderRuns(diff.Runs))
		}
		if i < len(a.commitOrder)-1 {
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) renderRuns(runs []protocol.DiffRun) string {
	var b strings.Builder
	for _, run := range runs {
		style, marker := a.styles.label, " "
		switch run.Kind {
		case "added":
			style, marker = a.styles.added, "+"
		case "removed":
			style, marker = a.styles.removed, "-"
		}
		for _, line := range run.Lines {
			b.WriteString(style.Render(marker + " " + line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (a *App) updateViewportSize() {
	if a.height == 0 {
		return
	}
	const fixed = 3
	height := a.height - fixed - a.helpHeight
	if height < 3 {
		height = 3
	}
	a.viewport.Height = height
	a.viewport.Width = a.width
}

func (a *App) updateInputWidth() {
	width := a.width
	if width <= 0 {
		width = 60
	}
	usable := width - lipgloss.Width(a.input.Prompt) - 1
	if usable < 10 {
		usable = 10
	}
	a.input.Width = usable
}

func (a *App) updateHelp() {
	value := a.input.Value()
	if value == "" || !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		a.showHelp = false
		a.helpView = ""
		a.helpHeight = 0
		return
	}

	token := value
	if idx := strings.IndexAny(value, " \t"); idx >= 0 {
		token = value[:idx]
	}

	bindings := a.matchingBindings(token)
	if len(bindings) == 0 {
		a.showHelp = false
		a.helpView = ""
		a.helpHeight = 0
		return
	}

	a.showHelp = true
	a.helper.Width = a.width
	view := strings.TrimRight(a.helper.View(dynamicKeyMap{keys: bindings}), "\n")
	a.helpView = view
	a.helpHeight = countLines(view)
}

func (a *App) matchingBindings(prefix string) []key.Binding {
	prefix = strings.ToLower(prefix)
	var bindings []key.Binding
	for _, c := range a.commands {
		if strings.HasPrefix(strings.ToLower(c.trigger), prefix) {
			bindings = append(bindings, key.NewBinding(
				key.WithKeys(c.usage),
				key.WithHelp(c.usage, c.description),
			))
		}
	}
	return bindings
}

func (a *App) statusLine() string {
	status := "OFFLINE"
	if a.statusOnline {
		status = "ONLINE"
	}
	user := a.userID
	if user == "" {
		user = "-"
	}

	parts := []string{
		a.styles.title.Render("SlashCollab"),
		a.styles.view.Render(strings.ToUpper(a.view.String())),
		a.statusValueStyle(status).Render(status),
		a.styles.label.Render("Server") + ": " + a.styles.value.Render(a.serverAddr),
		a.styles.label.Render("User") + ": " + a.styles.value.Render(user),
		a.styles.label.Render("Room") + ": " + a.styles.value.Render(a.room),
	}
	if a.callRoom != "" {
		parts = append(parts, a.styles.label.Render("Call")+": "+a.styles.value.Render(fmt.Sprintf("%d peer(s)", len(a.callPeers))))
	}
	return strings.Join(parts, " | ")
}

func (a *App) statusValueStyle(status string) lipgloss.Style {
	if strings.EqualFold(status, "ONLINE") {
		return a.styles.statusOnline
	}
	return a.styles.statusOffline
}

func (a *App) logLineView() string {
	labelStyle := a.styles.logLabel
	bodyStyle := a.styles.logBody
	if a.logLine.level == logLevelError {
		labelStyle = a.styles.logLabelError
		bodyStyle = a.styles.logBodyError
	}
	return labelStyle.Render(a.logLine.label) + " " + bodyStyle.Render(a.logLine.body)
}

func buildStyles() styleSet {
	base := lipgloss.NewStyle()
	return styleSet{
		title:         base.Foreground(lipgloss.Color("13")).Bold(true),
		view:          base.Foreground(lipgloss.Color("14")).Bold(true),
		statusOnline:  base.Foreground(lipgloss.Color("10")).Bold(true),
		statusOffline: base.Foreground(lipgloss.Color("9")).Bold(true),
		label:         base.Foreground(lipgloss.Color("8")),
		value:         base.Foreground(lipgloss.Color("15")),
		logLabel:      base.Foreground(lipgloss.Color("11")).Bold(true),
		logBody:       base.Foreground(lipgloss.Color("7")),
		logLabelError: base.Foreground(lipgloss.Color("9")).Bold(true),
		logBodyError:  base.Foreground(lipgloss.Color("9")),
		help:          base.Foreground(lipgloss.Color("12")),
		added:         base.Foreground(lipgloss.Color("10")),
		removed:       base.Foreground(lipgloss.Color("9")),
		notice:        base.Foreground(lipgloss.Color("11")).Bold(true),
	}
}

func (a *App) renderHelpView() string {
	var b strings.Builder
	b.WriteString("SlashCollab Commands\n\n")
	for _, c := range a.commands {
		b.WriteString(fmt.Sprintf("%-20s %s\n", c.usage, c.description))
	}
	b.WriteString("\nPlain text is posted to the current room. Use \\n inside /write for line breaks.")
	return b.String()
}

func buildHomeContent() string {
	fig := figure.NewColorFigure("SLASH COLLAB", "3-d", "green", true)
	art := strings.TrimRight(fig.String(), "\n")
	info := []string{
		"Use /connect to reach the server.",
		"Use /register <userId> to tell others who you are.",
		"Use /join <room> to load chat history.",
		"Use /open <path> to edit a shared document.",
		"Use /help to browse all commands.",
	}

	var b strings.Builder
	b.WriteString(art)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(info, "\n"))
	return b.String()
}

func wrapLines(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	const minWidth = 10
	if width < minWidth {
		width = minWidth
	}

	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		segment := line
		if segment == "" {
			wrapped = append(wrapped, "")
			continue
		}
		for len(segment) > 0 {
			if runewidth.StringWidth(segment) <= width {
				wrapped = append(wrapped, segment)
				break
			}
			cut := wrapCutIndex(segment, width)
			part := strings.TrimRight(segment[:cut], " ")
			if part == "" && cut > 0 {
				part = segment[:cut]
			}
			wrapped = append(wrapped, part)
			segment = strings.TrimLeft(segment[cut:], " ")
		}
	}
	return wrapped
}

func wrapCutIndex(s string, limit int) int {
	var width int
	lastSpace := -1
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if width+rw > limit {
			if lastSpace >= 0 {
				return lastSpace + 1
			}
			if width == 0 {
				return i + len(string(r))
			}
			return i
		}
		width += rw
		if unicode.IsSpace(r) {
			lastSpace = i
		}
	}
	return len(s)
}

type dynamicKeyMap struct {
	keys []key.Binding
}

func (d dynamicKeyMap) ShortHelp() []key.Binding {
	return d.keys
}

func (d dynamicKeyMap) FullHelp() [][]key.Binding {
	if len(d.keys) == 0 {
		return [][]key.Binding{}
	}
	return [][]key.Binding{d.keys}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
