package client

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/SlashCollab/internal/config"
	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

type primaryView int

const (
	viewChat primaryView = iota
	viewDocument
	viewCommits
	viewHelp
)

func (v primaryView) String() string {
	switch v {
	case viewDocument:
		return "doc"
	case viewCommits:
		return "commits"
	case viewHelp:
		return "help"
	default:
		return "chat"
	}
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logLine struct {
	label string
	body  string
	level logLevel
}

type commandSpec struct {
	trigger     string
	usage       string
	description string
}

type pendingRequest struct {
	action   string
	room     string
	path     string
	commitID string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
	added         lipgloss.Style
	removed       lipgloss.Style
	notice        lipgloss.Style
}

type keyMap struct {
	quit     key.Binding
	complete key.Binding
	pageUp   key.Binding
	pageDown key.Binding
}

// documentView is the client's copy of the open document.
type documentView struct {
	room    string
	path    string
	content string
	version uint64
}

// App implements the bubbletea tea.Model interface for the terminal client.
type App struct {
	cfg          config.ClientConfig
	session      *Session
	serverAddr   string
	statusOnline bool
	userID       string
	connID       string
	room         string

	view        primaryView
	chatHistory []string
	doc         *documentView
	commits     map[string]protocol.CommitView
	commitOrder []string
	callRoom    string
	callPeers   map[string]string
	typers      map[string]struct{}
	typing      bool

	pendingRequests map[string]pendingRequest

	input      textinput.Model
	viewport   viewport.Model
	helper     help.Model
	showHelp   bool
	helpView   string
	helpHeight int
	width      int
	height     int

	commands []commandSpec
	styles   styleSet
	keys     keyMap
	logLine  logLine
}

type connectResultMsg struct {
	session *Session
	address string
	err     error
}

type sessionEnvelopeMsg struct {
	session  *Session
	envelope protocol.Envelope
}

type sessionClosedMsg struct {
	session *Session
}

type sendResultMsg struct {
	session     *Session
	id          string
	description string
	err         error
}

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message or " + string(cfg.CommandPrefix) + "help"
	input.Focus()

	app := &App{
		cfg:             cfg,
		serverAddr:      cfg.ServerAddr,
		room:            "-",
		view:            viewChat,
		commits:         make(map[string]protocol.CommitView),
		callPeers:       make(map[string]string),
		typers:          make(map[string]struct{}),
		pendingRequests: make(map[string]pendingRequest),
		input:           input,
		viewport:        viewport.New(0, 0),
		helper:          help.New(),
		commands:        defaultCommands(cfg.CommandPrefix),
		styles:          buildStyles(),
		keys: keyMap{
			quit:     key.NewBinding(key.WithKeys("ctrl+c")),
			complete: key.NewBinding(key.WithKeys("tab")),
			pageUp:   key.NewBinding(key.WithKeys("pgup")),
			pageDown: key.NewBinding(key.WithKeys("pgdown")),
		},
		logLine: logLine{label: "INFO", body: "Use /connect to reach the server."},
	}
	app.updateViewportContent()
	return app
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and session events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.updateInputWidth()
		a.updateHelp()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case sessionEnvelopeMsg:
		if m.session != a.session {
			return a, nil
		}
		cmd := a.handleSessionEnvelope(m.envelope)
		return a, tea.Batch(cmd, a.listenForSession())
	case sessionClosedMsg:
		if m.session == a.session {
			a.session = nil
			a.statusOnline = false
			a.callRoom = ""
			a.logErrorf("Disconnected from %s", a.serverAddr)
		}
		return a, nil
	case sendResultMsg:
		if m.err != nil {
			delete(a.pendingRequests, m.id)
			a.logErrorf("Failed to send %s: %v", m.description, m.err)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.quit):
		if a.session != nil {
			_ = a.session.Close()
		}
		return a, tea.Quit
	case key.Matches(msg, a.keys.complete):
		a.handleTabCompletion()
		a.updateHelp()
		a.updateViewportSize()
		return a, nil
	case key.Matches(msg, a.keys.pageUp):
		a.viewport.LineUp(a.viewport.Height / 2)
		return a, nil
	case key.Matches(msg, a.keys.pageDown):
		a.viewport.LineDown(a.viewport.Height / 2)
		return a, nil
	}

	if msg.Type == tea.KeyEnter {
		value := strings.TrimSpace(a.input.Value())
		a.input.Reset()
		a.updateHelp()
		a.updateViewportSize()
		if value == "" {
			return a, nil
		}
		return a, a.handleSubmit(value)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	a.updateViewportSize()
	return a, tea.Batch(cmd, a.syncTyping())
}

func (a *App) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if msg.session != a.session {
		_ = msg.session.Close()
		return nil
	}
	if msg.err != nil {
		a.session = nil
		a.statusOnline = false
		a.logErrorf("Connect to %s failed: %v", msg.address, msg.err)
		return nil
	}
	a.statusOnline = true
	a.logf("Connected to %s", msg.address)
	cmds := []tea.Cmd{a.listenForSession()}
	if a.userID != "" {
		cmds = append(cmds, a.sendRegister(a.userID))
	}
	return tea.Batch(cmds...)
}

func (a *App) logf(format string, args ...interface{}) {
	a.logLine = logLine{label: "INFO", body: fmt.Sprintf(format, args...), level: logLevelInfo}
}

func (a *App) logErrorf(format string, args ...interface{}) {
	a.logLine = logLine{label: "ERROR", body: fmt.Sprintf(format, args...), level: logLevelError}
}

func (a *App) isConnected() bool {
	return a.session != nil && a.statusOnline
}

func (a *App) hasActiveRoom() bool {
	room := strings.TrimSpace(a.room)
	return room != "" && room != "-"
}
