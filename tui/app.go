package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/galamiram/spotauth/spotify"
	log "github.com/sirupsen/logrus"
	spotifyapi "github.com/zmb3/spotify/v2"
)

const (
	maxLogEntries  = 200
	visibleLogs    = 6
	visibleResults = 12
)

// Session is the part of the Spotify client the TUI drives
type Session interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	IsLoggedIn(ctx context.Context) bool
	SearchTracks(ctx context.Context, query string) ([]spotifyapi.FullTrack, error)
	GetUserProfile(ctx context.Context) (*spotifyapi.PrivateUser, error)
}

// App represents the main TUI application
type App struct {
	keys    keyMap
	help    help.Model
	input   textinput.Model
	session Session

	loggedIn    bool
	loggingIn   bool
	searching   bool
	displayName string

	query    string
	results  []TrackRow
	selected int

	message     string
	messageType MessageType
	width       int
	height      int
	spinner     string
	spinnerIdx  int
	showLogs    bool

	logMu sync.Mutex
	logs  []LogEntry
}

// TrackRow is one search result as displayed
type TrackRow struct {
	Name     string
	Artists  string
	Album    string
	Duration time.Duration
	URI      string
}

// LogEntry is a log line captured by the TUI log hook
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]interface{}
}

// MessageType represents the type of message to display
type MessageType int

const (
	MessageInfo MessageType = iota
	MessageSuccess
	MessageError
	MessageWarning
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type keyMap struct {
	Search  key.Binding
	Up      key.Binding
	Down    key.Binding
	Login   key.Binding
	Logout  key.Binding
	Refresh key.Binding
	Logs    key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Search, k.Login, k.Logout, k.Refresh, k.Logs, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Search, k.Up, k.Down},
		{k.Login, k.Logout, k.Refresh},
		{k.Logs, k.Quit},
	}
}

var keys = keyMap{
	Search: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "search"),
	),
	Up: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "previous result"),
	),
	Down: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "next result"),
	),
	Login: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "login"),
	),
	Logout: key.NewBinding(
		key.WithKeys("ctrl+o"),
		key.WithHelp("ctrl+o", "logout"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "refresh profile"),
	),
	Logs: key.NewBinding(
		key.WithKeys("ctrl+g"),
		key.WithHelp("ctrl+g", "toggle logs"),
	),
	Quit: key.NewBinding(
		key.WithKeys("esc", "ctrl+c"),
		key.WithHelp("esc", "quit"),
	),
}

// NewApp creates the search UI around a Spotify session
func NewApp(session Session) *App {
	input := textinput.New()
	input.Placeholder = "Search tracks..."
	input.CharLimit = 200
	input.Width = 60
	input.Focus()

	return &App{
		keys:        keys,
		help:        help.New(),
		input:       input,
		session:     session,
		message:     "Starting spotauth...",
		messageType: MessageInfo,
		spinner:     spinnerFrames[0],
		showLogs:    true,
	}
}

// Init initializes the application
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.checkSession(),
		a.tickCmd(),
	)
}

// Update handles messages and updates the application state
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit

		case key.Matches(msg, a.keys.Logs):
			a.showLogs = !a.showLogs
			return a, nil

		case key.Matches(msg, a.keys.Login):
			if a.loggingIn {
				a.setMessage("Login already in progress", MessageWarning)
				return a, nil
			}
			a.loggingIn = true
			a.setMessage("Complete the login in your browser...", MessageInfo)
			return a, a.login()

		case key.Matches(msg, a.keys.Logout):
			return a, a.logout()

		case key.Matches(msg, a.keys.Refresh):
			if !a.loggedIn {
				a.setMessage("Not logged in (press ctrl+l)", MessageWarning)
				return a, nil
			}
			return a, a.refreshProfile()

		case key.Matches(msg, a.keys.Up):
			if a.selected > 0 {
				a.selected--
			}
			return a, nil

		case key.Matches(msg, a.keys.Down):
			if a.selected < len(a.results)-1 {
				a.selected++
			}
			return a, nil

		case key.Matches(msg, a.keys.Search):
			query := strings.TrimSpace(a.input.Value())
			if query == "" {
				a.setMessage("Type something to search for", MessageWarning)
				return a, nil
			}
			if !a.loggedIn {
				a.setMessage("Not logged in (press ctrl+l)", MessageWarning)
				return a, nil
			}
			a.searching = true
			a.setMessage(fmt.Sprintf("Searching for %q...", query), MessageInfo)
			return a, a.search(query)
		}

		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd

	case sessionMsg:
		a.loggedIn = msg.loggedIn
		if msg.loggedIn {
			a.setMessage("Logged in to Spotify", MessageSuccess)
			return a, a.refreshProfile()
		}
		a.setMessage("Not logged in (press ctrl+l)", MessageWarning)

	case loginResultMsg:
		a.loggingIn = false
		if msg.err != nil {
			a.loggedIn = false
			a.setMessage(fmt.Sprintf("Login failed: %v", msg.err), MessageError)
			return a, nil
		}
		a.loggedIn = true
		a.setMessage("Logged in to Spotify", MessageSuccess)
		return a, a.refreshProfile()

	case logoutResultMsg:
		if msg.err != nil {
			a.setMessage(fmt.Sprintf("Logout failed: %v", msg.err), MessageError)
			return a, nil
		}
		a.loggedIn = false
		a.displayName = ""
		a.results = nil
		a.selected = 0
		a.setMessage("Logged out", MessageInfo)

	case profileMsg:
		if msg.err != nil {
			a.handleAPIError("Failed to load profile", msg.err)
			return a, nil
		}
		a.displayName = msg.displayName

	case searchResultMsg:
		a.searching = false
		if msg.err != nil {
			a.handleAPIError("Search failed", msg.err)
			return a, nil
		}
		a.query = msg.query
		a.results = msg.tracks
		a.selected = 0
		a.setMessage(fmt.Sprintf("Found %d track(s) for %q", len(msg.tracks), msg.query), MessageSuccess)

	case tickMsg:
		a.spinnerIdx = (a.spinnerIdx + 1) % len(spinnerFrames)
		a.spinner = spinnerFrames[a.spinnerIdx]
		return a, a.tickCmd()
	}

	return a, nil
}

// handleAPIError reports err and drops the session when the token is gone
func (a *App) handleAPIError(prefix string, err error) {
	if errors.Is(err, spotify.ErrNotLoggedIn) {
		a.loggedIn = false
		a.displayName = ""
		a.setMessage("Session expired, press ctrl+l to log in again", MessageWarning)
		return
	}
	a.setMessage(fmt.Sprintf("%s: %v", prefix, err), MessageError)
}

// View renders the application
func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	sections := []string{
		a.renderHeader(),
		searchPanelStyle.Render(labelStyle.Render("Search") + "\n\n" + a.input.View()),
		a.renderResults(),
	}

	if a.message != "" {
		sections = append(sections, a.renderMessage())
	}
	if a.showLogs {
		sections = append(sections, a.renderLogs())
	}
	sections = append(sections, a.help.View(a.keys))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

var (
	primaryColor = lipgloss.Color("35")  // Spotify green
	successColor = lipgloss.Color("46")  // Green
	errorColor   = lipgloss.Color("196") // Red
	warningColor = lipgloss.Color("226") // Yellow
	accentColor  = lipgloss.Color("86")  // Cyan
	mutedColor   = lipgloss.Color("240") // Gray

	successTextStyle = lipgloss.NewStyle().Foreground(successColor)
	errorTextStyle   = lipgloss.NewStyle().Foreground(errorColor)
	warningTextStyle = lipgloss.NewStyle().Foreground(warningColor)
	mutedTextStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(primaryColor).
			Padding(0, 2).
			Margin(0, 0, 1, 0).
			Bold(true).
			Width(80).
			Align(lipgloss.Center)

	searchPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 2).
				Width(78)

	resultsPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(accentColor).
				Padding(0, 2).
				Width(78)

	logPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1).
			Width(78)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(primaryColor).
			Bold(true)

	messageStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			Margin(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)
)

func (a *App) renderHeader() string {
	header := titleStyle.Render("🎵 spotauth")

	var status string
	switch {
	case a.loggingIn:
		status = warningTextStyle.Render(fmt.Sprintf("%s Waiting for browser login...", a.spinner))
	case a.loggedIn && a.displayName != "":
		status = successTextStyle.Render(fmt.Sprintf("🟢 Logged in as %s", a.displayName))
	case a.loggedIn:
		status = successTextStyle.Render("🟢 Logged in")
	default:
		status = errorTextStyle.Render("🔴 Not logged in")
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, status)
}

func (a *App) renderResults() string {
	var content strings.Builder
	content.WriteString(labelStyle.Render("Tracks") + "\n\n")

	switch {
	case a.searching:
		content.WriteString(warningTextStyle.Render(a.spinner + " Searching..."))
	case len(a.results) == 0 && a.query == "":
		content.WriteString(mutedTextStyle.Render("Type a query and press enter"))
	case len(a.results) == 0:
		content.WriteString(mutedTextStyle.Render("No tracks found"))
	default:
		start := 0
		if a.selected >= visibleResults {
			start = a.selected - visibleResults + 1
		}
		end := start + visibleResults
		if end > len(a.results) {
			end = len(a.results)
		}
		for i := start; i < end; i++ {
			line := formatRow(a.results[i])
			if i == a.selected {
				line = selectedStyle.Render("> " + line)
			} else {
				line = "  " + line
			}
			content.WriteString(line + "\n")
		}
		if sel := a.Selected(); sel != nil {
			content.WriteString("\n" + mutedTextStyle.Render(sel.URI))
		}
	}

	return resultsPanelStyle.Render(content.String())
}

func formatRow(t TrackRow) string {
	minutes := int(t.Duration.Minutes())
	seconds := int(t.Duration.Seconds()) % 60
	return fmt.Sprintf("%s - %s (%d:%02d)", t.Name, t.Artists, minutes, seconds)
}

func (a *App) renderMessage() string {
	var color lipgloss.Color
	var icon string

	switch a.messageType {
	case MessageSuccess:
		color, icon = successColor, "✓"
	case MessageError:
		color, icon = errorColor, "✗"
	case MessageWarning:
		color, icon = warningColor, "⚠"
	default:
		color, icon = primaryColor, "ℹ"
	}

	return messageStyle.
		Foreground(color).
		BorderForeground(color).
		Render(fmt.Sprintf("%s %s", icon, a.message))
}

func (a *App) renderLogs() string {
	entries := a.LogEntries()
	if len(entries) > visibleLogs {
		entries = entries[len(entries)-visibleLogs:]
	}

	var lines []string
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), e.Level, e.Message))
	}
	if len(lines) == 0 {
		lines = append(lines, "No log entries yet")
	}
	return logPanelStyle.Render(mutedTextStyle.Render(strings.Join(lines, "\n")))
}

func (a *App) setMessage(text string, msgType MessageType) {
	a.message = text
	a.messageType = msgType
}

// Selected returns the highlighted track, if any
func (a *App) Selected() *TrackRow {
	if a.selected < 0 || a.selected >= len(a.results) {
		return nil
	}
	return &a.results[a.selected]
}

// addLogEntry is called by the log hook, possibly from other goroutines
func (a *App) addLogEntry(level, message string, fields map[string]interface{}) {
	a.logMu.Lock()
	defer a.logMu.Unlock()

	a.logs = append(a.logs, LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Fields:  fields,
	})
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}
}

// LogEntries returns a copy of the captured log entries
func (a *App) LogEntries() []LogEntry {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	return append([]LogEntry(nil), a.logs...)
}

// Command functions
func (a *App) checkSession() tea.Cmd {
	return func() tea.Msg {
		return sessionMsg{loggedIn: a.session.IsLoggedIn(context.Background())}
	}
}

func (a *App) login() tea.Cmd {
	return func() tea.Msg {
		err := a.session.Login(context.Background())
		if err != nil {
			log.WithError(err).Warn("Login from TUI failed")
		}
		return loginResultMsg{err: err}
	}
}

func (a *App) logout() tea.Cmd {
	return func() tea.Msg {
		return logoutResultMsg{err: a.session.Logout(context.Background())}
	}
}

func (a *App) refreshProfile() tea.Cmd {
	return func() tea.Msg {
		user, err := a.session.GetUserProfile(context.Background())
		if err != nil {
			return profileMsg{err: err}
		}
		name := user.DisplayName
		if name == "" {
			name = user.ID
		}
		return profileMsg{displayName: name}
	}
}

func (a *App) search(query string) tea.Cmd {
	return func() tea.Msg {
		tracks, err := a.session.SearchTracks(context.Background(), query)
		if err != nil {
			return searchResultMsg{query: query, err: err}
		}
		return searchResultMsg{query: query, tracks: toRows(tracks)}
	}
}

func toRows(tracks []spotifyapi.FullTrack) []TrackRow {
	rows := make([]TrackRow, 0, len(tracks))
	for _, t := range tracks {
		rows = append(rows, TrackRow{
			Name:     t.Name,
			Artists:  spotify.ArtistNames(t),
			Album:    t.Album.Name,
			Duration: time.Duration(int(t.Duration)) * time.Millisecond,
			URI:      string(t.URI),
		})
	}
	return rows
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Messages
type sessionMsg struct {
	loggedIn bool
}

type loginResultMsg struct {
	err error
}

type logoutResultMsg struct {
	err error
}

type profileMsg struct {
	displayName string
	err         error
}

type searchResultMsg struct {
	query  string
	tracks []TrackRow
	err    error
}

type tickMsg struct{}
