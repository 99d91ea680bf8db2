// Package tui is the operator-facing dashboard for `gateway dashboard`
// (spec §4.9): a bubbletea program that polls GET /v1/queue and
// GET /health once a second and renders queue depth, the single-inflight
// lock state, and per-item wait time with bubbles/table + lipgloss,
// the same charm-stack combination the teacher's internal/interfaces/cli
// package uses for markdown and styled output — repointed here at
// gateway queue state instead of agent chat state.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = time.Second

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	lockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	freeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	healthOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	healthBad   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// queueSnapshot mirrors GET /v1/queue's JSON body (internal/interfaces/http
// writes these same field names).
type queueSnapshot struct {
	QueueLength        int    `json:"queue_length"`
	IsProcessingLocked bool   `json:"is_processing_locked"`
	Items              []item `json:"items"`
}

type item struct {
	ReqID           string  `json:"req_id"`
	WaitTimeSeconds float64 `json:"wait_time_seconds"`
	Stream          bool    `json:"stream"`
	Cancelled       bool    `json:"cancelled"`
}

// Model is the bubbletea model driving `gateway dashboard`.
type Model struct {
	baseURL string
	client  *http.Client
	table   table.Model

	queueLength int
	locked      bool
	healthy     bool
	lastErr     error
	lastPoll    time.Time
}

// New builds a dashboard Model polling the gateway at baseURL (e.g.
// "http://127.0.0.1:8080").
func New(baseURL string) Model {
	cols := []table.Column{
		{Title: "REQ ID", Width: 36},
		{Title: "WAIT (s)", Width: 10},
		{Title: "STREAM", Width: 8},
		{Title: "CANCELLED", Width: 10},
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithRows(nil),
		table.WithFocused(false),
		table.WithHeight(12),
	)
	return Model{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		table:   t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickCmd())
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type pollResultMsg struct {
	snapshot queueSnapshot
	healthy  bool
	err      error
}

// poll fetches /v1/queue and /health, matching the one-second cadence
// spec §4.9 requires for the queue dashboard.
func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		var snap queueSnapshot
		resp, err := m.client.Get(m.baseURL + "/v1/queue")
		if err != nil {
			return pollResultMsg{err: err}
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if decodeErr != nil {
			return pollResultMsg{err: decodeErr}
		}

		healthy := false
		if hresp, herr := m.client.Get(m.baseURL + "/health"); herr == nil {
			healthy = hresp.StatusCode == http.StatusOK
			hresp.Body.Close()
		}

		return pollResultMsg{snapshot: snap, healthy: healthy}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, m.poll()
	case pollResultMsg:
		m.lastPoll = time.Now()
		m.lastErr = msg.err
		if msg.err == nil {
			m.queueLength = msg.snapshot.QueueLength
			m.locked = msg.snapshot.IsProcessingLocked
			m.healthy = msg.healthy
			rows := make([]table.Row, 0, len(msg.snapshot.Items))
			for _, it := range msg.snapshot.Items {
				rows = append(rows, table.Row{
					it.ReqID,
					fmt.Sprintf("%.1f", it.WaitTimeSeconds),
					fmt.Sprintf("%t", it.Stream),
					fmt.Sprintf("%t", it.Cancelled),
				})
			}
			m.table.SetRows(rows)
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m Model) View() string {
	lockState := freeStyle.Render("free")
	if m.locked {
		lockState = lockedStyle.Render("held")
	}
	health := healthBad.Render("unreachable")
	if m.healthy {
		health = healthOK.Render("ok")
	}

	header := headerStyle.Render("aistudioproxy gateway — queue dashboard")
	status := fmt.Sprintf("queue: %d   processing lock: %s   health: %s", m.queueLength, lockState, health)

	var errLine string
	if m.lastErr != nil {
		errLine = dimStyle.Render(fmt.Sprintf("poll error: %v", m.lastErr))
	}

	return fmt.Sprintf("%s\n%s\n\n%s\n%s\n\n%s",
		header, status, m.table.View(), errLine,
		dimStyle.Render("q to quit"))
}

// Run starts the bubbletea program against baseURL and blocks until
// the operator quits.
func Run(baseURL string) error {
	p := tea.NewProgram(New(baseURL))
	_, err := p.Run()
	return err
}
