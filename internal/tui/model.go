// Package tui is the interactive search screen.
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"

	"github.com/mg52/unfold/internal/access"
	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/model"
)

// Searcher is the subset of the engine the screen needs.
type Searcher interface {
	Search(ctx context.Context, q engine.Query) (engine.Response, error)
	RecordAccess(id model.FileID) (access.Stat, error)
}

// Model is the Bubble Tea model of the search screen. Every keystroke
// runs a query; enter records an access for the selected result and quits.
type Model struct {
	searcher Searcher
	input    textinput.Model
	results  []engine.Result
	cursor   int
	limit    int
	status   string
	summary  string
	width    int
	chosen   *model.FileRecord
}

// New creates the screen. summary is shown under the title.
func New(searcher Searcher, limit int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type to search files and folders"
	ti.Focus()
	ti.CharLimit = 256
	if limit < 1 {
		limit = 20
	}
	return Model{searcher: searcher, input: ti, limit: limit, summary: summary, status: "Type to search. Enter opens, Esc quits."}
}

// Chosen is the record selected with enter, if any.
func (m Model) Chosen() (model.FileRecord, bool) {
	if m.chosen == nil {
		return model.FileRecord{}, false
	}
	return *m.chosen, true
}

// Results returns what is currently listed.
func (m Model) Results() []engine.Result { return m.results }

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-4)
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if len(m.results) == 0 {
				return m, nil
			}
			rec := m.results[m.cursor].Record
			if _, err := m.searcher.RecordAccess(rec.ID); err != nil {
				m.status = "Error: " + err.Error()
				return m, nil
			}
			m.chosen = &rec
			return m, tea.Quit
		case tea.KeyDown, tea.KeyCtrlN, tea.KeyTab:
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
			}
			return m, nil
		case tea.KeyUp, tea.KeyCtrlP, tea.KeyShiftTab:
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
			}
			return m, nil
		}
	}

	prev := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != prev {
		m.search()
	}
	return m, cmd
}

func (m *Model) search() {
	m.cursor = 0
	q := strings.TrimSpace(m.input.Value())
	if q == "" {
		m.results = nil
		m.status = "Type to search. Enter opens, Esc quits."
		return
	}
	resp, err := m.searcher.Search(context.Background(), engine.Query{Text: q, Limit: m.limit})
	if err != nil {
		m.results = nil
		m.status = "Error: " + err.Error()
		return
	}
	m.results = resp.Results
	switch {
	case len(resp.Results) == 0:
		m.status = fmt.Sprintf("No matches for %q", q)
	case resp.Partial:
		m.status = fmt.Sprintf("%d partial matches for %q", len(resp.Results), q)
	default:
		m.status = fmt.Sprintf("%d matches for %q", len(resp.Results), q)
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("unfold"))
	if m.summary != "" {
		b.WriteString("  " + mutedStyle.Render(m.summary))
	}
	b.WriteString("\n")
	b.WriteString(queryBoxStyle.Render(m.input.View()))
	b.WriteString("\n")

	query := strings.TrimSpace(m.input.Value())
	for i, r := range m.results {
		b.WriteString(m.renderResult(i, r, query))
		b.WriteString("\n")
	}
	b.WriteString(statusStyle.Render(m.status))
	return b.String()
}

func (m Model) renderResult(i int, r engine.Result, query string) string {
	rec := r.Record
	marker := "  "
	if i == m.cursor {
		marker = cursorStyle.Render("> ")
	}
	name := Highlight(rec.Name, query)
	if rec.IsDir {
		name += mutedStyle.Render(string(filepath.Separator))
	}
	meta := humanize.Time(rec.ModTime)
	if !rec.IsDir {
		meta = humanize.IBytes(uint64(max(rec.Size, 0))) + ", " + meta
	}
	line := fmt.Sprintf("%s%s  %s  %s", marker, name, mutedStyle.Render(filepath.Dir(rec.Path)), mutedStyle.Render(meta))
	if i == m.cursor {
		return selectedStyle.Render(line)
	}
	return line
}

// Highlight renders the characters of name matched by query in bold. The
// whole query is tried first, then each word on its own.
func Highlight(name, query string) string {
	matched := make(map[int]bool)
	words := strings.Fields(query)
	patterns := append([]string{strings.Join(words, "")}, words...)
	for i, p := range patterns {
		for _, match := range fuzzy.Find(p, []string{name}) {
			for _, idx := range match.MatchedIndexes {
				matched[idx] = true
			}
		}
		if i == 0 && len(matched) > 0 {
			break
		}
	}
	if len(matched) == 0 {
		return name
	}
	var b strings.Builder
	for i, r := range name {
		if matched[i] {
			b.WriteString(highlightStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	selectedStyle  = lipgloss.NewStyle().Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
