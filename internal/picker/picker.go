// Package picker is the interactive book selection screen for the download
// flow.
package picker

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mikelnorth/audiobookshelf-download-cli/internal/abs"
)

const pageSize = 15

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type model struct {
	items    []abs.Item
	visible  []int // indexes into items, after filtering
	selected map[int]bool
	cursor   int
	offset   int
	filter   textinput.Model
	filtered bool
	done     bool
	canceled bool
}

// Run shows the selection screen and returns the chosen items. A canceled
// session returns an empty slice and no error.
func Run(items []abs.Item) ([]abs.Item, error) {
	filter := textinput.New()
	filter.Placeholder = "filter by title or author"
	filter.CharLimit = 120

	m := model{
		items:    items,
		selected: make(map[int]bool),
		filter:   filter,
	}
	m.applyFilter("")

	out, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, fmt.Errorf("book picker: %w", err)
	}

	final := out.(model)
	if final.canceled {
		return nil, nil
	}
	var chosen []abs.Item
	for i, item := range final.items {
		if final.selected[i] {
			chosen = append(chosen, item)
		}
	}
	return chosen, nil
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.filtered {
		switch keyMsg.String() {
		case "enter", "esc":
			m.filtered = false
			m.filter.Blur()
		case "ctrl+c":
			m.canceled = true
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter(m.filter.Value())
			return m, cmd
		}
		return m, nil
	}

	switch keyMsg.String() {
	case "q", "esc", "ctrl+c":
		m.canceled = true
		return m, tea.Quit
	case "enter":
		m.done = true
		return m, tea.Quit
	case "j", "down":
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case " ":
		if len(m.visible) > 0 {
			idx := m.visible[m.cursor]
			m.selected[idx] = !m.selected[idx]
		}
	case "a":
		all := true
		for _, idx := range m.visible {
			if !m.selected[idx] {
				all = false
				break
			}
		}
		for _, idx := range m.visible {
			m.selected[idx] = !all
		}
	case "/":
		m.filtered = true
		m.filter.Focus()
	}

	m.clampScroll()
	return m, nil
}

func (m *model) applyFilter(query string) {
	query = strings.ToLower(strings.TrimSpace(query))
	m.visible = m.visible[:0]
	for i, item := range m.items {
		if query == "" ||
			strings.Contains(strings.ToLower(item.Title()), query) ||
			strings.Contains(strings.ToLower(item.Author()), query) {
			m.visible = append(m.visible, i)
		}
	}
	m.cursor = 0
	m.offset = 0
}

func (m *model) clampScroll() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+pageSize {
		m.offset = m.cursor - pageSize + 1
	}
}

func (m model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n\n",
		titleStyle.Render("Select books to download"),
		dimStyle.Render(fmt.Sprintf("%d selected / %d shown", m.countSelected(), len(m.visible))))

	if m.filtered {
		b.WriteString("filter: " + m.filter.View() + "\n\n")
	}

	end := m.offset + pageSize
	if end > len(m.visible) {
		end = len(m.visible)
	}
	for row := m.offset; row < end; row++ {
		idx := m.visible[row]
		item := m.items[idx]

		cursor := "  "
		if row == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		mark := "[ ]"
		line := fmt.Sprintf("%s %s by %s", mark, item.Title(), item.Author())
		if m.selected[idx] {
			line = selectedStyle.Render(fmt.Sprintf("[x] %s by %s", item.Title(), item.Author()))
		}
		b.WriteString(cursor + line + "\n")
	}
	if len(m.visible) == 0 {
		b.WriteString(dimStyle.Render("  no matches") + "\n")
	}

	b.WriteString("\n" + dimStyle.Render("space select · a select all · / filter · enter confirm · q cancel") + "\n")
	return b.String()
}

func (m model) countSelected() int {
	n := 0
	for _, v := range m.selected {
		if v {
			n++
		}
	}
	return n
}
