package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mdouchement/gantryd"
)

type model struct {
	table table.Model
}

func newTUI() *model {
	columns := []table.Column{
		{Title: "Gantry", Width: 20},
		{Title: "State", Width: 30},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		Foreground(lipgloss.Color("#00afff")).
		BorderForeground(lipgloss.Color("#00afff")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#ffffff")).
		Bold(false)
	t.SetStyles(s)

	return &model{
		table: t,
	}
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.table.SetHeight(msg.Height)
	case gantryd.Telemetry:
		m.update(msg)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	return m.table.View()
}

func (m *model) update(t gantryd.Telemetry) {
	homed := "no"
	if t.Homed {
		homed = "yes"
	}

	magnets := make([]string, 0, gantryd.MagnetChannels)
	for i, on := range t.Magnets {
		state := "off"
		if on {
			state = "on"
		}
		magnets = append(magnets, fmt.Sprintf("%d:%s", i+1, state))
	}

	rows := []table.Row{
		{"state", t.State},
		{"position", fmt.Sprintf("%8.2f / %8.2f mm", t.X, t.Y)},
		{"homed", homed},
		{"speed", fmt.Sprintf("%d steps/s", t.Speed)},
		{"magnets", strings.Join(magnets, " ")},
	}
	for i, duty := range t.Fans {
		rows = append(rows, table.Row{
			fmt.Sprintf("fan%d", i+1),
			fmt.Sprintf("%3d/255 (%2d%%)", duty, int(duty)*100/255),
		})
	}

	m.table.SetRows(rows)
}
