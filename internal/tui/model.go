package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/search"
)

// Source is the part of a search controller the UI drives.
type Source[T any] interface {
	SetQuery(raw string)
	Updates() <-chan search.Snapshot[T]
}

type citySnapshotMsg search.Snapshot[models.CityItem]

type climateSnapshotMsg search.Snapshot[models.ClimateItem]

// waitForSnapshot blocks on the next published snapshot. The model re-arms it
// after every delivery, so exactly one reader is outstanding per source.
func waitForSnapshot[T any](src Source[T], wrap func(search.Snapshot[T]) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-src.Updates()
		if !ok {
			return nil
		}
		return wrap(snap)
	}
}

// Model is the root Bubble Tea model: a query line, the city results and,
// once a city is chosen, the climate-similar cities.
type Model struct {
	cities  Source[models.CityItem]
	climate Source[models.ClimateItem]

	input   textinput.Model
	spinner spinner.Model

	cityView    search.Snapshot[models.CityItem]
	climateView search.Snapshot[models.ClimateItem]
	cursor      int
	chosen      *models.CityItem // city the climate panel is for
	width       int
}

// New returns a model reading from the two controllers. climate may be nil
// to run city search only.
func New(cities Source[models.CityItem], climate Source[models.ClimateItem]) Model {
	ti := textinput.New()
	ti.Placeholder = "city name..."
	ti.CharLimit = 200
	ti.Width = 40
	ti.Prompt = "› "
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = selectedStyle.Foreground(colorSpinner)

	return Model{
		cities:  cities,
		climate: climate,
		input:   ti,
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, m.waitForCities()}
	if m.climate != nil {
		cmds = append(cmds, m.waitForClimate())
	}
	return tea.Batch(cmds...)
}

func (m Model) waitForCities() tea.Cmd {
	return waitForSnapshot(m.cities, func(s search.Snapshot[models.CityItem]) tea.Msg { return citySnapshotMsg(s) })
}

func (m Model) waitForClimate() tea.Cmd {
	return waitForSnapshot(m.climate, func(s search.Snapshot[models.ClimateItem]) tea.Msg { return climateSnapshotMsg(s) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case citySnapshotMsg:
		m.cityView = search.Snapshot[models.CityItem](msg)
		m.cursor = clamp(m.cursor, len(m.cityView.Results))
		return m, m.waitForCities()

	case climateSnapshotMsg:
		m.climateView = search.Snapshot[models.ClimateItem](msg)
		return m, m.waitForClimate()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.chosen != nil {
			m.chosen = nil
			return m, nil
		}
		return m, tea.Quit
	case tea.KeyUp:
		m.cursor = clamp(m.cursor-1, len(m.cityView.Results))
		return m, nil
	case tea.KeyDown:
		m.cursor = clamp(m.cursor+1, len(m.cityView.Results))
		return m, nil
	case tea.KeyEnter:
		if m.climate == nil || len(m.cityView.Results) == 0 {
			return m, nil
		}
		city := m.cityView.Results[m.cursor]
		m.chosen = &city
		m.climate.SetQuery(strconv.Itoa(city.ID))
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != before {
		m.cursor = 0
		m.cities.SetQuery(v)
	}
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("City search"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("  ")
	b.WriteString(status(m.spinner.View(), m.cityView.Phase, m.cityView.Unavailable))
	b.WriteString("\n\n")

	if len(m.cityView.Results) == 0 && m.cityView.ResultsQuery != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("no cities match %q", m.cityView.ResultsQuery)))
		b.WriteString("\n")
	}
	for i, it := range m.cityView.Results {
		line := fmt.Sprintf("%s  %s", cityLabel(it), dimStyle.Render(fmt.Sprintf("pop %d", it.Population)))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("▸ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if m.chosen != nil {
		b.WriteString(m.climatePanel())
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("↑/↓ select • enter similar climate • esc back/quit"))
	return b.String()
}

func (m Model) climatePanel() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Climate like %s  ", m.chosen.Name))
	b.WriteString(status(m.spinner.View(), m.climateView.Phase, m.climateView.Unavailable))
	if m.climateView.ResultsQuery == strconv.Itoa(m.chosen.ID) {
		for _, it := range m.climateView.Results {
			b.WriteString("\n")
			b.WriteString(fmt.Sprintf("%5.1f%%  %-20s %s", it.SimilarityPercent, it.City.PrimaryName(),
				dimStyle.Render(fmt.Sprintf("%s, %.0f km", it.City.Country, it.DistanceKm))))
		}
	}
	return panelStyle.Render(b.String())
}

// status renders the live phase: a spinner while a search is pending, an
// error marker while the service is unavailable.
func status(spin string, phase search.Phase, unavailable bool) string {
	switch {
	case unavailable:
		return errorStyle.Render("service unavailable")
	case phase == search.PhaseDelay || phase == search.PhaseFetching:
		return spin + dimStyle.Render(" searching")
	default:
		return ""
	}
}

func cityLabel(it models.CityItem) string {
	parts := []string{it.Name}
	if it.AdminUnit != nil && *it.AdminUnit != "" {
		parts = append(parts, *it.AdminUnit)
	}
	parts = append(parts, it.Country)
	label := strings.Join(parts, ", ")
	if it.MatchedName != "" && it.MatchedName != it.Name {
		label += dimStyle.Render(" (" + it.MatchedName + ")")
	}
	return label
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
