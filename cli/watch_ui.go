package cli

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/avillela/seekd/indexer"
	"github.com/avillela/seekd/watcher"
)

// recentUpdates bounds the activity list shown in the view.
const recentUpdates = 10

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	watchStatStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	watchErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	watchDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	watchBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("8")).
				Padding(0, 1)
)

type batchMsg []watchUpdate

type tickMsg time.Time

func tickEverySecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type watchModel struct {
	projectRoot string
	started     time.Time
	now         time.Time

	batches   int
	reindexed int
	removed   int
	failures  int
	recent    []watchUpdate
}

func newWatchModel(projectRoot string) watchModel {
	now := time.Now()
	return watchModel{projectRoot: projectRoot, started: now, now: now}
}

func (m watchModel) Init() tea.Cmd {
	return tickEverySecond()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.now = time.Time(msg)
		return m, tickEverySecond()
	case batchMsg:
		m.batches++
		for _, update := range msg {
			if update.Err != nil {
				m.failures++
			}
			m.reindexed += update.Reindexed
			m.removed += update.Removed
			if update.Path != "" {
				m.recent = append(m.recent, update)
			}
		}
		if len(m.recent) > recentUpdates {
			m.recent = m.recent[len(m.recent)-recentUpdates:]
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	elapsed := m.now.Sub(m.started).Round(time.Second)

	header := watchTitleStyle.Render("seekd watch") +
		watchDimStyle.Render(fmt.Sprintf("  %s  up %s", m.projectRoot, elapsed))

	stats := watchStatStyle.Render(fmt.Sprintf(
		"batches %d   reindexed %d   removed %d", m.batches, m.reindexed, m.removed))
	if m.failures > 0 {
		stats += "   " + watchErrStyle.Render(fmt.Sprintf("errors %d", m.failures))
	}

	body := header + "\n" + stats + "\n"
	if len(m.recent) == 0 {
		body += watchDimStyle.Render("waiting for changes...")
	} else {
		for _, update := range m.recent {
			line := fmt.Sprintf("%-6s %s", update.Type, update.Path)
			if update.Err != nil {
				body += watchErrStyle.Render(line+": "+update.Err.Error()) + "\n"
			} else {
				body += line + "\n"
			}
		}
	}

	return watchBorderStyle.Render(body) + "\n" + watchDimStyle.Render("press q to quit")
}

// runWatchUI drives the foreground watch with a live terminal view.
// Batches are applied off the UI goroutine and reported as messages.
func runWatchUI(ctx context.Context, cancel context.CancelFunc, projectRoot string, w *watcher.Watcher, idx *indexer.Indexer, scanner *indexer.Scanner, rt *runtime) error {
	p := tea.NewProgram(newWatchModel(projectRoot))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-w.Batches():
				p.Send(batchMsg(applyBatch(ctx, idx, scanner, rt, batch)))
			}
		}
	}()

	_, err := p.Run()
	cancel()
	return err
}
