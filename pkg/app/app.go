package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/app/components"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/app/styles"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/services"
)

type progressMsg services.DownloadProgress

type progressClosedMsg struct{}

type doneMsg struct {
	stats *data.DownloadStats
	err   error
}

// Model is the live download view: a spinner, the active chapters with
// their page progress, and the final summary.
type Model struct {
	title    string
	spinner  spinner.Model
	tracker  *components.ProgressTracker
	progress <-chan services.DownloadProgress
	result   <-chan doneMsg
	stop     func()

	stats    *data.DownloadStats
	err      error
	done     bool
	stopping bool
	width    int
}

func newModel(title string, progress <-chan services.DownloadProgress, result <-chan doneMsg, stop func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.SubtitleStyle
	return Model{
		title:    title,
		spinner:  s,
		tracker:  components.NewProgressTracker(60),
		progress: progress,
		result:   result,
		stop:     stop,
		width:    80,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForProgress(), m.waitForResult())
}

func (m Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		progress, ok := <-m.progress
		if !ok {
			return progressClosedMsg{}
		}
		return progressMsg(progress)
	}
}

func (m Model) waitForResult() tea.Cmd {
	return func() tea.Msg {
		return <-m.result
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			if m.stopping {
				return m, tea.Quit
			}
			// Ask the downloader to stop before the next chapter, then
			// wait for its final stats. In-flight pages finish on their
			// own and the skip rule resumes the rest next run.
			m.stopping = true
			m.stop()
			return m, nil
		}

	case progressMsg:
		m.tracker.Update(services.DownloadProgress(msg))
		return m, m.waitForProgress()

	case progressClosedMsg:
		return m, nil

	case doneMsg:
		m.stats = msg.stats
		m.err = msg.err
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.done {
		return ""
	}
	header := styles.TitleStyle.Render(fmt.Sprintf("%s Downloading %s", m.spinner.View(), m.title))
	help := styles.HelpStyle.Render("ctrl+c to stop after the current chapter")
	if m.stopping {
		header = styles.TitleStyle.Render(fmt.Sprintf("%s Stopping after the current chapter", m.spinner.View()))
		help = styles.HelpStyle.Render("ctrl+c again to quit immediately")
	}
	body := m.tracker.View()
	return header + "\n" + body + help + "\n"
}

// Run drives start in the background while rendering progress updates,
// returning the final stats once the download ends. stop is invoked
// when the user interrupts, so the downloader can finish cleanly; the
// stats may be nil if the user force-quits before it does.
func Run(title string, start func() (*data.DownloadStats, error), stop func(), progress <-chan services.DownloadProgress) (*data.DownloadStats, error) {
	result := make(chan doneMsg, 1)
	go func() {
		stats, err := start()
		result <- doneMsg{stats: stats, err: err}
	}()

	p := tea.NewProgram(newModel(title, progress, result, stop))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(Model)
	return m.stats, m.err
}
