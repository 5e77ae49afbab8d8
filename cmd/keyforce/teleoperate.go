package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/keyforce/pkg/force"
	"github.com/gwillem/keyforce/pkg/keyboard"
	"github.com/gwillem/keyforce/pkg/logging"
	"github.com/gwillem/keyforce/pkg/teleop"
)

type TeleoperateCommand struct {
	RepeatRate float64 `long:"repeat-rate" description:"Publish rate in Hz, 0 publishes only on change (overrides config)"`
	KeyTimeout float64 `long:"key-timeout" description:"Key poll timeout in seconds, 0 blocks (overrides config)"`
	Transport  string  `long:"transport" choice:"log" choice:"mqtt" choice:"websocket" choice:"servo" description:"Transport (overrides config)"`
	Headless   bool    `long:"headless" description:"Read the raw terminal and log to stderr instead of showing the TUI"`
	LogFile    string  `long:"log-file" description:"Write JSON logs to this file"`
	Debug      bool    `long:"debug" description:"Enable debug logging"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	queueSize    = 16
)

var errQuit = errors.New("quit requested")

// Axis colors
var thrusterColors = map[force.ThrusterName]string{
	force.Surge: "196", // red
	force.Sway:  "46",  // green
	force.Yaw:   "51",  // cyan
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	keyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

type teleopModel struct {
	agg       *teleop.Aggregator
	queue     *keyboard.Queue
	mapper    *force.KeyMapper
	cancel    context.CancelCauseFunc
	transport string
	chart     *streamlinechart.Model
	width     int      // terminal width
	height    int      // terminal height
	logs      []string // last N log messages
	last      force.Command
	streaming bool // first command has been published
	quitting  bool
	err       error
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the aggregator and session
type stateMsg teleop.State
type logMsg string
type sessionDoneMsg struct{ err error }

func waitForState(agg *teleop.Aggregator) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-agg.States())
	}
}

func waitForLog(agg *teleop.Aggregator) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-agg.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(agg *teleop.Aggregator, queue *keyboard.Queue, mapper *force.KeyMapper, transport string, cancel context.CancelCauseFunc) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-force.Limit, force.Limit),
	)

	for _, name := range force.AllThrusters() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(thrusterColors[name]))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return teleopModel{
		agg:       agg,
		queue:     queue,
		mapper:    mapper,
		cancel:    cancel,
		transport: transport,
		chart:     &chart,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.agg),
		waitForLog(m.agg),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			// Before the first command the session may still be waiting
			// for a subscriber and not reading keys.
			if !m.queue.Push(force.ExitKey) || !m.streaming {
				m.cancel(errQuit)
			}
			return m, nil
		}
		if msg.Type == tea.KeyRunes {
			for _, r := range msg.Runes {
				m.queue.Push(r)
			}
		}
		return m, nil

	case stateMsg:
		state := teleop.State(msg)
		m.streaming = true
		m.last = state.Command
		for _, name := range force.AllThrusters() {
			m.chart.PushDataSet(string(name), state.Command.Axis(name))
		}
		m.chart.DrawAll()
		if state.Final {
			return m, nil
		}
		return m, waitForState(m.agg)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.agg)

	case sessionDoneMsg:
		m.quitting = true
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting && m.err != nil {
		return ""
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("KeyForce Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %s, wait %s", m.transport, m.agg.Wait()))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  [x %4.0f  y %4.0f  n %4.0f]", m.last.X, m.last.Y, m.last.N)))
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend(m.mapper))
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press ctrl+c to stop")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend(mapper *force.KeyMapper) string {
	var items []string
	for _, name := range force.AllThrusters() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(thrusterColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(name))
	}
	items = append(items, statusStyle.Render("keys"))
	for _, key := range mapper.Keys() {
		d, _ := mapper.Resolve(key)
		items = append(items, keyStyle.Render(string(key))+" "+describeDeltas(d))
	}
	return strings.Join(items, "  ")
}

// describeDeltas names the channel a binding pushes, e.g. "+x" or "-n".
func describeDeltas(d force.Deltas) string {
	switch {
	case d.XPos != 0:
		return "+x"
	case d.XNeg != 0:
		return "-x"
	case d.YPos != 0:
		return "+y"
	case d.YNeg != 0:
		return "-y"
	case d.NPos != 0:
		return "+n"
	case d.NNeg != 0:
		return "-n"
	}
	return "0"
}

// applyOverrides copies the flags given on the command line into cfg.
func (c *TeleoperateCommand) applyOverrides(cfg *force.Config) {
	cmd := parser.Find("teleoperate")
	if cmd == nil {
		return
	}
	if opt := cmd.FindOptionByLongName("repeat-rate"); opt != nil && opt.IsSet() {
		cfg.RepeatRate = c.RepeatRate
	}
	if opt := cmd.FindOptionByLongName("key-timeout"); opt != nil && opt.IsSet() {
		cfg.KeyTimeout = c.KeyTimeout
	}
	if c.Transport != "" {
		cfg.Transport = c.Transport
	}
}

func (c *TeleoperateCommand) Execute(args []string) error {
	if !force.ConfigExists(opts.Config) {
		fmt.Fprintf(os.Stderr, "No configuration at %s, using defaults. Run 'keyforce setup' to create one.\n", opts.Config)
	}
	cfg, err := force.LoadConfigFrom(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w (run 'keyforce setup')", opts.Config, err)
	}

	repeat, err := teleop.RatePolicy(cfg.RepeatRate)
	if err != nil {
		return err
	}
	keyWait, err := teleop.TimeoutPolicy(cfg.KeyTimeout)
	if err != nil {
		return err
	}

	logger, err := c.logger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := openPublisher(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s transport: %w", cfg.Transport, err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warnw("close transport", "error", err)
		}
	}()

	agg := teleop.NewAggregator(pub, teleop.Config{Wait: repeat})
	mapper := force.NewKeyMapper(force.DefaultBindings())

	if c.Headless {
		err = runHeadless(ctx, agg, mapper, keyWait, logger)
	} else {
		err = runTUI(ctx, agg, mapper, keyWait, cfg.Transport)
	}
	if errors.Is(err, teleop.ErrShutdownRequested) || errors.Is(err, context.Canceled) || errors.Is(err, errQuit) {
		logger.Infow("teleoperation stopped", "transport", pub.Name(), "reason", err)
		return nil
	}
	return err
}

// logger logs to the console only in headless mode; the TUI owns the
// terminal otherwise.
func (c *TeleoperateCommand) logger() (*zap.SugaredLogger, error) {
	if c.Headless || c.LogFile != "" {
		return logging.New(c.Debug, c.LogFile)
	}
	return zap.NewNop().Sugar(), nil
}

func runHeadless(ctx context.Context, agg *teleop.Aggregator, mapper *force.KeyMapper, keyWait teleop.WaitPolicy, logger *zap.SugaredLogger) error {
	term, err := keyboard.NewTerminal(os.Stdin)
	if err != nil {
		return err
	}
	defer term.Close()

	forwarded := make(chan struct{})
	go func() {
		logging.Forward(agg.Done(), agg.Logs(), logger)
		close(forwarded)
	}()

	logger.Infow("teleoperation started", "keys", string(mapper.Keys()), "wait", agg.Wait(), "key_timeout", keyWait)

	err = teleop.NewSession(agg, term, mapper, keyWait).Run(ctx)
	<-forwarded
	return err
}

func runTUI(ctx context.Context, agg *teleop.Aggregator, mapper *force.KeyMapper, keyWait teleop.WaitPolicy, transport string) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	queue := keyboard.NewQueue(queueSize)
	session := teleop.NewSession(agg, queue, mapper, keyWait)

	p := tea.NewProgram(initialTeleopModel(agg, queue, mapper, transport, cancel), tea.WithAltScreen())

	sessionErr := make(chan error, 1)
	go func() {
		err := session.Run(ctx)
		sessionErr <- err
		p.Send(sessionDoneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel(err)
		<-sessionErr
		return fmt.Errorf("run TUI: %w", err)
	}

	// The TUI may exit without the session noticing, e.g. on a killed tty.
	queue.Close()
	err := <-sessionErr
	if errors.Is(err, io.EOF) {
		return nil
	}
	if errors.Is(err, context.Canceled) && errors.Is(context.Cause(ctx), errQuit) {
		return errQuit
	}
	return err
}
