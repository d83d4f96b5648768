package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shubhamavl/suspensionpcb-can-go/calib"
	"github.com/shubhamavl/suspensionpcb-can-go/can"
	"github.com/shubhamavl/suspensionpcb-can-go/logging"
	"github.com/shubhamavl/suspensionpcb-can-go/models"
	"github.com/shubhamavl/suspensionpcb-can-go/protocol"
	"github.com/shubhamavl/suspensionpcb-can-go/tare"
	"github.com/shubhamavl/suspensionpcb-can-go/weight"
)

type screen int

const (
	screenEntry screen = iota
	screenLive
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
)

type core struct {
	proto   *protocol.Service
	proc    *weight.Processor
	tares   *tare.Manager
	tarePth string
}

type model struct {
	scr screen

	channelInput textinput.Model
	dataDir      string

	core    *core
	channel string
	adcMode models.ADCMode
	lastErr error
	info    string
	timeout bool
}

type errMsg struct{ err error }
type connectedMsg struct {
	core    *core
	channel string
}
type tickMsg time.Time
type statusMsg protocol.StatusEvent
type timeoutMsg struct{}

func initialModel(dataDir string) model {
	in := textinput.New()
	in.Placeholder = "serial device path, or 'sim'"
	in.Focus()
	in.CharLimit = 256
	in.Width = 48
	if args := flag.Args(); len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		in.SetValue(args[0])
		in.CursorEnd()
	}
	return model{scr: screenEntry, channelInput: in, dataDir: dataDir}
}

func (m model) Init() tea.Cmd { return textinput.Blink }

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func connectCmd(dataDir, channel string, program func() *tea.Program) tea.Cmd {
	return func() tea.Msg {
		logger := &logging.NullLogger{}

		var adapter can.Adapter
		if channel == "sim" {
			adapter = can.NewSimulator()
		} else {
			adapter = can.NewSLCAN(logger)
		}

		store, err := calib.NewStore(dataDir)
		if err != nil {
			return errMsg{err}
		}
		tares := tare.NewManager()
		tarePath := filepath.Join(dataDir, "tare.json")
		if err := tares.LoadFromFile(tarePath); err != nil {
			return errMsg{err}
		}

		proc := weight.NewProcessor(logger)
		proc.SetTareManager(tares)
		for _, side := range []models.Side{models.SideLeft, models.SideRight} {
			for _, mode := range []models.ADCMode{models.ADCInternal, models.ADCADS1115} {
				if c, err := store.Load(side, mode); err == nil {
					proc.SetCalibration(side, mode, c)
				}
			}
		}
		if err := proc.Start(); err != nil {
			return errMsg{err}
		}

		proto := protocol.NewService(adapter, logger)
		proto.SetRawDataHandler(func(e protocol.RawDataEvent) {
			proc.EnqueueRawData(e.Side, float64(e.RawADC))
		})
		proto.SetStatusHandler(func(e protocol.StatusEvent) {
			if p := program(); p != nil {
				p.Send(statusMsg(e))
			}
		})
		proto.SetTimeoutHandler(func() {
			proto.StopAllStreams()
			if p := program(); p != nil {
				p.Send(timeoutMsg{})
			}
		})

		if ok, msg := proto.Connect(can.Config{Channel: channel}); !ok {
			proc.Stop()
			return errMsg{fmt.Errorf("%s", msg)}
		}
		proto.RequestSystemStatus()

		return connectedMsg{
			core:    &core{proto: proto, proc: proc, tares: tares, tarePth: tarePath},
			channel: channel,
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case errMsg:
		m.lastErr = msg.err
		return m, nil
	case connectedMsg:
		m.core = msg.core
		m.channel = msg.channel
		m.scr = screenLive
		m.lastErr = nil
		m.info = "connected"
		return m, tick()
	case statusMsg:
		m.adcMode = msg.ADCMode
		m.timeout = false
		if m.core != nil {
			m.core.proc.SetADCMode(models.SideLeft, msg.ADCMode)
			m.core.proc.SetADCMode(models.SideRight, msg.ADCMode)
			m.core.proc.ResetFilters()
		}
		return m, nil
	case timeoutMsg:
		m.timeout = true
		m.info = "data timeout: streams stopped"
		return m, nil
	case tickMsg:
		if m.scr == screenLive {
			return m, tick()
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.scr == screenEntry {
		var cmd tea.Cmd
		m.channelInput, cmd = m.channelInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.scr {
	case screenEntry:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			channel := strings.TrimSpace(m.channelInput.Value())
			if channel == "" {
				m.lastErr = fmt.Errorf("enter a channel")
				return m, nil
			}
			return m, connectCmd(m.dataDir, channel, currentProgram)
		}
		var cmd tea.Cmd
		m.channelInput, cmd = m.channelInput.Update(msg)
		return m, cmd

	case screenLive:
		c := m.core
		switch msg.String() {
		case "ctrl+c", "q":
			if c != nil {
				c.proto.Disconnect()
				c.proc.Stop()
			}
			return m, tea.Quit
		case "l":
			if c != nil && c.proto.StartLeftStream(can.Rate100Hz) {
				m.info = "left stream started"
				m.timeout = false
			}
		case "r":
			if c != nil && c.proto.StartRightStream(can.Rate100Hz) {
				m.info = "right stream started"
				m.timeout = false
			}
		case "s":
			if c != nil && c.proto.StopAllStreams() {
				m.info = "streams stopped"
			}
		case "i":
			if c != nil && c.proto.SwitchToInternalADC() {
				m.info = "requested internal ADC"
			}
		case "x":
			if c != nil && c.proto.SwitchToADS1115() {
				m.info = "requested ADS1115"
			}
		case "t", "y":
			if c == nil {
				break
			}
			side := models.SideLeft
			snap := c.proc.LatestLeft()
			if msg.String() == "y" {
				side = models.SideRight
				snap = c.proc.LatestRight()
			}
			c.tares.Tare(side, snap.CalibratedKg, m.adcMode)
			c.proc.ResetFilters()
			_ = c.tares.SaveToFile(c.tarePth)
			m.info = fmt.Sprintf("tared %s at %.3f kg", side, snap.CalibratedKg)
		case "u":
			if c != nil {
				c.tares.Reset(models.SideLeft, m.adcMode)
				c.tares.Reset(models.SideRight, m.adcMode)
				c.proc.ResetFilters()
				_ = c.tares.SaveToFile(c.tarePth)
				m.info = "tare reset (both sides, active mode)"
			}
		}
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SuspensionPCB CAN monitor"))
	b.WriteString("\n\n")

	switch m.scr {
	case screenEntry:
		b.WriteString("Channel: " + m.channelInput.View() + "\n\n")
		b.WriteString(helpStyle.Render("enter: connect   esc: quit"))
	case screenLive:
		b.WriteString(dimStyle.Render(fmt.Sprintf("channel %s   adc %s", m.channel, m.adcMode)))
		if m.timeout {
			b.WriteString("  " + errStyle.Render("[TIMEOUT]"))
		}
		b.WriteString("\n\n")
		if m.core != nil {
			b.WriteString(renderSide("LEFT ", m.core.proc.LatestLeft(), m.core.proto.StreamState(models.SideLeft)))
			b.WriteString(renderSide("RIGHT", m.core.proc.LatestRight(), m.core.proto.StreamState(models.SideRight)))
			rx, tx := m.core.proto.Stats()
			b.WriteString(dimStyle.Render(fmt.Sprintf("\nframes rx=%d tx=%d dropped=%d", rx, tx, m.core.proc.Dropped())))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("l/r: start stream  s: stop  i/x: adc mode  t/y: tare  u: reset tare  q: quit"))
	}

	if m.lastErr != nil {
		b.WriteString("\n" + errStyle.Render("error: "+m.lastErr.Error()))
	}
	if m.info != "" {
		b.WriteString("\n" + okStyle.Render(m.info))
	}
	b.WriteString("\n")
	return b.String()
}

func renderSide(label string, snap weight.Snapshot, st protocol.StreamState) string {
	return fmt.Sprintf("  %s  raw %8.0f   cal %9.3f kg   tared %9.3f kg   [%s]\n",
		label, snap.RawADC, snap.CalibratedKg, snap.TaredKg, st)
}

// prog is set once tea.NewProgram is built so adapter callbacks can push
// messages into the UI loop.
var prog *tea.Program

func currentProgram() *tea.Program { return prog }

func main() {
	dataDir := flag.String("data", "./data", "directory for calibration and tare files")
	flag.Parse()

	p := tea.NewProgram(initialModel(*dataDir))
	prog = p
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
