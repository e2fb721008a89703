// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Ssobridge-menu is the interactive menu client for the SSO bridge
// daemon. It connects to the daemon's menu socket, renders the current
// session state, and lets the user pick an account and toggle SSO.
//
// Keys: up/down select an account, enter enables SSO with the
// selected account, d disables SSO, q quits.
package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/entrabridge/entrabridge/bridge"
	"github.com/entrabridge/entrabridge/lib/codec"
	"github.com/entrabridge/entrabridge/lib/config"
	"github.com/entrabridge/entrabridge/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the config file (overrides ENTRABRIDGE_CONFIG)")
	pflag.StringVar(&socketPath, "socket", "", "menu socket path (overrides the config file)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version.Info())
		return nil
	}

	if socketPath == "" {
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		socketPath = cfg.Paths.MenuSocket
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connecting to daemon at %s (is ssobridge running?): %w", socketPath, err)
	}
	defer conn.Close()

	events := make(chan tea.Msg, 1)
	go readEvents(conn, events)

	model := newModel(conn, events)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// readEvents decodes state events from the daemon and forwards them
// into the bubbletea message loop.
func readEvents(conn net.Conn, events chan<- tea.Msg) {
	decoder := codec.NewDecoder(conn)
	for {
		var event bridge.StateEvent
		if err := decoder.Decode(&event); err != nil {
			events <- connLostMsg{err: err}
			return
		}
		events <- stateMsg{event: event}
	}
}

type stateMsg struct {
	event bridge.StateEvent
}

type connLostMsg struct {
	err error
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("27")).Padding(0, 1)
	activeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("35"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	faintStyle    = lipgloss.NewStyle().Faint(true)
	onlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	offlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("160"))
	helpStyle     = lipgloss.NewStyle().Faint(true).MarginTop(1)
	sectionMargin = lipgloss.NewStyle().MarginTop(1)
)

type model struct {
	conn    net.Conn
	encoder *codec.Encoder
	events  <-chan tea.Msg

	// state is the latest event from the daemon, nil until the first
	// one arrives.
	state  *bridge.StateEvent
	cursor int
	err    error
}

func newModel(conn net.Conn, events <-chan tea.Msg) *model {
	return &model{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		events:  events,
	}
}

// waitForEvent returns a command that delivers the next daemon event.
func (m *model) waitForEvent() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

func (m *model) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = &msg.event
		if m.cursor >= len(msg.event.Accounts) {
			m.cursor = 0
		}
		return m, m.waitForEvent()

	case connLostMsg:
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.state != nil && m.cursor < len(m.state.Accounts)-1 {
				m.cursor++
			}
		case "enter":
			if m.state != nil && len(m.state.Accounts) > m.cursor {
				m.send(bridge.MenuCommand{
					Command:  bridge.MenuCommandEnable,
					Username: m.state.Accounts[m.cursor].Username,
				})
			}
		case "d":
			m.send(bridge.MenuCommand{Command: bridge.MenuCommandDisable})
		}
	}
	return m, nil
}

func (m *model) send(command bridge.MenuCommand) {
	if err := m.encoder.Encode(command); err != nil {
		m.err = err
	}
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EntraID SSO"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("connection to daemon lost: " + m.err.Error()))
		b.WriteString("\n")
		return b.String()
	}
	if m.state == nil {
		b.WriteString(faintStyle.Render("waiting for daemon state..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(sectionMargin.Render(m.statusLine()))
	b.WriteString("\n")

	if len(m.state.Accounts) == 0 {
		b.WriteString(sectionMargin.Render(faintStyle.Render("no accounts registered with the broker")))
		b.WriteString("\n")
	} else {
		b.WriteString(sectionMargin.Render(m.accountList()))
		b.WriteString("\n")
	}

	if m.state.PolicyUpdate.Pending {
		b.WriteString(sectionMargin.Render(pendingStyle.Render(m.policyLine())))
		b.WriteString("\n")
	}

	versions := fmt.Sprintf("host %s · broker %s · %s",
		orUnknown(m.state.HostVersion), orUnknown(m.state.BrokerVersion), m.state.SSOURL)
	b.WriteString(sectionMargin.Render(faintStyle.Render(versions)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: enable with selected account · d: disable · q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m *model) statusLine() string {
	var parts []string
	if m.state.BrokerOnline {
		parts = append(parts, onlineStyle.Render("broker online"))
	} else if m.state.NMConnected {
		parts = append(parts, offlineStyle.Render("waiting for broker"))
	} else {
		parts = append(parts, offlineStyle.Render("no connection to host application"))
	}
	if m.state.Enabled {
		parts = append(parts, activeStyle.Render("SSO enabled"))
	} else {
		parts = append(parts, faintStyle.Render("SSO disabled"))
	}
	return strings.Join(parts, faintStyle.Render(" · "))
}

func (m *model) accountList() string {
	var lines []string
	for i, account := range m.state.Accounts {
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		label := fmt.Sprintf("%s <%s>", account.Name, account.Username)
		switch {
		case account.Active:
			label = activeStyle.Render(label + " ●")
		case i == m.cursor:
			label = cursorStyle.Render(label)
		}
		lines = append(lines, marker+label)
	}
	return strings.Join(lines, "\n")
}

func (m *model) policyLine() string {
	update := m.state.PolicyUpdate
	var actions []string
	if len(update.FiltersToAdd) > 0 {
		actions = append(actions, fmt.Sprintf("grant %s", strings.Join(update.FiltersToAdd, ", ")))
	}
	if len(update.FiltersToRemove) > 0 {
		actions = append(actions, fmt.Sprintf("revoke %s", strings.Join(update.FiltersToRemove, ", ")))
	}
	return "policy update pending: " + strings.Join(actions, "; ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
