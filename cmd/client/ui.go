package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dkeye/Voicecall/internal/call"
	"github.com/dkeye/Voicecall/internal/domain"
)

var (
	primary = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	danger  = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")

	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(danger).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	boldStyle    = lipgloss.NewStyle().Bold(true)

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(primary).Align(lipgloss.Center)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tableRowStyle    = tableCellStyle.Foreground(lipgloss.Color("255"))
	tableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

func printError(msg string) {
	fmt.Println(errorStyle.Render("✗ " + msg))
}

func printWarning(msg string) {
	fmt.Println(warningStyle.Render("! " + msg))
}

func printSuccess(msg string) {
	fmt.Println(successStyle.Render("✓") + " " + msg)
}

func printInfo(msg string) {
	fmt.Println(mutedStyle.Render("·") + " " + msg)
}

// presenceView renders the online list, marking the caller's own entry.
func presenceView(users []domain.User, self domain.UserID) string {
	if len(users) == 0 {
		return mutedStyle.Render("Nobody is online")
	}
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		name := u.Username
		if u.ID == self {
			name += " (you)"
		}
		rows = append(rows, []string{string(u.ID), name})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primary)).
		Headers("ID", "Name").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case row%2 == 0:
				return tableRowStyle
			default:
				return tableRowAltStyle
			}
		}).
		Render()
}

func statusLine(s call.Snapshot) string {
	var who string
	if s.Remote != nil {
		who = boldStyle.Render(s.Remote.Username)
	}
	switch s.Status {
	case call.StatusCalling:
		return fmt.Sprintf("Calling %s (%s)...", who, s.Kind)
	case call.StatusIncoming:
		return fmt.Sprintf("Incoming %s call from %s", s.Kind, who)
	case call.StatusOngoing:
		if s.RelayOnly {
			return fmt.Sprintf("In call with %s (relayed)", who)
		}
		return fmt.Sprintf("In call with %s", who)
	default:
		return "Call ended"
	}
}
