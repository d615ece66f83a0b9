// Package ui renders the wallet in the terminal: the balance card and the
// transfer and login forms.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
	"github.com/vadiminshakov/tokenswallet/pkg/amount"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning   = lipgloss.AdaptiveColor{Light: "#C98A00", Dark: "#F2C94C"}
	danger    = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF6B6B"}

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(1, 2)

	balanceStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(subtle)
	errorStyle   = lipgloss.NewStyle().Foreground(danger)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// StatusBadge renders the user-facing connection indicator.
func StatusBadge(status domain.ConnectionStatus) string {
	indicator := status.Indicator()
	color := danger
	switch indicator {
	case domain.StatusOnline:
		color = special
	case domain.StatusReconnecting:
		color = warning
	}
	return lipgloss.NewStyle().Foreground(color).Render("● " + indicator.String())
}

// RenderBalanceCard renders the feed state: balance, status, last block and up
// to maxRows history entries. maxRows <= 0 hides the history.
func RenderBalanceCard(state feed.State, token domain.TokenConfig, maxRows int) string {
	var b strings.Builder

	b.WriteString(StatusBadge(state.Status))
	b.WriteString("\n\n")

	if state.Current != nil {
		b.WriteString(balanceStyle.Render(formatAmount(*state.Current, token)))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(describe(*state.Current)))
	} else {
		b.WriteString(balanceStyle.Render("— " + token.Symbol))
	}

	if state.Err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(state.Err.Error()))
	}

	if maxRows > 0 && len(state.History) > 0 {
		b.WriteString("\n\n")
		b.WriteString(headerStyle.Render("History"))
		for i, snapshot := range state.History {
			if i == maxRows {
				b.WriteString("\n")
				b.WriteString(mutedStyle.Render(fmt.Sprintf("… %d more", len(state.History)-maxRows)))
				break
			}
			b.WriteString("\n")
			b.WriteString(fmt.Sprintf("%-28s %s", formatAmount(snapshot, token), mutedStyle.Render(describe(snapshot))))
		}
	}

	return cardStyle.Render(b.String())
}

// AvailableHint is the "Available: X SYMBOL" line shown under the amount input.
func AvailableHint(balance domain.BalanceSnapshot, token domain.TokenConfig) string {
	return fmt.Sprintf("Available: %s", formatAmount(balance, token))
}

func formatAmount(snapshot domain.BalanceSnapshot, token domain.TokenConfig) string {
	return fmt.Sprintf("%s %s", amount.ToHuman(snapshot.AmountInt(), token.Decimals), token.Symbol)
}

func describe(snapshot domain.BalanceSnapshot) string {
	parts := make([]string, 0, 2)
	if h, ok := snapshot.Height(); ok {
		parts = append(parts, fmt.Sprintf("block #%d", h))
	}
	if !snapshot.CapturedAt.IsZero() {
		parts = append(parts, snapshot.CapturedAt.Local().Format(timeLayout))
	}
	return strings.Join(parts, " · ")
}
