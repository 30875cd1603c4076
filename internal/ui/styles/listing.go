package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Listing styles. Colours are only applied when stdout is a terminal.
var (
	FunctionHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(charmtone.Zest.Hex()))
	BlockHeader    = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Malibu.Hex()))
	Address        = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)
