package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

const banner = `
  ____               __     __          _ _   
 |  _ \ __ _ ___ ___ \ \   / /_ _ _   _| | |_ 
 | |_) / _` + "`" + ` / __/ __| \ \ / / _` + "`" + ` | | | | | __|
 |  __/ (_| \__ \__ \  \ V / (_| | |_| | | |_ 
 |_|   \__,_|___/___/   \_/ \__,_|\__,_|_|\__|
`

var (
	bannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

func printBanner(w io.Writer, subtitle string) {
	fmt.Fprintln(w, bannerStyle.Render(banner))
	fmt.Fprintf(w, "%s\n\n", titleStyle.Render(fmt.Sprintf("  %s - Version %s", subtitle, Version)))
}
