package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/715d/serianalyzer/pkg/serianalyzer"
)

// Styles are plain unless stdout is a terminal and NO_COLOR is unset.
var (
	styleHeader  lipgloss.Style
	styleSink    lipgloss.Style
	styleMethod  lipgloss.Style
	styleMarker  lipgloss.Style
	styleSubtle  lipgloss.Style
	styleWarning lipgloss.Style
)

func initStyles(out *os.File) {
	reset := lipgloss.NewStyle()
	styleHeader, styleSink, styleMethod = reset, reset, reset
	styleMarker, styleSubtle, styleWarning = reset, reset, reset
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(out.Fd())) {
		return
	}

	blue := lipgloss.AdaptiveColor{Light: "#3366cc", Dark: "#8fb3ff"}
	teal := lipgloss.AdaptiveColor{Light: "#2b7a78", Dark: "#7ad1c4"}
	rose := lipgloss.AdaptiveColor{Light: "#ad5d7d", Dark: "#ffb3c9"}
	gold := lipgloss.AdaptiveColor{Light: "#b58b00", Dark: "#ffd666"}
	gray := lipgloss.AdaptiveColor{Light: "#6b6f76", Dark: "#9aa0aa"}

	styleHeader = lipgloss.NewStyle().Foreground(blue).Bold(true)
	styleSink = lipgloss.NewStyle().Foreground(rose).Bold(true)
	styleMethod = lipgloss.NewStyle().Foreground(teal)
	styleMarker = lipgloss.NewStyle().Foreground(gold)
	styleSubtle = lipgloss.NewStyle().Foreground(gray)
	styleWarning = lipgloss.NewStyle().Foreground(gold).Bold(true)
}

func formatTextOutput(result *serianalyzer.Result) string {
	var out strings.Builder
	for _, f := range result.Findings {
		for _, p := range f.Paths {
			writePath(&out, "", p)
			out.WriteByte('\n')
		}
		out.WriteString(styleSink.Render(f.Summary()))
		out.WriteString("\n\n")
	}

	if len(result.Instantiations) > 0 {
		out.WriteString(styleHeader.Render(fmt.Sprintf("Used %d non-serializable instantiable types:", len(result.Instantiations))))
		out.WriteByte('\n')
	}
	for _, in := range result.Instantiations {
		fmt.Fprintf(&out, "  %s instantiable through:", in.Type)
		if in.AllRecursive {
			out.WriteString(" " + styleWarning.Render("(all recursive)"))
		}
		out.WriteByte('\n')
		for _, s := range in.Sites {
			out.WriteString("  -> " + styleMethod.Render(s.Method))
			if s.Serializable {
				out.WriteString(" " + styleMarker.Render("serializable"))
			}
			out.WriteByte('\n')
			writePath(&out, "     * ", s.Path)
		}
	}

	fmt.Fprintf(&out, "%s\n", styleSubtle.Render(fmt.Sprintf(
		"%d findings, %d methods and %d instantiable types remaining after %d filter iterations",
		len(result.Findings), result.Stats.RemainingMethods, result.Stats.RemainingTypes, result.Stats.Iterations)))
	return out.String()
}

func writePath(out *strings.Builder, prefix string, p serianalyzer.Path) {
	for _, e := range p {
		out.WriteString(prefix + styleMethod.Render(e.Method))
		switch {
		case e.Serializable:
			out.WriteString(" " + styleMarker.Render("serializable"))
		case e.Instantiable:
			out.WriteString(" " + styleMarker.Render("instantiable"))
		}
		out.WriteByte('\n')
	}
}
