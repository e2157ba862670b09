package main

import (
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// tone is a status mark and its colour.
type tone struct {
	color string
	mark  string
}

var (
	toneOK   = tone{colorGreen, "✓"}
	toneWarn = tone{colorYellow, "⚠"}
	toneFail = tone{colorRed, "✗"}
	toneStep = tone{colorCyan, "→"}
)

func (t tone) line(msg string) string {
	return colorize(t.color, t.mark+" "+msg)
}

func (t tone) fprint(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, t.line(fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { toneOK.fprint(os.Stderr, format, args...) }
func printError(format string, args ...any)   { toneFail.fprint(os.Stderr, format, args...) }
func printWarning(format string, args ...any) { toneWarn.fprint(os.Stderr, format, args...) }
func printStep(format string, args ...any)    { toneStep.fprint(os.Stderr, format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
