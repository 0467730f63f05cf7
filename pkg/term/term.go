package term

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

type Term struct {
	stdout, stderr io.Writer
	out, err       *termenv.Output
	debug          bool

	isTerminal bool
	warnings   []string
}

var DefaultTerm = NewTerm(os.Stdout, os.Stderr)

type Color = termenv.ANSIColor

const (
	InfoColor  = termenv.ANSIBrightMagenta
	ErrorColor = termenv.ANSIBrightRed
	WarnColor  = termenv.ANSIYellow      // not bright to improve readability on light backgrounds
	DebugColor = termenv.ANSIBrightBlack // Gray

	resetColorStr = termenv.CSI + termenv.ResetSeq + "m"
)

func NewTerm(stdout, stderr io.Writer) *Term {
	t := &Term{
		stdout: stdout,
		stderr: stderr,
		out:    termenv.NewOutput(stdout),
		err:    termenv.NewOutput(stderr),
	}
	if os.Getenv("TERM") != "" {
		if fout, ok := stdout.(interface{ Fd() uintptr }); ok {
			t.isTerminal = term.IsTerminal(int(fout.Fd()))
		}
	}
	return t
}

func (t *Term) ForceColor(color bool) {
	profile := termenv.Ascii
	if color {
		profile = termenv.ANSI
	}
	t.out = termenv.NewOutput(t.stdout, termenv.WithProfile(profile))
	t.err = termenv.NewOutput(t.stderr, termenv.WithProfile(profile))
}

func (t *Term) SetDebug(debug bool) {
	t.debug = debug
}

func (t *Term) DoDebug() bool {
	return t.debug
}

func (t *Term) IsTerminal() bool {
	return t.isTerminal
}

func (t *Term) HadWarnings() bool {
	return len(t.warnings) > 0
}

func (t *Term) StdoutCanColor() bool {
	return doColor(t.out)
}

// Stdout returns the writer used for regular output, e.g. for progress streams.
func (t *Term) Stdout() io.Writer {
	return t.out
}

// doColor returns true if the provided output's profile is not Ascii.
func doColor(o *termenv.Output) bool {
	return o.Profile != termenv.Ascii
}

func output(w *termenv.Output, c Color, msg string) (int, error) {
	if len(msg) == 0 {
		return 0, nil
	}
	if doColor(w) {
		msg = termenv.CSI + c.Sequence(false) + "m" + msg + resetColorStr
	}
	return w.WriteString(msg)
}

func ensureNewline(s string) string {
	if len(s) == 0 || (s[len(s)-1] != '\n' && s[len(s)-1] != '\r') {
		return s + "\n"
	}
	return s
}

func ensurePrefix(s string, prefix string) string {
	if len(s) == 0 || strings.HasPrefix(s, prefix) {
		return s
	}
	return prefix + s
}

func (t *Term) Printc(c Color, v ...any) (int, error) {
	return output(t.out, c, fmt.Sprint(v...))
}

func (t *Term) Print(v ...any) (int, error) {
	return fmt.Fprint(t.out, v...)
}

func (t *Term) Println(v ...any) (int, error) {
	return fmt.Fprintln(t.out, v...)
}

func (t *Term) Printf(format string, v ...any) (int, error) {
	return fmt.Fprint(t.out, ensureNewline(fmt.Sprintf(format, v...)))
}

func (t *Term) Debug(v ...any) (int, error) {
	if !t.debug {
		return 0, nil
	}
	return output(t.out, DebugColor, ensurePrefix(fmt.Sprintln(v...), " - "))
}

func (t *Term) Debugf(format string, v ...any) (int, error) {
	if !t.debug {
		return 0, nil
	}
	return output(t.out, DebugColor, ensureNewline(ensurePrefix(fmt.Sprintf(format, v...), " - ")))
}

func (t *Term) Info(v ...any) (int, error) {
	return output(t.out, InfoColor, ensurePrefix(fmt.Sprintln(v...), " * "))
}

func (t *Term) Infof(format string, v ...any) (int, error) {
	return output(t.out, InfoColor, ensureNewline(ensurePrefix(fmt.Sprintf(format, v...), " * ")))
}

func (t *Term) Warn(v ...any) (int, error) {
	msg := ensurePrefix(fmt.Sprintln(v...), " ! ")
	t.warnings = append(t.warnings, msg)
	return output(t.out, WarnColor, msg)
}

func (t *Term) Warnf(format string, v ...any) (int, error) {
	msg := ensureNewline(ensurePrefix(fmt.Sprintf(format, v...), " ! "))
	t.warnings = append(t.warnings, msg)
	return output(t.out, WarnColor, msg)
}

func (t *Term) Error(v ...any) (int, error) {
	return output(t.err, ErrorColor, fmt.Sprintln(v...))
}

func (t *Term) Errorf(format string, v ...any) (int, error) {
	return output(t.err, ErrorColor, ensureNewline(fmt.Sprintf(format, v...)))
}

// FlushWarnings prints each distinct warning once, in sorted order, and resets the list.
func (t *Term) FlushWarnings() (int, error) {
	slices.Sort(t.warnings)
	unique := slices.Compact(t.warnings)
	t.warnings = nil

	bytesWritten := 0
	for _, w := range unique {
		n, err := output(t.out, WarnColor, w)
		bytesWritten += n
		if err != nil {
			return bytesWritten, err
		}
	}
	return bytesWritten, nil
}

func Print(v ...any) (int, error) {
	return DefaultTerm.Print(v...)
}

func Println(v ...any) (int, error) {
	return DefaultTerm.Println(v...)
}

func Printf(format string, v ...any) (int, error) {
	return DefaultTerm.Printf(format, v...)
}

func Printc(c Color, v ...any) (int, error) {
	return DefaultTerm.Printc(c, v...)
}

func Debug(v ...any) (int, error) {
	return DefaultTerm.Debug(v...)
}

func Debugf(format string, v ...any) (int, error) {
	return DefaultTerm.Debugf(format, v...)
}

func Info(v ...any) (int, error) {
	return DefaultTerm.Info(v...)
}

func Infof(format string, v ...any) (int, error) {
	return DefaultTerm.Infof(format, v...)
}

func Warn(v ...any) (int, error) {
	return DefaultTerm.Warn(v...)
}

func Warnf(format string, v ...any) (int, error) {
	return DefaultTerm.Warnf(format, v...)
}

func Error(v ...any) (int, error) {
	return DefaultTerm.Error(v...)
}

func Errorf(format string, v ...any) (int, error) {
	return DefaultTerm.Errorf(format, v...)
}

func ForceColor(color bool) {
	DefaultTerm.ForceColor(color)
}

func SetDebug(debug bool) {
	DefaultTerm.SetDebug(debug)
}

func DoDebug() bool {
	return DefaultTerm.DoDebug()
}

func IsTerminal() bool {
	return DefaultTerm.IsTerminal()
}

func HadWarnings() bool {
	return DefaultTerm.HadWarnings()
}

func StdoutCanColor() bool {
	return DefaultTerm.StdoutCanColor()
}

func Stdout() io.Writer {
	return DefaultTerm.Stdout()
}

func FlushWarnings() (int, error) {
	return DefaultTerm.FlushWarnings()
}
