package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errAborted is returned when the user abandons a prompt with Ctrl-C.
var errAborted = errors.New("aborted")

func terminalFd(v any) (int, bool) {
	f, ok := v.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

// readSecret prompts on stderr and reads a line without echoing it when
// stdin is a terminal.
func (a *app) readSecret(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	if fd, ok := terminalFd(cmd.InOrStdin()); ok {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		defer memguard.WipeBytes(b)
		return string(b), nil
	}
	return a.readLine(cmd)
}

// readValue prompts on stderr for a visible value. A non-empty preset
// skips the prompt.
func (a *app) readValue(cmd *cobra.Command, label, preset string) (string, error) {
	if preset != "" {
		return preset, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := a.readLine(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// asker collects answers from the user.
type asker interface {
	ask(label string) (string, error)
	askSecret(label string) (string, error)
}

// cmdAsker prompts on a command's stdin and stderr.
type cmdAsker struct {
	a   *app
	cmd *cobra.Command
}

func (q cmdAsker) ask(label string) (string, error)       { return q.a.readValue(q.cmd, label, "") }
func (q cmdAsker) askSecret(label string) (string, error) { return q.a.readSecret(q.cmd, label) }

// lineReader is the input side of the interactive shell.
type lineReader interface {
	Prompt(prompt string) (string, error)
	PasswordPrompt(prompt string) (string, error)
	Close() error
}

// ttyReader gives the shell line editing and history on a terminal.
type ttyReader struct {
	state *liner.State
}

func newTTYReader(commands []string) *ttyReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}
		return out
	})
	return &ttyReader{state: state}
}

func (r *ttyReader) Prompt(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errAborted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		r.state.AppendHistory(line)
	}
	return line, nil
}

// PasswordPrompt never records the answer in history.
func (r *ttyReader) PasswordPrompt(prompt string) (string, error) {
	line, err := r.state.PasswordPrompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errAborted
	}
	return line, err
}

func (r *ttyReader) Close() error {
	return r.state.Close()
}

// pipeReader reads shell input from a non-terminal, echoing prompts to out.
type pipeReader struct {
	a   *app
	cmd *cobra.Command
	out io.Writer
}

func (r *pipeReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	return r.a.readLine(r.cmd)
}

func (r *pipeReader) PasswordPrompt(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	line, err := r.a.readLine(r.cmd)
	fmt.Fprintln(r.out)
	return line, err
}

func (r *pipeReader) Close() error { return nil }
