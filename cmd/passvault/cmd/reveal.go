package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcleod/passvault/reveal"
)

func newRevealCmd(a *app) *cobra.Command {
	var copySecret bool
	cmd := &cobra.Command{
		Use:   "reveal <id>",
		Short: "Show a credential's password for a limited time",
		Long: `Re-enter your master password to show a credential's password.

On a terminal the password is shown on a single line with a countdown and
erased when the reveal window ends or any key is pressed. Otherwise it is
written to stdout and the command waits for a line of input, end of input,
or the end of the window before wiping it from memory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			if !a.sessions.IsAuthenticated() {
				return errNotLoggedIn
			}
			factor, err := a.readSecret(cmd, "Master password: ")
			if err != nil {
				return err
			}
			return a.runReveal(cmd, args[0], factor, copySecret)
		},
	}
	cmd.Flags().BoolVarP(&copySecret, "copy", "c", false, "Also copy the password to the clipboard")
	return cmd
}

func (a *app) runReveal(cmd *cobra.Command, id, factor string, copySecret bool) error {
	changed := make(chan struct{}, 1)
	ctl := reveal.New(id, a.client, a.sessions,
		reveal.WithClock(a.clock),
		reveal.WithWindow(a.cfg.RevealWindow()),
		reveal.WithLogger(a.logger),
		reveal.WithObserver(func(reveal.Snapshot) {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
	)
	defer ctl.Dispose()

	if err := ctl.Submit(cmd.Context(), factor); err != nil {
		return explain(err)
	}

	errOut := cmd.ErrOrStderr()
	if copySecret {
		if err := ctl.CopySecret(); err != nil {
			fmt.Fprintln(errOut, warnStyle.Render(reveal.Describe(err)))
		} else {
			fmt.Fprintln(errOut, dimStyle.Render("Copied to clipboard"))
		}
	}

	inFd, inTTY := terminalFd(cmd.InOrStdin())
	_, errTTY := terminalFd(errOut)
	if inTTY && errTTY {
		return a.countdownTTY(cmd, ctl, changed, inFd)
	}

	if err := writeSecretLine(cmd.OutOrStdout(), ctl, "", "\n"); err != nil {
		return explain(err)
	}
	dismissed := make(chan struct{})
	go func() {
		// Any line, or the end of input, hides the password.
		_, _ = a.readLine(cmd)
		close(dismissed)
	}()
	waitHidden(cmd, ctl, changed, dismissed)
	fmt.Fprintln(errOut, dimStyle.Render("Password hidden"))
	return nil
}

// countdownTTY redraws one line with the password and remaining time until
// the window ends or a key is pressed, then erases it.
func (a *app) countdownTTY(cmd *cobra.Command, ctl *reveal.Controller, changed <-chan struct{}, fd int) error {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("preparing terminal: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	errOut := cmd.ErrOrStderr()
	keypress := make(chan struct{})
	go func() {
		var b [1]byte
		_, _ = cmd.InOrStdin().(*os.File).Read(b[:])
		close(keypress)
	}()

	render := func(s reveal.Snapshot) {
		if s.State != reveal.Revealed {
			return
		}
		hint := dimStyle.Render(fmt.Sprintf("hides in %ds, press any key to hide", s.Remaining))
		_ = writeSecretLine(errOut, ctl, "\r\x1b[2KPassword: ", "  "+hint)
	}
	render(ctl.Snapshot())
	waitHiddenWith(cmd, ctl, changed, keypress, render)
	fmt.Fprint(errOut, "\r\x1b[2K"+dimStyle.Render("Password hidden")+"\r\n")
	return nil
}

// writeSecretLine writes prefix, the secret and suffix in one write. The
// line is assembled in a scratch buffer that is wiped afterwards, so the
// plaintext never outlives the controller's locked buffer.
func writeSecretLine(w io.Writer, ctl *reveal.Controller, prefix, suffix string) error {
	return ctl.UseSecret(func(secret []byte) error {
		line := make([]byte, 0, len(prefix)+len(secret)+len(suffix))
		line = append(line, prefix...)
		line = append(line, secret...)
		line = append(line, suffix...)
		defer memguard.WipeBytes(line)
		_, err := w.Write(line)
		return err
	})
}

func waitHidden(cmd *cobra.Command, ctl *reveal.Controller, changed <-chan struct{}, dismissed <-chan struct{}) {
	waitHiddenWith(cmd, ctl, changed, dismissed, nil)
}

// waitHiddenWith blocks until ctl leaves Revealed. Dismissal and context
// cancellation hide it early; render sees every intermediate snapshot.
func waitHiddenWith(cmd *cobra.Command, ctl *reveal.Controller, changed, dismissed <-chan struct{}, render func(reveal.Snapshot)) {
	for {
		snap := ctl.Snapshot()
		if snap.State != reveal.Revealed {
			return
		}
		select {
		case <-changed:
			if render != nil {
				render(ctl.Snapshot())
			}
		case <-dismissed:
			ctl.Hide()
		case <-cmd.Context().Done():
			ctl.Hide()
		}
	}
}
