package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jmcleod/passvault/reveal"
	"github.com/jmcleod/passvault/session"
	"github.com/jmcleod/passvault/vault"
)

var shellCommands = []string{
	"add", "copy", "exit", "help", "hide", "list", "login", "logout", "quit", "reveal", "show", "status",
}

const shellHelp = `Commands:
  login [email]     log in; the session lives until logout or exit
  logout            end the session
  status            show service and session state
  list [text]       list credentials, optionally filtered by app name
  show <id>         show a credential's details
  reveal [id]       show the password of a credential (default: the one shown)
  copy              copy the revealed password to the clipboard
  hide              hide the revealed password now
  add               store a new credential
  exit              leave the shell`

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session that keeps the login in memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			sh := newShell(a, cmd)
			defer sh.close()
			return sh.run()
		},
	}
}

// syncWriter serializes writes from the prompt loop and from countdown
// callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type shell struct {
	a           *app
	cmd         *cobra.Command
	in          lineReader
	out         io.Writer
	view        *reveal.View
	unsubscribe func()

	mu       sync.Mutex
	revealed map[string]bool
}

func newShell(a *app, cmd *cobra.Command) *shell {
	sh := &shell{
		a:        a,
		cmd:      cmd,
		out:      &syncWriter{w: cmd.OutOrStdout()},
		revealed: make(map[string]bool),
	}
	if _, ok := terminalFd(cmd.InOrStdin()); ok && cmd.InOrStdin() == os.Stdin {
		sh.in = newTTYReader(shellCommands)
	} else {
		sh.in = &pipeReader{a: a, cmd: cmd, out: sh.out}
	}
	sh.view = reveal.NewView(a.client, a.sessions,
		reveal.WithClock(a.clock),
		reveal.WithWindow(a.cfg.RevealWindow()),
		reveal.WithLogger(a.logger),
		reveal.WithObserver(sh.onReveal),
	)
	sh.unsubscribe = a.sessions.Subscribe(sh.onSession)
	return sh
}

func (sh *shell) close() {
	sh.view.Unmount()
	sh.unsubscribe()
	_ = sh.in.Close()
}

// onReveal announces when a revealed password goes away, whatever the
// reason.
func (sh *shell) onReveal(s reveal.Snapshot) {
	sh.mu.Lock()
	was := sh.revealed[s.RecordID]
	sh.revealed[s.RecordID] = s.State == reveal.Revealed
	sh.mu.Unlock()

	if was && s.State == reveal.Hidden {
		fmt.Fprintln(sh.out, dimStyle.Render("[password for "+s.RecordID+" hidden]"))
	}
}

func (sh *shell) onSession(e session.Event) {
	if e == session.EventExpired {
		fmt.Fprintln(sh.out, warnStyle.Render("Your session has expired. Log in again."))
	}
}

func (sh *shell) run() error {
	printBanner(sh.out, "Interactive Shell")
	fmt.Fprintln(sh.out, dimStyle.Render(`Type "help" for commands.`))

	for {
		line, err := sh.in.Prompt(promptStyle.Render("passvault> "))
		if errors.Is(err, io.EOF) || errors.Is(err, errAborted) {
			fmt.Fprintln(sh.out)
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name, args := strings.ToLower(fields[0]), fields[1:]
		if name == "exit" || name == "quit" {
			return nil
		}
		if err := sh.dispatch(name, args); err != nil {
			if errors.Is(err, errAborted) {
				fmt.Fprintln(sh.out)
				continue
			}
			fmt.Fprintln(sh.out, "Error: "+explain(err).Error())
		}
	}
}

func (sh *shell) dispatch(name string, args []string) error {
	switch name {
	case "help":
		fmt.Fprintln(sh.out, shellHelp)
		return nil
	case "status":
		printStatus(sh.out, sh.a, sh.a.clock.Now())
		return nil
	case "login":
		return sh.login(args)
	case "logout":
		sh.view.Unmount()
		sh.a.client.Logout()
		fmt.Fprintln(sh.out, "Logged out")
		return nil
	}

	if !sh.a.sessions.IsAuthenticated() {
		return errNotLoggedIn
	}
	switch name {
	case "list":
		return sh.list(args)
	case "show":
		return sh.show(args)
	case "reveal":
		return sh.reveal(args)
	case "copy":
		return sh.copy()
	case "hide":
		if ctl := sh.view.Current(); ctl != nil {
			ctl.Hide()
		}
		return nil
	case "add":
		return sh.add()
	default:
		return fmt.Errorf("unknown command %q, type \"help\" for a list", name)
	}
}

func (sh *shell) ask(label string) (string, error) {
	line, err := sh.in.Prompt(label)
	return strings.TrimSpace(line), err
}

func (sh *shell) askSecret(label string) (string, error) {
	return sh.in.PasswordPrompt(label)
}

func (sh *shell) login(args []string) error {
	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		var err error
		if email, err = sh.ask("Email: "); err != nil {
			return err
		}
	}
	pw, err := sh.askSecret("Master password: ")
	if err != nil {
		return err
	}
	if err := sh.a.client.Login(sh.cmd.Context(), vault.Login{Email: email, MasterPassword: pw}); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, successStyle.Render("Logged in as "+email))
	return nil
}

func (sh *shell) list(args []string) error {
	// Leaving a record's page wipes its revealed password.
	sh.view.Unmount()
	records, err := sh.a.client.ListRecords(sh.cmd.Context())
	if err != nil {
		return err
	}
	printRecords(sh.out, vault.Filter(records, strings.Join(args, " ")))
	return nil
}

func (sh *shell) show(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <id>")
	}
	rec, err := sh.a.client.GetRecord(sh.cmd.Context(), args[0])
	if err != nil {
		return err
	}
	sh.view.Mount(rec.ID)
	printRecord(sh.out, rec)
	return nil
}

func (sh *shell) reveal(args []string) error {
	ctl := sh.view.Current()
	switch {
	case len(args) == 1 && (ctl == nil || ctl.RecordID() != args[0]):
		if err := vault.ValidateID(args[0]); err != nil {
			return err
		}
		ctl = sh.view.Mount(args[0])
	case len(args) > 1:
		return errors.New("usage: reveal [id]")
	case ctl == nil:
		return errors.New(`no credential selected: use "show <id>" or "reveal <id>"`)
	}

	factor, err := sh.askSecret("Master password: ")
	if err != nil {
		return err
	}
	if err := ctl.Submit(sh.cmd.Context(), factor); err != nil {
		return err
	}
	if err := writeSecretLine(sh.out, ctl, "Password: ", "\n"); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, dimStyle.Render(fmt.Sprintf(`Hidden in %ds. "copy" copies it, "hide" hides it now.`, ctl.Snapshot().Remaining)))
	return nil
}

func (sh *shell) copy() error {
	ctl := sh.view.Current()
	if ctl == nil {
		return reveal.ErrNotRevealed
	}
	if err := ctl.CopySecret(); err != nil {
		return errors.New(reveal.Describe(err))
	}
	fmt.Fprintln(sh.out, "Copied to clipboard")
	return nil
}

func (sh *shell) add() error {
	req, err := promptNewRecord(sh, addFlags{})
	if err != nil {
		return err
	}
	rec, err := sh.a.client.RegisterRecord(sh.cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, successStyle.Render(fmt.Sprintf("Stored %s (%s)", rec.AppName, rec.ID)))
	return nil
}
