package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jmcleod/passvault/storage"
	"github.com/jmcleod/passvault/vault"
)

const timeLayout = "2006-01-02 15:04"

func newListCmd(a *app) *cobra.Command {
	var (
		search  string
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			records, err := a.listRecords(cmd, offline)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), vault.Filter(records, search))
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show apps whose name contains this text")
	cmd.Flags().BoolVar(&offline, "offline", false, "Show the last cached list without contacting the service")
	return cmd
}

func (a *app) listRecords(cmd *cobra.Command, offline bool) ([]vault.Record, error) {
	if !offline {
		records, err := a.client.ListRecords(cmd.Context())
		return records, explain(err)
	}
	snap, err := a.client.CachedRecords()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.New("no cached records: run \"passvault list\" while online first")
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render("Cached "+snap.SyncedAt.Local().Format(timeLayout)))
	return snap.Records, nil
}

func printRecords(w io.Writer, records []vault.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No credentials found")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.ID, r.AppName, r.Username, r.LoginURL, r.CreatedAt.Local().Format(timeLayout)})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "APP", "USERNAME", "LOGIN URL", "CREATED").
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

func printRecord(w io.Writer, r *vault.Record) {
	field := func(label, value string) {
		if value == "" {
			value = dimStyle.Render("-")
		}
		fmt.Fprintf(w, "%-10s %s\n", label+":", value)
	}
	field("App", r.AppName)
	field("ID", r.ID)
	field("Username", r.Username)
	field("Login URL", r.LoginURL)
	field("Created", r.CreatedAt.Local().Format(time.RFC1123))
	if r.UpdatedAt != nil {
		field("Updated", r.UpdatedAt.Local().Format(time.RFC1123))
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a credential's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			rec, err := a.client.GetRecord(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			printRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
}

type addFlags struct {
	app      string
	url      string
	username string
}

func newAddCmd(a *app) *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			if !a.sessions.IsAuthenticated() {
				return errNotLoggedIn
			}
			req, err := promptNewRecord(cmdAsker{a, cmd}, f)
			if err != nil {
				return err
			}
			rec, err := a.client.RegisterRecord(cmd.Context(), req)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Stored %s (%s)", rec.AppName, rec.ID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&f.app, "app", "", "Application name (prompted when empty)")
	cmd.Flags().StringVar(&f.url, "url", "", "Login URL")
	cmd.Flags().StringVar(&f.username, "username", "", "Username for the application")
	return cmd
}

// promptNewRecord asks for whatever the flags left out. URL and username
// are only asked for when the app name was too.
func promptNewRecord(q asker, f addFlags) (vault.NewRecord, error) {
	req := vault.NewRecord{AppName: f.app, LoginURL: f.url, Username: f.username}

	var err error
	if req.AppName == "" {
		if req.AppName, err = q.ask("App name: "); err != nil {
			return req, err
		}
		if req.LoginURL == "" {
			if req.LoginURL, err = q.ask("Login URL (optional): "); err != nil {
				return req, err
			}
		}
		if req.Username == "" {
			if req.Username, err = q.ask("Username (optional): "); err != nil {
				return req, err
			}
		}
	}
	if req.Password, err = q.askSecret("Password to store: "); err != nil {
		return req, err
	}
	if req.MasterPassword, err = q.askSecret("Master password: "); err != nil {
		return req, err
	}
	return req, nil
}
