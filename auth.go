package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/adminctl/internal/api"
	"github.com/tonimelisma/adminctl/internal/config"
	"github.com/tonimelisma/adminctl/internal/session"
	"github.com/tonimelisma/adminctl/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a username and password",
		Long: `Sign in and store the access credential in the session store.

The password is read from the first line of standard input, so it can be
piped from a secret manager:

  pass show admin | adminctl login -u alice`,
		RunE: runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "account username (prompted when omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove the stored credential",
		RunE:  runLogout,
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a credential is stored and when it expires",
		RunE:  runStatus,
	}

	cmd.Flags().Bool("watch", false, "keep running and report credential changes made by other processes (file backend)")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	ctx := cmd.Context()

	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())

	if username == "" {
		fmt.Fprint(cc.Err, "Username: ")

		if username, err = readLine(in); err != nil {
			return fmt.Errorf("reading username: %w", err)
		}
	}

	if isTerminal(os.Stdin) {
		fmt.Fprint(cc.Err, "Password (input is echoed): ")
	}

	password, err := readLine(in)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	if cc.Cfg.SessionBackend == config.BackendMemory {
		cc.Logger.Warn("memory session backend: the credential is discarded when this command exits")
	}

	store, err := cc.openSession(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := cc.newClient(store).Login(ctx, username, password); err != nil {
		return err
	}

	if err := store.SetMeta(map[string]string{
		tokenfile.MetaUsername: username,
		tokenfile.MetaBaseURL:  cc.Cfg.BaseURL,
	}); err != nil {
		return fmt.Errorf("saving session metadata: %w", err)
	}

	cc.Statusf("Logged in as %s.\n", username)

	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	ctx := cmd.Context()

	return cc.withClient(ctx, func(client *api.Client) error {
		if !client.LoggedIn() {
			cc.Statusf("Not logged in.\n")
			return nil
		}

		if err := client.Logout(ctx); err != nil {
			return err
		}

		cc.Statusf("Logged out.\n")

		return nil
	})
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	LoggedIn  bool       `json:"logged_in"`
	Username  string     `json:"username,omitempty"`
	BaseURL   string     `json:"base_url"`
	Backend   string     `json:"session_backend"`
	Path      string     `json:"session_path,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	ctx := cmd.Context()

	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return err
	}

	store, err := cc.openSession(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := printStatus(cc, buildStatus(cc.Cfg, store, time.Now())); err != nil {
		return err
	}

	if !watch {
		return nil
	}

	fs, ok := store.(*session.FileStore)
	if !ok {
		return fmt.Errorf("--watch needs the file session backend, not %q", cc.Cfg.SessionBackend)
	}

	// The watch is on the directory, which does not exist before the first login.
	if err := os.MkdirAll(filepath.Dir(fs.Path()), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	cc.Statusf("Watching %s for credential changes (Ctrl-C stops).\n", fs.Path())

	return fs.Watch(ctx, func(string) {
		if err := printStatus(cc, buildStatus(cc.Cfg, store, time.Now())); err != nil {
			cc.Logger.Warn("printing status", "error", err)
		}
	})
}

func buildStatus(cfg *config.Resolved, store session.Store, now time.Time) statusOutput {
	out := statusOutput{
		BaseURL: cfg.BaseURL,
		Backend: cfg.SessionBackend,
		Path:    cfg.SessionPath,
	}

	token := store.Token()
	if token == "" {
		return out
	}

	out.LoggedIn = true
	out.Username = store.Meta()[tokenfile.MetaUsername]

	if metaURL := store.Meta()[tokenfile.MetaBaseURL]; metaURL != "" {
		out.BaseURL = metaURL
	}

	info := session.Describe(token)
	out.Subject = info.Subject

	if !info.ExpiresAt.IsZero() {
		exp := info.ExpiresAt
		out.ExpiresAt = &exp
		out.Expired = info.Expired(now)
	}

	return out
}

func printStatus(cc *CLIContext, st statusOutput) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, st)
	}

	if !st.LoggedIn {
		fmt.Fprintf(cc.Out, "Not logged in (%s).\n", st.BaseURL)
		return nil
	}

	who := st.Username
	if who == "" {
		who = st.Subject
	}

	if who == "" {
		who = "unknown user"
	}

	fmt.Fprintf(cc.Out, "Logged in as %s at %s\n", who, st.BaseURL)
	fmt.Fprintf(cc.Out, "Session:  %s", st.Backend)

	if st.Path != "" {
		fmt.Fprintf(cc.Out, " (%s)", st.Path)
	}

	fmt.Fprintln(cc.Out)

	switch {
	case st.ExpiresAt == nil:
		fmt.Fprintln(cc.Out, "Expires:  unknown (opaque token)")
	case st.Expired:
		fmt.Fprintf(cc.Out, "Expires:  %s (expired; the next request renews it)\n", formatTime(*st.ExpiresAt))
	default:
		fmt.Fprintf(cc.Out, "Expires:  %s\n", formatTime(*st.ExpiresAt))
	}

	return nil
}
