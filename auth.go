package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/tbgwctl/internal/config"
	"github.com/tonimelisma/tbgwctl/internal/credfile"
)

// Credentials file metadata keys.
const (
	metaFileDBID     = "file_db_id"
	metaVerifiedAt   = "verified_at"
	metaLastVerified = "last_verified"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save appliance credentials after checking them",
		Long: `Save the appliance address and web UI credentials to the credentials file.

The username comes from --username, TBGWCTL_USERNAME or a prompt. The password
comes from stdin with --password-stdin, TBGWCTL_PASSWORD or a prompt when stdin
is a terminal. Unless --no-verify is given the credentials are checked by
fetching the file listing before they are saved.`,
		Annotations: map[string]string{skipCredentialsAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE:        withMetrics(runLogin),
	}

	cmd.Flags().String("username", "", "web UI username")
	cmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	cmd.Flags().Bool("no-verify", false, "save without contacting the appliance")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove saved appliance credentials",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE:        withMetrics(runLogout),
	}
}

func runLogin(cmd *cobra.Command, _ []string, cc *CLIContext) error {
	cfg := cc.Cfg

	if cfg.BaseURL == "" {
		return errors.New("no appliance address: pass --url, set TBGWCTL_URL or base_url in the config file")
	}

	in := cmd.InOrStdin()
	reader := bufio.NewReader(in)

	username, _ := cmd.Flags().GetString("username")
	if username == "" {
		username = cfg.Username
	}

	if username == "" {
		var err error

		username, err = promptLine(reader, in, cc.ErrOut, "Username: ")
		if err != nil {
			return err
		}
	}

	password, err := loginPassword(cmd, cc, reader, in)
	if err != nil {
		return err
	}

	creds := *cfg
	creds.Username = username
	creds.Password = password

	meta := map[string]string{metaFileDBID: strconv.Itoa(cfg.FileDBID)}

	if noVerify, _ := cmd.Flags().GetBool("no-verify"); !noVerify {
		count, verr := verifyCredentials(cmd, cc, &creds)
		if verr != nil {
			return fmt.Errorf("credentials not saved: %w", verr)
		}

		meta[metaVerifiedAt] = time.Now().UTC().Format(time.RFC3339)

		cc.Logger.Info("credentials verified",
			slog.String("base_url", cfg.BaseURL),
			slog.Int("files", count),
		)
	}

	if err := credfile.Save(cfg.CredentialsPath, &credfile.File{
		BaseURL:  cfg.BaseURL,
		Username: username,
		Password: password,
		Meta:     meta,
	}); err != nil {
		return err
	}

	cc.Logger.Info("login saved", slog.String("path", cfg.CredentialsPath), slog.String("username", username))
	cc.Statusf("Logged in to %s as %s.\n", cfg.BaseURL, username)

	return nil
}

// loginPassword picks the password source: --password-stdin, then the
// environment or config file, then an interactive prompt.
func loginPassword(cmd *cobra.Command, cc *CLIContext, reader *bufio.Reader, in io.Reader) (string, error) {
	if fromStdin, _ := cmd.Flags().GetBool("password-stdin"); fromStdin {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password from stdin: %w", err)
		}

		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return "", errors.New("empty password on stdin")
		}

		return password, nil
	}

	if cc.Cfg.Password != "" {
		return cc.Cfg.Password, nil
	}

	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("no password: use --password-stdin or set %s", config.EnvPassword)
	}

	fmt.Fprint(cc.ErrOut, "Password: ")

	raw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(cc.ErrOut)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if len(raw) == 0 {
		return "", errors.New("empty password")
	}

	return string(raw), nil
}

// promptLine asks for one line of input. Non-interactive stdin without the
// answer is an error rather than a hang.
func promptLine(reader *bufio.Reader, in io.Reader, out io.Writer, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("no username: use --username or set %s", config.EnvUsername)
	}

	fmt.Fprint(out, prompt)

	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	answer := strings.TrimSpace(line)
	if answer == "" {
		return "", fmt.Errorf("no username: use --username or set %s", config.EnvUsername)
	}

	return answer, nil
}

// verifyCredentials lists every kind with the candidate credentials and
// returns the number of files seen.
func verifyCredentials(cmd *cobra.Command, cc *CLIContext, creds *config.Resolved) (int, error) {
	probe := *cc
	probe.Cfg = creds

	sess, err := NewApplianceSession(&probe)
	if err != nil {
		return 0, err
	}

	byKind, err := sess.Client.ListAll(cmd.Context())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, list := range byKind {
		count += len(list)
	}

	return count, nil
}

func runLogout(_ *cobra.Command, _ []string, cc *CLIContext) error {
	path := cc.Flags.CredentialsPath
	if path == "" {
		path = config.DefaultCredentialsPath()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cc.Statusf("Not logged in.\n")
		return nil
	}

	if err := credfile.Remove(path); err != nil {
		return err
	}

	cc.Logger.Info("logout", slog.String("path", path))
	cc.Statusf("Removed saved credentials (%s).\n", path)

	return nil
}
