package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/seedr-go/internal/config"
	"github.com/tonimelisma/seedr-go/internal/seedr"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Seedr",
		Long: `Sign in to Seedr. The device method prints a code to enter at the
Seedr devices page and waits for approval. The credentials method exchanges a
username and password once; the password is never stored.`,
		RunE: runLogin,
	}

	cmd.Flags().String("method", "", "sign-in method: device or credentials (default from config)")
	cmd.Flags().String("username", "", "Seedr username for the credentials method")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token for --user",
		RunE:  runLogout,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether --user is signed in",
		RunE:  runStatus,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	method, err := cmd.Flags().GetString("method")
	if err != nil {
		return err
	}

	if method == "" {
		method = resolvedCfg.Auth.Method
	}

	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), func(app *App) error {
		if resolvedCfg.Storage.Backend == config.BackendMemory {
			app.Logger.Warn("memory storage selected, the token will not outlive this command")
		}

		ctx := shutdownContext(cmd.Context(), app.Logger)

		switch method {
		case config.MethodDevice:
			return loginDevice(ctx, app, os.Stderr)
		case config.MethodCredentials:
			return loginCredentials(ctx, app, username)
		default:
			return fmt.Errorf("unknown sign-in method %q (want device or credentials)", method)
		}
	})
}

func loginDevice(ctx context.Context, app *App, out io.Writer) error {
	app.Logger.Info("device login started", "user", flagUser)

	grant, err := app.Manager.StartDeviceAuth(ctx, flagUser)
	if err != nil {
		return err
	}

	// The code prompt is always shown, even with --quiet.
	uri := grant.VerificationURI
	if grant.VerificationURIComplete != "" {
		uri = grant.VerificationURIComplete
	}

	fmt.Fprintf(out, "To sign in, visit: %s\n", uri)
	fmt.Fprintf(out, "Enter code: %s\n", grant.UserCode)

	if err := app.Manager.AwaitDeviceAuth(ctx, flagUser); err != nil {
		if errors.Is(err, context.Canceled) {
			app.Manager.AbandonAuth(flagUser)
			return errors.New("login canceled")
		}

		return describeAuthError(err)
	}

	statusf(flagQuiet, "Login successful.\n")

	return nil
}

func loginCredentials(ctx context.Context, app *App, username string) error {
	var err error

	stdin := bufio.NewReader(os.Stdin)

	if username == "" {
		username, err = prompt(stdin, os.Stderr, "Username: ")
		if err != nil {
			return err
		}
	}

	password, err := readPassword(os.Stdin, stdin, os.Stderr)
	if err != nil {
		return err
	}

	app.Logger.Info("credential login started", "user", flagUser)

	if err := app.Manager.LoginWithCredentials(ctx, flagUser, username, password); err != nil {
		return describeAuthError(err)
	}

	statusf(flagQuiet, "Login successful.\n")

	return nil
}

// describeAuthError turns sign-in failures into actionable messages while
// keeping the original error for errors.Is.
func describeAuthError(err error) error {
	switch {
	case errors.Is(err, seedr.ErrAuthTimeout):
		return fmt.Errorf("the code expired before it was approved, run login again: %w", err)
	case errors.Is(err, seedr.ErrAuthDenied):
		return fmt.Errorf("sign-in was refused: %w", err)
	case errors.Is(err, seedr.ErrAuthService):
		return fmt.Errorf("the Seedr service could not be reached, try again later: %w", err)
	default:
		return err
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(app *App) error {
		if err := app.Manager.Logout(cmd.Context(), flagUser); err != nil {
			return err
		}

		statusf(flagQuiet, "Logged out.\n")

		return nil
	})
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	User    string `json:"user"`
	State   string `json:"state"`
	Backend string `json:"backend"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(app *App) error {
		st, err := app.Manager.Status(cmd.Context(), flagUser)
		if err != nil {
			return err
		}

		out := statusOutput{User: flagUser, State: string(st), Backend: resolvedCfg.Storage.Backend}

		if flagJSON {
			return printJSON(os.Stdout, out)
		}

		fmt.Printf("User:    %s\n", out.User)
		fmt.Printf("State:   %s\n", out.State)
		fmt.Printf("Storage: %s\n", out.Backend)

		return nil
	})
}

// prompt writes label to out and reads one line from in.
func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)

	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no input for %q", strings.TrimSpace(label))
	}

	return line, nil
}

// readPassword reads a password without echo from a terminal, or one line
// from piped input through buffered.
func readPassword(in *os.File, buffered *bufio.Reader, out io.Writer) (string, error) {
	if !isatty.IsTerminal(in.Fd()) {
		return prompt(buffered, io.Discard, "Password: ")
	}

	fmt.Fprint(out, "Password: ")

	b, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(b), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
