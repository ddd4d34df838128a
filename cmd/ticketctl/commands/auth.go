package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokenstore"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "manage the stored session",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "store session tokens obtained at login",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "access",
						Usage: "access token (prompted when omitted on a terminal)",
					},
					&cli.StringFlag{
						Name:  "refresh",
						Usage: "refresh token (prompted when omitted on a terminal)",
					},
				},
				Action: authSetAction,
			},
			{
				Name:   "status",
				Usage:  "show which session tokens are stored",
				Action: authStatusAction,
			},
			{
				Name:   "logout",
				Usage:  "remove the stored session",
				Action: authLogoutAction,
			},
		},
	}
}

// openStore loads the configuration and opens the configured token store.
func openStore(ctx context.Context, cmd *cli.Command) (tokenstore.Store, func(), error) {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}

	store, err := cfg.Storage.NewStore()
	if err != nil {
		flushLogs(shutdown)
		return nil, nil, fmt.Errorf("failed to create token store: %w", err)
	}

	return store, func() { flushLogs(shutdown) }, nil
}

func authSetAction(ctx context.Context, cmd *cli.Command) error {
	store, done, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer done()

	values := map[string]string{
		tokenstore.KeyAccess:  cmd.String("access"),
		tokenstore.KeyRefresh: cmd.String("refresh"),
	}
	for _, key := range []string{tokenstore.KeyAccess, tokenstore.KeyRefresh} {
		if values[key] != "" {
			continue
		}
		value, err := promptSecret(cmd, key+" token: ")
		if err != nil {
			return err
		}
		values[key] = value
	}

	if values[tokenstore.KeyAccess] == "" && values[tokenstore.KeyRefresh] == "" {
		return fmt.Errorf("no tokens given")
	}

	for _, key := range []string{tokenstore.KeyAccess, tokenstore.KeyRefresh} {
		if values[key] == "" {
			continue
		}
		if err := store.Set(ctx, key, values[key]); err != nil {
			return fmt.Errorf("storing %s token: %w", key, err)
		}
	}

	_, err = fmt.Fprintln(cmd.Root().Writer, "session stored")
	return err
}

// promptSecret reads a secret from the terminal without echo. Returns an empty
// string when input is not a terminal.
func promptSecret(cmd *cli.Command, prompt string) (string, error) {
	in, ok := cmd.Root().Reader.(*os.File)
	if !ok || !term.IsTerminal(int(in.Fd())) {
		return "", nil
	}

	fmt.Fprint(cmd.Root().ErrWriter, prompt)
	secret, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(cmd.Root().ErrWriter)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

func authStatusAction(ctx context.Context, cmd *cli.Command) error {
	store, done, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer done()

	w := bufio.NewWriter(cmd.Root().Writer)
	for _, key := range []string{tokenstore.KeyAccess, tokenstore.KeyRefresh} {
		value, ok, err := tokenstore.Lookup(ctx, store, key)
		if err != nil {
			return fmt.Errorf("reading %s token: %w", key, err)
		}
		if !ok {
			fmt.Fprintf(w, "%s: absent\n", key)
			continue
		}
		fmt.Fprintf(w, "%s: present", key)
		writeExpiry(w, value, time.Now())
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// writeExpiry appends the expiry of a JWT token. Tokens that are not JWTs, or
// carry no exp claim, print nothing. The signature is not verified: this is a
// local diagnostic, the backend remains the authority.
func writeExpiry(w io.Writer, token string, now time.Time) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	state := "expires"
	if exp.Before(now) {
		state = "expired"
	}
	fmt.Fprintf(w, " (%s %s)", state, exp.UTC().Format(time.RFC3339))
}

func authLogoutAction(ctx context.Context, cmd *cli.Command) error {
	store, done, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer done()

	if err := tokenstore.Clear(ctx, store); err != nil {
		if errors.Is(err, tokenstore.ErrReadOnly) {
			return fmt.Errorf("session storage is read-only, unset the environment variables instead: %w", err)
		}
		return fmt.Errorf("removing session: %w", err)
	}

	_, err = fmt.Fprintln(cmd.Root().Writer, "logged out")
	return err
}
