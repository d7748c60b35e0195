package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/AlibekovAA/oauth-token-core/internal/common/bootstrap"
	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/common/db"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/directory"
)

var readPassword = term.ReadPassword

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tokenserver",
		Short:         "OAuth2 password and refresh token endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newUserAddCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the token endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.NewTokenApp(cmd.Context(), migrate)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Serve(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending database migrations before serving")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, pool, err := bootstrap.NewDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			return db.Migrate(cmd.Context(), log, pool)
		},
	}
}

func newUserAddCommand() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create a user in the postgres directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			_, pool, err := bootstrap.NewDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, err := directory.NewPgDirectory(pool, &commoncrypto.BcryptHasher{}, commoncrypto.NewUUIDGenerator(), clock.NewRealClock())
			if err != nil {
				return err
			}

			user, err := dir.CreateUser(cmd.Context(), args[0], password, roles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim(s) for the user")
	return cmd
}

// promptPassword reads without echo from a terminal, or a single line from
// any other input.
func promptPassword(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "Enter password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return validatePassword(string(pw))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return validatePassword(strings.TrimRight(line, "\r\n"))
}

func validatePassword(pw string) (string, error) {
	if strings.TrimSpace(pw) == "" {
		return "", errors.New("password must not be empty")
	}
	return pw, nil
}
