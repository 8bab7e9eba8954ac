package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"uk.co.dudmesh.quill/internal/boot"
	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/service/auth"
	"uk.co.dudmesh.quill/internal/store"
	"uk.co.dudmesh.quill/pkg/crypt"
)

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "quillctl",
		Short:         "Administer a quill server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(newMigrateCmd(), newKeygenCmd(), newAccountCmd())
	return root
}

func openStore(ctx context.Context) (*store.Store, error) {
	config, err := boot.Load()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(config.Database.Driver, config.DatabaseURL())
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var encrypt bool
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ES256 session signing key",
		Long: `Generate an ES256 key for signing session tokens and print it as a JWK.

Point SIGNING_KEY_FILE at the saved output (and SIGNING_KEY_PASSWORD at the
passphrase when --encrypt is used) to make the server use it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var passphrase string
			if encrypt {
				fmt.Fprint(cmd.ErrOrStderr(), "Enter passphrase: ")
				pw, err := readPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("reading passphrase: %w", err)
				}
				if len(pw) == 0 {
					return fmt.Errorf("passphrase required with --encrypt")
				}
				passphrase = string(pw)
			}

			key, err := crypt.GenerateSigningKey()
			if err != nil {
				return err
			}
			keyID := crypt.KeyID(&key.PublicKey)
			encoded, err := crypt.EncodePrivateKey(key, keyID, passphrase)
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, []byte(encoded+"\n"), 0o600); err != nil {
					return fmt.Errorf("writing key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote key %s to %s\n", keyID, output)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the key with a passphrase read from the terminal")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the key to a file instead of stdout")
	return cmd
}

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Change account status",
	}

	actions := []struct {
		use    string
		short  string
		status model.AccountStatus
		from   []model.AccountStatus
	}{
		{"ban", "Ban an account", model.AccountStatusBanned, nil},
		{"unban", "Reactivate a banned account", model.AccountStatusActive, []model.AccountStatus{model.AccountStatusBanned}},
		{"promote", "Make an account an admin", model.AccountStatusAdmin, nil},
		{"demote", "Revoke admin rights", model.AccountStatusActive, []model.AccountStatus{model.AccountStatusAdmin}},
	}
	for _, action := range actions {
		action := action
		cmd.AddCommand(&cobra.Command{
			Use:   action.use + " <account id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid account id %q", args[0])
				}

				s, err := openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer s.Close()

				accounts, err := auth.New(auth.DefaultConfig, s, nil, nil)
				if err != nil {
					return err
				}
				account, err := accounts.SetStatus(cmd.Context(), model.AccountID(id), action.status, action.from...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %d (%s) is now %s\n", account.ID, account.Email, account.Status)
				return nil
			},
		})
	}
	return cmd
}
