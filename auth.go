package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/athera-io/athera-sync/internal/credential"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an Athera API token",
		Long: `Import a token for later commands. --token-file reads an OAuth2 token JSON
(as written by the Athera token generator), a saved token file or a bare
access token; "-" reads standard input. Tokens with a refresh token are
refreshed automatically through the identity provider.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("token-file", "", `token to import ("-" for stdin)`)
	_ = cmd.MarkFlagRequired("token-file")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show the saved token's expiry and whether it can be refreshed",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	src, _ := cmd.Flags().GetString("token-file")

	var r io.Reader = cmd.InOrStdin()

	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("opening token: %w", err)
		}
		defer f.Close()

		r = f
	}

	tok, err := credential.Import(cc.credentialOptions(), r)
	if err != nil {
		return err
	}

	cc.Logger.Info("login successful",
		slog.String("token_file", cc.Cfg.TokenFile),
		slog.Bool("refreshable", tok.RefreshToken != ""),
	)

	if tok.RefreshToken == "" && !tok.Expiry.IsZero() {
		cc.Statusf("Token saved; it expires %s and cannot be refreshed.\n", tok.Expiry.Local().Format(time.RFC1123))
		return nil
	}

	cc.Statusf("Token saved to %s.\n", cc.Cfg.TokenFile)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := credential.Logout(cc.Cfg.TokenFile, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.StaticToken != "" {
		cc.Statusf("ATHERA_API_TOKEN is set and takes precedence over the saved token.\n")
	}

	st, err := credential.Describe(cc.Cfg.TokenFile)
	if errors.Is(err, credential.ErrNotLoggedIn) {
		return fmt.Errorf("not logged in: no token at %s", cc.Cfg.TokenFile)
	}

	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, st)
	}

	expiry := "never"
	if !st.Expiry.IsZero() {
		expiry = st.Expiry.Local().Format(time.RFC1123)
		if st.Expired {
			expiry += " (expired)"
		}
	}

	fmt.Fprintf(cc.Out, "Token file:   %s\n", st.Path)
	fmt.Fprintf(cc.Out, "Expires:      %s\n", expiry)
	fmt.Fprintf(cc.Out, "Refreshable:  %t\n", st.Refreshable)

	if st.IdentityURL != "" {
		fmt.Fprintf(cc.Out, "Identity URL: %s\n", st.IdentityURL)
	}

	if !st.SavedAt.IsZero() {
		fmt.Fprintf(cc.Out, "Saved:        %s\n", formatTime(st.SavedAt))
	}

	return nil
}
