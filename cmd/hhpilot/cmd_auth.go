package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hhpilot/internal/models"
)

// authorizeCmd runs the interactive code→token exchange
var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Authorize the profile through the portal's OAuth flow",
	Long: `Prints the authorization URL, waits for the code and exchanges it
for a token. The token is stored in the profile's config.json and refreshed
automatically when it expires.

Open the URL in a browser, log in, and paste the "code" parameter from the
redirect URL back here.`,
	RunE: runAuthorize,
}

// refreshTokenCmd forces a token refresh
var refreshTokenCmd = &cobra.Command{
	Use:   "refresh-token",
	Short: "Refresh the stored access token if it has expired",
	RunE:  runRefreshToken,
}

// whoamiCmd shows the authorized account
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account the profile is authorized as",
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(authorizeCmd)
	rootCmd.AddCommand(refreshTokenCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	oauth, err := newOAuthClient()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Open the following URL in a browser and log in:")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "  "+oauth.AuthorizeURL())
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), "Authorization code: ")

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return fmt.Errorf("empty authorization code")
	}

	token, err := oauth.Authenticate(ctx, code)
	if err != nil {
		return err
	}
	if err := cfg.config.SetToken(token); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✅ authorized, token saved")
	return runWhoami(cmd, nil)
}

func runRefreshToken(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	refreshed, err := env.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if !refreshed {
		fmt.Fprintln(cmd.OutOrStdout(), "✅ access token still valid")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✅ access token refreshed")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	me, err := env.API.Me(ctx)
	if err != nil {
		return err
	}

	firstName := models.AsString(me["first_name"])
	lastName := models.AsString(me["last_name"])
	email := models.AsString(me["email"])

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s <%s>\n", firstName, lastName, email)

	// Remembered locally so reports and the SQL console can identify the
	// account without a network round trip.
	if email != "" {
		if err := env.Store.SetSetting("user.email", email); err != nil {
			return err
		}
	}
	if name := strings.TrimSpace(firstName + " " + lastName); name != "" {
		if err := env.Store.SetSetting("auth.username", name); err != nil {
			return err
		}
	}
	return nil
}
