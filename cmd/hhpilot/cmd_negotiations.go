package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hhpilot/internal/engine"
)

var (
	clearOlderThan  int
	clearBlacklist  bool
	clearDeleteChat bool
	clearMaxPages   int

	syncMaxPages int
)

// clearNegotiationsCmd runs the cleanup engine
var clearNegotiationsCmd = &cobra.Command{
	Use:   "clear-negotiations",
	Short: "Delete discarded or stale negotiations",
	Long: `Deletes negotiations from the active list. By default only the ones
the employer has already discarded; with --older-than N any negotiation
without activity in the last N days goes too.

--blacklist additionally bans each deleted negotiation's employer, and
--delete-chat moves the chat itself to trash through the browser-facing
endpoint (requires browser session cookies in the shared session; without
them chats are counted as skipped).`,
	RunE: runClearNegotiations,
}

// syncNegotiationsCmd mirrors the negotiation list locally
var syncNegotiationsCmd = &cobra.Command{
	Use:   "sync-negotiations",
	Short: "Mirror the active negotiations into the local database",
	RunE:  runSyncNegotiations,
}

func init() {
	f := clearNegotiationsCmd.Flags()
	f.IntVar(&clearOlderThan, "older-than", 0, "Also delete negotiations without activity in the last N days")
	f.BoolVar(&clearBlacklist, "blacklist", false, "Blacklist each deleted negotiation's employer")
	f.BoolVar(&clearDeleteChat, "delete-chat", false, "Also move chats to trash")
	f.IntVar(&clearMaxPages, "max-pages", 0, "Maximum negotiation pages to walk (default 20)")

	syncNegotiationsCmd.Flags().IntVar(&syncMaxPages, "max-pages", 0, "Maximum negotiation pages to walk (default 20)")

	rootCmd.AddCommand(clearNegotiationsCmd)
	rootCmd.AddCommand(syncNegotiationsCmd)
}

func runClearNegotiations(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	stats, err := env.Clear(ctx, engine.ClearOptions{
		OlderThanDays: clearOlderThan,
		Blacklist:     clearBlacklist,
		DeleteChat:    clearDeleteChat,
		MaxPages:      clearMaxPages,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "deleted: %d, blacklisted: %d, chats deleted: %d\n",
		stats.Deleted, stats.Blacklisted, stats.ChatsDeleted)
	if err != nil {
		return err
	}

	maybeReportTelemetry(ctx)
	return nil
}

func runSyncNegotiations(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	synced, err := env.SyncNegotiations(ctx, syncMaxPages)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ synced %d negotiation(s)\n", synced)

	maybeReportTelemetry(ctx)
	return nil
}
