package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hhpilot/internal/engine"
)

var (
	replyTemplate        string
	replyInstruction     string
	replyOnlyInvitations bool
	replyPeriodDays      int
	replyMaxPages        int
	replyInteractive     bool
)

// replyEmployersCmd runs the reply engine
var replyEmployersCmd = &cobra.Command{
	Use:   "reply-employers",
	Short: "Answer employer chats that await a response",
	Long: `Walks the active negotiations and answers every chat where the last
meaningful message came from the employer (or your last one was never read).

The reply text comes from --message, from the configured OpenAI model, or
from a prompt when --interactive is set. Interactive mode understands two
commands besides plain text:

  /ban             blacklist the employer and move on
  /cancel [text]   decline the negotiation, optionally with a message`,
	RunE: runReplyEmployers,
}

func init() {
	f := replyEmployersCmd.Flags()
	f.StringVarP(&replyTemplate, "message", "m", "", "Reply template ({a|b} alternations, %(name)s placeholders)")
	f.StringVar(&replyInstruction, "instruction", "", "Steering instruction for the LLM draft")
	f.BoolVar(&replyOnlyInvitations, "only-invitations", false, "Only answer invitation chats")
	f.IntVar(&replyPeriodDays, "period", 0, "Skip negotiations not updated within the last N days")
	f.IntVar(&replyMaxPages, "max-pages", 0, "Maximum negotiation pages to walk (default 20)")
	f.BoolVarP(&replyInteractive, "interactive", "i", false, "Prompt for each reply when no template or LLM is available")

	rootCmd.AddCommand(replyEmployersCmd)
}

func runReplyEmployers(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	stats, err := env.Reply(ctx, engine.ReplyOptions{
		Template:        replyTemplate,
		Instruction:     replyInstruction,
		OnlyInvitations: replyOnlyInvitations,
		PeriodDays:      replyPeriodDays,
		MaxPages:        replyMaxPages,
		Interactive:     replyInteractive,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "replied: %d, skipped: %d, banned: %d\n",
		stats.Replied, stats.Skipped, stats.Banned)
	if err != nil {
		return err
	}

	maybeReportTelemetry(ctx)
	return nil
}
