package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hhpilot/internal/textutil"
)

// listResumesCmd prints the account's resumes
var listResumesCmd = &cobra.Command{
	Use:   "list-resumes",
	Short: "List the account's resumes and their status",
	RunE:  runListResumes,
}

// updateResumesCmd republishes every resume the portal allows
var updateResumesCmd = &cobra.Command{
	Use:   "update-resumes",
	Short: "Republish resumes to bump them in search results",
	Long: `Fetches all resumes and republishes every one the portal currently
allows to be touched. Republishing moves the resume up in employer search,
which is the single most effective free action on the portal.`,
	RunE: runUpdateResumes,
}

func init() {
	rootCmd.AddCommand(listResumesCmd)
	rootCmd.AddCommand(updateResumesCmd)
}

func runListResumes(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	// Persist everything; the published filter only affects the listing.
	if _, err := env.PublishedResumes(ctx, ""); err != nil {
		return err
	}

	resumes, err := env.Store.Resumes.Find(nil)
	if err != nil {
		return err
	}
	if len(resumes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️ no resumes found")
		return nil
	}

	for _, r := range resumes {
		marker := " "
		if r.StatusID == "published" {
			marker = "✅"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %-40q %s (views: %d, new: %d)\n",
			marker, textutil.Truncate(r.Title, 38), r.StatusName, r.TotalViews, r.NewViews)
		fmt.Fprintf(cmd.OutOrStdout(), "   id: %s\n", r.ID)
	}
	return nil
}

func runUpdateResumes(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	updated, err := env.UpdateResumes(ctx)
	if err != nil {
		return err
	}
	if updated == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️ no resumes were ready for republishing")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ republished %d resume(s)\n", updated)
	}

	maybeReportTelemetry(ctx)
	return nil
}
