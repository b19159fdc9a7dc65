package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hhpilot/internal/api"
	"hhpilot/internal/engine"
)

var (
	applyResumeID     string
	applyMessages     []string
	applyForceMessage bool
	applyPages        int
	applyPerPage      int

	// Search filters forwarded to the similarity endpoint.
	applyText           string
	applyAreas          []string
	applyExperience     string
	applySchedule       []string
	applyEmployment     []string
	applyRoles          []string
	applySalary         int
	applyOnlyWithSalary bool
	applyLabels         []string
	applySearchFields   []string
	applyPeriod         int
	applyOrderBy        string
	applyExtraParams    []string
)

// applySimilarCmd runs the apply engine
var applySimilarCmd = &cobra.Command{
	Use:   "apply-similar",
	Short: "Apply to vacancies similar to your resumes",
	Long: `Walks the similar-vacancies search for each published resume and
responds to every eligible vacancy. Vacancies with an employer test form are
answered through the browser-facing form endpoint.

Vacancies are skipped when they are archived, already answered or rejected,
hosted on an external site, or match one of the excluded_terms from the
config. Hitting the daily application limit stops submissions, but the run
keeps walking the search to collect published employer contacts.

Cover letters come from --message templates (supporting {a|b} alternations
and %(first_name)s-style placeholders), or from the configured OpenAI model
when openai.token is set.

Example:
  hhpilot apply-similar --area 1 --text golang --message "Здравствуйте! ..."`,
	RunE: runApplySimilar,
}

func init() {
	f := applySimilarCmd.Flags()
	f.StringVar(&applyResumeID, "resume-id", "", "Apply with one resume only")
	f.StringArrayVarP(&applyMessages, "message", "m", nil, "Cover letter template (repeatable, one is picked at random)")
	f.BoolVar(&applyForceMessage, "force-message", false, "Attach a cover letter even when the vacancy does not require one")
	f.IntVar(&applyPages, "page-count", 0, "Maximum search pages per resume (default 20)")
	f.IntVar(&applyPerPage, "per-page", 0, "Search page size (default 100)")

	f.StringVar(&applyText, "text", "", "Search phrase")
	f.StringSliceVar(&applyAreas, "area", nil, "Area id (repeatable)")
	f.StringVar(&applyExperience, "experience", "", "Experience id (noExperience, between1And3, between3And6, moreThan6)")
	f.StringSliceVar(&applySchedule, "schedule", nil, "Schedule id (repeatable, e.g. remote)")
	f.StringSliceVar(&applyEmployment, "employment", nil, "Employment id (repeatable)")
	f.StringSliceVar(&applyRoles, "professional-role", nil, "Professional role id (repeatable)")
	f.IntVar(&applySalary, "salary", 0, "Desired salary")
	f.BoolVar(&applyOnlyWithSalary, "only-with-salary", false, "Skip vacancies without a published salary")
	f.StringSliceVar(&applyLabels, "label", nil, "Search label (repeatable, e.g. not_from_agency)")
	f.StringSliceVar(&applySearchFields, "search-field", nil, "Field the phrase is matched against (repeatable)")
	f.IntVar(&applyPeriod, "period", 0, "Only vacancies published within the last N days")
	f.StringVar(&applyOrderBy, "order-by", "", "Sort order (relevance, publication_time, salary_desc, ...)")
	f.StringSliceVar(&applyExtraParams, "param", nil, "Extra search parameter as key=value (repeatable)")

	rootCmd.AddCommand(applySimilarCmd)
}

// applySearchParams assembles the similarity-search parameters from flags.
func applySearchParams() (api.Params, error) {
	params := api.Params{}
	if applyText != "" {
		params["text"] = applyText
	}
	if len(applyAreas) > 0 {
		params["area"] = applyAreas
	}
	if applyExperience != "" {
		params["experience"] = applyExperience
	}
	if len(applySchedule) > 0 {
		params["schedule"] = applySchedule
	}
	if len(applyEmployment) > 0 {
		params["employment"] = applyEmployment
	}
	if len(applyRoles) > 0 {
		params["professional_role"] = applyRoles
	}
	if applySalary > 0 {
		params["salary"] = applySalary
		params["only_with_salary"] = applyOnlyWithSalary
	}
	if len(applyLabels) > 0 {
		params["label"] = applyLabels
	}
	if len(applySearchFields) > 0 {
		params["search_field"] = applySearchFields
	}
	if applyPeriod > 0 {
		params["period"] = applyPeriod
	}
	if applyOrderBy != "" {
		params["order_by"] = applyOrderBy
	}
	for _, kv := range applyExtraParams {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", kv)
		}
		params[key] = value
	}
	return params, nil
}

func runApplySimilar(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	search, err := applySearchParams()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	stats, err := env.Apply(ctx, engine.ApplyOptions{
		ResumeID:         applyResumeID,
		Search:           search,
		MessageTemplates: applyMessages,
		ForceMessage:     applyForceMessage,
		PerPage:          applyPerPage,
		TotalPages:       applyPages,
	})

	fmt.Fprintf(cmd.OutOrStdout(),
		"applied: %d, skipped: %d, contacts collected: %d, employers: %d\n",
		stats.Applied, stats.Skipped, stats.Contacts, stats.Employers)
	if err != nil {
		return err
	}

	maybeReportTelemetry(ctx)
	return nil
}
