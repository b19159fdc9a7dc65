package engine

import (
	"context"
	"errors"
	"strings"

	"hhpilot/internal/api"
	"hhpilot/internal/logging"
	"hhpilot/internal/models"
)

// ApplyOptions configures one apply run.
type ApplyOptions struct {
	// ResumeID restricts the run to one resume; empty means every published
	// resume.
	ResumeID string

	// Search is forwarded verbatim to the similarity endpoint (area,
	// experience, schedule, salary, text, order_by and the rest).
	Search api.Params

	// MessageTemplates are cover-letter templates with {a|b} alternations and
	// %(name)s placeholders; one is picked at random per vacancy.
	MessageTemplates []string

	// ForceMessage attaches a cover letter even when the vacancy does not
	// require one.
	ForceMessage bool

	PerPage    int // default 100
	TotalPages int // default 20
}

// ApplyStats summarizes an apply run.
type ApplyStats struct {
	Applied   int
	Skipped   int
	Contacts  int
	Employers int
}

const coverLetterPreamble = "Напишите короткое сопроводительное письмо на вакансию. " +
	"Пишите от первого лица, без приветствия в теме, не выдумывайте факты."

// Apply walks the similarity search for every published resume and responds
// to eligible vacancies. A daily-limit rejection stops submissions but the
// run keeps collecting contacts.
func (e *Env) Apply(ctx context.Context, opts ApplyOptions) (ApplyStats, error) {
	var stats ApplyStats

	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	if opts.TotalPages <= 0 {
		opts.TotalPages = 20
	}

	resumes, err := e.PublishedResumes(ctx, opts.ResumeID)
	if err != nil {
		return stats, err
	}
	if len(resumes) == 0 {
		e.Printf("⚠️ no published resumes found")
		return stats, nil
	}

	excluded := make([]string, 0, len(e.Config.ExcludedTerms))
	for _, term := range e.Config.ExcludedTerms {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" {
			excluded = append(excluded, t)
		}
	}

	web := NewWebClient(e.API.Session(), e.Config.UserAgent)
	seenEmployers := map[int64]bool{}
	limitReached := false

	for _, resume := range resumes {
		logging.Apply("searching similar vacancies for resume %s (%s)", resume.ID, resume.Title)

		for page := 0; page < opts.TotalPages; page++ {
			params := api.Params{"page": page, "per_page": opts.PerPage}
			for k, v := range opts.Search {
				params[k] = v
			}

			data, err := e.API.Request(ctx, "GET", "resumes/"+resume.ID+"/similar_vacancies", params)
			if err != nil {
				return stats, err
			}
			items := pageItems(data)
			if len(items) == 0 {
				break
			}

			for _, item := range items {
				stop, err := e.applyToVacancy(ctx, web, resume, item, opts, excluded, seenEmployers, &stats, &limitReached)
				if err != nil {
					return stats, err
				}
				if stop {
					return stats, nil
				}
			}
			if page+1 >= pageCount(data) {
				break
			}
		}
	}
	return stats, nil
}

// applyToVacancy handles a single search hit: persistence, eligibility,
// letter composition, submission. A true first return aborts the whole run.
func (e *Env) applyToVacancy(
	ctx context.Context,
	web *WebClient,
	resume models.Resume,
	item models.Payload,
	opts ApplyOptions,
	excluded []string,
	seenEmployers map[int64]bool,
	stats *ApplyStats,
	limitReached *bool,
) (bool, error) {
	vacancy := models.VacancyFromAPI(item)

	if err := e.Store.Vacancies.Save(vacancy); err != nil {
		logging.StoreError("vacancy %d not persisted: %v", vacancy.ID, err)
	}
	e.collectContacts(ctx, item, seenEmployers, stats)

	if relations := relationSet(item); len(relations) > 0 {
		if relations["got_rejection"] {
			logging.Apply("vacancy %d (%s): already rejected", vacancy.ID, vacancy.Name)
		}
		stats.Skipped++
		return false, nil
	}
	if models.AsBool(item["archived"]) {
		stats.Skipped++
		return false, nil
	}
	if models.AsString(item["response_url"]) != "" {
		logging.ApplyDebug("vacancy %d: external response url, skipping", vacancy.ID)
		stats.Skipped++
		return false, nil
	}
	if term := matchesExcluded(item, vacancy.Name, excluded); term != "" {
		logging.ApplyDebug("vacancy %d (%s): excluded by term %q", vacancy.ID, vacancy.Name, term)
		stats.Skipped++
		return false, nil
	}
	if *limitReached {
		// Past the daily cap we only mine contacts.
		stats.Skipped++
		return false, nil
	}

	employerName := models.AsString(pathValue(item, "employer.name"))
	letter, err := e.composeLetter(ctx, resume, vacancy, employerName, opts, item)
	if err != nil {
		logging.ApplyWarn("vacancy %d: letter composition failed: %v", vacancy.ID, err)
		stats.Skipped++
		return false, nil
	}

	if models.AsBool(item["has_test"]) {
		result, err := web.SolveTestForm(ctx, vacancy.ID, resume.ID, letter)
		if err != nil {
			logging.ApplyWarn("vacancy %d: test form failed: %v", vacancy.ID, err)
			stats.Skipped++
			return false, nil
		}
		if result.LimitExceeded {
			*limitReached = true
			e.Printf("🚫 application limit reached, collecting contacts only")
			return false, nil
		}
		if result.Accepted {
			stats.Applied++
			e.Printf("📨 applied to %q (%s) with test", vacancy.Name, vacancy.AlternateURL)
		}
		return false, nil
	}

	applyPause()
	_, err = e.API.Request(ctx, "POST", "negotiations", api.Params{
		"resume_id":  resume.ID,
		"vacancy_id": vacancy.ID,
		"message":    letter,
	})
	if err != nil {
		var limit *api.LimitExceededError
		var redirect *api.RedirectError
		var captcha *api.CaptchaRequiredError
		switch {
		case errors.As(err, &limit):
			*limitReached = true
			e.Printf("🚫 application limit reached, collecting contacts only")
		case errors.As(err, &redirect):
			logging.ApplyDebug("vacancy %d: redirect, skipping", vacancy.ID)
			stats.Skipped++
		case errors.As(err, &captcha):
			return true, err
		default:
			logging.ApplyWarn("vacancy %d: application failed: %v", vacancy.ID, err)
			stats.Skipped++
		}
		return false, nil
	}

	stats.Applied++
	e.Printf("📨 applied to %q (%s)", vacancy.Name, vacancy.AlternateURL)
	return false, nil
}

// collectContacts persists a contacts row when the vacancy exposes one and
// pulls the full employer profile once per run.
func (e *Env) collectContacts(ctx context.Context, item models.Payload, seenEmployers map[int64]bool, stats *ApplyStats) {
	if _, ok := item["contacts"].(map[string]interface{}); ok {
		contacts := models.VacancyContactsFromAPI(item)
		if contacts.Email != "" {
			if err := e.Store.VacancyContacts.Save(contacts); err != nil {
				logging.StoreError("contacts for vacancy %d not persisted: %v", contacts.VacancyID, err)
			} else {
				stats.Contacts++
			}
		}
	}

	employerID := models.AsInt(pathValue(item, "employer.id"))
	if employerID == 0 || seenEmployers[employerID] {
		return
	}
	seenEmployers[employerID] = true

	profile, err := e.API.Request(ctx, "GET", "employers/"+models.AsString(employerID), nil)
	if err != nil {
		logging.ApplyDebug("employer %d profile not fetched: %v", employerID, err)
		return
	}
	if err := e.Store.Employers.SavePayload(profile); err != nil {
		logging.StoreError("employer %d not persisted: %v", employerID, err)
		return
	}
	stats.Employers++

	if siteURL := models.AsString(profile["site_url"]); siteURL != "" {
		site := models.EmployerSite{EmployerID: employerID, SiteURL: siteURL}
		if err := e.Store.EmployerSites.Save(site); err != nil {
			logging.StoreError("site for employer %d not persisted: %v", employerID, err)
		}
	}
}

// composeLetter produces the cover letter when one is required or forced. An
// enabled LLM drafts it; otherwise a random template is rendered.
func (e *Env) composeLetter(ctx context.Context, resume models.Resume, vacancy models.Vacancy, employerName string, opts ApplyOptions, item models.Payload) (string, error) {
	required := models.AsBool(item["response_letter_required"])
	if !required && !opts.ForceMessage {
		return "", nil
	}

	if e.LLM != nil && e.LLM.Enabled() {
		prompt := coverLetterPreamble +
			"\nВакансия: " + vacancy.Name +
			"\nМоё резюме: " + resume.Title
		return e.LLM.Complete(ctx, "", prompt)
	}

	template := pickTemplate(opts.MessageTemplates)
	if template == "" {
		template = e.Config.ReplyMessage
	}
	if template == "" {
		return "", errors.New("a cover letter is required but no template is configured")
	}
	return renderTemplate(template, e.Placeholders(ctx, resume, vacancy, employerName)), nil
}

// relationSet flattens the relations list into a lookup set.
func relationSet(item models.Payload) map[string]bool {
	raw, _ := item["relations"].([]interface{})
	if len(raw) == 0 {
		return nil
	}
	set := make(map[string]bool, len(raw))
	for _, r := range raw {
		set[models.AsString(r)] = true
	}
	return set
}

// matchesExcluded reports the first excluded term found in the vacancy name
// or snippet, case-insensitive.
func matchesExcluded(item models.Payload, name string, excluded []string) string {
	if len(excluded) == 0 {
		return ""
	}
	haystack := strings.ToLower(strings.Join([]string{
		name,
		models.AsString(pathValue(item, "snippet.requirement")),
		models.AsString(pathValue(item, "snippet.responsibility")),
	}, "\n"))
	for _, term := range excluded {
		if strings.Contains(haystack, term) {
			return term
		}
	}
	return ""
}

// pathValue probes a dotted path, nil when unresolved.
func pathValue(item models.Payload, path string) interface{} {
	v, _ := models.Path(item, path)
	return v
}
