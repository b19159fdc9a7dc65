// Package engine implements the automation workflows: applying to similar
// vacancies, replying to employer chats, clearing dead negotiations, token
// refresh and resume republish. Engines receive their collaborators
// explicitly; there is no shared global state.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"hhpilot/internal/api"
	"hhpilot/internal/config"
	"hhpilot/internal/llm"
	"hhpilot/internal/models"
	"hhpilot/internal/store"
	"hhpilot/internal/textutil"
)

// Env bundles the collaborators every engine needs.
type Env struct {
	API    *api.APIClient
	OAuth  *api.OAuthClient
	Store  *store.Store
	Config *config.Config
	LLM    *llm.Client

	// Out receives user-visible messages; In feeds interactive prompts.
	Out io.Writer
	In  io.Reader

	profile models.Payload
}

// Printf writes a user-visible message.
func (e *Env) Printf(format string, args ...interface{}) {
	if e.Out != nil {
		fmt.Fprintf(e.Out, format+"\n", args...)
	}
}

// ReadLine reads one line from the interactive input.
func (e *Env) ReadLine() (string, error) {
	if e.In == nil {
		return "", fmt.Errorf("no interactive input available")
	}
	r := bufio.NewReader(e.In)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// pause spaces consecutive write actions; stubbed in tests.
var pause = textutil.RandomDelay

// applyPause is the spacing between consecutive write actions.
func applyPause() {
	pause(time.Second, 3*time.Second)
}

// pageItems extracts the items list from a paginated response.
func pageItems(data map[string]interface{}) []models.Payload {
	raw, ok := data["items"].([]interface{})
	if !ok {
		return nil
	}
	items := make([]models.Payload, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]interface{}); ok {
			items = append(items, m)
		}
	}
	return items
}

// pageCount reads the total page count, defaulting to 1.
func pageCount(data map[string]interface{}) int {
	if pages := models.AsInt(data["pages"]); pages > 0 {
		return int(pages)
	}
	return 1
}

// PublishedResumes loads the user's resumes, persists them, and returns the
// published ones. With a non-empty resumeID only that resume is kept.
func (e *Env) PublishedResumes(ctx context.Context, resumeID string) ([]models.Resume, error) {
	data, err := e.API.Request(ctx, "GET", "resumes/mine", nil)
	if err != nil {
		return nil, err
	}

	var published []models.Resume
	for _, item := range pageItems(data) {
		resume := models.ResumeFromAPI(item)
		if err := e.Store.Resumes.Save(resume); err != nil {
			return nil, err
		}
		if resume.StatusID != "published" {
			continue
		}
		if resumeID != "" && resume.ID != resumeID {
			continue
		}
		published = append(published, resume)
	}
	return published, nil
}

// Profile fetches /me once per run and caches it.
func (e *Env) Profile(ctx context.Context) models.Payload {
	if e.profile == nil {
		me, err := e.API.Me(ctx)
		if err != nil {
			me = models.Payload{}
		}
		e.profile = me
	}
	return e.profile
}

// Placeholders builds the substitution set shared by cover letters and
// replies: first_name, last_name, email, phone, resume_title, vacancy_name,
// employer_name.
func (e *Env) Placeholders(ctx context.Context, resume models.Resume, vacancy models.Vacancy, employerName string) map[string]string {
	me := e.Profile(ctx)
	return map[string]string{
		"first_name":    models.AsString(me["first_name"]),
		"last_name":     models.AsString(me["last_name"]),
		"email":         models.AsString(me["email"]),
		"phone":         models.AsString(me["phone"]),
		"resume_title":  resume.Title,
		"vacancy_name":  vacancy.Name,
		"employer_name": employerName,
	}
}

// renderTemplate applies brace expansion then placeholder substitution.
func renderTemplate(template string, vars map[string]string) string {
	return textutil.Substitute(textutil.RandText(template), vars)
}

// pickTemplate selects one template at random.
func pickTemplate(templates []string) string {
	if len(templates) == 0 {
		return ""
	}
	return templates[rand.Intn(len(templates))]
}
