package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hhpilot/internal/api"
	"hhpilot/internal/config"
	"hhpilot/internal/store"
)

func TestMain(m *testing.M) {
	pause = func(min, max time.Duration) {}
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// portal is a scripted fake of the HTTP API used by the engines.
type portal struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []string
}

func newPortal() *portal {
	return &portal{handlers: map[string]http.HandlerFunc{}}
}

func (p *portal) handle(method, path string, fn http.HandlerFunc) {
	p.handlers[method+" "+path] = fn
}

func (p *portal) handleJSON(method, path string, body interface{}) {
	p.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
}

func (p *portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	p.mu.Lock()
	p.requests = append(p.requests, key)
	fn := p.handlers[key]
	p.mu.Unlock()

	if fn == nil {
		http.NotFound(w, r)
		return
	}
	fn(w, r)
}

func (p *portal) count(method, path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, req := range p.requests {
		if req == method+" "+path {
			n++
		}
	}
	return n
}

func newTestEnv(t *testing.T, p *portal) (*Env, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	client, err := api.NewAPIClient(api.APIClientOptions{
		ClientOptions: api.ClientOptions{
			BaseURL:   srv.URL + "/",
			UserAgent: "test-agent",
			Delay:     time.Millisecond,
		},
	})
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &Env{
		API:    client,
		Store:  st,
		Config: &config.Config{UserAgent: "test-agent", ExcludedTerms: []string{}},
		Out:    io.Discard,
	}, srv
}

func page(items ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"items":    items,
		"found":    len(items),
		"page":     0,
		"pages":    1,
		"per_page": 100,
	}
}

func publishedResume(id, title string) map[string]interface{} {
	return map[string]interface{}{
		"id":    id,
		"title": title,
		"status": map[string]interface{}{
			"id": "published", "name": "Published",
		},
		"can_publish_or_update": false,
	}
}

func TestApplyCreatesNegotiation(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/resumes/r1/similar_vacancies", page(map[string]interface{}{
		"id":            float64(10),
		"name":          "Backend engineer",
		"alternate_url": "https://hh.ru/vacancy/10",
		"employer":      map[string]interface{}{"id": float64(7), "name": "Acme"},
	}))
	p.handleJSON("GET", "/employers/7", map[string]interface{}{
		"id": float64(7), "name": "Acme", "site_url": "https://acme.example",
	})

	var form map[string][]string
	p.handle("POST", "/negotiations", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Apply(context.Background(), ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.Employers)
	require.NotNil(t, form)
	assert.Equal(t, []string{"r1"}, form["resume_id"])
	assert.Equal(t, []string{"10"}, form["vacancy_id"])

	// The vacancy and employer land in the store.
	n, err := env.Store.Vacancies.Count(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = env.Store.Employers.Count(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	sites, err := env.Store.EmployerSites.Find(nil)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "https://acme.example", sites[0].SiteURL)
}

func TestApplyExcludedTerms(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/resumes/r1/similar_vacancies", page(map[string]interface{}{
		"id":   float64(11),
		"name": "Senior Bitrix dev",
	}))

	env, _ := newTestEnv(t, p)
	env.Config.ExcludedTerms = []string{"junior", "bitrix"}

	stats, err := env.Apply(context.Background(), ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, p.count("POST", "/negotiations"))

	// Excluded vacancies are still persisted for contact mining.
	n, err := env.Store.Vacancies.Count(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestApplyExcludedTermInSnippet(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/resumes/r1/similar_vacancies", page(map[string]interface{}{
		"id":   float64(12),
		"name": "Backend engineer",
		"snippet": map[string]interface{}{
			"requirement": "Experience with 1C-Bitrix required",
		},
	}))

	env, _ := newTestEnv(t, p)
	env.Config.ExcludedTerms = []string{"bitrix"}

	_, err := env.Apply(context.Background(), ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, p.count("POST", "/negotiations"))
}

func TestApplySkipsRelationsArchivedAndRedirects(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/resumes/r1/similar_vacancies", page(
		map[string]interface{}{
			"id": float64(20), "name": "Already applied",
			"relations": []interface{}{"got_rejection"},
		},
		map[string]interface{}{
			"id": float64(21), "name": "Archived", "archived": true,
		},
		map[string]interface{}{
			"id": float64(22), "name": "External",
			"response_url": "https://elsewhere.example/apply",
		},
	))

	env, _ := newTestEnv(t, p)
	stats, err := env.Apply(context.Background(), ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 0, p.count("POST", "/negotiations"))
}

func TestApplyLimitExceededKeepsCollecting(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/resumes/r1/similar_vacancies", page(
		map[string]interface{}{"id": float64(30), "name": "First"},
		map[string]interface{}{
			"id": float64(31), "name": "Second",
			"contacts": map[string]interface{}{
				"email": "hr@acme.ru",
				"name":  "HR",
				"phones": []interface{}{map[string]interface{}{
					"number": "1234567", "formatted": "+7 (123) 456-7",
				}},
			},
		},
	))
	p.handle("POST", "/negotiations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"value":"limit_exceeded"}]}`))
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Apply(context.Background(), ApplyOptions{})
	require.NoError(t, err)

	// One attempt hits the cap; the second vacancy is mined, not submitted.
	assert.Equal(t, 1, p.count("POST", "/negotiations"))
	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 1, stats.Contacts)

	contacts, err := env.Store.VacancyContacts.Find(nil)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "hr@acme.ru", contacts[0].Email)
	assert.Equal(t, "+7 (123) 456-7", contacts[0].Phones)
}

func TestApplyRequiredLetterFromTemplate(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/me", map[string]interface{}{
		"first_name": "Ivan", "last_name": "Petrov",
	})
	p.handleJSON("GET", "/resumes/r1/similar_vacancies", page(map[string]interface{}{
		"id":                       float64(40),
		"name":                     "Backend engineer",
		"employer":                 map[string]interface{}{"name": "Acme"},
		"response_letter_required": true,
	}))

	var form map[string][]string
	p.handle("POST", "/negotiations", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Apply(context.Background(), ApplyOptions{
		MessageTemplates: []string{"Здравствуйте! Меня зовут %(first_name)s, вакансия %(vacancy_name)s."},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Applied)
	require.NotNil(t, form)
	assert.Equal(t,
		[]string{"Здравствуйте! Меня зовут Ivan, вакансия Backend engineer."},
		form["message"])
}

func TestApplyRequiredLetterWithoutTemplateSkips(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/resumes/r1/similar_vacancies", page(map[string]interface{}{
		"id":                       float64(41),
		"name":                     "Backend engineer",
		"response_letter_required": true,
	}))

	env, _ := newTestEnv(t, p)
	stats, err := env.Apply(context.Background(), ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, p.count("POST", "/negotiations"))
}

func negotiationItem(id int64, state, resumeID string, extra map[string]interface{}) map[string]interface{} {
	item := map[string]interface{}{
		"id":     float64(id),
		"state":  map[string]interface{}{"id": state},
		"resume": map[string]interface{}{"id": resumeID},
		"vacancy": map[string]interface{}{
			"id":       float64(100 + id),
			"name":     fmt.Sprintf("Vacancy %d", id),
			"employer": map[string]interface{}{"id": float64(500 + id), "name": "Acme"},
		},
	}
	for k, v := range extra {
		item[k] = v
	}
	return item
}

func TestReplyWithTemplate(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/me", map[string]interface{}{"first_name": "Ivan"})
	p.handleJSON("GET", "/negotiations", page(
		negotiationItem(1, "response", "r1", map[string]interface{}{
			"viewed_by_opponent": false,
		}),
	))
	p.handleJSON("GET", "/negotiations/1/messages", page(
		map[string]interface{}{
			"text":       "Добрый день, расскажите о себе",
			"created_at": "2026-01-09T04:12:00+0300",
			"author":     map[string]interface{}{"participant_type": "employer"},
		},
	))

	var form map[string][]string
	p.handle("POST", "/negotiations/1/messages", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Reply(context.Background(), ReplyOptions{
		Template: "Добрый день! Готов обсудить %(vacancy_name)s.",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Replied)
	require.NotNil(t, form)
	assert.Equal(t, []string{"Добрый день! Готов обсудить Vacancy 1."}, form["message"])
}

func TestReplySkipsAnsweredAndForeignChats(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/negotiations", page(
		// Last word is ours and the employer saw it: nothing to do.
		negotiationItem(1, "response", "r1", map[string]interface{}{
			"viewed_by_opponent": true,
		}),
		// Discarded negotiations are never answered.
		negotiationItem(2, "discard", "r1", nil),
		// Unknown resume: not ours to answer.
		negotiationItem(3, "response", "other", nil),
	))
	p.handleJSON("GET", "/negotiations/1/messages", page(
		map[string]interface{}{
			"text":   "Спасибо, отправил резюме",
			"author": map[string]interface{}{"participant_type": "applicant"},
		},
	))

	env, _ := newTestEnv(t, p)
	stats, err := env.Reply(context.Background(), ReplyOptions{Template: "x"})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Replied)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 0, p.count("POST", "/negotiations/1/messages"))
}

func TestReplyOnlyInvitations(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/me", map[string]interface{}{})
	p.handleJSON("GET", "/negotiations", page(
		negotiationItem(1, "response", "r1", map[string]interface{}{"viewed_by_opponent": false}),
		negotiationItem(2, "invitation", "r1", map[string]interface{}{"viewed_by_opponent": false}),
	))
	employerMessage := page(map[string]interface{}{
		"text":   "Приглашаем на интервью",
		"author": map[string]interface{}{"participant_type": "employer"},
	})
	p.handleJSON("GET", "/negotiations/1/messages", employerMessage)
	p.handleJSON("GET", "/negotiations/2/messages", employerMessage)
	p.handle("POST", "/negotiations/2/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Reply(context.Background(), ReplyOptions{
		Template:        "Спасибо!",
		OnlyInvitations: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Replied)
	assert.Equal(t, 0, p.count("GET", "/negotiations/1/messages"))
	assert.Equal(t, 1, p.count("POST", "/negotiations/2/messages"))
}

func TestReplyInteractiveBanAndCancel(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(publishedResume("r1", "Go developer")))
	p.handleJSON("GET", "/me", map[string]interface{}{})
	p.handleJSON("GET", "/negotiations", page(
		negotiationItem(1, "response", "r1", map[string]interface{}{"viewed_by_opponent": false}),
	))
	p.handleJSON("GET", "/negotiations/1/messages", page(map[string]interface{}{
		"text":   "Предлагаем сетевой маркетинг",
		"author": map[string]interface{}{"participant_type": "employer"},
	}))
	p.handle("PUT", "/employers/blacklisted/501", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	env, _ := newTestEnv(t, p)
	env.In = strings.NewReader("/ban\n")

	stats, err := env.Reply(context.Background(), ReplyOptions{Interactive: true})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Banned)
	assert.Equal(t, 1, p.count("PUT", "/employers/blacklisted/501"))
	assert.Equal(t, 0, stats.Replied)
}

func TestClearDiscardOnly(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/negotiations", page(
		negotiationItem(1, "discard", "r1", nil),
		negotiationItem(2, "response", "r1", nil),
	))
	p.handle("DELETE", "/negotiations/active/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Clear(context.Background(), ClearOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, p.count("DELETE", "/negotiations/active/1"))
	assert.Equal(t, 0, p.count("DELETE", "/negotiations/active/2"))
}

func TestClearOlderThanSelectsByAge(t *testing.T) {
	old := time.Now().AddDate(0, 0, -30).Format("2006-01-02T15:04:05-0700")
	fresh := time.Now().Format("2006-01-02T15:04:05-0700")

	p := newPortal()
	p.handleJSON("GET", "/negotiations", page(
		negotiationItem(1, "response", "r1", map[string]interface{}{"updated_at": old}),
		negotiationItem(2, "discard", "r1", map[string]interface{}{"updated_at": fresh}),
		negotiationItem(3, "response", "r1", map[string]interface{}{"updated_at": fresh}),
	))
	p.handle("DELETE", "/negotiations/active/1", func(w http.ResponseWriter, r *http.Request) {
		// A still-active response is cancelled with a decline marker.
		assert.Equal(t, "true", r.URL.Query().Get("with_decline_message"))
		w.WriteHeader(http.StatusNoContent)
	})
	p.handle("DELETE", "/negotiations/active/2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Clear(context.Background(), ClearOptions{OlderThanDays: 7})
	require.NoError(t, err)

	// The age cutoff widens the discard selection, it does not replace it.
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, 1, p.count("DELETE", "/negotiations/active/1"))
	assert.Equal(t, 1, p.count("DELETE", "/negotiations/active/2"))
	assert.Equal(t, 0, p.count("DELETE", "/negotiations/active/3"))
}

func TestClearBlacklistIsIdempotent(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/employers/blacklisted", page(
		map[string]interface{}{"id": float64(501)},
	))
	p.handleJSON("GET", "/negotiations", page(
		negotiationItem(1, "discard", "r1", nil), // employer 501, already banned
		negotiationItem(2, "discard", "r1", nil), // employer 502
	))
	for _, id := range []int64{1, 2} {
		p.handle("DELETE", fmt.Sprintf("/negotiations/active/%d", id),
			func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}
	p.handle("PUT", "/employers/blacklisted/502", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	env, _ := newTestEnv(t, p)
	stats, err := env.Clear(context.Background(), ClearOptions{Blacklist: true})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, 1, stats.Blacklisted)
	assert.Equal(t, 0, p.count("PUT", "/employers/blacklisted/501"))
	assert.Equal(t, 1, p.count("PUT", "/employers/blacklisted/502"))
}

func TestUpdateResumes(t *testing.T) {
	publishable := publishedResume("r1", "Go developer")
	publishable["can_publish_or_update"] = true

	p := newPortal()
	p.handleJSON("GET", "/resumes/mine", page(
		publishable,
		publishedResume("r2", "Stale resume"),
	))
	p.handle("POST", "/resumes/r1/publish", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	env, _ := newTestEnv(t, p)
	updated, err := env.UpdateResumes(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, p.count("POST", "/resumes/r1/publish"))
	assert.Equal(t, 0, p.count("POST", "/resumes/r2/publish"))
}

func TestSyncNegotiations(t *testing.T) {
	p := newPortal()
	p.handleJSON("GET", "/negotiations", page(
		negotiationItem(1, "response", "r1", nil),
		negotiationItem(2, "invitation", "r1", nil),
	))

	env, _ := newTestEnv(t, p)
	synced, err := env.SyncNegotiations(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	n, err := env.Store.Negotiations.Count(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRefreshTokenPersists(t *testing.T) {
	p := newPortal()
	p.handleJSON("POST", "/token", map[string]interface{}{
		"access_token":  "USER.new",
		"refresh_token": "R2",
		"expires_in":    float64(86400),
	})
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	oauth, err := api.NewOAuthClient(api.OAuthOptions{
		ClientOptions: api.ClientOptions{BaseURL: srv.URL + "/", Delay: time.Millisecond},
	})
	require.NoError(t, err)

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.SetToken(api.AccessToken{
		AccessToken: "USER.old", RefreshToken: "R", AccessExpiresAt: 1000,
	}))

	client, err := api.NewAPIClient(api.APIClientOptions{
		ClientOptions: api.ClientOptions{BaseURL: srv.URL + "/", Delay: time.Millisecond},
		Token:         *cfg.Token,
	})
	require.NoError(t, err)

	env := &Env{API: client, OAuth: oauth, Config: cfg, Out: io.Discard}
	refreshed, err := env.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)

	reloaded, err := config.Load(cfg.ProfileDir())
	require.NoError(t, err)
	require.NotNil(t, reloaded.Token)
	assert.Equal(t, "USER.new", reloaded.Token.AccessToken)
	assert.Equal(t, "R2", reloaded.Token.RefreshToken)
	assert.Greater(t, reloaded.Token.AccessExpiresAt, time.Now().Unix())
}

func TestRefreshTokenSkipsLiveToken(t *testing.T) {
	p := newPortal()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	client, err := api.NewAPIClient(api.APIClientOptions{
		ClientOptions: api.ClientOptions{BaseURL: srv.URL + "/", Delay: time.Millisecond},
		Token: api.AccessToken{
			AccessToken: "live", RefreshToken: "R",
			AccessExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	})
	require.NoError(t, err)

	env := &Env{API: client, Out: io.Discard}
	refreshed, err := env.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, 0, p.count("POST", "/token"))
}
