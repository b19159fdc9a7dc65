package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hhpilot/internal/api"
	"hhpilot/internal/logging"
	"hhpilot/internal/models"
	"hhpilot/internal/textutil"
)

// WebBaseURL is the browser-facing site; the test-form endpoints live here,
// not under the mobile API host.
const WebBaseURL = "https://hh.ru/"

// The form page is a minified HTML blob; the embedded state is located by
// literal markers. When the portal reshuffles the page these splits fail and
// the solver reports a bad response instead of guessing.
const (
	testsOpenMarker  = `,"vacancyTests":`
	testsCloseMarker = `,"counters":`
	xsrfMarker       = `"xsrfToken":"`
)

// WebClient drives the browser-facing form endpoints. It shares the HTTP
// session (cookies, proxy) with the API client.
type WebClient struct {
	session   *http.Client
	baseURL   string
	userAgent string
}

// NewWebClient builds a web client on top of an existing session.
func NewWebClient(session *http.Client, userAgent string) *WebClient {
	return &WebClient{session: session, baseURL: WebBaseURL, userAgent: userAgent}
}

// TestFormResult reports the outcome of a form submission.
type TestFormResult struct {
	Accepted      bool
	LimitExceeded bool
}

// splitBetween extracts the substring between two literal markers.
func splitBetween(s, open, close string) (string, bool) {
	_, rest, ok := strings.Cut(s, open)
	if !ok {
		return "", false
	}
	inner, _, ok := strings.Cut(rest, close)
	if !ok {
		return "", false
	}
	return inner, true
}

func (w *WebClient) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.session.Do(req)
	if err != nil {
		return "", &api.BadResponseError{URL: target, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &api.BadResponseError{URL: target, StatusCode: resp.StatusCode, Reason: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &api.BadResponseError{URL: target, StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}
	return string(body), nil
}

// SolveTestForm loads the vacancy response page, answers every test task, and
// submits the form. Tasks with candidate solutions get a random pick; free
// text tasks get a short random answer.
func (w *WebClient) SolveTestForm(ctx context.Context, vacancyID int64, resumeHash, letter string) (TestFormResult, error) {
	var result TestFormResult

	pageURL := fmt.Sprintf(
		"%sapplicant/vacancy_response?vacancyId=%d&startedWithQuestion=false&hhtmFrom=vacancy",
		w.baseURL, vacancyID)

	html, err := w.fetch(ctx, pageURL)
	if err != nil {
		return result, err
	}

	rawTests, ok := splitBetween(html, testsOpenMarker, testsCloseMarker)
	if !ok {
		return result, &api.BadResponseError{URL: pageURL, Reason: "test block markers not found"}
	}
	xsrf, ok := splitBetween(html, xsrfMarker, `"`)
	if !ok {
		return result, &api.BadResponseError{URL: pageURL, Reason: "xsrf token not found"}
	}

	var tests models.Payload
	if err := json.Unmarshal([]byte(rawTests), &tests); err != nil {
		return result, &api.BadResponseError{URL: pageURL, Reason: "test block is not JSON"}
	}

	form := url.Values{}
	form.Set("_xsrf", xsrf)
	form.Set("uidPk", models.AsString(tests["uidPk"]))
	form.Set("guid", models.AsString(tests["guid"]))
	form.Set("startTime", models.AsString(tests["startTime"]))
	form.Set("testRequired", models.AsString(tests["testRequired"]))
	form.Set("vacancy_id", fmt.Sprint(vacancyID))
	form.Set("resume_hash", resumeHash)
	form.Set("ignore_postponed", "true")
	form.Set("incomplete", "false")
	form.Set("mark_applicant_visible_in_vacancy_country", "false")
	form.Set("country_ids", "[]")
	form.Set("lux", "true")
	form.Set("withoutTest", "no")
	form.Set("letter", letter)

	tasks, _ := tests["tasks"].([]interface{})
	for _, raw := range tasks {
		task, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		taskID := models.AsString(task["id"])
		solutions, _ := task["solutions"].([]interface{})
		if len(solutions) > 0 {
			pick, _ := solutions[rand.Intn(len(solutions))].(map[string]interface{})
			form.Set("task_"+taskID, models.AsString(pick["id"]))
			continue
		}
		form.Set("task_"+taskID+"_text", textutil.RandomASCII(5, 35))
	}

	logging.Apply("submitting test form for vacancy %d (%d tasks)", vacancyID, len(tasks))
	pause(2*time.Second, 3*time.Second)

	submitURL := w.baseURL + "applicant/vacancy_response/popup"
	req, err := http.NewRequestWithContext(ctx, "POST", submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return result, err
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Xsrftoken", xsrf)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Hhtmfrom", "vacancy")
	req.Header.Set("X-Hhtmsource", "vacancy_response")

	resp, err := w.session.Do(req)
	if err != nil {
		return result, &api.BadResponseError{URL: submitURL, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, &api.BadResponseError{URL: submitURL, StatusCode: resp.StatusCode, Reason: err.Error()}
	}

	var answer models.Payload
	if err := json.Unmarshal(body, &answer); err != nil {
		return result, &api.BadResponseError{URL: submitURL, StatusCode: resp.StatusCode, Reason: "response is not JSON"}
	}

	result.Accepted = models.AsString(answer["success"]) == "true"
	result.LimitExceeded = models.AsString(answer["error"]) == "negotiations-limit-exceeded"
	return result, nil
}

// XSRFToken fetches the negotiations page and extracts the session token.
// Chat deletion needs it; an empty return means no usable browser session.
func (w *WebClient) XSRFToken(ctx context.Context) (string, error) {
	html, err := w.fetch(ctx, w.baseURL+"applicant/negotiations")
	if err != nil {
		return "", err
	}
	token, ok := splitBetween(html, xsrfMarker, `"`)
	if !ok {
		return "", nil
	}
	return token, nil
}

// DeleteChat moves a negotiation's chat to trash through the browser-facing
// endpoint.
func (w *WebClient) DeleteChat(ctx context.Context, xsrf string, chatID int64) error {
	form := url.Values{}
	form.Set("chatId", fmt.Sprint(chatID))

	target := w.baseURL + "applicant/negotiations/trash"
	req, err := http.NewRequestWithContext(ctx, "POST", target, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Xsrftoken", xsrf)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := w.session.Do(req)
	if err != nil {
		return &api.BadResponseError{URL: target, Reason: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &api.BadResponseError{URL: target, StatusCode: resp.StatusCode, Reason: "chat deletion rejected"}
	}
	return nil
}
