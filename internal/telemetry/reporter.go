package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"hhpilot/internal/logging"
	"hhpilot/internal/models"
	"hhpilot/internal/packer"
	"hhpilot/internal/store"
)

const (
	// DefaultServerURL is overridden by the TELEMETRY_SERVER environment
	// variable.
	DefaultServerURL = "https://telemetry.hhpilot.dev/report"

	// ReportInterval is the minimum spacing between reports.
	ReportInterval = 72 * time.Hour

	lastReportKey = "_last_report"
	maxRecords    = 10000
	postTimeout   = 15 * time.Second
)

// Reporter builds and delivers diagnostic reports.
type Reporter struct {
	Store    *store.Store
	ClientID string
	Version  string

	// ErrorLogPath feeds the traceback collector; empty skips error logs.
	ErrorLogPath string

	// ServerURL defaults to TELEMETRY_SERVER or DefaultServerURL.
	ServerURL string

	httpClient *http.Client
}

// ServerURLFromEnv resolves the endpoint.
func ServerURLFromEnv() string {
	if url := os.Getenv("TELEMETRY_SERVER"); url != "" {
		return url
	}
	return DefaultServerURL
}

func (r *Reporter) client() *http.Client {
	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: postTimeout}
	}
	return r.httpClient
}

func (r *Reporter) url() string {
	if r.ServerURL != "" {
		return r.ServerURL
	}
	return ServerURLFromEnv()
}

// Due reports whether the last delivery is older than the interval.
func (r *Reporter) Due() (bool, error) {
	last, ok, err := r.Store.GetSettingTime(lastReportKey)
	if err != nil {
		return false, err
	}
	return !ok || time.Since(last) >= ReportInterval, nil
}

// MaybeReport sends a report when one is due. The attempt timestamp is
// recorded whether or not delivery succeeds, so a dead endpoint cannot make
// every run retry.
func (r *Reporter) MaybeReport(ctx context.Context) error {
	due, err := r.Due()
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	last, _, err := r.Store.GetSettingTime(lastReportKey)
	if err != nil {
		return err
	}

	report, err := r.BuildReport(last)
	if err != nil {
		return err
	}

	sendErr := r.send(ctx, report)
	if err := r.Store.SetSetting(lastReportKey, time.Now()); err != nil {
		return err
	}
	if sendErr != nil {
		logging.TelemetryWarn("report delivery failed: %v", sendErr)
	}
	return sendErr
}

// BuildReport assembles the report map: error-log tracebacks and records
// updated since the previous report, trimmed to the newest entries.
func (r *Reporter) BuildReport(since time.Time) (map[interface{}]interface{}, error) {
	errorLogs := ""
	if r.ErrorLogPath != "" {
		if f, err := os.Open(r.ErrorLogPath); err == nil {
			logs, err := CollectTracebacks(f, since, DefaultMaxTracebackLines)
			f.Close()
			if err != nil {
				return nil, err
			}
			errorLogs = logs
		}
	}

	filters := models.Row{}
	if !since.IsZero() {
		filters["updated_at__ge"] = since
	}

	contacts, err := r.Store.VacancyContacts.FindLimit(filters, maxRecords)
	if err != nil {
		return nil, err
	}
	employers, err := r.Store.Employers.FindLimit(filters, maxRecords)
	if err != nil {
		return nil, err
	}
	vacancies, err := r.Store.Vacancies.FindLimit(filters, maxRecords)
	if err != nil {
		return nil, err
	}

	contactRows := make([]interface{}, len(contacts))
	for i, c := range contacts {
		contactRows[i] = map[interface{}]interface{}{
			"vacancy_id":    c.VacancyID,
			"email":         c.Email,
			"vacancy_name":  c.VacancyName,
			"vacancy_url":   c.VacancyURL,
			"employer_id":   c.EmployerID,
			"employer_name": c.EmployerName,
			"name":          c.Name,
			"phones":        c.Phones,
		}
	}
	employerRows := make([]interface{}, len(employers))
	for i, e := range employers {
		employerRows[i] = map[interface{}]interface{}{
			"id":            e.ID,
			"name":          e.Name,
			"type":          e.Type,
			"site_url":      e.SiteURL,
			"area_name":     e.AreaName,
			"alternate_url": e.AlternateURL,
		}
	}
	vacancyRows := make([]interface{}, len(vacancies))
	for i, v := range vacancies {
		vacancyRows[i] = map[interface{}]interface{}{
			"id":            v.ID,
			"name":          v.Name,
			"alternate_url": v.AlternateURL,
			"area_name":     v.AreaName,
			"remote":        v.Remote,
		}
	}

	hostname, _ := os.Hostname()
	return map[interface{}]interface{}{
		"client_id":        r.ClientID,
		"error_logs":       errorLogs,
		"vacancy_contacts": contactRows,
		"employers":        employerRows,
		"vacancies":        vacancyRows,
		"package_version":  r.Version,
		"system_info": map[interface{}]interface{}{
			"os":                       runtime.GOOS,
			"os_release":               osRelease(),
			"hostname":                 hostname,
			"language_runtime_version": runtime.Version(),
		},
		"report_created": time.Now(),
	}, nil
}

// send packs the report and POSTs it with a hard timeout.
func (r *Reporter) send(ctx context.Context, report map[interface{}]interface{}) error {
	frame, err := packer.Marshal(report, packer.CompressionZlib)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", r.url(), bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Client-Id", r.ClientID)

	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint answered %d", resp.StatusCode)
	}
	logging.Telemetry("report delivered: %d bytes", len(frame))
	return nil
}

// Delete asks the endpoint to drop everything stored for this client.
func (r *Reporter) Delete(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "DELETE", r.url(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Client-Id", r.ClientID)

	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint answered %d", resp.StatusCode)
	}
	return nil
}

// osRelease reads the kernel release where the platform exposes one.
func osRelease() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
