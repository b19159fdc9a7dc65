package models

import (
	"strings"
	"time"
)

// Resume is a seeker's resume. Only resumes with StatusID "published" take
// part in apply operations.
type Resume struct {
	ID                 string
	Title              string
	URL                string
	AlternateURL       string
	StatusID           string
	StatusName         string
	CanPublishOrUpdate bool
	TotalViews         int64
	NewViews           int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Resume) Table() string { return "resumes" }

func ResumeFromAPI(data Payload) Resume {
	return Resume{
		ID:                 pathString(data, "id"),
		Title:              pathString(data, "title"),
		URL:                pathString(data, "url"),
		AlternateURL:       pathString(data, "alternate_url"),
		StatusID:           pathString(data, "status.id"),
		StatusName:         pathString(data, "status.name"),
		CanPublishOrUpdate: pathBool(data, "can_publish_or_update"),
		TotalViews:         pathInt(data, "total_views"),
		NewViews:           pathInt(data, "new_views"),
		CreatedAt:          pathTime(data, "created_at"),
		UpdatedAt:          pathTime(data, "updated_at"),
	}
}

func ResumeFromRow(row Row) Resume {
	return Resume{
		ID:                 AsString(row["id"]),
		Title:              AsString(row["title"]),
		URL:                AsString(row["url"]),
		AlternateURL:       AsString(row["alternate_url"]),
		StatusID:           AsString(row["status_id"]),
		StatusName:         AsString(row["status_name"]),
		CanPublishOrUpdate: AsBool(row["can_publish_or_update"]),
		TotalViews:         AsInt(row["total_views"]),
		NewViews:           AsInt(row["new_views"]),
		CreatedAt:          rowTime(row, "created_at"),
		UpdatedAt:          rowTime(row, "updated_at"),
	}
}

func (r Resume) ToRow() Row {
	return Row{
		"id":                    r.ID,
		"title":                 r.Title,
		"url":                   r.URL,
		"alternate_url":         r.AlternateURL,
		"status_id":             r.StatusID,
		"status_name":           r.StatusName,
		"can_publish_or_update": r.CanPublishOrUpdate,
		"total_views":           r.TotalViews,
		"new_views":             r.NewViews,
		"created_at":            timeOrNil(r.CreatedAt),
		"updated_at":            timeOrNil(r.UpdatedAt),
	}
}

// Vacancy is a posted position. Salary bounds collapse onto each other when
// the payload carries only one of them.
type Vacancy struct {
	ID                int64
	Name              string
	AlternateURL      string
	AreaID            int64
	AreaName          string
	SalaryFrom        int64
	SalaryTo          int64
	SalaryCurrency    string
	SalaryGross       bool
	Remote            bool
	Experience        string
	ProfessionalRoles []string // JSON-packed column
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Vacancy) Table() string { return "vacancies" }

func VacancyFromAPI(data Payload) Vacancy {
	v := Vacancy{
		ID:             pathInt(data, "id"),
		Name:           pathString(data, "name"),
		AlternateURL:   pathString(data, "alternate_url"),
		AreaID:         pathInt(data, "area.id"),
		AreaName:       pathString(data, "area.name"),
		SalaryFrom:     pathInt(data, "salary.from"),
		SalaryTo:       pathInt(data, "salary.to"),
		SalaryCurrency: pathString(data, "salary.currency"),
		SalaryGross:    pathBool(data, "salary.gross"),
		Remote:         pathString(data, "schedule.id") == "remote",
		Experience:     pathString(data, "experience.id"),
		CreatedAt:      pathTime(data, "created_at"),
		UpdatedAt:      pathTime(data, "updated_at"),
	}
	if roles, ok := Path(data, "professional_roles"); ok {
		if list, ok := roles.([]interface{}); ok {
			for _, item := range list {
				if entry, ok := item.(map[string]interface{}); ok {
					if name := AsString(entry["name"]); name != "" {
						v.ProfessionalRoles = append(v.ProfessionalRoles, name)
					}
				}
			}
		}
	}
	// Collapse missing salary bounds: from = from or to or 0, and vice versa.
	if v.SalaryFrom == 0 {
		v.SalaryFrom = v.SalaryTo
	}
	if v.SalaryTo == 0 {
		v.SalaryTo = v.SalaryFrom
	}
	return v
}

func VacancyFromRow(row Row) Vacancy {
	return Vacancy{
		ID:                AsInt(row["id"]),
		Name:              AsString(row["name"]),
		AlternateURL:      AsString(row["alternate_url"]),
		AreaID:            AsInt(row["area_id"]),
		AreaName:          AsString(row["area_name"]),
		SalaryFrom:        AsInt(row["salary_from"]),
		SalaryTo:          AsInt(row["salary_to"]),
		SalaryCurrency:    AsString(row["salary_currency"]),
		SalaryGross:       AsBool(row["salary_gross"]),
		Remote:            AsBool(row["remote"]),
		Experience:        AsString(row["experience"]),
		ProfessionalRoles: unpackStrings(row["professional_roles"]),
		CreatedAt:         rowTime(row, "created_at"),
		UpdatedAt:         rowTime(row, "updated_at"),
	}
}

func (v Vacancy) ToRow() Row {
	return Row{
		"id":                 v.ID,
		"name":               v.Name,
		"alternate_url":      v.AlternateURL,
		"area_id":            v.AreaID,
		"area_name":          v.AreaName,
		"salary_from":        v.SalaryFrom,
		"salary_to":          v.SalaryTo,
		"salary_currency":    v.SalaryCurrency,
		"salary_gross":       v.SalaryGross,
		"remote":             v.Remote,
		"experience":         v.Experience,
		"professional_roles": packJSON(v.ProfessionalRoles),
		"created_at":         timeOrNil(v.CreatedAt),
		"updated_at":         timeOrNil(v.UpdatedAt),
	}
}

// Employer is a company profile.
type Employer struct {
	ID           int64
	Name         string
	Type         string
	Description  string
	SiteURL      string
	AreaID       int64
	AreaName     string
	AlternateURL string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Employer) Table() string { return "employers" }

func EmployerFromAPI(data Payload) Employer {
	return Employer{
		ID:           pathInt(data, "id"),
		Name:         pathString(data, "name"),
		Type:         pathString(data, "type"),
		Description:  pathString(data, "description"),
		SiteURL:      pathString(data, "site_url"),
		AreaID:       pathInt(data, "area.id"),
		AreaName:     pathString(data, "area.name"),
		AlternateURL: pathString(data, "alternate_url"),
		CreatedAt:    pathTime(data, "created_at"),
		UpdatedAt:    pathTime(data, "updated_at"),
	}
}

func EmployerFromRow(row Row) Employer {
	return Employer{
		ID:           AsInt(row["id"]),
		Name:         AsString(row["name"]),
		Type:         AsString(row["type"]),
		Description:  AsString(row["description"]),
		SiteURL:      AsString(row["site_url"]),
		AreaID:       AsInt(row["area_id"]),
		AreaName:     AsString(row["area_name"]),
		AlternateURL: AsString(row["alternate_url"]),
		CreatedAt:    rowTime(row, "created_at"),
		UpdatedAt:    rowTime(row, "updated_at"),
	}
}

func (e Employer) ToRow() Row {
	return Row{
		"id":            e.ID,
		"name":          e.Name,
		"type":          e.Type,
		"description":   e.Description,
		"site_url":      e.SiteURL,
		"area_id":       e.AreaID,
		"area_name":     e.AreaName,
		"alternate_url": e.AlternateURL,
		"created_at":    timeOrNil(e.CreatedAt),
		"updated_at":    timeOrNil(e.UpdatedAt),
	}
}

// VacancyContacts is a mined contact record, keyed by (vacancy_id, email).
type VacancyContacts struct {
	VacancyID    int64
	Email        string
	VacancyName  string
	VacancyURL   string
	EmployerID   int64
	EmployerName string
	Name         string
	Phones       string // comma-joined formatted numbers
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (VacancyContacts) Table() string { return "vacancy_contacts" }

// VacancyContactsFromAPI builds a contacts record from a vacancy payload.
// Phone entries without a number are dropped; the rest contribute their
// formatted form.
func VacancyContactsFromAPI(data Payload) VacancyContacts {
	c := VacancyContacts{
		VacancyID:    pathInt(data, "id"),
		Email:        pathString(data, "contacts.email"),
		VacancyName:  pathString(data, "name"),
		VacancyURL:   pathString(data, "alternate_url"),
		EmployerID:   pathInt(data, "employer.id"),
		EmployerName: pathString(data, "employer.name"),
		Name:         pathString(data, "contacts.name"),
	}
	if phones, ok := Path(data, "contacts.phones"); ok {
		if list, ok := phones.([]interface{}); ok {
			var formatted []string
			for _, item := range list {
				entry, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if AsString(entry["number"]) == "" {
					continue
				}
				if f := AsString(entry["formatted"]); f != "" {
					formatted = append(formatted, f)
				}
			}
			c.Phones = strings.Join(formatted, ",")
		}
	}
	return c
}

func VacancyContactsFromRow(row Row) VacancyContacts {
	return VacancyContacts{
		VacancyID:    AsInt(row["vacancy_id"]),
		Email:        AsString(row["email"]),
		VacancyName:  AsString(row["vacancy_name"]),
		VacancyURL:   AsString(row["vacancy_url"]),
		EmployerID:   AsInt(row["employer_id"]),
		EmployerName: AsString(row["employer_name"]),
		Name:         AsString(row["name"]),
		Phones:       AsString(row["phones"]),
		CreatedAt:    rowTime(row, "created_at"),
		UpdatedAt:    rowTime(row, "updated_at"),
	}
}

func (c VacancyContacts) ToRow() Row {
	return Row{
		"vacancy_id":    c.VacancyID,
		"email":         c.Email,
		"vacancy_name":  c.VacancyName,
		"vacancy_url":   c.VacancyURL,
		"employer_id":   c.EmployerID,
		"employer_name": c.EmployerName,
		"name":          c.Name,
		"phones":        c.Phones,
		"created_at":    timeOrNil(c.CreatedAt),
		"updated_at":    timeOrNil(c.UpdatedAt),
	}
}

// EmployerSite is a WHOIS-like record keyed by (employer_id, site_url).
type EmployerSite struct {
	EmployerID int64
	SiteURL    string
	IP         string
	Title      string
	Generator  string
	Server     string
	Emails     string // comma-joined
	Subdomains string // comma-joined
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (EmployerSite) Table() string { return "employer_sites" }

func EmployerSiteFromRow(row Row) EmployerSite {
	return EmployerSite{
		EmployerID: AsInt(row["employer_id"]),
		SiteURL:    AsString(row["site_url"]),
		IP:         AsString(row["ip"]),
		Title:      AsString(row["title"]),
		Generator:  AsString(row["generator"]),
		Server:     AsString(row["server"]),
		Emails:     AsString(row["emails"]),
		Subdomains: AsString(row["subdomains"]),
		CreatedAt:  rowTime(row, "created_at"),
		UpdatedAt:  rowTime(row, "updated_at"),
	}
}

func (s EmployerSite) ToRow() Row {
	return Row{
		"employer_id": s.EmployerID,
		"site_url":    s.SiteURL,
		"ip":          s.IP,
		"title":       s.Title,
		"generator":   s.Generator,
		"server":      s.Server,
		"emails":      s.Emails,
		"subdomains":  s.Subdomains,
		"created_at":  timeOrNil(s.CreatedAt),
		"updated_at":  timeOrNil(s.UpdatedAt),
	}
}

// Negotiation is an application thread. EmployerID is nil when the employer
// is hidden.
type Negotiation struct {
	ID         int64
	ChatID     int64
	State      string
	VacancyID  int64
	EmployerID *int64
	ResumeID   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Negotiation) Table() string { return "negotiations" }

func NegotiationFromAPI(data Payload) Negotiation {
	n := Negotiation{
		ID:        pathInt(data, "id"),
		ChatID:    pathInt(data, "chat_id"),
		State:     pathString(data, "state.id"),
		VacancyID: pathInt(data, "vacancy.id"),
		ResumeID:  pathString(data, "resume.id"),
		CreatedAt: pathTime(data, "created_at"),
		UpdatedAt: pathTime(data, "updated_at"),
	}
	if v, ok := Path(data, "vacancy.employer.id"); ok {
		id := AsInt(v)
		n.EmployerID = &id
	}
	return n
}

func NegotiationFromRow(row Row) Negotiation {
	n := Negotiation{
		ID:        AsInt(row["id"]),
		ChatID:    AsInt(row["chat_id"]),
		State:     AsString(row["state"]),
		VacancyID: AsInt(row["vacancy_id"]),
		ResumeID:  AsString(row["resume_id"]),
		CreatedAt: rowTime(row, "created_at"),
		UpdatedAt: rowTime(row, "updated_at"),
	}
	if v, ok := row["employer_id"]; ok && v != nil {
		id := AsInt(v)
		n.EmployerID = &id
	}
	return n
}

func (n Negotiation) ToRow() Row {
	row := Row{
		"id":         n.ID,
		"chat_id":    n.ChatID,
		"state":      n.State,
		"vacancy_id": n.VacancyID,
		"resume_id":  n.ResumeID,
		"created_at": timeOrNil(n.CreatedAt),
		"updated_at": timeOrNil(n.UpdatedAt),
	}
	if n.EmployerID != nil {
		row["employer_id"] = *n.EmployerID
	} else {
		row["employer_id"] = nil
	}
	return row
}

// Setting is a key/value pair; the value column always holds valid JSON.
type Setting struct {
	Key   string
	Value string
}

func (Setting) Table() string { return "settings" }

func SettingFromRow(row Row) Setting {
	return Setting{
		Key:   AsString(row["key"]),
		Value: AsString(row["value"]),
	}
}

func (s Setting) ToRow() Row {
	return Row{"key": s.Key, "value": s.Value}
}
