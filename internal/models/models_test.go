package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(t *testing.T, raw string) Payload {
	t.Helper()
	var data Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return data
}

func TestPathTraversal(t *testing.T) {
	data := payload(t, `{"area":{"id":"1","name":"Москва"},"salary":null}`)

	v, ok := Path(data, "area.name")
	assert.True(t, ok)
	assert.Equal(t, "Москва", v)

	_, ok = Path(data, "area.missing")
	assert.False(t, ok)

	// nil intermediate aborts cleanly.
	_, ok = Path(data, "salary.from")
	assert.False(t, ok)

	_, ok = Path(data, "area.name.deeper")
	assert.False(t, ok)
}

func TestVacancyFromAPI(t *testing.T) {
	data := payload(t, `{
		"id": "93353083",
		"name": "Go Developer",
		"alternate_url": "https://hh.ru/vacancy/93353083",
		"area": {"id": "1", "name": "Москва"},
		"salary": {"from": 200000, "to": null, "currency": "RUR", "gross": true},
		"schedule": {"id": "remote", "name": "Удаленная работа"},
		"experience": {"id": "between3And6"},
		"professional_roles": [{"id": "96", "name": "Программист, разработчик"}],
		"created_at": "2024-03-01T10:30:00+0300"
	}`)

	v := VacancyFromAPI(data)
	assert.Equal(t, int64(93353083), v.ID)
	assert.Equal(t, "Go Developer", v.Name)
	assert.Equal(t, int64(1), v.AreaID)
	assert.Equal(t, "Москва", v.AreaName)
	assert.True(t, v.Remote)
	assert.Equal(t, "between3And6", v.Experience)
	assert.Equal(t, []string{"Программист, разработчик"}, v.ProfessionalRoles)
	assert.Equal(t, 2024, v.CreatedAt.Year())

	// Missing "to" collapses onto "from".
	assert.Equal(t, int64(200000), v.SalaryFrom)
	assert.Equal(t, int64(200000), v.SalaryTo)
}

func TestVacancySalaryCollapse(t *testing.T) {
	onlyTo := VacancyFromAPI(payload(t, `{"id":1,"salary":{"to":150000}}`))
	assert.Equal(t, int64(150000), onlyTo.SalaryFrom)
	assert.Equal(t, int64(150000), onlyTo.SalaryTo)

	none := VacancyFromAPI(payload(t, `{"id":1}`))
	assert.Equal(t, int64(0), none.SalaryFrom)
	assert.Equal(t, int64(0), none.SalaryTo)
}

func TestVacancyRowRoundTrip(t *testing.T) {
	v := Vacancy{
		ID:                7,
		Name:              "Backend",
		Remote:            true,
		ProfessionalRoles: []string{"a", "b"},
		SalaryFrom:        100,
		SalaryTo:          200,
		CreatedAt:         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	row := v.ToRow()

	// JSON-packed column stores a JSON document.
	assert.Equal(t, `["a","b"]`, row["professional_roles"])

	got := VacancyFromRow(row)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, v.ProfessionalRoles, got.ProfessionalRoles)
	assert.True(t, got.CreatedAt.Equal(v.CreatedAt))
}

func TestNegotiationNullableEmployer(t *testing.T) {
	hidden := NegotiationFromAPI(payload(t, `{
		"id": 5, "chat_id": 9,
		"state": {"id": "response"},
		"vacancy": {"id": 11, "employer": null},
		"resume": {"id": "abc"}
	}`))
	assert.Nil(t, hidden.EmployerID)
	assert.Equal(t, "response", hidden.State)
	assert.Equal(t, int64(11), hidden.VacancyID)

	row := hidden.ToRow()
	assert.Nil(t, row["employer_id"])
	assert.Nil(t, NegotiationFromRow(row).EmployerID)

	visible := NegotiationFromAPI(payload(t, `{
		"id": 5, "vacancy": {"id": 11, "employer": {"id": "77"}}
	}`))
	require.NotNil(t, visible.EmployerID)
	assert.Equal(t, int64(77), *visible.EmployerID)
}

func TestVacancyContactsPhones(t *testing.T) {
	c := VacancyContactsFromAPI(payload(t, `{
		"id": 3,
		"name": "QA",
		"employer": {"id": 8, "name": "Acme"},
		"contacts": {
			"name": "Анна",
			"email": "hr@acme.ru",
			"phones": [
				{"number": "1234567", "formatted": "+7 (900) 123-45-67"},
				{"number": "", "formatted": "dropped"},
				{"number": "7654321", "formatted": "+7 (900) 765-43-21"}
			]
		}
	}`))
	assert.Equal(t, "hr@acme.ru", c.Email)
	assert.Equal(t, "Анна", c.Name)
	assert.Equal(t, "+7 (900) 123-45-67,+7 (900) 765-43-21", c.Phones)
}

func TestResumeFromAPI(t *testing.T) {
	r := ResumeFromAPI(payload(t, `{
		"id": "abc123",
		"title": "Go разработчик",
		"status": {"id": "published", "name": "опубликовано"},
		"can_publish_or_update": true,
		"total_views": 12
	}`))
	assert.Equal(t, "abc123", r.ID)
	assert.Equal(t, "published", r.StatusID)
	assert.True(t, r.CanPublishOrUpdate)
	assert.Equal(t, int64(12), r.TotalViews)
	assert.True(t, r.CreatedAt.IsZero())
	assert.Nil(t, r.ToRow()["created_at"])
}

func TestCoercions(t *testing.T) {
	assert.Equal(t, int64(42), AsInt("42"))
	assert.Equal(t, int64(42), AsInt(float64(42)))
	assert.Equal(t, "42", AsString(float64(42)))
	assert.True(t, AsBool("true"))
	assert.False(t, AsBool(nil))

	ts := AsTime("2024-03-01T10:30:00+03:00")
	assert.Equal(t, 2024, ts.Year())
	// Numbers are epoch seconds (settings read-side coercion).
	assert.Equal(t, int64(1700000000), AsTime(float64(1700000000)).Unix())
}
