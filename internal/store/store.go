// Package store provides the local persistence facade: an embedded SQLite
// database, a generic repository per entity, and JSON-encoded settings.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hhpilot/internal/logging"
	"hhpilot/internal/models"
)

// Store wires the shared connection and the per-entity repositories.
type Store struct {
	db     *sql.DB
	dbPath string

	Resumes         *Repository[models.Resume]
	Vacancies       *Repository[models.Vacancy]
	Employers       *Repository[models.Employer]
	VacancyContacts *Repository[models.VacancyContacts]
	EmployerSites   *Repository[models.EmployerSite]
	Negotiations    *Repository[models.Negotiation]
	Settings        *Repository[models.Setting]
}

// Open initializes the SQLite database at the given path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	logging.Store("opening database at %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	s.initRepos(db)

	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initRepos(q querier) {
	s.Resumes = NewRepository(q, Spec[models.Resume]{
		Table:          "resumes",
		UpdateExcludes: []string{"created_at"},
		FromRow:        models.ResumeFromRow,
		FromAPI:        models.ResumeFromAPI,
	})
	s.Vacancies = NewRepository(q, Spec[models.Vacancy]{
		Table:          "vacancies",
		UpdateExcludes: []string{"created_at"},
		FromRow:        models.VacancyFromRow,
		FromAPI:        models.VacancyFromAPI,
	})
	s.Employers = NewRepository(q, Spec[models.Employer]{
		Table:          "employers",
		UpdateExcludes: []string{"created_at"},
		FromRow:        models.EmployerFromRow,
		FromAPI:        models.EmployerFromAPI,
	})
	s.VacancyContacts = NewRepository(q, Spec[models.VacancyContacts]{
		Table:           "vacancy_contacts",
		ConflictColumns: []string{"vacancy_id", "email"},
		FromRow:         models.VacancyContactsFromRow,
		FromAPI:         models.VacancyContactsFromAPI,
	})
	s.EmployerSites = NewRepository(q, Spec[models.EmployerSite]{
		Table:           "employer_sites",
		ConflictColumns: []string{"employer_id", "site_url"},
		FromRow:         models.EmployerSiteFromRow,
	})
	s.Negotiations = NewRepository(q, Spec[models.Negotiation]{
		Table:          "negotiations",
		UpdateExcludes: []string{"created_at"},
		FromRow:        models.NegotiationFromRow,
		FromAPI:        models.NegotiationFromAPI,
	})
	s.Settings = NewRepository(q, Spec[models.Setting]{
		Table:      "settings",
		PrimaryKey: "key",
		FromRow:    models.SettingFromRow,
	})
}

// DB exposes the shared connection for the SQL console.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Transaction runs fn against a store clone bound to one transaction: commit
// on a nil return, rollback otherwise.
func (s *Store) Transaction(fn func(*Store) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapErr("begin", err)
	}

	clone := &Store{db: s.db, dbPath: s.dbPath}
	clone.initRepos(tx)

	if err := fn(clone); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.StoreError("rollback failed: %v", rbErr)
		}
		return err
	}
	return wrapErr("commit", tx.Commit())
}

// GetSetting reads a setting, decoding its JSON value. The second return is
// false when the key is absent.
func (s *Store) GetSetting(key string) (interface{}, bool, error) {
	setting, ok, err := s.Settings.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	var value interface{}
	if err := json.Unmarshal([]byte(setting.Value), &value); err != nil {
		return nil, false, wrapErr("setting", fmt.Errorf("corrupt value for %q: %w", key, err))
	}
	return value, true, nil
}

// GetSettingTime reads a setting stored as epoch seconds.
func (s *Store) GetSettingTime(key string) (time.Time, bool, error) {
	value, ok, err := s.GetSetting(key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return models.AsTime(value), true, nil
}

// SetSetting stores a JSON-encoded setting. Datetimes are written as integer
// epoch seconds.
func (s *Store) SetSetting(key string, value interface{}) error {
	if t, ok := value.(time.Time); ok {
		value = t.Unix()
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return wrapErr("setting", err)
	}
	return s.Settings.Save(models.Setting{Key: key, Value: string(encoded)})
}

// DeleteSetting removes a setting if present.
func (s *Store) DeleteSetting(key string) error {
	return s.Settings.Delete(key)
}
