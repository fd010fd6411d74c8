// Package store keeps named Forth source listings in SQLite so a session can
// save its accepted lines and replay them later.
package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/antibyte/retroforth/pkg/logger"
)

// MaxNameLength bounds program names.
const MaxNameLength = 64

var (
	ErrProgramNotFound = errors.New("program not found")
	ErrInvalidName     = errors.New("invalid program name")
)

// Program is one stored source listing.
type Program struct {
	Name      string
	Source    string
	UpdatedAt time.Time
}

// Lines splits the source back into interpreter lines.
func (p Program) Lines() []string {
	if p.Source == "" {
		return nil
	}
	return strings.Split(p.Source, "\n")
}

// Store is a program library backed by a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema exists.
// ":memory:" gives a private in-memory library.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	s := &Store{db: db, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info(logger.AreaDatabase, "Program library opened: %s", path)
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS programs (
			name TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return errors.Wrap(err, "failed to create tables")
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NormalizeName trims and lower-cases a program name and rejects empty,
// overlong or whitespace-containing names.
func NormalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(name) > MaxNameLength || strings.ContainsAny(name, " \t\r\n") {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return name, nil
}

// Save stores lines under name, replacing an existing program.
func (s *Store) Save(name string, lines []string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO programs (name, source, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at`,
		name, strings.Join(lines, "\n"), s.now().UnixNano(),
	)
	if err != nil {
		return errors.Wrapf(err, "save program %s", name)
	}
	logger.Debug(logger.AreaDatabase, "Saved program %s (%d lines)", name, len(lines))
	return nil
}

// Load returns the program stored under name.
func (s *Store) Load(name string) (Program, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return Program{}, err
	}

	var (
		p       Program
		updated int64
	)
	err = s.db.QueryRow(
		"SELECT name, source, updated_at FROM programs WHERE name = ?", name,
	).Scan(&p.Name, &p.Source, &updated)
	if err == sql.ErrNoRows {
		return Program{}, errors.Wrap(ErrProgramNotFound, name)
	}
	if err != nil {
		return Program{}, errors.Wrapf(err, "load program %s", name)
	}
	p.UpdatedAt = time.Unix(0, updated)
	return p, nil
}

// List returns all program names in alphabetical order.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM programs ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(err, "list programs")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan program name")
		}
		names = append(names, name)
	}
	return names, errors.Wrap(rows.Err(), "list programs")
}

// Delete removes the program stored under name.
func (s *Store) Delete(name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return errors.Wrapf(err, "delete program %s", name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrap(ErrProgramNotFound, name)
	}
	logger.Debug(logger.AreaDatabase, "Deleted program %s", name)
	return nil
}
