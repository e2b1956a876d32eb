package chatstore

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
)

const SectionSlug = "journal"

type Settings struct {
	DSN string `glazed:"journal-dsn"`
	DB  string `glazed:"journal-db"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Frame journal",
		schema.WithFields(
			fields.New("journal-dsn", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("SQLite DSN for the frame journal (preferred over journal-db)")),
			fields.New("journal-db", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("SQLite DB file path for the frame journal (DSN derived with WAL/busy_timeout)")),
		),
	)
}

func (s Settings) Configured() bool {
	return s.DSN != "" || s.DB != ""
}

func (s Settings) resolveDSN() (string, error) {
	if s.DSN != "" {
		return s.DSN, nil
	}
	if s.DB == "" {
		return "", errors.New("journal not configured (set --journal-dsn or --journal-db)")
	}
	return SQLiteDSNForFile(s.DB)
}

// Open opens the SQLite journal the settings point to.
func (s Settings) Open() (*SQLiteJournal, error) {
	dsn, err := s.resolveDSN()
	if err != nil {
		return nil, err
	}
	return NewSQLiteJournal(dsn)
}
