package monitoring

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// sqliteStore writes monitoring records into a sqlite database so they
// can be queried after the run.
type sqliteStore struct {
	db          *sql.DB
	programName string
	programUUID string
}

func openSqliteStore(path, programName, programUUID string) (*sqliteStore, error) {
	if path == "" {
		return nil, errors.New("db path required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Enable Write-Ahead Logging. See https://sqlite.org/wal.html
	if _, err := db.Exec(`PRAGMA journal_mode = wal;`); err != nil {
		return nil, errors.Wrap(err, "enable wal")
	}
	if err := createLogTable(db); err != nil {
		return nil, err
	}
	return &sqliteStore{db: db, programName: programName, programUUID: programUUID}, nil
}

func createLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			level TEXT NOT NULL,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			nodetype TEXT NOT NULL,
			prog_name TEXT NOT NULL,
			prog_uuid TEXT NOT NULL,
			fields TEXT NOT NULL
		)
	`)
	if err != nil {
		return errors.Wrap(err, "create log table")
	}
	return nil
}

func (s *sqliteStore) write(level Level, name, state, nodetype string, fields Fields) {
	b, err := json.Marshal(fields)
	if err != nil {
		b = []byte("{}")
	}
	_, err = s.db.Exec(`
		INSERT INTO log
			(ts, level, name, state, nodetype, prog_name, prog_uuid, fields)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)
	`,
		time.Now().Format(time.RFC3339Nano), level.String(), name, state,
		nodetype, s.programName, s.programUUID, string(b),
	)
	if err != nil {
		// The log stream must not take the workflow down.
		log.Printf("monitoring: write record: %v", err)
	}
}

func (s *sqliteStore) close() error {
	return s.db.Close()
}
