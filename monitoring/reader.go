package monitoring

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Record is one monitoring record read back from a destination.
type Record struct {
	Timestamp string
	Level     string
	Name      string
	State     string
	NodeType  string
	Fields    Fields
}

// Query filters records on read. Zero fields match everything.
type Query struct {
	Name     string
	State    string
	NodeType string
}

func (q Query) match(r Record) bool {
	if q.Name != "" && r.Name != q.Name {
		return false
	}
	if q.State != "" && r.State != q.State {
		return false
	}
	if q.NodeType != "" && r.NodeType != q.NodeType {
		return false
	}
	return true
}

// Find reads records from a finalized destination. It understands the
// same destination strings as Init.
func Find(dest string, q Query) ([]Record, error) {
	if dest == DestNull {
		return nil, nil
	}
	if strings.HasPrefix(dest, sqlitePrefix) {
		return findSqlite(strings.TrimPrefix(dest, sqlitePrefix), q)
	}
	return findFile(dest, q)
}

func findFile(path string, q Query) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open log %s", path)
	}
	defer f.Close()
	recs := make([]Record, 0)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		fields := make(Fields)
		if err := json.Unmarshal(line, &fields); err != nil {
			// skip lines that are not records
			continue
		}
		r := Record{Fields: fields}
		r.Timestamp, _ = fields["ts"].(string)
		r.Level, _ = fields["level"].(string)
		r.Name, _ = fields[KeyName].(string)
		r.State, _ = fields[KeyState].(string)
		r.NodeType, _ = fields[KeyNodeType].(string)
		if q.match(r) {
			recs = append(recs, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read log %s", path)
	}
	return recs, nil
}

func findSqlite(path string, q Query) ([]Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.Query(`SELECT ts, level, name, state, nodetype, fields FROM log ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query log")
	}
	defer rows.Close()
	recs := make([]Record, 0)
	for rows.Next() {
		var r Record
		var fields string
		err := rows.Scan(&r.Timestamp, &r.Level, &r.Name, &r.State, &r.NodeType, &fields)
		if err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		r.Fields = make(Fields)
		json.Unmarshal([]byte(fields), &r.Fields)
		if q.match(r) {
			recs = append(recs, r)
		}
	}
	return recs, rows.Err()
}
