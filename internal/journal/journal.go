// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package journal persists trace events to an append-only sqlite table
// so a restarted daemon can replay run history to late subscribers.
package journal

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/atelier/pkg/errors"
	"github.com/tombee/atelier/pkg/trace"
)

const schema = `
CREATE TABLE IF NOT EXISTS trace_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id   TEXT NOT NULL,
	project_id TEXT NOT NULL,
	ts         TEXT NOT NULL,
	data       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trace_events_project ON trace_events(project_id, seq);
`

// Journal is the sqlite-backed event log. Append runs on the bus's
// publishing goroutine, so it stays a single prepared insert.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
	logger *slog.Logger
}

// Open creates or opens the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating journal directory")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, errors.Wrap(err, "opening journal database")
	}
	// A single writer keeps WAL checkpointing predictable.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "applying journal schema")
	}

	insert, err := db.Prepare(`INSERT INTO trace_events (event_id, project_id, ts, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "preparing journal insert")
	}

	return &Journal{db: db, insert: insert, logger: logger}, nil
}

// Append implements trace.Appender.
func (j *Journal) Append(ev trace.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encoding trace event")
	}
	_, err = j.insert.Exec(ev.EventID, ev.ProjectID, ev.TS.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return errors.Wrap(err, "appending trace event")
	}
	return nil
}

// Replay returns a project's events in append order.
func (j *Journal) Replay(projectID string) ([]trace.Event, error) {
	rows, err := j.db.Query(`SELECT data FROM trace_events WHERE project_id = ? ORDER BY seq`, projectID)
	if err != nil {
		return nil, errors.Wrapf(err, "replaying journal for %s", projectID)
	}
	defer rows.Close()

	var events []trace.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var ev trace.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			// One corrupt row should not wipe out the rest of the
			// history.
			j.logger.Warn("skipping corrupt journal row", "project_id", projectID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ProjectIDs lists every project with journaled events.
func (j *Journal) ProjectIDs() ([]string, error) {
	rows, err := j.db.Query(`SELECT DISTINCT project_id FROM trace_events ORDER BY project_id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing journaled projects")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SeedBus replays every journaled project into the bus. Called once at
// daemon startup before subscribers attach.
func (j *Journal) SeedBus(bus *trace.Bus) error {
	ids, err := j.ProjectIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		events, err := j.Replay(id)
		if err != nil {
			return err
		}
		bus.Seed(id, events)
		j.logger.Debug("seeded trace history", "project_id", id, "events", len(events))
	}
	return nil
}

// Prune drops events older than the cutoff.
func (j *Journal) Prune(before time.Time) (int64, error) {
	res, err := j.db.Exec(`DELETE FROM trace_events WHERE ts < ?`, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errors.Wrap(err, "pruning journal")
	}
	return res.RowsAffected()
}

// Close releases the database.
func (j *Journal) Close() error {
	j.insert.Close()
	return j.db.Close()
}
