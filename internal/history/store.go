// Package history keeps a local SQLite trail of agent runs and the tool
// calls they made.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/sandclaw/internal/tools"
	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prompt TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			root TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'running',
			error TEXT NOT NULL DEFAULT '',
			turns INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL DEFAULT (datetime('now')),
			finished_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			turn INTEGER NOT NULL DEFAULT 0,
			call_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			arguments TEXT NOT NULL DEFAULT '{}',
			payload TEXT NOT NULL DEFAULT '',
			failed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id, id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS runs_fts USING fts5(
			prompt,
			content='runs',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS runs_ai AFTER INSERT ON runs BEGIN
			INSERT INTO runs_fts(rowid, prompt) VALUES (new.id, new.prompt);
		END`,
		`CREATE TRIGGER IF NOT EXISTS runs_ad AFTER DELETE ON runs BEGIN
			INSERT INTO runs_fts(runs_fts, rowid, prompt) VALUES('delete', old.id, old.prompt);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Begin inserts a running row for r and returns its id.
func (s *Store) Begin(r Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO runs (prompt, provider, model, root, status)
		VALUES (?, ?, ?, ?, ?)
	`, strings.TrimSpace(r.Prompt), r.Provider, r.Model, r.Root, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin run id: %w", err)
	}
	return id, nil
}

// AddTurn counts one model round trip and its token usage.
func (s *Store) AddTurn(runID int64, usage model.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE runs
		SET turns = turns + 1,
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?
		WHERE id = ?
	`, usage.InputTokens, usage.OutputTokens, runID)
	if err != nil {
		return fmt.Errorf("add turn: %w", err)
	}
	return nil
}

// AddCall stores one dispatched call and the payload it produced.
func (s *Store) AddCall(runID int64, turn int, call model.ToolCall, res tools.Result) error {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	payload, err := json.Marshal(res.Payload())
	if err != nil {
		payload = []byte(res.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	failed := 0
	if res.Failed() {
		failed = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO tool_calls (run_id, turn, call_id, name, arguments, payload, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, turn, call.ID, call.Name, string(args), string(payload), failed)
	if err != nil {
		return fmt.Errorf("add call: %w", err)
	}
	return nil
}

// Finish closes a run; a nil runErr marks it ok.
func (s *Store) Finish(runID int64, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = datetime('now')
		WHERE id = ?
	`, status, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `r.id, r.prompt, r.provider, r.model, r.root, r.status, r.error,
	r.turns, r.input_tokens, r.output_tokens, r.started_at, r.finished_at`

// Recent returns the newest runs first.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs r ORDER BY r.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return scanRuns(rows)
}

// Search matches prompts with an FTS5 query, newest first.
func (s *Store) Search(query string, limit int) ([]Run, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.Recent(limit)
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM runs_fts f JOIN runs r ON r.id = f.rowid
		WHERE runs_fts MATCH ?
		ORDER BY r.id DESC
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	return scanRuns(rows)
}

// Get returns a single run.
func (s *Store) Get(runID int64) (Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID)
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	return runs[0], nil
}

// Calls lists the tool calls of a run in dispatch order.
func (s *Store) Calls(runID int64) ([]Call, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, turn, call_id, name, arguments, payload, failed, created_at
		FROM tool_calls WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		var failed int
		if err := rows.Scan(&c.ID, &c.RunID, &c.Turn, &c.CallID, &c.Name, &c.Arguments, &c.Payload, &failed, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.Failed = failed != 0
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Prompt, &r.Provider, &r.Model, &r.Root, &r.Status, &r.Error,
			&r.Turns, &r.InputTokens, &r.OutputTokens, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ftsQuery quotes each term so user input cannot break MATCH syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// Recorder binds a Store to one run so the agent can report into it.
type Recorder struct {
	store *Store
	runID int64
}

func (s *Store) Recorder(runID int64) *Recorder {
	return &Recorder{store: s, runID: runID}
}

func (r *Recorder) RunID() int64 { return r.runID }

func (r *Recorder) RecordTurn(usage model.Usage) error {
	return r.store.AddTurn(r.runID, usage)
}

func (r *Recorder) RecordCall(turn int, call model.ToolCall, res tools.Result) error {
	return r.store.AddCall(r.runID, turn, call, res)
}
