package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack"
	_ "modernc.org/sqlite"

	"foreman/internal/model"
)

const DefaultDBPath = ".foreman/foreman.db"

// Store is the single sqlite-backed persistence layer: tickets, comments,
// delegation requests and results, memory records, escalations, and the
// audit event log.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = DefaultDBPath
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	// One writer at a time keeps the per-ticket serialization simple;
	// readers go through WAL snapshots.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS ticket_seq (
  ticket_type TEXT PRIMARY KEY,
  next_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tickets (
  id TEXT PRIMARY KEY,
  ticket_type TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  priority TEXT NOT NULL,
  assignee TEXT NOT NULL DEFAULT '',
  parent_id TEXT NOT NULL DEFAULT '',
  labels TEXT NOT NULL DEFAULT '[]',
  conflict INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  closed_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tickets_parent ON tickets(parent_id);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
CREATE TABLE IF NOT EXISTS comments (
  id TEXT PRIMARY KEY,
  ticket_id TEXT NOT NULL,
  author TEXT NOT NULL,
  comment_text TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_ticket ON comments(ticket_id);
CREATE TABLE IF NOT EXISTS delegation_requests (
  id TEXT PRIMARY KEY,
  role_id TEXT NOT NULL,
  ticket_id TEXT NOT NULL,
  task TEXT NOT NULL,
  context_blob BLOB NOT NULL,
  authority_blob BLOB NOT NULL,
  issued_at TEXT NOT NULL,
  deadline TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS delegation_results (
  request_id TEXT PRIMARY KEY,
  role_id TEXT NOT NULL,
  ticket_id TEXT NOT NULL,
  outcome TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  writes_json TEXT NOT NULL DEFAULT '[]',
  duration_ms INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_ticket ON delegation_results(ticket_id);
CREATE TABLE IF NOT EXISTS memory_records (
  id TEXT PRIMARY KEY,
  category TEXT NOT NULL,
  priority TEXT NOT NULL,
  role_id TEXT NOT NULL,
  ticket_id TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL,
  supersedes TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_ticket ON memory_records(ticket_id);
CREATE INDEX IF NOT EXISTS idx_memory_category ON memory_records(category);
CREATE TABLE IF NOT EXISTS escalations (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  ticket_id TEXT NOT NULL DEFAULT '',
  request_id TEXT NOT NULL DEFAULT '',
  role_id TEXT NOT NULL DEFAULT '',
  severity TEXT NOT NULL,
  message TEXT NOT NULL,
  resolved INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  resolved_at TEXT NOT NULL DEFAULT '',
  resolved_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_escalations_resolved ON escalations(resolved);
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  from_state TEXT NOT NULL DEFAULT '',
  to_state TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

var idPrefixes = map[model.TicketType]string{
	model.TicketTypeEpic:  "EPIC",
	model.TicketTypeIssue: "ISS",
	model.TicketTypeTask:  "TSK",
	model.TicketTypePR:    "PR",
}

// CreateTicket assigns the next monotonic id for the ticket's type
// (EPIC-1, ISS-1, ...) and inserts the row. The sequence bump and insert
// share one transaction so ids never repeat.
func (s *Store) CreateTicket(t *model.Ticket) error {
	prefix, ok := idPrefixes[t.Type]
	if !ok {
		return fmt.Errorf("unknown ticket type %q", t.Type)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin create ticket: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO ticket_seq (ticket_type, next_id) VALUES (?, 1)
		 ON CONFLICT(ticket_type) DO UPDATE SET next_id = next_id + 1`,
		string(t.Type),
	); err != nil {
		return fmt.Errorf("bump ticket sequence: %w", err)
	}
	var seq int64
	if err := tx.QueryRow(`SELECT next_id FROM ticket_seq WHERE ticket_type = ?`, string(t.Type)).Scan(&seq); err != nil {
		return fmt.Errorf("read ticket sequence: %w", err)
	}
	t.ID = fmt.Sprintf("%s-%d", prefix, seq)

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO tickets (id, ticket_type, title, body, status, priority, assignee, parent_id, labels, conflict, created_at, updated_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, '')`,
		t.ID, string(t.Type), t.Title, t.Body, string(t.Status), string(t.Priority),
		t.Assignee, t.ParentID, string(labels), formatTime(&now), formatTime(&now),
	); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetTicket(id string) (model.Ticket, error) {
	row := s.db.QueryRow(
		`SELECT id, ticket_type, title, body, status, priority, assignee, parent_id, labels, conflict, created_at, updated_at, closed_at
		 FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return model.Ticket{}, fmt.Errorf("ticket %s not found", id)
	}
	if err != nil {
		return model.Ticket{}, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

type TicketFilter struct {
	Type     model.TicketType
	Status   model.TicketStatus
	Assignee string
	ParentID string
}

func (s *Store) ListTickets(filter TicketFilter) ([]model.Ticket, error) {
	query := `SELECT id, ticket_type, title, body, status, priority, assignee, parent_id, labels, conflict, created_at, updated_at, closed_at FROM tickets WHERE 1=1`
	var args []any
	if filter.Type != "" {
		query += " AND ticket_type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, filter.Assignee)
	}
	if filter.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, filter.ParentID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Children(parentID string) ([]model.Ticket, error) {
	return s.ListTickets(TicketFilter{ParentID: parentID})
}

// CommitTransition applies a status change together with its status comment
// and audit event in one transaction, so a half-applied transition never
// survives a failure.
func (s *Store) CommitTransition(id string, from, to model.TicketStatus, comment model.Comment, note string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	closedAt := ""
	if to.Terminal() {
		closedAt = formatTime(&now)
	}
	result, err := tx.Exec(
		`UPDATE tickets SET status = ?, updated_at = ?, closed_at = ? WHERE id = ?`,
		string(to), formatTime(&now), closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update ticket %s status: %w", id, err)
	}
	if err := requireRow(result, id); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO comments (id, ticket_id, author, comment_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		comment.ID, comment.TicketID, comment.Author, comment.Text, formatTime(&comment.CreatedAt),
	); err != nil {
		return fmt.Errorf("append comment to %s: %w", comment.TicketID, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO events (entity_type, entity_id, event_type, from_state, to_state, message, created_at)
		 VALUES ('ticket', ?, 'transition', ?, ?, ?, ?)`,
		id, string(from), string(to), note, formatTime(&now),
	); err != nil {
		return fmt.Errorf("add event for %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) UpdateTicketAssignee(id string, assignee string) error {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE tickets SET assignee = ?, updated_at = ? WHERE id = ?`,
		assignee, formatTime(&now), id,
	)
	if err != nil {
		return fmt.Errorf("update ticket %s assignee: %w", id, err)
	}
	return requireRow(result, id)
}

func (s *Store) SetTicketConflict(id string, conflict bool) error {
	now := time.Now().UTC()
	flag := 0
	if conflict {
		flag = 1
	}
	result, err := s.db.Exec(
		`UPDATE tickets SET conflict = ?, updated_at = ? WHERE id = ?`,
		flag, formatTime(&now), id,
	)
	if err != nil {
		return fmt.Errorf("set ticket %s conflict: %w", id, err)
	}
	return requireRow(result, id)
}

func (s *Store) AppendComment(c model.Comment) error {
	if _, err := s.db.Exec(
		`INSERT INTO comments (id, ticket_id, author, comment_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TicketID, c.Author, c.Text, formatTime(&c.CreatedAt),
	); err != nil {
		return fmt.Errorf("append comment to %s: %w", c.TicketID, err)
	}
	return nil
}

func (s *Store) Comments(ticketID string) ([]model.Comment, error) {
	rows, err := s.db.Query(
		`SELECT id, ticket_id, author, comment_text, created_at FROM comments WHERE ticket_id = ? ORDER BY created_at, id`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("list comments for %s: %w", ticketID, err)
	}
	defer rows.Close()
	var out []model.Comment
	for rows.Next() {
		var c model.Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.TicketID, &c.Author, &c.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveDelegationRequest persists the request including its context payload
// and authority snapshot as msgpack blobs; the request is immutable once
// written.
func (s *Store) SaveDelegationRequest(req model.DelegationRequest) error {
	contextBlob, err := msgpack.Marshal(req.Context)
	if err != nil {
		return fmt.Errorf("encode context payload: %w", err)
	}
	authorityBlob, err := msgpack.Marshal(req.Authority)
	if err != nil {
		return fmt.Errorf("encode authority snapshot: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO delegation_requests (id, role_id, ticket_id, task, context_blob, authority_blob, issued_at, deadline)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RoleID, req.TicketID, req.Task, contextBlob, authorityBlob,
		formatTime(&req.IssuedAt), formatTime(&req.Deadline),
	); err != nil {
		return fmt.Errorf("save delegation request %s: %w", req.ID, err)
	}
	return nil
}

func (s *Store) GetDelegationRequest(id string) (model.DelegationRequest, error) {
	row := s.db.QueryRow(
		`SELECT id, role_id, ticket_id, task, context_blob, authority_blob, issued_at, deadline FROM delegation_requests WHERE id = ?`,
		id,
	)
	var req model.DelegationRequest
	var contextBlob, authorityBlob []byte
	var issuedAt, deadline string
	if err := row.Scan(&req.ID, &req.RoleID, &req.TicketID, &req.Task, &contextBlob, &authorityBlob, &issuedAt, &deadline); err != nil {
		if err == sql.ErrNoRows {
			return model.DelegationRequest{}, fmt.Errorf("delegation request %s not found", id)
		}
		return model.DelegationRequest{}, fmt.Errorf("get delegation request %s: %w", id, err)
	}
	if err := msgpack.Unmarshal(contextBlob, &req.Context); err != nil {
		return model.DelegationRequest{}, fmt.Errorf("decode context payload: %w", err)
	}
	if err := msgpack.Unmarshal(authorityBlob, &req.Authority); err != nil {
		return model.DelegationRequest{}, fmt.Errorf("decode authority snapshot: %w", err)
	}
	req.IssuedAt = parseTime(issuedAt)
	req.Deadline = parseTime(deadline)
	return req, nil
}

func (s *Store) SaveDelegationResult(res model.DelegationResult) error {
	writes, err := json.Marshal(res.Writes)
	if err != nil {
		return fmt.Errorf("marshal proposed writes: %w", err)
	}
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO delegation_results (request_id, role_id, ticket_id, outcome, summary, writes_json, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RequestID, res.RoleID, res.TicketID, string(res.Outcome), res.Summary,
		string(writes), res.Duration.Milliseconds(), formatTime(&now),
	); err != nil {
		return fmt.Errorf("save delegation result %s: %w", res.RequestID, err)
	}
	return nil
}

func (s *Store) ResultsForTicket(ticketID string) ([]model.DelegationResult, error) {
	rows, err := s.db.Query(
		`SELECT request_id, role_id, ticket_id, outcome, summary, writes_json, duration_ms FROM delegation_results WHERE ticket_id = ? ORDER BY created_at, request_id`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results for %s: %w", ticketID, err)
	}
	defer rows.Close()
	var out []model.DelegationResult
	for rows.Next() {
		var res model.DelegationResult
		var outcome, writesJSON string
		var durationMS int64
		if err := rows.Scan(&res.RequestID, &res.RoleID, &res.TicketID, &outcome, &res.Summary, &writesJSON, &durationMS); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Outcome = model.Outcome(outcome)
		res.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(writesJSON), &res.Writes); err != nil {
			return nil, fmt.Errorf("parse proposed writes: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *Store) AppendMemory(rec model.MemoryRecord) error {
	if _, err := s.db.Exec(
		`INSERT INTO memory_records (id, category, priority, role_id, ticket_id, content, supersedes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Category), string(rec.Priority), rec.RoleID, rec.TicketID,
		rec.Content, rec.Supersedes, formatTime(&rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("append memory record %s: %w", rec.ID, err)
	}
	return nil
}

type MemoryFilter struct {
	Categories []model.MemoryCategory
	TicketID   string
	RoleID     string
	Limit      int
}

// ListMemory returns records newest first. Superseded records are
// excluded; the log itself stays append-only.
func (s *Store) ListMemory(filter MemoryFilter) ([]model.MemoryRecord, error) {
	query := `SELECT id, category, priority, role_id, ticket_id, content, supersedes, created_at
	 FROM memory_records m
	 WHERE NOT EXISTS (SELECT 1 FROM memory_records r WHERE r.supersedes = m.id)`
	var args []any
	if len(filter.Categories) > 0 {
		placeholders := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			placeholders[i] = "?"
			args = append(args, string(c))
		}
		query += " AND category IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if filter.TicketID != "" {
		query += " AND ticket_id = ?"
		args = append(args, filter.TicketID)
	}
	if filter.RoleID != "" {
		query += " AND role_id = ?"
		args = append(args, filter.RoleID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}
	defer rows.Close()
	var out []model.MemoryRecord
	for rows.Next() {
		var rec model.MemoryRecord
		var category, priority, createdAt string
		if err := rows.Scan(&rec.ID, &category, &priority, &rec.RoleID, &rec.TicketID, &rec.Content, &rec.Supersedes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		rec.Category = model.MemoryCategory(category)
		rec.Priority = model.Priority(priority)
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) InsertEscalation(e model.EscalationEvent) error {
	if _, err := s.db.Exec(
		`INSERT INTO escalations (id, kind, ticket_id, request_id, role_id, severity, message, resolved, created_at, resolved_at, resolved_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, '', '')`,
		e.ID, string(e.Kind), e.TicketID, e.RequestID, e.RoleID, string(e.Severity),
		e.Message, formatTime(&e.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert escalation %s: %w", e.ID, err)
	}
	return nil
}

type EscalationFilter struct {
	PendingOnly bool
	Severity    model.Priority
	TicketID    string
	Kind        model.EscalationKind
}

func (s *Store) ListEscalations(filter EscalationFilter) ([]model.EscalationEvent, error) {
	query := `SELECT id, kind, ticket_id, request_id, role_id, severity, message, resolved, created_at, resolved_at, resolved_by FROM escalations WHERE 1=1`
	var args []any
	if filter.PendingOnly {
		query += " AND resolved = 0"
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.TicketID != "" {
		query += " AND ticket_id = ?"
		args = append(args, filter.TicketID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()
	var out []model.EscalationEvent
	for rows.Next() {
		var e model.EscalationEvent
		var kind, severity, createdAt, resolvedAt string
		var resolved int
		if err := rows.Scan(&e.ID, &kind, &e.TicketID, &e.RequestID, &e.RoleID, &severity, &e.Message, &resolved, &createdAt, &resolvedAt, &e.ResolvedBy); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		e.Kind = model.EscalationKind(kind)
		e.Severity = model.Priority(severity)
		e.Resolved = resolved == 1
		e.CreatedAt = parseTime(createdAt)
		if resolvedAt != "" {
			ts := parseTime(resolvedAt)
			e.ResolvedAt = &ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveEscalation marks an escalation resolved. Resolving an escalation
// that is already resolved is a no-op; resolving an unknown id is an
// error.
func (s *Store) ResolveEscalation(id string, resolvedBy string) error {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE escalations SET resolved = 1, resolved_at = ?, resolved_by = ? WHERE id = ? AND resolved = 0`,
		formatTime(&now), resolvedBy, id,
	)
	if err != nil {
		return fmt.Errorf("resolve escalation %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve escalation %s: %w", id, err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(1) FROM escalations WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("resolve escalation %s: %w", id, err)
		}
		if exists == 0 {
			return fmt.Errorf("escalation %s not found", id)
		}
	}
	return nil
}

func (s *Store) AddEvent(entityType, entityID, eventType, fromState, toState, message string) error {
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO events (entity_type, entity_id, event_type, from_state, to_state, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entityType, entityID, eventType, fromState, toState, message, formatTime(&now),
	); err != nil {
		return fmt.Errorf("add event for %s: %w", entityID, err)
	}
	return nil
}

func (s *Store) Events(entityID string) ([]model.AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, entity_type, entity_id, event_type, from_state, to_state, message, created_at FROM events WHERE entity_id = ? ORDER BY id`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", entityID, err)
	}
	defer rows.Close()
	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.EventType, &e.FromState, &e.ToState, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// StaleTickets returns non-terminal tickets whose last update in the given
// status predates the cutoff, for SLA sweeps.
func (s *Store) StaleTickets(status model.TicketStatus, cutoff time.Time) ([]model.Ticket, error) {
	rows, err := s.db.Query(
		`SELECT id, ticket_type, title, body, status, priority, assignee, parent_id, labels, conflict, created_at, updated_at, closed_at
		 FROM tickets WHERE status = ? AND updated_at < ?`,
		string(status), formatTime(&cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale tickets: %w", err)
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (model.Ticket, error) {
	var t model.Ticket
	var ticketType, status, priority, labelsJSON, createdAt, updatedAt, closedAt string
	var conflict int
	if err := row.Scan(&t.ID, &ticketType, &t.Title, &t.Body, &status, &priority, &t.Assignee, &t.ParentID, &labelsJSON, &conflict, &createdAt, &updatedAt, &closedAt); err != nil {
		return model.Ticket{}, err
	}
	t.Type = model.TicketType(ticketType)
	t.Status = model.TicketStatus(status)
	t.Priority = model.Priority(priority)
	t.Conflict = conflict == 1
	if err := json.Unmarshal([]byte(labelsJSON), &t.Labels); err != nil {
		return model.Ticket{}, fmt.Errorf("parse labels: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if closedAt != "" {
		ts := parseTime(closedAt)
		t.ClosedAt = &ts
	}
	return t, nil
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("ticket %s not found", id)
	}
	return nil
}

// timeLayout is fixed width so that stored timestamps sort correctly
// under SQLite's string comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
