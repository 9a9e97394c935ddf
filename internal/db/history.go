package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/space-project/spacerelay/internal/events"
)

// HistoryDatabase records matched sessions and evictions.
type HistoryDatabase struct {
	db *Database
}

// SessionRecord is one matched session read back from the ledger.
type SessionRecord struct {
	SessionID uint64                 `json:"session_id"`
	PartySize uint64                 `json:"party_size"`
	MatchedAt time.Time              `json:"matched_at"`
	Members   []events.SessionMember `json:"members"`
}

// EvictionRecord is one eviction read back from the ledger.
type EvictionRecord struct {
	SlotIndex int           `json:"slot_index"`
	Peer      string        `json:"peer"`
	PartySize uint64        `json:"party_size"`
	SessionID uint64        `json:"session_id"`
	Idle      time.Duration `json:"idle_ns"`
	EvictedAt time.Time     `json:"evicted_at"`
}

// NewHistoryDatabase opens the ledger at dbPath and migrates its schema.
func NewHistoryDatabase(dbPath string) (*HistoryDatabase, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hdb := &HistoryDatabase{db: database}
	if err := hdb.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return hdb, nil
}

// migrate creates the database schema.
func (h *HistoryDatabase) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			party_size INTEGER NOT NULL,
			matched_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_members (
			session_row INTEGER NOT NULL,
			slot_index INTEGER NOT NULL,
			peer TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			PRIMARY KEY (session_row, ordinal),
			FOREIGN KEY (session_row) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS evictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slot_index INTEGER NOT NULL,
			peer TEXT NOT NULL,
			party_size INTEGER NOT NULL,
			session_id INTEGER NOT NULL DEFAULT 0,
			idle_ns INTEGER NOT NULL,
			evicted_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_matched_at ON sessions(matched_at);
		CREATE INDEX IF NOT EXISTS idx_evictions_evicted_at ON evictions(evicted_at);
	`

	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("history schema migrated")
	return nil
}

// Close closes the ledger.
func (h *HistoryDatabase) Close() error {
	return h.db.Close()
}

// Subscribe records every match and eviction emitted on bus.
func (h *HistoryDatabase) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSessionMatched, "history.sessionMatched", h.onSessionMatched)
	bus.Subscribe(events.EventSlotEvicted, "history.slotEvicted", h.onSlotEvicted)
}

func (h *HistoryDatabase) onSessionMatched(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SessionMatchedPayload)
	if !ok {
		return nil
	}
	return h.RecordSession(payload)
}

func (h *HistoryDatabase) onSlotEvicted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SlotEvictedPayload)
	if !ok {
		return nil
	}
	return h.RecordEviction(payload)
}

// RecordSession stores a matched session and its members.
func (h *HistoryDatabase) RecordSession(p events.SessionMatchedPayload) error {
	return h.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO sessions (session_id, party_size, matched_at) VALUES (?, ?, ?)",
			int64(p.SessionID), int64(p.PartySize), p.MatchedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session %d: %w", p.SessionID, err)
		}
		row, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read session row id: %w", err)
		}

		for _, m := range p.Members {
			if _, err := tx.Exec(
				"INSERT INTO session_members (session_row, slot_index, peer, ordinal) VALUES (?, ?, ?, ?)",
				row, m.Index, m.Peer, int64(m.Ordinal),
			); err != nil {
				return fmt.Errorf("failed to insert member %s: %w", m.Peer, err)
			}
		}
		return nil
	})
}

// RecordEviction stores one eviction.
func (h *HistoryDatabase) RecordEviction(p events.SlotEvictedPayload) error {
	_, err := h.db.Exec(
		`INSERT INTO evictions (slot_index, peer, party_size, session_id, idle_ns, evicted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Index, p.Peer, int64(p.PartySize), int64(p.SessionID), int64(p.Idle), p.EvictedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert eviction of %s: %w", p.Peer, err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (h *HistoryDatabase) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := h.db.Query(`
		SELECT s.id, s.session_id, s.party_size, s.matched_at,
		       m.slot_index, m.peer, m.ordinal
		FROM (SELECT * FROM sessions ORDER BY id DESC LIMIT ?) s
		LEFT JOIN session_members m ON m.session_row = s.id
		ORDER BY s.id DESC, m.ordinal ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var (
		out     []SessionRecord
		lastRow int64 = -1
	)
	for rows.Next() {
		var (
			row                  int64
			sessionID, partySize int64
			matchedAt            int64
			slotIndex, ordinal   sql.NullInt64
			peer                 sql.NullString
		)
		if err := rows.Scan(&row, &sessionID, &partySize, &matchedAt, &slotIndex, &peer, &ordinal); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		if row != lastRow {
			out = append(out, SessionRecord{
				SessionID: uint64(sessionID),
				PartySize: uint64(partySize),
				MatchedAt: time.UnixMilli(matchedAt),
			})
			lastRow = row
		}
		if peer.Valid {
			rec := &out[len(out)-1]
			rec.Members = append(rec.Members, events.SessionMember{
				Index:   int(slotIndex.Int64),
				Peer:    peer.String,
				Ordinal: uint64(ordinal.Int64),
			})
		}
	}
	return out, rows.Err()
}

// RecentEvictions returns up to limit evictions, newest first.
func (h *HistoryDatabase) RecentEvictions(limit int) ([]EvictionRecord, error) {
	rows, err := h.db.Query(`
		SELECT slot_index, peer, party_size, session_id, idle_ns, evicted_at
		FROM evictions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evictions: %w", err)
	}
	defer rows.Close()

	var out []EvictionRecord
	for rows.Next() {
		var (
			rec                            EvictionRecord
			partySize, sessionID, idle, at int64
		)
		if err := rows.Scan(&rec.SlotIndex, &rec.Peer, &partySize, &sessionID, &idle, &at); err != nil {
			return nil, fmt.Errorf("failed to scan eviction: %w", err)
		}
		rec.PartySize = uint64(partySize)
		rec.SessionID = uint64(sessionID)
		rec.Idle = time.Duration(idle)
		rec.EvictedAt = time.UnixMilli(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes sessions and evictions recorded before cutoff and returns
// how many rows were removed.
func (h *HistoryDatabase) Prune(cutoff time.Time) (int64, error) {
	var removed int64
	err := h.db.Transaction(func(tx *sql.Tx) error {
		ms := cutoff.UnixMilli()

		res, err := tx.Exec("DELETE FROM sessions WHERE matched_at < ?", ms)
		if err != nil {
			return fmt.Errorf("failed to prune sessions: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.Exec("DELETE FROM evictions WHERE evicted_at < ?", ms)
		if err != nil {
			return fmt.Errorf("failed to prune evictions: %w", err)
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Int64("rows", removed).Time("cutoff", cutoff).Msg("history pruned")
	return removed, nil
}
