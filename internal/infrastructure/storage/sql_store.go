package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/ports"
)

// dialect captures the few differences between SQLite and Postgres.
type dialect struct {
	driver      string
	placeholder sq.PlaceholderFormat
	isolation   sql.IsolationLevel
}

var (
	sqliteDialect   = dialect{driver: "sqlite", placeholder: sq.Question, isolation: sql.LevelDefault}
	postgresDialect = dialect{driver: "postgres", placeholder: sq.Dollar, isolation: sql.LevelSerializable}
)

func (d dialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.placeholder)
}

const (
	recordsTable = "processing_records"
	alertsTable  = "alert_history"
)

var recordColumns = []string{
	"event_id", "issuer_id", "content_hash", "status", "classification",
	"reason", "failure_kind", "attempts", "claim_token", "processed_at",
}

// SQLStore persists processing records and alert history in SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ ports.Store = (*SQLStore)(nil)

// OpenSQLite opens (creating if needed) a SQLite database file and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer; one connection also serialises transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return newSQLStore(ctx, db, sqliteDialect)
}

// OpenPostgres connects to Postgres and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return newSQLStore(ctx, db, postgresDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HasSeen reports whether the event is settled and must be skipped.
func (s *SQLStore) HasSeen(ctx context.Context, eventID string) (bool, error) {
	rec, found, err := s.Lookup(ctx, eventID)
	if err != nil {
		return false, err
	}
	return found && rec.Status.Settled(), nil
}

// Lookup returns the processing record for eventID.
func (s *SQLStore) Lookup(ctx context.Context, eventID string) (domain.ProcessingRecord, bool, error) {
	return s.lookup(ctx, s.db, eventID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) lookup(ctx context.Context, q queryer, eventID string) (domain.ProcessingRecord, bool, error) {
	query, args, err := s.dialect.builder().
		Select(recordColumns...).
		From(recordsTable).
		Where(sq.Eq{"event_id": eventID}).
		ToSql()
	if err != nil {
		return domain.ProcessingRecord{}, false, fmt.Errorf("build lookup: %w", err)
	}

	var (
		rec         domain.ProcessingRecord
		status      string
		failure     string
		cls         sql.NullString
		processedAt int64
	)
	err = q.QueryRowContext(ctx, query, args...).Scan(
		&rec.EventID, &rec.IssuerID, &rec.ContentHash, &status, &cls,
		&rec.Reason, &failure, &rec.Attempts, &rec.ClaimToken, &processedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProcessingRecord{}, false, nil
	}
	if err != nil {
		return domain.ProcessingRecord{}, false, fmt.Errorf("lookup %s: %w", eventID, err)
	}

	rec.Status = domain.ProcessingStatus(status)
	rec.FailureKind = domain.FailureKind(failure)
	rec.ProcessedAt = time.Unix(0, processedAt).UTC()
	if cls.Valid && cls.String != "" {
		var c domain.Classification
		if err := json.Unmarshal([]byte(cls.String), &c); err != nil {
			return domain.ProcessingRecord{}, false, fmt.Errorf("decode classification of %s: %w", eventID, err)
		}
		rec.Classification = &c
	}

	return rec, true, nil
}

// Claim takes ownership of an absent or still-"seen" event for token.
func (s *SQLStore) Claim(ctx context.Context, ev domain.FilingEvent, token string, now time.Time) (bool, error) {
	query, args, err := s.dialect.builder().
		Insert(recordsTable).
		Columns("event_id", "issuer_id", "content_hash", "status", "claim_token", "processed_at").
		Values(ev.EventID, ev.IssuerID, ev.ContentHash, string(domain.StatusSeen), token, now.UnixNano()).
		Suffix(`ON CONFLICT (event_id) DO UPDATE
			SET claim_token = excluded.claim_token,
			    content_hash = excluded.content_hash,
			    processed_at = excluded.processed_at
			WHERE processing_records.status = 'seen'`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build claim: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", ev.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s rows: %w", ev.EventID, err)
	}
	return n == 1, nil
}

// Record writes rec honouring terminal statuses and claim ownership.
func (s *SQLStore) Record(ctx context.Context, rec domain.ProcessingRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := s.lookup(ctx, tx, rec.EventID)
		if err != nil {
			return err
		}

		if !found {
			return s.insertRecord(ctx, tx, rec)
		}
		if err := checkTransition(existing, rec); err != nil {
			return err
		}
		if existing.Status == rec.Status && existing.Status.Terminal() {
			return nil
		}

		setMap, err := recordSetMap(rec)
		if err != nil {
			return err
		}
		query, args, err := s.dialect.builder().
			Update(recordsTable).
			SetMap(setMap).
			Where(sq.Eq{
				"event_id":    rec.EventID,
				"status":      string(existing.Status),
				"claim_token": existing.ClaimToken,
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build record update: %w", err)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update record %s: %w", rec.EventID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ports.ErrClaimLost
		}
		return nil
	})
}

// checkTransition applies the terminal and ownership rules shared by backends.
func checkTransition(existing, next domain.ProcessingRecord) error {
	if existing.Status.Terminal() {
		if existing.Status == next.Status {
			return nil
		}
		return fmt.Errorf("%s is %s: %w", existing.EventID, existing.Status, ports.ErrTerminalStatus)
	}
	if next.ClaimToken != "" && existing.ClaimToken != next.ClaimToken {
		return ports.ErrClaimLost
	}
	return nil
}

func (s *SQLStore) insertRecord(ctx context.Context, tx *sql.Tx, rec domain.ProcessingRecord) error {
	clsJSON, err := encodeClassification(rec.Classification)
	if err != nil {
		return err
	}
	query, args, err := s.dialect.builder().
		Insert(recordsTable).
		Columns(recordColumns...).
		Values(rec.EventID, rec.IssuerID, rec.ContentHash, string(rec.Status), clsJSON,
			rec.Reason, string(rec.FailureKind), rec.Attempts, rec.ClaimToken, rec.ProcessedAt.UnixNano()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.EventID, err)
	}
	return nil
}

func recordSetMap(rec domain.ProcessingRecord) (map[string]any, error) {
	clsJSON, err := encodeClassification(rec.Classification)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"status":         string(rec.Status),
		"classification": clsJSON,
		"reason":         rec.Reason,
		"failure_kind":   string(rec.FailureKind),
		"attempts":       rec.Attempts,
		"processed_at":   rec.ProcessedAt.UnixNano(),
	}
	if rec.IssuerID != "" {
		m["issuer_id"] = rec.IssuerID
	}
	if rec.ContentHash != "" {
		m["content_hash"] = rec.ContentHash
	}
	return m, nil
}

func encodeClassification(c *domain.Classification) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode classification: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// HashSeen reports whether another settled-noise or alerted event of the
// issuer carried the same content hash since the given time.
func (s *SQLStore) HashSeen(ctx context.Context, issuerID, contentHash, excludeEventID string, since time.Time) (bool, error) {
	query, args, err := s.dialect.builder().
		Select("1").
		From(recordsTable).
		Where(sq.Eq{
			"issuer_id":    issuerID,
			"content_hash": contentHash,
			"status":       []string{string(domain.StatusFilteredNoise), string(domain.StatusAlerted)},
		}).
		Where(sq.NotEq{"event_id": excludeEventID}).
		Where(sq.GtOrEq{"processed_at": since.UnixNano()}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build hash lookup: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("hash lookup: %w", err)
	}
	return true, nil
}

// Requeue deletes a failed record so the next run reprocesses the event.
func (s *SQLStore) Requeue(ctx context.Context, eventID string) error {
	query, args, err := s.dialect.builder().
		Delete(recordsTable).
		Where(sq.Eq{"event_id": eventID, "status": string(domain.StatusFailed)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build requeue: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", eventID, ports.ErrNotRequeueable)
	}
	return nil
}

// RequeueFailed re-queues all failed records whose failure kind is listed.
func (s *SQLStore) RequeueFailed(ctx context.Context, kinds []domain.FailureKind) (int, error) {
	if len(kinds) == 0 {
		return 0, nil
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	query, args, err := s.dialect.builder().
		Delete(recordsTable).
		Where(sq.Eq{"status": string(domain.StatusFailed), "failure_kind": names}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build bulk requeue: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk requeue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk requeue rows: %w", err)
	}
	return int(n), nil
}

func cooldownWhere(key ports.CooldownKey) sq.Eq {
	where := sq.Eq{"issuer_id": key.IssuerID}
	if key.EventType != "" {
		where["event_type"] = string(key.EventType)
	}
	return where
}

// LastAlert returns the most recent alert for the cooldown key.
func (s *SQLStore) LastAlert(ctx context.Context, key ports.CooldownKey) (domain.AlertRecord, bool, error) {
	query, args, err := s.dialect.builder().
		Select("issuer_id", "event_type", "sent_at", "event_id").
		From(alertsTable).
		Where(cooldownWhere(key)).
		OrderBy("sent_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.AlertRecord{}, false, fmt.Errorf("build last alert: %w", err)
	}

	rec, err := scanAlert(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AlertRecord{}, false, nil
	}
	if err != nil {
		return domain.AlertRecord{}, false, fmt.Errorf("last alert: %w", err)
	}
	return rec, true, nil
}

// RecentAlerts lists alerts sent at or after since, newest first.
func (s *SQLStore) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]domain.AlertRecord, error) {
	builder := s.dialect.builder().
		Select("issuer_id", "event_type", "sent_at", "event_id").
		From(alertsTable).
		Where(sq.GtOrEq{"sent_at": since.UnixNano()}).
		OrderBy("sent_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent alerts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	var result []domain.AlertRecord
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (domain.AlertRecord, error) {
	var (
		rec       domain.AlertRecord
		eventType string
		sentAt    int64
	)
	if err := row.Scan(&rec.IssuerID, &eventType, &sentAt, &rec.EventID); err != nil {
		return domain.AlertRecord{}, err
	}
	rec.EventType = domain.EventType(eventType)
	rec.SentAt = time.Unix(0, sentAt).UTC()
	return rec, nil
}

// CommitAlert marks the claimed record alerted and appends the alert in one
// transaction, re-checking the cooldown inside it.
func (s *SQLStore) CommitAlert(ctx context.Context, rec domain.ProcessingRecord, alert domain.AlertRecord, key ports.CooldownKey, cooldownSince time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		countQuery, countArgs, err := s.dialect.builder().
			Select("COUNT(*)").
			From(alertsTable).
			Where(cooldownWhere(key)).
			Where(sq.GtOrEq{"sent_at": cooldownSince.UnixNano()}).
			Where(sq.NotEq{"event_id": rec.EventID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build cooldown check: %w", err)
		}
		var recent int
		if err := tx.QueryRowContext(ctx, countQuery, countArgs...).Scan(&recent); err != nil {
			return fmt.Errorf("cooldown check: %w", err)
		}
		if recent > 0 {
			return ports.ErrCooldownActive
		}

		setMap, err := recordSetMap(rec)
		if err != nil {
			return err
		}
		setMap["status"] = string(domain.StatusAlerted)
		updQuery, updArgs, err := s.dialect.builder().
			Update(recordsTable).
			SetMap(setMap).
			Where(sq.Eq{
				"event_id":    rec.EventID,
				"status":      string(domain.StatusSeen),
				"claim_token": rec.ClaimToken,
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build alert transition: %w", err)
		}
		res, err := tx.ExecContext(ctx, updQuery, updArgs...)
		if err != nil {
			return fmt.Errorf("mark alerted %s: %w", rec.EventID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ports.ErrClaimLost
		}

		insQuery, insArgs, err := s.dialect.builder().
			Insert(alertsTable).
			Columns("event_id", "issuer_id", "event_type", "sent_at").
			Values(alert.EventID, alert.IssuerID, string(alert.EventType), alert.SentAt.UnixNano()).
			ToSql()
		if err != nil {
			return fmt.Errorf("build alert insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insQuery, insArgs...); err != nil {
			return fmt.Errorf("append alert %s: %w", alert.EventID, err)
		}
		return nil
	})
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.isolation})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
