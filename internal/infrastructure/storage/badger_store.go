package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/ports"
	"FilingsMonitor/pkg/logger"
)

// Key layout:
//
//	rec/<event_id>                         processing record (JSON)
//	hash/<issuer>/<content_hash>/<event_id> processed_at of noise/alerted records
//	alert/<sent_at BE>/<event_id>          alert log, time ordered
//	last/<issuer>[/<event_type>]           latest alert per cooldown key
//
// The last/ markers are read and written by every alert commit, so two
// concurrent commits for one cooldown key always conflict.
const (
	recPrefix   = "rec/"
	hashPrefix  = "hash/"
	alertPrefix = "alert/"
	lastPrefix  = "last/"

	maxConflictRetries = 8
)

// BadgerStore persists records and alert history in an embedded Badger DB.
type BadgerStore struct {
	db *badger.DB
}

var _ ports.Store = (*BadgerStore)(nil)

// OpenBadger opens a Badger database at path, or in memory when inMemory is set.
func OpenBadger(path string, inMemory bool, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithSyncWrites(true)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(logger.New(log, "badger"))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type badgerRecord struct {
	EventID        string                 `json:"event_id"`
	IssuerID       string                 `json:"issuer_id"`
	ContentHash    string                 `json:"content_hash"`
	Status         string                 `json:"status"`
	Classification *domain.Classification `json:"classification,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	FailureKind    string                 `json:"failure_kind,omitempty"`
	Attempts       int                    `json:"attempts"`
	ClaimToken     string                 `json:"claim_token,omitempty"`
	ProcessedAt    int64                  `json:"processed_at"`
}

func toBadgerRecord(rec domain.ProcessingRecord) badgerRecord {
	return badgerRecord{
		EventID:        rec.EventID,
		IssuerID:       rec.IssuerID,
		ContentHash:    rec.ContentHash,
		Status:         string(rec.Status),
		Classification: rec.Classification,
		Reason:         rec.Reason,
		FailureKind:    string(rec.FailureKind),
		Attempts:       rec.Attempts,
		ClaimToken:     rec.ClaimToken,
		ProcessedAt:    rec.ProcessedAt.UnixNano(),
	}
}

func (r badgerRecord) domain() domain.ProcessingRecord {
	return domain.ProcessingRecord{
		EventID:        r.EventID,
		IssuerID:       r.IssuerID,
		ContentHash:    r.ContentHash,
		Status:         domain.ProcessingStatus(r.Status),
		Classification: r.Classification,
		Reason:         r.Reason,
		FailureKind:    domain.FailureKind(r.FailureKind),
		Attempts:       r.Attempts,
		ClaimToken:     r.ClaimToken,
		ProcessedAt:    time.Unix(0, r.ProcessedAt).UTC(),
	}
}

type badgerAlert struct {
	IssuerID  string `json:"issuer_id"`
	EventType string `json:"event_type"`
	SentAt    int64  `json:"sent_at"`
	EventID   string `json:"event_id"`
}

func (a badgerAlert) domain() domain.AlertRecord {
	return domain.AlertRecord{
		IssuerID:  a.IssuerID,
		EventType: domain.EventType(a.EventType),
		SentAt:    time.Unix(0, a.SentAt).UTC(),
		EventID:   a.EventID,
	}
}

func recKey(eventID string) []byte { return []byte(recPrefix + eventID) }

func hashKeyPrefix(issuerID, hash string) []byte {
	return []byte(hashPrefix + issuerID + "/" + hash + "/")
}

func alertKey(sentAt time.Time, eventID string) []byte {
	key := make([]byte, 0, len(alertPrefix)+8+1+len(eventID))
	key = append(key, alertPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(sentAt.UnixNano()))
	key = append(key, '/')
	return append(key, eventID...)
}

func lastKey(key ports.CooldownKey) []byte {
	if key.EventType == "" {
		return []byte(lastPrefix + key.IssuerID)
	}
	return []byte(lastPrefix + key.IssuerID + "/" + string(key.EventType))
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badger update: %w", badger.ErrConflict)
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, v) }); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, raw)
}

func getRecord(txn *badger.Txn, eventID string) (domain.ProcessingRecord, bool, error) {
	var r badgerRecord
	found, err := getJSON(txn, recKey(eventID), &r)
	if err != nil || !found {
		return domain.ProcessingRecord{}, found, err
	}
	return r.domain(), true, nil
}

// putRecord writes the record and keeps the content-hash index in step.
func putRecord(txn *badger.Txn, rec domain.ProcessingRecord) error {
	if err := setJSON(txn, recKey(rec.EventID), toBadgerRecord(rec)); err != nil {
		return err
	}
	if rec.ContentHash == "" {
		return nil
	}
	if rec.Status != domain.StatusFilteredNoise && rec.Status != domain.StatusAlerted {
		return nil
	}
	key := append(hashKeyPrefix(rec.IssuerID, rec.ContentHash), rec.EventID...)
	return txn.Set(key, binary.BigEndian.AppendUint64(nil, uint64(rec.ProcessedAt.UnixNano())))
}

// HasSeen reports whether the event is settled and must be skipped.
func (s *BadgerStore) HasSeen(ctx context.Context, eventID string) (bool, error) {
	rec, found, err := s.Lookup(ctx, eventID)
	if err != nil {
		return false, err
	}
	return found && rec.Status.Settled(), nil
}

// Lookup returns the processing record for eventID.
func (s *BadgerStore) Lookup(_ context.Context, eventID string) (domain.ProcessingRecord, bool, error) {
	var (
		rec   domain.ProcessingRecord
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = getRecord(txn, eventID)
		return err
	})
	return rec, found, err
}

// Claim takes ownership of an absent or still-"seen" event for token.
func (s *BadgerStore) Claim(ctx context.Context, ev domain.FilingEvent, token string, now time.Time) (bool, error) {
	var claimed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		claimed = false
		existing, found, err := getRecord(txn, ev.EventID)
		if err != nil {
			return err
		}
		if found && existing.Status != domain.StatusSeen {
			return nil
		}
		claimed = true
		return putRecord(txn, domain.NewClaimRecord(ev, token, now))
	})
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", ev.EventID, err)
	}
	return claimed, nil
}

// Record writes rec honouring terminal statuses and claim ownership.
func (s *BadgerStore) Record(ctx context.Context, rec domain.ProcessingRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		existing, found, err := getRecord(txn, rec.EventID)
		if err != nil {
			return err
		}
		if found {
			if err := checkTransition(existing, rec); err != nil {
				return err
			}
			if existing.Status == rec.Status && existing.Status.Terminal() {
				return nil
			}
			if rec.IssuerID == "" {
				rec.IssuerID = existing.IssuerID
			}
			if rec.ContentHash == "" {
				rec.ContentHash = existing.ContentHash
			}
			rec.ClaimToken = existing.ClaimToken
		}
		return putRecord(txn, rec)
	})
}

// HashSeen reports whether another settled-noise or alerted event of the
// issuer carried the same content hash since the given time.
func (s *BadgerStore) HashSeen(_ context.Context, issuerID, contentHash, excludeEventID string, since time.Time) (bool, error) {
	prefix := hashKeyPrefix(issuerID, contentHash)
	var seen bool
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if string(item.Key()[len(prefix):]) == excludeEventID {
				continue
			}
			var at int64
			if err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt hash index entry %s", item.Key())
				}
				at = int64(binary.BigEndian.Uint64(val))
				return nil
			}); err != nil {
				return err
			}
			if at >= since.UnixNano() {
				seen = true
				return nil
			}
		}
		return nil
	})
	return seen, err
}

// Requeue deletes a failed record so the next run reprocesses the event.
func (s *BadgerStore) Requeue(ctx context.Context, eventID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, found, err := getRecord(txn, eventID)
		if err != nil {
			return err
		}
		if !found || rec.Status != domain.StatusFailed {
			return fmt.Errorf("%s: %w", eventID, ports.ErrNotRequeueable)
		}
		return txn.Delete(recKey(eventID))
	})
}

// RequeueFailed re-queues all failed records whose failure kind is listed.
func (s *BadgerStore) RequeueFailed(ctx context.Context, kinds []domain.FailureKind) (int, error) {
	wanted := make(map[domain.FailureKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	var count int
	err := s.update(ctx, func(txn *badger.Txn) error {
		count = 0
		var doomed [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(recPrefix), PrefetchValues: true})
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var r badgerRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				it.Close()
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			if r.Status == string(domain.StatusFailed) && wanted[domain.FailureKind(r.FailureKind)] {
				doomed = append(doomed, item.KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		count = len(doomed)
		return nil
	})
	return count, err
}

// LastAlert returns the most recent alert for the cooldown key.
func (s *BadgerStore) LastAlert(_ context.Context, key ports.CooldownKey) (domain.AlertRecord, bool, error) {
	var (
		a     badgerAlert
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, lastKey(key), &a)
		return err
	})
	if err != nil || !found {
		return domain.AlertRecord{}, false, err
	}
	return a.domain(), true, nil
}

// RecentAlerts lists alerts sent at or after since, newest first.
func (s *BadgerStore) RecentAlerts(_ context.Context, since time.Time, limit int) ([]domain.AlertRecord, error) {
	var result []domain.AlertRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(alertPrefix), PrefetchValues: true})
		defer it.Close()
		for it.Seek(alertKey(since, "")); it.Valid(); it.Next() {
			var a badgerAlert
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &a) }); err != nil {
				return fmt.Errorf("decode alert: %w", err)
			}
			result = append(result, a.domain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].SentAt.After(result[j].SentAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CommitAlert marks the claimed record alerted and appends the alert in one
// transaction, re-checking the cooldown inside it.
func (s *BadgerStore) CommitAlert(ctx context.Context, rec domain.ProcessingRecord, alert domain.AlertRecord, key ports.CooldownKey, cooldownSince time.Time) error {
	stored := badgerAlert{
		IssuerID:  alert.IssuerID,
		EventType: string(alert.EventType),
		SentAt:    alert.SentAt.UnixNano(),
		EventID:   alert.EventID,
	}
	markers := [][]byte{
		lastKey(ports.CooldownKey{IssuerID: alert.IssuerID}),
		lastKey(ports.CooldownKey{IssuerID: alert.IssuerID, EventType: alert.EventType}),
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		var last badgerAlert
		found, err := getJSON(txn, lastKey(key), &last)
		if err != nil {
			return err
		}
		if found && last.EventID != rec.EventID && last.SentAt >= cooldownSince.UnixNano() {
			return ports.ErrCooldownActive
		}

		existing, ok, err := getRecord(txn, rec.EventID)
		if err != nil {
			return err
		}
		if !ok || existing.Status != domain.StatusSeen || existing.ClaimToken != rec.ClaimToken {
			return ports.ErrClaimLost
		}

		rec.Status = domain.StatusAlerted
		if rec.IssuerID == "" {
			rec.IssuerID = existing.IssuerID
		}
		if rec.ContentHash == "" {
			rec.ContentHash = existing.ContentHash
		}
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		if err := setJSON(txn, alertKey(alert.SentAt, alert.EventID), stored); err != nil {
			return err
		}

		for _, marker := range markers {
			var prev badgerAlert
			had, err := getJSON(txn, marker, &prev)
			if err != nil {
				return err
			}
			if had && prev.SentAt > stored.SentAt {
				continue
			}
			if err := setJSON(txn, marker, stored); err != nil {
				return err
			}
		}
		return nil
	})
}

