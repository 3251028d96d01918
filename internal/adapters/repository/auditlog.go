package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/pkg/metrics"
)

// BadgerAuditLog is the durable append-only audit log, backed by an
// embedded badger KV. Keys are 8-byte big-endian sequence numbers, so
// badger's byte-ordered iteration replays entries in append order.
type BadgerAuditLog struct {
	db     *badger.DB
	seq    atomic.Uint64
	mu     sync.Mutex // serializes appends so seq order matches commit order
	closed atomic.Bool
}

// LogOption applies a configuration option when opening the log.
type LogOption func(*badger.Options)

// WithInMemory keeps the log off disk. Used by tests and ephemeral runs.
func WithInMemory() LogOption {
	return func(o *badger.Options) {
		o.InMemory = true
		o.Dir = ""
		o.ValueDir = ""
	}
}

// OpenAuditLog opens (or creates) the audit log at dir and restores the
// last assigned sequence number.
func OpenAuditLog(dir string, opts ...LogOption) (*BadgerAuditLog, error) {
	options := badger.DefaultOptions(dir).WithLogger(nil)
	for _, opt := range opts {
		opt(&options)
	}
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l := &BadgerAuditLog{db: db}
	if err := l.restoreSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// restoreSeq scans backwards for the highest committed sequence number.
func (l *BadgerAuditLog) restoreSeq() error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
		if it.Valid() {
			l.seq.Store(binary.BigEndian.Uint64(it.Item().Key()))
		}
		return nil
	})
}

// Append assigns the next sequence number and persists the entry. The
// entry's ID and RecordedAt are filled in when empty.
func (l *BadgerAuditLog) Append(_ context.Context, e *model.AuditEntry) error {
	if l.closed.Load() {
		return ErrLogClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	e.Seq = l.seq.Load() + 1

	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry %s: %w", e.ID, err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, e.Seq)

	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}); err != nil {
		metrics.RecordAuditAppendError()
		return fmt.Errorf("append audit entry %s: %w", e.ID, err)
	}
	l.seq.Store(e.Seq)
	metrics.RecordAuditAppend()
	return nil
}

// Replay streams every entry to fn in append order. fn returning an error
// stops the replay and surfaces the error.
func (l *BadgerAuditLog) Replay(ctx context.Context, fn func(model.AuditEntry) error) error {
	if l.closed.Load() {
		return ErrLogClosed
	}
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry model.AuditEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode audit entry at seq %d: %w", binary.BigEndian.Uint64(it.Item().Key()), err)
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the last assigned sequence number.
func (l *BadgerAuditLog) Len(_ context.Context) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrLogClosed
	}
	return l.seq.Load(), nil
}

// Close flushes and closes the underlying store.
func (l *BadgerAuditLog) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}
