package semantic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Entry is one indexed note: its vector plus the title and folder it was encoded from.
type Entry struct {
	Title  string
	Folder string
	Vector []float32
}

// Snapshot is the full persisted state of the index.
type Snapshot struct {
	Entries map[string]Entry
	BuiltAt time.Time
}

// Store persists semantic entries across restarts.
type Store interface {
	// Load returns the persisted snapshot. BuiltAt is zero if nothing was saved.
	Load(ctx context.Context) (Snapshot, error)
	// Replace swaps the whole persisted set for s.
	Replace(ctx context.Context, s Snapshot) error
	Put(ctx context.Context, id string, e Entry) error
	Delete(ctx context.Context, id string) error
	Close() error
}

const (
	entryPrefix  = "v/"
	keyLastBuild = "m/last_build"
)

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadgerStore opens a store in dir, or an in-memory one when dir is "".
func OpenBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("semantic: create store dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("semantic: open store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

// Load implements Store.
func (s *BadgerStore) Load(_ context.Context) (Snapshot, error) {
	snap := Snapshot{Entries: make(map[string]Entry)}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLastBuild))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if snap.BuiltAt, err = time.Parse(time.RFC3339Nano, string(raw)); err != nil {
				return fmt.Errorf("parse last build: %w", err)
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(entryPrefix):])
			err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return fmt.Errorf("decode %s: %w", id, err)
				}
				snap.Entries[id] = e
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("semantic: load: %w", err)
	}
	return snap, nil
}

// Replace implements Store.
func (s *BadgerStore) Replace(_ context.Context, snap Snapshot) error {
	if err := s.db.DropPrefix([]byte(entryPrefix)); err != nil {
		return fmt.Errorf("semantic: clear entries: %w", err)
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for id, e := range snap.Entries {
		if err := wb.Set([]byte(entryPrefix+id), encodeEntry(e)); err != nil {
			return fmt.Errorf("semantic: write %s: %w", id, err)
		}
	}
	if snap.BuiltAt.IsZero() {
		if err := wb.Delete([]byte(keyLastBuild)); err != nil {
			return fmt.Errorf("semantic: clear last build: %w", err)
		}
	} else if err := wb.Set([]byte(keyLastBuild), []byte(snap.BuiltAt.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("semantic: write last build: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("semantic: flush: %w", err)
	}
	return nil
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, id string, e Entry) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entryPrefix+id), encodeEntry(e))
	})
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(entryPrefix + id))
	})
}

// encodeEntry lays out an entry as
// [uvarint title len][title][uvarint folder len][folder][float32 LE...].
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 0, 2*binary.MaxVarintLen64+len(e.Title)+len(e.Folder)+4*len(e.Vector))
	buf = binary.AppendUvarint(buf, uint64(len(e.Title)))
	buf = append(buf, e.Title...)
	buf = binary.AppendUvarint(buf, uint64(len(e.Folder)))
	buf = append(buf, e.Folder...)
	for _, f := range e.Vector {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

var errCorruptEntry = errors.New("corrupt entry")

func decodeEntry(b []byte) (Entry, error) {
	var e Entry
	readString := func() (string, bool) {
		n, k := binary.Uvarint(b)
		if k <= 0 || uint64(len(b)-k) < n {
			return "", false
		}
		s := string(b[k : k+int(n)])
		b = b[k+int(n):]
		return s, true
	}
	var ok bool
	if e.Title, ok = readString(); !ok {
		return Entry{}, errCorruptEntry
	}
	if e.Folder, ok = readString(); !ok {
		return Entry{}, errCorruptEntry
	}
	if len(b)%4 != 0 {
		return Entry{}, errCorruptEntry
	}
	e.Vector = make([]float32, len(b)/4)
	for i := range e.Vector {
		e.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return e, nil
}
