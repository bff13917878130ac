package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// prefixEntry mirrors pkg/app/core/account/keys.go's prefix-per-entity,
// lexicographically-sortable design, consolidated into one Pebble
// database shared by the ledger instead of the two near-duplicate
// account stores the teacher carried (pkg/app/core/account/store.go and
// pkg/storage/pebble_store.go) — see DESIGN.md.
const prefixEntry = "ledger:entry:"

// entryKey zero-pads the sequence number to 20 digits so entries iterate
// back in commit order, the same trick pkg/app/core/account/keys.go uses
// for trade timestamps.
func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEntry, seq))
}

// Store persists ledger entries to Pebble, opened with the same tuning
// pkg/app/core/account/store.go uses for its account database.
type Store struct {
	db *pebble.DB
}

// OpenStore opens (or creates) a Pebble database at dbPath for ledger
// entries.
func OpenStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(128 << 20),
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// AppendEntry writes one ledger entry. Sync durability matches the
// account store's SaveAccount — every balance-affecting entry must
// survive a crash before the command that produced it is acknowledged.
func (s *Store) AppendEntry(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: marshal entry: %w", err)
	}
	return s.db.Set(entryKey(e.Seq), data, pebble.Sync)
}

// LoadAll streams every entry in commit order, for Recovery/Replay.
func (s *Store) LoadAll(fn func(*Entry) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixEntry),
		UpperBound: keyUpperBound([]byte(prefixEntry)),
	})
	if err != nil {
		return fmt.Errorf("ledger: iterate entries: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return fmt.Errorf("ledger: decode entry: %w", err)
		}
		if err := fn(&e); err != nil {
			return err
		}
	}
	return nil
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
