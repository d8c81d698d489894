package nodescan

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const historyKeyPrefix = "history/"

// HistoryStore keeps the last real stake history of each validator.
type HistoryStore interface {
	LoadHistory(votePubkey string) ([]StakeHistoryItem, error)
	SaveHistory(votePubkey string, items []StakeHistoryItem) error
}

// LevelDBHistoryStore is a HistoryStore backed by a LevelDB directory.
type LevelDBHistoryStore struct {
	db  *leveldb.DB
	now func() time.Time
}

type storedHistory struct {
	SavedAt time.Time          `json:"savedAt"`
	Items   []StakeHistoryItem `json:"items"`
}

// OpenHistoryStore opens or creates the LevelDB database at path.
func OpenHistoryStore(path string) (*LevelDBHistoryStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open history store %s: %w", path, err)
	}
	return &LevelDBHistoryStore{db: db, now: time.Now}, nil
}

func historyKey(votePubkey string) []byte {
	return []byte(historyKeyPrefix + votePubkey)
}

// LoadHistory returns the stored history or ErrNotFound.
func (s *LevelDBHistoryStore) LoadHistory(votePubkey string) ([]StakeHistoryItem, error) {
	raw, err := s.db.Get(historyKey(votePubkey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", votePubkey, err)
	}
	var stored storedHistory
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", votePubkey, err)
	}
	return stored.Items, nil
}

// SaveHistory replaces the stored history of a validator.
func (s *LevelDBHistoryStore) SaveHistory(votePubkey string, items []StakeHistoryItem) error {
	raw, err := json.Marshal(storedHistory{SavedAt: s.now().UTC(), Items: items})
	if err != nil {
		return fmt.Errorf("encode history %s: %w", votePubkey, err)
	}
	if err := s.db.Put(historyKey(votePubkey), raw, nil); err != nil {
		return fmt.Errorf("save history %s: %w", votePubkey, err)
	}
	return nil
}

// Validators lists the vote pubkeys with a stored history.
func (s *LevelDBHistoryStore) Validators() ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(historyKeyPrefix)), nil)
	defer iter.Release()

	var out []string
	for iter.Next() {
		out = append(out, string(iter.Key()[len(historyKeyPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}
	return out, nil
}

// Close releases the database.
func (s *LevelDBHistoryStore) Close() error {
	return s.db.Close()
}
