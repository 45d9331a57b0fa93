package patcher

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// prefixResult keys completed-operation records in the journal, time-ordered
// so history iterates chronologically.
const prefixResult = "result:"

// Journal persists operation results to a Pebble store so past create/apply
// runs can be inspected after the fact.
type Journal struct {
	db *pebble.DB
}

// OpenJournal opens (and creates if needed) the journal under stateDir.
func OpenJournal(stateDir string) (*Journal, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := pebble.Open(stateDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close flushes and closes the underlying store.
func (j *Journal) Close() error {
	if err := j.db.Flush(); err != nil {
		j.db.Close()
		return err
	}
	return j.db.Close()
}

// Record appends one operation result under a time-ordered key.
func (j *Journal) Record(res *Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	suffix, err := randomSuffix()
	if err != nil {
		return fmt.Errorf("generate journal key: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d:%s", prefixResult, res.Timestamp, suffix))

	if err := j.db.Set(key, payload, pebble.Sync); err != nil {
		return fmt.Errorf("write result record: %w", err)
	}

	return nil
}

// History returns recorded results in chronological order. limit <= 0 means
// all records.
func (j *Journal) History(limit int) ([]*Result, error) {
	iter, err := newPrefixIter(j.db, prefixResult)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var results []*Result
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(results) >= limit {
			break
		}

		val := append([]byte(nil), iter.Value()...)
		var res Result
		if err := json.Unmarshal(val, &res); err != nil {
			// Skip corrupt records rather than failing the listing.
			continue
		}
		results = append(results, &res)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return results, nil
}

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
