package eventqueue

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var deadLetterBucket = []byte("dead_letter")

// deadLetterStore persists events that exhausted their retries so they
// survive a restart instead of vanishing with the process, backed by
// an embedded bbolt database — the same engine the teacher already
// pulls in for its session-compaction index.
type deadLetterStore struct {
	db *bolt.DB
}

func openDeadLetterStore(path string) (*deadLetterStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(deadLetterBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init dead-letter bucket: %w", err)
	}
	return &deadLetterStore{db: db}, nil
}

func (d *deadLetterStore) put(e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode dead-letter event: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(deadLetterBucket).Put([]byte(e.ID), data)
	})
}

func (d *deadLetterStore) list() ([]*Event, error) {
	var events []*Event
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(deadLetterBucket).ForEach(func(k, v []byte) error {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode dead-letter event %s: %w", k, err)
			}
			events = append(events, &e)
			return nil
		})
	})
	return events, err
}

func (d *deadLetterStore) count() (int, error) {
	n := 0
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(deadLetterBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (d *deadLetterStore) clear() error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(deadLetterBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(deadLetterBucket)
		return err
	})
}

func (d *deadLetterStore) close() error {
	return d.db.Close()
}
