// Package storage persists the encrypted envelope, the rolling backup
// history, the offline sync queue, and the sync watermarks in a
// single bbolt file with one bucket per concern. Everything sensitive
// in this file is already sealed; storage never sees plaintext.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dmagur/passlock/internal/crypto"
	"github.com/dmagur/passlock/internal/models"
)

// Bucket names.
var (
	vaultBucket     = []byte("vault")      // primary encrypted snapshot
	backupsBucket   = []byte("backups")    // bounded snapshot history
	queueBucket     = []byte("queue")      // offline sync queue, insertion order
	watermarkBucket = []byte("watermarks") // last-sync timestamp per collection
)

var envelopeKey = []byte("envelope")

// ErrNoEnvelope is returned by LoadEnvelope when no snapshot was ever
// written.
var ErrNoEnvelope = errors.New("no stored vault envelope")

// Store is a bbolt-backed persistence collaborator for the vault and
// the sync engine.
type Store struct {
	db        *bolt.DB
	backupCap int
}

// backupRecord is one entry in the bounded backup history.
type backupRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      crypto.Envelope `json:"data"`
}

// Open opens or creates the store at path. backupCap bounds the
// backup history; values below one fall back to the default of 5.
func Open(path string, backupCap int) (*Store, error) {
	if backupCap < 1 {
		backupCap = 5
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{vaultBucket, backupsBucket, queueBucket, watermarkBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, backupCap: backupCap}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEnvelope replaces the primary encrypted snapshot.
func (s *Store) SaveEnvelope(env crypto.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(vaultBucket).Put(envelopeKey, data)
	})
}

// LoadEnvelope reads the primary encrypted snapshot.
func (s *Store) LoadEnvelope() (crypto.Envelope, error) {
	var env crypto.Envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(vaultBucket).Get(envelopeKey)
		if data == nil {
			return ErrNoEnvelope
		}
		return json.Unmarshal(data, &env)
	})
	return env, err
}

// EnvelopeExists reports whether a snapshot was ever written.
func (s *Store) EnvelopeExists() (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(vaultBucket).Get(envelopeKey) != nil
		return nil
	})
	return exists, err
}

// AddBackup appends a snapshot to the backup history, newest last,
// and trims the history to the configured cap.
func (s *Store) AddBackup(env crypto.Envelope, at time.Time) error {
	record, err := json.Marshal(backupRecord{Timestamp: at, Data: env})
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(backupsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(sequenceKey(seq), record); err != nil {
			return err
		}

		// Drop oldest entries until the history fits the cap. Each
		// delete uses a fresh cursor: deleting shifts the iteration
		// position, so walking on with the same cursor skips entries
		// and can leave the history above the cap.
		count := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for count > s.backupCap {
			oldest, _ := b.Cursor().First()
			if err := b.Delete(oldest); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

// Backups returns the retained backup history, oldest first.
func (s *Store) Backups() ([]crypto.Envelope, error) {
	var out []crypto.Envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(backupsBucket).ForEach(func(_, v []byte) error {
			var record backupRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshal backup: %w", err)
			}
			out = append(out, record.Data)
			return nil
		})
	})
	return out, err
}

// Enqueue appends a mutation to the offline queue.
func (s *Store) Enqueue(entry models.SyncQueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
}

// Queue returns all queued mutations in insertion order.
func (s *Store) Queue() ([]models.SyncQueueEntry, error) {
	var out []models.SyncQueueEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(_, v []byte) error {
			var entry models.SyncQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal queue entry: %w", err)
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

// ClearQueue removes every queued mutation.
func (s *Store) ClearQueue() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(queueBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(queueBucket)
		return err
	})
}

// SetWatermark records the last successful sync time for a collection.
func (s *Store) SetWatermark(collection string, at time.Time) error {
	data, err := at.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(watermarkBucket).Put([]byte(collection), data)
	})
}

// Watermark returns the last successful sync time for a collection.
// The zero time means the collection was never synced.
func (s *Store) Watermark(collection string) (time.Time, error) {
	var at time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(watermarkBucket).Get([]byte(collection))
		if data == nil {
			return nil
		}
		return at.UnmarshalBinary(data)
	})
	return at, err
}

// sequenceKey encodes a bucket sequence number as a big-endian key so
// cursor order matches insertion order.
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
