// Package cache persists the offline-readable chat state. Exactly one
// named record holds rooms, messages and users; everything else in the
// store is session state and never written here.
package cache

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/fitchat/fitchat-client/internal/types"
)

var (
	bucketName  = []byte("fitchat")
	snapshotKey = []byte("snapshot")

	ErrNoSnapshot = errors.New("cache: no snapshot")
)

// Snapshot is the persisted allow-list of chat state.
type Snapshot struct {
	Rooms    []types.Room               `json:"rooms"`
	Messages map[string][]types.Message `json:"messages"`
	Users    []types.User               `json:"users"`
}

type SnapshotStore interface {
	Save(snap *Snapshot) error
	Load() (*Snapshot, error)
	Close() error
}

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(snapshotKey, raw)
	})
}

func (s *BoltStore) Load() (*Snapshot, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get(snapshotKey); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if raw == nil {
		return nil, ErrNoSnapshot
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return &snap, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
