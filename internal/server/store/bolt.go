package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	bbolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("webvh")

// Bolt is the embedded single-file backend. Every PutBatch runs in one
// bbolt update transaction, so multi-key commits are atomic and crash-safe.
type Bolt struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt: %v", common.ErrorStore, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", common.ErrorStore, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bolt) Has(_ context.Context, key string) (bool, error) {
	var ok bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(boltBucket).Get([]byte(key)) != nil
		return nil
	})
	return ok, err
}

func (b *Bolt) ScanPrefix(_ context.Context, prefix string) ([]KV, error) {
	var out []KV
	p := []byte(prefix)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			val := make([]byte, len(v))
			copy(val, v)
			out = append(out, KV{Key: string(key), Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", common.ErrorStore, err)
	}
	return out, nil
}

func (b *Bolt) PutBatch(_ context.Context, puts []KV, deletes []string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(boltBucket)
		for _, kv := range puts {
			if err := bkt.Put([]byte(kv.Key), kv.Value); err != nil {
				return err
			}
		}
		for _, k := range deletes {
			if err := bkt.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: batch: %v", common.ErrorStore, err)
	}
	return nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
