// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

// Blob envelope identification
const (
	BlobMagic   uint32 = 0x42424346 // "BBCF"
	BlobVersion uint16 = 1
)

// InterfacesKey is the blob key holding both interface configurations
const InterfacesKey = "interfaces"

var configBucket = []byte("config")

// Store errors
var (
	ErrNotFound    = errors.New("config: blob not found")
	ErrCorruptBlob = errors.New("config: corrupt blob")
)

// Store persists configuration blobs in a bbolt database
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the store at path
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(configBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file lock
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadBlob returns a copy of the blob stored under key
func (s *Store) ReadBlob(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(configBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), raw...)
		return nil
	})
	return out, err
}

// WriteBlob replaces the blob stored under key
func (s *Store) WriteBlob(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(configBucket).Put([]byte(key), data)
	})
}

type interfacesBlob struct {
	Magic      uint32     `cbor:"1,keyasint"`
	Version    uint16     `cbor:"2,keyasint"`
	Upstream   LinkConfig `cbor:"3,keyasint"`
	Downstream LinkConfig `cbor:"4,keyasint"`
}

// SaveInterfaces stores both interface configurations
func (s *Store) SaveInterfaces(up, down LinkConfig) error {
	data, err := cbor.Marshal(interfacesBlob{
		Magic:      BlobMagic,
		Version:    BlobVersion,
		Upstream:   up,
		Downstream: down,
	})
	if err != nil {
		return fmt.Errorf("encoding interfaces: %w", err)
	}
	return s.WriteBlob(InterfacesKey, data)
}

// LoadInterfaces returns the stored interface configurations. A blob with a
// foreign magic or version gives ErrCorruptBlob; callers fall back to the
// file configuration.
func (s *Store) LoadInterfaces() (up, down LinkConfig, err error) {
	data, err := s.ReadBlob(InterfacesKey)
	if err != nil {
		return up, down, err
	}

	var blob interfacesBlob
	if err := cbor.Unmarshal(data, &blob); err != nil {
		return up, down, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if blob.Magic != BlobMagic {
		return up, down, fmt.Errorf("%w: magic 0x%08X", ErrCorruptBlob, blob.Magic)
	}
	if blob.Version != BlobVersion {
		return up, down, fmt.Errorf("%w: version %d", ErrCorruptBlob, blob.Version)
	}
	return blob.Upstream, blob.Downstream, nil
}
