// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package diskstore backs the simulated disk units' sectors with an
// in-memory Badger instance. It plays the role of the disk platters
// inside the simulation: hwsim.Disk issues reads and writes against it,
// but nothing here ever touches real disk, so it carries no state
// across a Supervisor restart.
package diskstore

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is the sector-addressed backing store for every simulated disk
// unit, keyed by (unit, track, sector).
type Store struct {
	db *badger.DB
}

// Open creates a fresh, empty in-memory sector store.
func Open() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("diskstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the store's resources. There is nothing to flush:
// everything here is in-memory and discarded on close, by design.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadSector returns the bytes previously written to (unit, track,
// sector), or nil (no bytes) if nothing was ever written there.
func (s *Store) ReadSector(unit, track, sector int) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sectorKey(unit, track, sector))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("diskstore: read unit=%d track=%d sector=%d: %w", unit, track, sector, err)
	}
	return data, nil
}

// WriteSector stores data as the contents of (unit, track, sector).
func (s *Store) WriteSector(unit, track, sector int, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sectorKey(unit, track, sector), data)
	})
	if err != nil {
		return fmt.Errorf("diskstore: write unit=%d track=%d sector=%d: %w", unit, track, sector, err)
	}
	return nil
}

func sectorKey(unit, track, sector int) []byte {
	key := make([]byte, 0, 12)
	key = binary.BigEndian.AppendUint32(key, uint32(unit))
	key = binary.BigEndian.AppendUint32(key, uint32(track))
	key = binary.BigEndian.AppendUint32(key, uint32(sector))
	return key
}
