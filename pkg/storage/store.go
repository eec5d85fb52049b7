// Package storage persists exchange state in Pebble. All writes of one engine
// operation go through a single Batch so a crash never leaves half an
// operation on disk.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadTickers returns the persisted registry in registration order.
func (s *Store) LoadTickers() ([]token.Info, error) {
	var out []token.Info
	err := s.scan([]byte(prefixTicker), func(_, val []byte) error {
		var info token.Info
		if err := json.Unmarshal(val, &info); err != nil {
			return fmt.Errorf("failed to unmarshal ticker: %w", err)
		}
		out = append(out, info)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, err
}

func (s *Store) LoadBalances() ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.scan([]byte(prefixBalance), func(_, val []byte) error {
		var rec balanceRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal balance: %w", err)
		}
		e, err := rec.entry()
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// LoadOrder returns nil if the order was never stored.
func (s *Store) LoadOrder(id uint64) (*orderbook.Order, error) {
	val, closer, err := s.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	defer closer.Close()

	var rec orderRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %d: %w", id, err)
	}
	return rec.order()
}

// LoadOpenOrders returns every OPEN order in sequence order.
func (s *Store) LoadOpenOrders() ([]*orderbook.Order, error) {
	var out []*orderbook.Order
	err := s.scan([]byte(prefixOrder), func(_, val []byte) error {
		var rec orderRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		if rec.Status != orderbook.Open {
			return nil
		}
		o, err := rec.order()
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, err
}

// LoadSeq returns the last issued order sequence, 0 on a fresh store.
func (s *Store) LoadSeq() (uint64, error) {
	return s.getUint64([]byte(keySeq))
}

// LoadNonce returns the last request nonce accepted from addr.
func (s *Store) LoadNonce(addr common.Address) (uint64, error) {
	return s.getUint64(nonceKey(addr))
}

func (s *Store) SaveNonce(addr common.Address, nonce uint64) error {
	if err := s.db.Set(nonceKey(addr), encodeUint64(nonce), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

func (s *Store) getUint64(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt %s: %d bytes", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func (s *Store) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Batch collects the writes of one engine operation.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) PutTicker(info token.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return b.batch.Set(tickerKey(info.Ticker), data, nil)
}

func (b *Batch) PutBalance(e ledger.Entry) error {
	data, err := json.Marshal(newBalanceRecord(e))
	if err != nil {
		return err
	}
	return b.batch.Set(balanceKey(e.Key.Trader, e.Key.Ticker), data, nil)
}

func (b *Batch) PutOrder(o *orderbook.Order) error {
	data, err := json.Marshal(newOrderRecord(o))
	if err != nil {
		return err
	}
	return b.batch.Set(orderKey(o.ID), data, nil)
}

func (b *Batch) PutSeq(seq uint64) error {
	return b.batch.Set([]byte(keySeq), encodeUint64(seq), nil)
}

// Commit writes the batch atomically and releases it.
func (b *Batch) Commit() error {
	defer b.batch.Close()
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Discard releases the batch without writing it.
func (b *Batch) Discard() error {
	return b.batch.Close()
}
