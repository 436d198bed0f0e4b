package utils

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var (
	keyTotal      = []byte("counters/total_packets")
	keySuspicious = []byte("counters/suspicious_packets")
)

// CounterStore keeps the packet totals on disk so they survive restarts. Only the counters are
// stored, never the traffic itself.
type CounterStore struct {
	db *badger.DB
}

func OpenCounterStore(path string) (*CounterStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening counter store: %w", err)
	}
	return &CounterStore{db: db}, nil
}

func (s *CounterStore) Close() error {
	return s.db.Close()
}

// Load returns the saved totals. A fresh store returns zeros.
func (s *CounterStore) Load() (total, suspicious uint64, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		if total, err = getUint(txn, keyTotal); err != nil {
			return err
		}
		suspicious, err = getUint(txn, keySuspicious)
		return err
	})
	return total, suspicious, err
}

func (s *CounterStore) Save(total, suspicious uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyTotal, binary.BigEndian.AppendUint64(nil, total)); err != nil {
			return err
		}
		return txn.Set(keySuspicious, binary.BigEndian.AppendUint64(nil, suspicious))
	})
}

// Run saves the counters returned by snapshot every interval and once more when ctx is done.
func (s *CounterStore) Run(ctx context.Context, interval time.Duration, snapshot func() (uint64, uint64), logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	save := func() {
		total, suspicious := snapshot()
		if err := s.Save(total, suspicious); err != nil {
			logger.Error("saving counters", zap.Error(err))
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			save()
			return
		case <-ticker.C:
			save()
		}
	}
}

func getUint(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(b []byte) error {
		if len(b) != 8 {
			return fmt.Errorf("counter %s: want 8 bytes, got %d", key, len(b))
		}
		v = binary.BigEndian.Uint64(b)
		return nil
	})
	return v, err
}
