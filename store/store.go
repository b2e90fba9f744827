package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("store resource not found")
	ErrAlreadyExists = errors.New("store resource already exists")
)

// RevealRecord is one shard reveal, write-once under its
// (epoch, operator_id, src) key.
type RevealRecord struct {
	Epoch      uint64  `json:"epoch"`
	OperatorID string  `json:"operator_id"`
	MerkleRoot string  `json:"merkle_root"`
	Src        string  `json:"src"`
	Quality    float64 `json:"quality"`
	CapKhz     int     `json:"cap_khz"`
	ReceivedTs float64 `json:"received_ts"`
}

type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger

	// serializes reveal inserts so the exists-check and the write form one
	// critical section; this is what enforces write-once keys on pebble.
	revealMu sync.Mutex
}

func NewPebbleStore(db *pebble.DB, logger *zap.Logger) *PebbleStore {
	return &PebbleStore{db: db, logger: logger}
}

// SetReveal persists a reveal record. A record already stored under the same
// key is authoritative: the call fails with ErrAlreadyExists and nothing is
// written.
func (s *PebbleStore) SetReveal(ctx context.Context, record RevealRecord) error {
	key := revealKey(record.Epoch, record.OperatorID, record.Src)

	s.revealMu.Lock()
	defer s.revealMu.Unlock()

	_, closer, err := s.db.Get(key)
	if err == nil {
		closer.Close()
		return ErrAlreadyExists
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return errors.Wrap(err, "checking for existing reveal")
	}

	value, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "serializing reveal")
	}

	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return errors.Wrap(err, "storing reveal")
	}

	return nil
}

func (s *PebbleStore) GetReveal(ctx context.Context, epoch uint64, operatorID, src string) (RevealRecord, error) {
	key := revealKey(epoch, operatorID, src)

	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return RevealRecord{}, ErrNotFound
		}
		return RevealRecord{}, errors.Wrap(err, "getting reveal")
	}
	defer closer.Close()

	var record RevealRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return RevealRecord{}, errors.Wrap(err, "deserializing reveal")
	}

	return record, nil
}

// GetRevealsForEpoch returns every reveal stored for an epoch, in key order.
// An epoch with no reveals yields an empty slice, not an error.
func (s *PebbleStore) GetRevealsForEpoch(ctx context.Context, epoch uint64) ([]RevealRecord, error) {
	lower := revealEpochPrefix(epoch)
	upper := revealEpochPrefix(epoch + 1)
	if epoch == ^uint64(0) {
		upper = []byte{Reveal + 1}
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(err, "creating reveal iterator")
	}
	defer iter.Close()

	records := make([]RevealRecord, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		var record RevealRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return nil, errors.Wrap(err, "deserializing reveal")
		}
		records = append(records, record)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating epoch reveals")
	}

	return records, nil
}

// SetLastAnchoredEpoch records the anchor loop cursor: the highest pulse
// epoch already committed into the chain.
func (s *PebbleStore) SetLastAnchoredEpoch(ctx context.Context, epoch uint64) error {
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], epoch)

	if err := s.db.Set(lastAnchoredEpochKey(), value[:], pebble.Sync); err != nil {
		return errors.Wrap(err, "storing last anchored epoch")
	}

	return nil
}

func (s *PebbleStore) GetLastAnchoredEpoch(ctx context.Context) (uint64, error) {
	value, closer, err := s.db.Get(lastAnchoredEpochKey())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "getting last anchored epoch")
	}
	defer closer.Close()

	return binary.BigEndian.Uint64(value), nil
}
