// Package chain maintains the append-only header chain anchoring aggregate
// merkle roots in public beacon randomness.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luckyjupiter/chronomancy/beacon"
	"github.com/luckyjupiter/chronomancy/utils"
)

const genesisPreimage = "chronomancy-genesis"

var ErrHeightOutOfRange = errors.New("height out of range")

// Block is immutable once appended. Step is +1 when the last hex nibble of
// Hash is >= 8, else -1; Walk is the running sum of steps from genesis.
type Block struct {
	Height           uint64  `json:"height"`
	Timestamp        float64 `json:"timestamp"`
	BeaconRound      uint64  `json:"beacon_round"`
	BeaconRandomness string  `json:"beacon_randomness"`
	MerkleRoot       string  `json:"merkle_root"`
	PrevHash         string  `json:"prev_hash"`
	Hash             string  `json:"hash"`
	Step             int     `json:"step"`
	Walk             int     `json:"walk"`
}

// Chain is the in-memory block sequence, mirrored wholesale to a single
// JSON document on every append.
type Chain struct {
	path    string
	fetcher beacon.Fetcher
	logger  *zap.Logger

	mu     sync.RWMutex
	blocks []Block
}

// NewChain loads the persisted chain from path, creating and persisting the
// genesis block if no document exists yet.
func NewChain(path string, fetcher beacon.Fetcher, logger *zap.Logger) (*Chain, error) {
	c := &Chain{path: path, fetcher: fetcher, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &c.blocks); err != nil {
			return nil, errors.Wrap(err, "deserializing persisted chain")
		}
		if len(c.blocks) == 0 {
			return nil, errors.New("persisted chain is empty")
		}
	case os.IsNotExist(err):
		c.blocks = []Block{genesis()}
		if err := c.persist(); err != nil {
			return nil, errors.Wrap(err, "persisting genesis")
		}
	default:
		return nil, errors.Wrap(err, "reading persisted chain")
	}

	return c, nil
}

func genesis() Block {
	return Block{
		Height:           0,
		Timestamp:        unixSeconds(),
		BeaconRound:      0,
		BeaconRandomness: utils.ZeroDigestHex,
		MerkleRoot:       utils.ZeroDigestHex,
		PrevHash:         utils.ZeroDigestHex,
		Hash:             utils.Sha256HexDigest([]byte(genesisPreimage)),
		Step:             0,
		Walk:             0,
	}
}

// Append commits a new block binding merkleRoot to the next beacon round.
// A failed beacon fetch is absorbed with the zero round: liveness over
// verifiability when the beacon is unreachable.
func (c *Chain) Append(ctx context.Context, merkleRoot string) (Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	round, randomness := c.fetchBeacon(ctx)

	prev := c.blocks[len(c.blocks)-1]
	height := prev.Height + 1

	raw := fmt.Sprintf("%d|%d|%s|%s|%s", height, round, randomness, merkleRoot, prev.Hash)
	hash := utils.Sha256HexDigest([]byte(raw))

	step := -1
	if nibbleValue(hash[len(hash)-1]) >= 8 {
		step = 1
	}

	block := Block{
		Height:           height,
		Timestamp:        unixSeconds(),
		BeaconRound:      round,
		BeaconRandomness: randomness,
		MerkleRoot:       merkleRoot,
		PrevHash:         prev.Hash,
		Hash:             hash,
		Step:             step,
		Walk:             prev.Walk + step,
	}

	c.blocks = append(c.blocks, block)
	if err := c.persist(); err != nil {
		c.blocks = c.blocks[:len(c.blocks)-1]
		return Block{}, errors.Wrap(err, "persisting chain")
	}

	return block, nil
}

func (c *Chain) fetchBeacon(ctx context.Context) (uint64, string) {
	randomness, err := c.fetcher.Fetch(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("beacon fetch failed, using zero round", zap.Error(err))
		}
		return 0, utils.ZeroDigestHex
	}
	return randomness.Round, randomness.Randomness
}

// Latest returns the tail block.
func (c *Chain) Latest() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1]
}

// BlockAt returns the block at a height.
func (c *Chain) BlockAt(height int64) (Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if height < 0 || height >= int64(len(c.blocks)) {
		return Block{}, ErrHeightOutOfRange
	}
	return c.blocks[height], nil
}

// WalkValue returns the cumulative random-walk value at a height.
func (c *Chain) WalkValue(height int64) (int, error) {
	block, err := c.BlockAt(height)
	if err != nil {
		return 0, err
	}
	return block.Walk, nil
}

// StepAt returns the +1/-1 step taken at a height; genesis took no step.
func (c *Chain) StepAt(height int64) (int, error) {
	if height == 0 {
		return 0, ErrHeightOutOfRange
	}
	block, err := c.BlockAt(height)
	if err != nil {
		return 0, err
	}
	return block.Step, nil
}

// persist rewrites the whole chain document atomically. Callers hold the
// write lock.
func (c *Chain) persist() error {
	data, err := json.MarshalIndent(c.blocks, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing chain")
	}

	if err := renameio.WriteFile(c.path, data, 0o644); err != nil {
		return errors.Wrap(err, "writing chain document")
	}

	return nil
}

func nibbleValue(hexChar byte) int {
	switch {
	case hexChar >= '0' && hexChar <= '9':
		return int(hexChar - '0')
	case hexChar >= 'a' && hexChar <= 'f':
		return int(hexChar-'a') + 10
	default:
		return 0
	}
}

func unixSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
