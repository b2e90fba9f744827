package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luckyjupiter/chronomancy/beacon"
)

type stubFetcher struct {
	randomness beacon.Randomness
	err        error
}

func (s *stubFetcher) Fetch(ctx context.Context) (beacon.Randomness, error) {
	return s.randomness, s.err
}

func testChain(t *testing.T, fetcher beacon.Fetcher) *Chain {
	t.Helper()
	c, err := NewChain(filepath.Join(t.TempDir(), "chain.json"), fetcher, nil)
	require.NoError(t, err)
	return c
}

func sha256Hex(s string) string {
	digest := sha256.Sum256([]byte(s))
	return hex.EncodeToString(digest[:])
}

func TestChain_Genesis(t *testing.T) {
	c := testChain(t, &stubFetcher{})

	genesis := c.Latest()
	assert.Equal(t, uint64(0), genesis.Height)
	assert.Equal(t, sha256Hex("chronomancy-genesis"), genesis.Hash)
	assert.Equal(t, strings.Repeat("0", 64), genesis.BeaconRandomness)
	assert.Equal(t, strings.Repeat("0", 64), genesis.MerkleRoot)
	assert.Equal(t, strings.Repeat("0", 64), genesis.PrevHash)
	assert.Equal(t, 0, genesis.Step)
	assert.Equal(t, 0, genesis.Walk)
}

func TestChain_AppendWithBeacon(t *testing.T) {
	randomness := strings.Repeat("bb", 32)
	root := strings.Repeat("aa", 32)
	c := testChain(t, &stubFetcher{randomness: beacon.Randomness{Round: 5, Randomness: randomness}})

	genesis := c.Latest()
	block, err := c.Append(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), block.Height)
	assert.Equal(t, genesis.Hash, block.PrevHash)
	assert.Equal(t, uint64(5), block.BeaconRound)
	assert.Equal(t, randomness, block.BeaconRandomness)

	expected := sha256Hex(fmt.Sprintf("1|5|%s|%s|%s", randomness, root, genesis.Hash))
	assert.Equal(t, expected, block.Hash)
}

func TestChain_AppendOnBeaconFailure(t *testing.T) {
	c := testChain(t, &stubFetcher{err: fmt.Errorf("beacon unreachable")})

	block, err := c.Append(context.Background(), strings.Repeat("cc", 32))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), block.Height)
	assert.Equal(t, uint64(0), block.BeaconRound)
	assert.Equal(t, strings.Repeat("0", 64), block.BeaconRandomness)
}

func TestChain_LinkAndWalkInvariants(t *testing.T) {
	c := testChain(t, &stubFetcher{randomness: beacon.Randomness{Round: 9, Randomness: strings.Repeat("12", 32)}})

	for i := 0; i < 10; i++ {
		_, err := c.Append(context.Background(), strings.Repeat("ee", 32))
		require.NoError(t, err)
	}

	prev, err := c.BlockAt(0)
	require.NoError(t, err)
	require.Equal(t, 0, prev.Walk)

	for h := int64(1); h <= 10; h++ {
		block, err := c.BlockAt(h)
		require.NoError(t, err)

		assert.Equal(t, prev.Hash, block.PrevHash)
		assert.Contains(t, []int{-1, 1}, block.Step)
		assert.Equal(t, prev.Walk+block.Step, block.Walk)

		// The step is fully determined by the hash's last nibble.
		nibble := block.Hash[len(block.Hash)-1]
		if nibble >= '8' && nibble <= '9' || nibble >= 'a' && nibble <= 'f' {
			assert.Equal(t, 1, block.Step)
		} else {
			assert.Equal(t, -1, block.Step)
		}
		prev = block
	}
}

func TestChain_WalkValueRangeErrors(t *testing.T) {
	c := testChain(t, &stubFetcher{})

	walk, err := c.WalkValue(0)
	require.NoError(t, err)
	assert.Equal(t, 0, walk)

	_, err = c.WalkValue(-1)
	require.ErrorIs(t, err, ErrHeightOutOfRange)

	_, err = c.WalkValue(1)
	require.ErrorIs(t, err, ErrHeightOutOfRange)

	_, err = c.StepAt(0)
	require.ErrorIs(t, err, ErrHeightOutOfRange)
}

func TestChain_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	fetcher := &stubFetcher{randomness: beacon.Randomness{Round: 3, Randomness: strings.Repeat("0f", 32)}}

	c, err := NewChain(path, fetcher, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := c.Append(context.Background(), strings.Repeat("dd", 32))
		require.NoError(t, err)
	}
	tail := c.Latest()

	reloaded, err := NewChain(path, fetcher, nil)
	require.NoError(t, err)
	assert.Equal(t, tail, reloaded.Latest())

	walk, err := reloaded.WalkValue(3)
	require.NoError(t, err)
	assert.Equal(t, tail.Walk, walk)
}
