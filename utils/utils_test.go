package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerkleRoot_Empty(t *testing.T) {
	root, err := MerkleRoot(nil)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("0", 64), root)
}

func TestMerkleRoot_SingleLeafPassthrough(t *testing.T) {
	leaf := strings.Repeat("ab", 32)
	root, err := MerkleRoot([]string{leaf})
	require.NoError(t, err)
	require.Equal(t, leaf, root)
}

func TestMerkleRoot_PairIsHashOfConcat(t *testing.T) {
	a := strings.Repeat("aa", 32)
	b := strings.Repeat("bb", 32)

	aBytes, err := hex.DecodeString(a)
	require.NoError(t, err)
	bBytes, err := hex.DecodeString(b)
	require.NoError(t, err)

	expected := sha256.Sum256(append(aBytes, bBytes...))

	root, err := MerkleRoot([]string{a, b})
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(expected[:]), root)
}

func TestMerkleRoot_OddCountDuplicatesLast(t *testing.T) {
	a := strings.Repeat("aa", 32)
	b := strings.Repeat("bb", 32)
	c := strings.Repeat("cc", 32)

	// level 1: H(a||b), H(c||c); level 2: H(H(a||b)||H(c||c))
	ab := hashPairHex(t, a, b)
	cc := hashPairHex(t, c, c)
	expected := hashPairHex(t, ab, cc)

	root, err := MerkleRoot([]string{a, b, c})
	require.NoError(t, err)
	require.Equal(t, expected, root)
}

func TestMerkleRoot_InvalidLeaf(t *testing.T) {
	_, err := MerkleRoot([]string{"not-hex"})
	require.Error(t, err)
}

func hashPairHex(t *testing.T, left, right string) string {
	t.Helper()
	leftBytes, err := hex.DecodeString(left)
	require.NoError(t, err)
	rightBytes, err := hex.DecodeString(right)
	require.NoError(t, err)
	digest := sha256.Sum256(append(leftBytes, rightBytes...))
	return hex.EncodeToString(digest[:])
}
