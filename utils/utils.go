package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ZeroDigestHex is the 64-character hex string used wherever the design
// needs a well-known empty commitment (genesis fields, empty merkle trees).
var ZeroDigestHex = strings.Repeat("0", 64)

func Sha256HexDigest(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// MerkleRoot computes the hex root of a binary SHA-256 tree over hex-encoded
// 32-byte leaves. The last leaf of an odd level is paired with itself. An
// empty input yields ZeroDigestHex; a single leaf is returned as-is, unhashed.
func MerkleRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return ZeroDigestHex, nil
	}

	level := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		decoded, err := hex.DecodeString(leaf)
		if err != nil {
			return "", errors.Wrapf(err, "decoding merkle leaf %s", leaf)
		}
		level = append(level, decoded)
	}

	if len(level) == 1 {
		return leaves[0], nil
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			digest := sha256.Sum256(append(append([]byte{}, left...), right...))
			next = append(next, digest[:])
		}
		level = next
	}

	return hex.EncodeToString(level[0]), nil
}
