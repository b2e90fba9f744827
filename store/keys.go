package store

import (
	"encoding/binary"
)

const (
	Reveal            = 0x00
	LastAnchoredEpoch = 0x01
)

// revealKey is the unique reveal key (epoch, operator_id, src). The epoch is
// big-endian so prefix iteration walks an epoch's reveals contiguously;
// operator and src are separated by a NUL, which neither field may contain.
func revealKey(epoch uint64, operatorID, src string) []byte {
	key := revealEpochPrefix(epoch)
	key = append(key, operatorID...)
	key = append(key, 0x00)
	key = append(key, src...)

	return key
}

func revealEpochPrefix(epoch uint64) []byte {
	key := []byte{Reveal}
	key = binary.BigEndian.AppendUint64(key, epoch)

	return key
}

func lastAnchoredEpochKey() []byte {
	return []byte{LastAnchoredEpoch}
}
