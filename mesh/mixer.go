// Package mesh ingests one shard-aggregate pulse per global epoch.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrDuplicateEpoch = errors.New("pulse for epoch already present")

// PulsePayload is the inbound pulse shape. MerkleRoot is an opaque
// commitment string of at least 8 characters.
type PulsePayload struct {
	Epoch           uint64         `json:"epoch"`
	MerkleRoot      string         `json:"merkle_root"`
	ProofCid        string         `json:"proof_cid,omitempty"`
	EntropyEstimate float64        `json:"entropy_estimate"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (p PulsePayload) Validate() error {
	if len(p.MerkleRoot) < 8 {
		return errors.New("merkle_root shorter than 8 characters")
	}
	if p.EntropyEstimate < 0 || p.EntropyEstimate > 1 {
		return errors.Errorf("entropy_estimate %f out of [0,1]", p.EntropyEstimate)
	}
	return nil
}

// StoredPulse is the persisted pulse document.
type StoredPulse struct {
	ReceivedAt time.Time `json:"received_at"`
	PulsePayload
}

// Mixer persists pulses as per-epoch documents. Creation is atomic
// create-if-absent: the content is staged to a temp file and linked into
// place, so a duplicate epoch never clobbers the stored pulse and a partial
// document is never observable.
type Mixer struct {
	pulsesDir string
	logger    *zap.Logger
}

func NewMixer(pulsesDir string, logger *zap.Logger) (*Mixer, error) {
	if err := os.MkdirAll(pulsesDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating pulses dir")
	}
	return &Mixer{pulsesDir: pulsesDir, logger: logger}, nil
}

// AcceptPulse persists the pulse and acknowledges immediately. Aggregation
// into the chain is a separate, externally triggered step.
func (m *Mixer) AcceptPulse(ctx context.Context, payload PulsePayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", errors.Wrap(err, "validating pulse")
	}

	stored := StoredPulse{ReceivedAt: time.Now().UTC(), PulsePayload: payload}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "serializing pulse")
	}

	path := m.pulsePath(payload.Epoch)

	tmp, err := os.CreateTemp(m.pulsesDir, ".pulse-*")
	if err != nil {
		return "", errors.Wrap(err, "creating pulse temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "writing pulse temp file")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "closing pulse temp file")
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if os.IsExist(err) {
			return "", ErrDuplicateEpoch
		}
		return "", errors.Wrap(err, "linking pulse into place")
	}

	m.logger.Info("pulse accepted",
		zap.Uint64("epoch", payload.Epoch),
		zap.String("merkle_root", payload.MerkleRoot),
	)
	return path, nil
}

// GetPulse loads the stored pulse for an epoch.
func (m *Mixer) GetPulse(ctx context.Context, epoch uint64) (StoredPulse, error) {
	data, err := os.ReadFile(m.pulsePath(epoch))
	if err != nil {
		return StoredPulse{}, errors.Wrapf(err, "reading pulse for epoch %d", epoch)
	}

	var pulse StoredPulse
	if err := json.Unmarshal(data, &pulse); err != nil {
		return StoredPulse{}, errors.Wrap(err, "deserializing pulse")
	}
	return pulse, nil
}

// PendingAfter returns stored pulses with an epoch greater than cursor, in
// ascending epoch order. A cursor of -1 returns everything.
func (m *Mixer) PendingAfter(ctx context.Context, cursor int64) ([]StoredPulse, error) {
	entries, err := os.ReadDir(m.pulsesDir)
	if err != nil {
		return nil, errors.Wrap(err, "listing pulses dir")
	}

	var epochs []uint64
	for _, entry := range entries {
		var epoch uint64
		if _, err := fmt.Sscanf(entry.Name(), "epoch_%d.json", &epoch); err != nil {
			continue
		}
		if int64(epoch) > cursor {
			epochs = append(epochs, epoch)
		}
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	pulses := make([]StoredPulse, 0, len(epochs))
	for _, epoch := range epochs {
		pulse, err := m.GetPulse(ctx, epoch)
		if err != nil {
			return nil, err
		}
		pulses = append(pulses, pulse)
	}
	return pulses, nil
}

func (m *Mixer) pulsePath(epoch uint64) string {
	return filepath.Join(m.pulsesDir, fmt.Sprintf("epoch_%d.json", epoch))
}
