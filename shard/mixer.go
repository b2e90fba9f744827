// Package shard scores and gates per-operator entropy reveals, producing
// epoch-level proof or VOID artifacts for the mesh.
package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luckyjupiter/chronomancy/oracle"
	"github.com/luckyjupiter/chronomancy/store"
	"github.com/luckyjupiter/chronomancy/utils"
)

const (
	// BaseCapKhz is the ceiling of the per-operator sampling cap.
	BaseCapKhz = 250

	// HonestEntropyFractionMin is both the per-reveal honesty threshold and
	// the epoch-level admission floor.
	HonestEntropyFractionMin = 0.40

	// minSampleCount rejects trivially small traces (spam guard).
	minSampleCount = 256
)

var ErrTraceTooSmall = errors.Errorf("trace smaller than %d samples", minSampleCount)

// RevealResult is returned to the reporter, which is expected to throttle
// its own sampling rate to CapKhz.
type RevealResult struct {
	CapKhz  int     `json:"cap_khz"`
	Quality float64 `json:"quality"`
}

// ProofEntry is one reveal listed in an epoch proof artifact.
type ProofEntry struct {
	Operator string  `json:"operator"`
	Root     string  `json:"root"`
	Quality  float64 `json:"quality"`
}

// EpochOutcome is the terminal result of an epoch: a proof listing every
// reveal, or a VOID marker. VOID is a normal outcome, not an error; a voided
// epoch contributes zero entropy downstream.
type EpochOutcome struct {
	Epoch         uint64       `json:"epoch"`
	Hef           float64      `json:"hef"`
	Voided        bool         `json:"voided"`
	Entries       []ProofEntry `json:"entries,omitempty"`
	AggregateRoot string       `json:"aggregate_root,omitempty"`
	ArtifactPath  string       `json:"artifact_path"`
}

type voidArtifact struct {
	Hef    float64 `json:"hef"`
	Reason string  `json:"reason"`
}

type Mixer struct {
	store   *store.PebbleStore
	dataDir string
	logger  *zap.Logger
}

func NewMixer(ps *store.PebbleStore, dataDir string, logger *zap.Logger) *Mixer {
	return &Mixer{store: ps, dataDir: dataDir, logger: logger}
}

// FocusReveal admits one reveal: spam guard, write-once key, quality score
// and quadratic sampling cap. The store's uniqueness guarantee makes a
// duplicate key surface as store.ErrAlreadyExists with the first record left
// authoritative.
func (m *Mixer) FocusReveal(ctx context.Context, epoch uint64, operatorID, merkleRoot, src string, metrics oracle.Metrics) (RevealResult, error) {
	if metrics.SampleCount < minSampleCount {
		return RevealResult{}, ErrTraceTooSmall
	}

	quality := metrics.QualityScore()
	// Quadratic reward: low quality is punished superlinearly, high quality
	// earns proportionally more bandwidth.
	capKhz := int(math.Round(BaseCapKhz * quality * quality))

	record := store.RevealRecord{
		Epoch:      epoch,
		OperatorID: operatorID,
		MerkleRoot: merkleRoot,
		Src:        src,
		Quality:    quality,
		CapKhz:     capKhz,
		ReceivedTs: float64(time.Now().UnixNano()) / float64(time.Second),
	}

	if err := m.store.SetReveal(ctx, record); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return RevealResult{}, err
		}
		return RevealResult{}, errors.Wrap(err, "storing reveal")
	}

	if err := m.appendAuditLine(record); err != nil {
		// The reveal is already committed; the audit line is operational
		// visibility only.
		m.logger.Warn("appending epoch audit line failed", zap.Error(err))
	}

	m.logger.Info("reveal accepted",
		zap.Uint64("epoch", epoch),
		zap.String("operator_id", operatorID),
		zap.Float64("quality", quality),
		zap.Int("cap_khz", capKhz),
	)

	return RevealResult{CapKhz: capKhz, Quality: quality}, nil
}

// DumpProof scans every reveal of an epoch and writes the epoch artifact.
// The gate is all-or-nothing: an epoch whose honest fraction falls below the
// threshold is voided wholesale, and an admitted epoch lists every reveal,
// including individually low-quality ones.
func (m *Mixer) DumpProof(ctx context.Context, epoch uint64) (EpochOutcome, error) {
	records, err := m.store.GetRevealsForEpoch(ctx, epoch)
	if err != nil {
		return EpochOutcome{}, errors.Wrap(err, "loading epoch reveals")
	}

	honest := 0
	for _, record := range records {
		if record.Quality >= HonestEntropyFractionMin {
			honest++
		}
	}

	hef := 0.0
	if len(records) > 0 {
		hef = float64(honest) / float64(len(records))
	}

	if hef < HonestEntropyFractionMin {
		path := filepath.Join(m.dataDir, fmt.Sprintf("VOID_epoch_%d.json", epoch))
		if err := writeJSONArtifact(path, voidArtifact{Hef: hef, Reason: "low_entropy"}); err != nil {
			return EpochOutcome{}, errors.Wrap(err, "writing void artifact")
		}

		m.logger.Info("epoch voided",
			zap.Uint64("epoch", epoch),
			zap.Float64("hef", hef),
		)
		return EpochOutcome{Epoch: epoch, Hef: hef, Voided: true, ArtifactPath: path}, nil
	}

	entries := make([]ProofEntry, 0, len(records))
	roots := make([]string, 0, len(records))
	for _, record := range records {
		entries = append(entries, ProofEntry{
			Operator: record.OperatorID,
			Root:     record.MerkleRoot,
			Quality:  record.Quality,
		})
		roots = append(roots, record.MerkleRoot)
	}

	// The root-of-roots is what the mesh pulse for this epoch commits to.
	aggregateRoot, err := utils.MerkleRoot(roots)
	if err != nil {
		return EpochOutcome{}, errors.Wrap(err, "aggregating reveal roots")
	}

	path := filepath.Join(m.dataDir, fmt.Sprintf("proof_epoch_%d.json", epoch))
	if err := writeJSONArtifact(path, entries); err != nil {
		return EpochOutcome{}, errors.Wrap(err, "writing proof artifact")
	}

	m.logger.Info("epoch proof written",
		zap.Uint64("epoch", epoch),
		zap.Int("reveals", len(entries)),
		zap.Float64("hef", hef),
		zap.String("aggregate_root", aggregateRoot),
	)
	return EpochOutcome{Epoch: epoch, Hef: hef, Entries: entries, AggregateRoot: aggregateRoot, ArtifactPath: path}, nil
}

func (m *Mixer) appendAuditLine(record store.RevealRecord) error {
	path := filepath.Join(m.dataDir, fmt.Sprintf("epoch_%d.log", record.Epoch))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening epoch log")
	}
	defer f.Close()

	line := fmt.Sprintf("%.0f\t%s\t%.3f\t%d\n", record.ReceivedTs, record.OperatorID, record.Quality, record.CapKhz)
	if _, err := f.WriteString(line); err != nil {
		return errors.Wrap(err, "appending epoch log line")
	}

	return nil
}

func writeJSONArtifact(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing artifact")
	}

	return renameio.WriteFile(path, data, 0o644)
}
