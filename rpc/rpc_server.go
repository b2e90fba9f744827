// Package rpc exposes the reveal, pulse and chain interfaces over JSON HTTP.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luckyjupiter/chronomancy/chain"
	"github.com/luckyjupiter/chronomancy/entropy"
	"github.com/luckyjupiter/chronomancy/mesh"
	"github.com/luckyjupiter/chronomancy/oracle"
	"github.com/luckyjupiter/chronomancy/shard"
	"github.com/luckyjupiter/chronomancy/store"
)

var (
	merkleRootRe = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	srcRe        = regexp.MustCompile(`^[a-z0-9_]+$`)
)

const defaultSrc = "js_timer"

type Server struct {
	listenAddrHTTP string
	readTimeout    time.Duration
	writeTimeout   time.Duration

	shard   *shard.Mixer
	mesh    *mesh.Mixer
	chain   *chain.Chain
	sampler *entropy.Sampler
	logger  *zap.Logger

	metrics *requestMetrics
	httpSrv *http.Server
}

func NewServer(listenAddrHTTP string, readTimeout, writeTimeout time.Duration, shardMixer *shard.Mixer, meshMixer *mesh.Mixer, headerChain *chain.Chain, sampler *entropy.Sampler, logger *zap.Logger) *Server {
	return &Server{
		listenAddrHTTP: listenAddrHTTP,
		readTimeout:    readTimeout,
		writeTimeout:   writeTimeout,
		shard:          shardMixer,
		mesh:           meshMixer,
		chain:          headerChain,
		sampler:        sampler,
		logger:         logger,
		metrics:        newRequestMetrics(),
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.instrument)

	router.HandleFunc("/focus/reveal", s.handleFocusReveal).Methods(http.MethodPost)
	router.HandleFunc("/focus/proof/{epoch}", s.handleDumpProof).Methods(http.MethodPost)
	router.HandleFunc("/pulse", s.handlePulse).Methods(http.MethodPost)
	router.HandleFunc("/chain/latest", s.handleChainLatest).Methods(http.MethodGet)
	router.HandleFunc("/chain/walk", s.handleChainWalk).Methods(http.MethodGet)
	router.HandleFunc("/entropy/packets", s.handleEntropyPackets).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	return router
}

func (s *Server) Start() {
	s.httpSrv = &http.Server{
		Addr:         s.listenAddrHTTP,
		Handler:      s.Router(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type revealPayload struct {
	Epoch      *int64          `json:"epoch"`
	OperatorID string          `json:"operator_id"`
	MerkleRoot string          `json:"merkle_root"`
	Src        string          `json:"src"`
	Metrics    *oracle.Metrics `json:"metrics"`
}

func (s *Server) handleFocusReveal(w http.ResponseWriter, r *http.Request) {
	var payload revealPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed reveal payload")
		return
	}

	if err := validateReveal(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.shard.FocusReveal(r.Context(), uint64(*payload.Epoch), payload.OperatorID, strings.ToLower(payload.MerkleRoot), payload.Src, *payload.Metrics)
	if err != nil {
		switch {
		case errors.Is(err, shard.ErrTraceTooSmall):
			writeError(w, http.StatusBadRequest, "trace too small")
		case errors.Is(err, store.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "duplicate reveal for epoch")
		default:
			s.logger.Error("reveal failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "storing reveal")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func validateReveal(payload *revealPayload) error {
	if payload.Epoch == nil || *payload.Epoch < 0 {
		return errors.New("epoch must be a non-negative integer")
	}
	if payload.OperatorID == "" {
		return errors.New("operator_id is required")
	}
	if !merkleRootRe.MatchString(payload.MerkleRoot) {
		return errors.New("merkle_root must be 64 hex characters")
	}
	if payload.Src == "" {
		payload.Src = defaultSrc
	}
	if !srcRe.MatchString(payload.Src) {
		return errors.New("src must match [a-z0-9_]+")
	}
	if payload.Metrics == nil {
		return errors.New("metrics are required")
	}
	if err := payload.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleDumpProof(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "epoch must be a non-negative integer")
		return
	}

	outcome, err := s.shard.DumpProof(r.Context(), epoch)
	if err != nil {
		s.logger.Error("dumping proof failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dumping proof")
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

type pulsePayload struct {
	Epoch           *int64         `json:"epoch"`
	MerkleRoot      string         `json:"merkle_root"`
	ProofCid        string         `json:"proof_cid,omitempty"`
	EntropyEstimate *float64       `json:"entropy_estimate"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	var payload pulsePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed pulse payload")
		return
	}
	if payload.Epoch == nil || *payload.Epoch < 0 {
		writeError(w, http.StatusBadRequest, "epoch must be a non-negative integer")
		return
	}
	if payload.EntropyEstimate == nil {
		writeError(w, http.StatusBadRequest, "entropy_estimate is required")
		return
	}

	path, err := s.mesh.AcceptPulse(r.Context(), mesh.PulsePayload{
		Epoch:           uint64(*payload.Epoch),
		MerkleRoot:      payload.MerkleRoot,
		ProofCid:        payload.ProofCid,
		EntropyEstimate: *payload.EntropyEstimate,
		Metadata:        payload.Metadata,
	})
	if err != nil {
		if errors.Is(err, mesh.ErrDuplicateEpoch) {
			writeError(w, http.StatusConflict, "pulse for epoch already present")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "path": path})
}

func (s *Server) handleChainLatest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.Latest())
}

func (s *Server) handleChainWalk(w http.ResponseWriter, r *http.Request) {
	latest := s.chain.Latest()
	height := int64(latest.Height)

	if raw := r.URL.Query().Get("height"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "height must be an integer")
			return
		}
		height = parsed
	}

	walk, err := s.chain.WalkValue(height)
	if err != nil {
		writeError(w, http.StatusBadRequest, "height out of range")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"height": height, "walk": int64(walk)})
}

// handleEntropyPackets drains the local sampler, returning corrected packets
// as hex strings. Packets are delivered exactly once.
func (s *Server) handleEntropyPackets(w http.ResponseWriter, r *http.Request) {
	if s.sampler == nil {
		writeError(w, http.StatusServiceUnavailable, "sampler not running")
		return
	}

	packets := s.sampler.Drain()
	encoded := make([]string, 0, len(packets))
	for _, packet := range packets {
		encoded = append(encoded, hex.EncodeToString(packet))
	}

	writeJSON(w, http.StatusOK, map[string]any{"packets": encoded})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
