// Package server exposes the engine's admin and operations HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/birdlabs/airdrop/pkg/campaign"
	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/distribute"
	"github.com/birdlabs/airdrop/pkg/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	log *slog.Logger
	cfg Config

	runMu      sync.Mutex
	reportMu   sync.Mutex
	lastReport *distribute.Report
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{log: cfg.Logger, cfg: cfg}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server: stopped")
	return nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleHealthz)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns", s.handleCampaignCreate)
		r.Get("/campaigns", s.handleCampaignList)
		r.Delete("/campaigns/{campaignID}", s.handleCampaignDeactivate)

		r.Post("/eligibility/verify", s.handleVerify)
		r.Get("/eligibility/{participantID}", s.handleEligibilityGet)

		r.Post("/allocations", s.handleAllocate)

		r.Post("/distributions/run", s.handleDistributionRun)
		r.Get("/distributions/report", s.handleDistributionReport)
		r.Get("/distributions/{participantID}", s.handleRecordGet)
		r.Post("/distributions/{participantID}/claim", s.handleClaim)
		r.Delete("/distributions/{participantID}", s.handleReset)

		r.Put("/tokens/{tokenID}/tiers/{tier}", s.handleTierContractUpsert)
		r.Put("/config/{key}", s.handleConfigSet)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

type campaignRequest struct {
	Name        string    `json:"name"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TotalTokens float64   `json:"total_tokens"`
}

func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if req.TotalTokens <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("total_tokens must be positive"))
		return
	}
	id, err := s.cfg.Campaigns.Create(r.Context(), campaign.Campaign{
		Name:        req.Name,
		Start:       req.Start,
		End:         req.End,
		TotalTokens: req.TotalTokens,
		Active:      true,
	})
	if err != nil {
		s.log.Error("server: failed to create campaign", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.cfg.Campaigns.List(r.Context())
	if err != nil {
		s.log.Error("server: failed to list campaigns", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) handleCampaignDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "campaignID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Campaigns.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		s.log.Error("server: failed to deactivate campaign", "campaign", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type verifyRequest struct {
	ParticipantID  string `json:"participant_id"`
	Wallet         string `json:"wallet"`
	Chain          string `json:"chain"`
	TasksCompleted bool   `json:"tasks_completed"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ParticipantID == "" || req.Wallet == "" {
		writeError(w, http.StatusBadRequest, errors.New("participant_id and wallet are required"))
		return
	}
	c, err := chain.Parse(req.Chain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.cfg.Verifier.Verify(r.Context(), req.ParticipantID, req.Wallet, c, req.TasksCompleted)
	if err != nil {
		s.log.Error("server: verification failed", "participant", req.ParticipantID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibilityResponse(rec))
}

func (s *Server) handleEligibilityGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Eligibility.Get(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibilityResponse(rec))
}

type allocateRequest struct {
	CampaignID int64 `json:"campaign_id"`
	TokenID    int64 `json:"token_id"`
	// Tier restricts allocation to one tier; 0 means all tiers.
	Tier int `json:"tier"`
	// Mode is "weighted" (default), "equal" or "by_tier".
	Mode string `json:"mode"`
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	cmp, err := s.cfg.Campaigns.Get(r.Context(), req.CampaignID)
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	eligible, err := s.cfg.Eligibility.ListVerified(r.Context(), 0)
	if err != nil {
		s.log.Error("server: failed to list eligible participants", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var res struct {
		Created int `json:"created"`
		Skipped int `json:"skipped"`
	}
	switch req.Mode {
	case "", "weighted":
		out, err := s.cfg.Calculator.Allocate(r.Context(), cmp, req.TokenID, eligible)
		if err != nil {
			s.log.Error("server: allocation failed", "campaign", cmp.ID, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		res.Created, res.Skipped = out.Created, out.Skipped
	case "equal":
		out, err := s.cfg.Calculator.AllocateEqual(r.Context(), cmp, eligible)
		if err != nil {
			s.log.Error("server: allocation failed", "campaign", cmp.ID, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		res.Created, res.Skipped = out.Created, out.Skipped
	case "by_tier":
		if req.Tier <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("by_tier mode requires a positive tier"))
			return
		}
		out, err := s.cfg.Calculator.AllocateByTier(r.Context(), cmp, req.TokenID, req.Tier, eligible)
		if err != nil {
			s.log.Error("server: allocation failed", "campaign", cmp.ID, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		res.Created, res.Skipped = out.Created, out.Skipped
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown allocation mode %q", req.Mode))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type runRequest struct {
	CampaignID int64 `json:"campaign_id"`
	TokenID    int64 `json:"token_id"`
}

func (s *Server) handleDistributionRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	cmp, err := s.cfg.Campaigns.Get(r.Context(), req.CampaignID)
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// One run at a time; concurrent run requests get a conflict rather than
	// interleaved nonce traffic.
	if !s.runMu.TryLock() {
		writeError(w, http.StatusConflict, errors.New("a distribution run is already in progress"))
		return
	}
	defer s.runMu.Unlock()

	report, err := s.cfg.Orchestrator.Run(r.Context(), cmp, req.TokenID)
	if err != nil {
		s.log.Error("server: distribution run failed", "campaign", cmp.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.reportMu.Lock()
	s.lastReport = report
	s.reportMu.Unlock()
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDistributionReport(w http.ResponseWriter, r *http.Request) {
	s.reportMu.Lock()
	report := s.lastReport
	s.reportMu.Unlock()
	if report == nil {
		writeError(w, http.StatusNotFound, errors.New("no distribution run has completed yet"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRecordGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Ledger.Get(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(rec))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	participantID := chi.URLParam(r, "participantID")
	rec, err := s.cfg.Ledger.Claim(r.Context(), participantID)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, ledger.ErrVestingNotElapsed), errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, err)
		return
	default:
		s.log.Error("server: claim failed", "participant", participantID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(rec))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	participantID := chi.URLParam(r, "participantID")
	if err := s.cfg.Ledger.Reset(r.Context(), participantID); err != nil {
		s.log.Error("server: reset failed", "participant", participantID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tierContractRequest struct {
	Amount          float64 `json:"amount"`
	ContractAddress string  `json:"contract_address"`
}

func (s *Server) handleTierContractUpsert(w http.ResponseWriter, r *http.Request) {
	tokenID, err := pathInt64(r, "tokenID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tier, err := strconv.Atoi(chi.URLParam(r, "tier"))
	if err != nil || tier <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("tier must be a positive integer"))
		return
	}
	var req tierContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("amount must be positive"))
		return
	}
	err = s.cfg.TierContracts.Upsert(r.Context(), campaign.TierContract{
		TokenID:         tokenID,
		Tier:            tier,
		Amount:          req.Amount,
		ContractAddress: req.ContractAddress,
	})
	if err != nil {
		s.log.Error("server: failed to upsert tier contract", "token", tokenID, "tier", tier, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type configSetRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req configSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, errors.New("value is required"))
		return
	}
	if err := s.cfg.Config.Set(r.Context(), key, req.Value); err != nil {
		s.log.Error("server: failed to set config", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathInt64(r *http.Request, key string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}
