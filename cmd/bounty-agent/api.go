package main

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/coordinator"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/orchestrator"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/poller"
)

// APIServer exposes the agent over HTTP for local UIs and tooling.
type APIServer struct {
	agent *Agent
}

// NewAPIServer creates a new API server
func NewAPIServer(agent *Agent) *APIServer {
	return &APIServer{agent: agent}
}

// Router creates the HTTP router with all endpoints
func (s *APIServer) Router() *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Job views
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/fee-estimate", s.handleFeeEstimate).Methods("GET")

	// Creator actions
	api.HandleFunc("/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/close", s.handleCloseJob).Methods("POST")

	// Hunter actions
	api.HandleFunc("/jobs/{id}/submissions", s.handleSubmit).Methods("POST")
	api.HandleFunc("/jobs/{id}/submissions/{sid}/finalize", s.handleFinalize).Methods("POST")
	api.HandleFunc("/jobs/{id}/submissions/{sid}/force-fail", s.handleForceFail).Methods("POST")
	api.HandleFunc("/jobs/{id}/submissions/{sid}/cancel", s.handleCancel).Methods("POST")

	// Introspection
	api.HandleFunc("/leases", s.handleLeases).Methods("GET")
	api.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	// Add CORS middleware
	r.Use(s.corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func (s *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, err error, fallback int) {
	code := fallback
	switch {
	case errors.Is(err, poller.ErrAlreadyHeld):
		code = http.StatusConflict
	case errors.Is(err, coordinator.ErrBountyNotOpen):
		code = http.StatusPreconditionFailed
	case errors.Is(err, chain.ErrUserRejected):
		code = http.StatusConflict
	case errors.Is(err, chain.ErrWalletMissing):
		code = http.StatusServiceUnavailable
	case errors.Is(err, chain.ErrInsufficientBalance):
		code = http.StatusPaymentRequired
	case backend.IsNotFound(err):
		code = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}

// handleListJobs returns reconciled views for jobs matching the filter.
func (s *APIServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := backend.ListFilter{
		Status:  r.URL.Query().Get("status"),
		Creator: r.URL.Query().Get("creator"),
		Hunter:  r.URL.Query().Get("hunter"),
	}

	views, err := s.agent.ViewJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	s.writeJSON(w, views)
}

// handleGetJob returns the reconciled view of one job.
func (s *APIServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	view, err := s.agent.ViewJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	s.writeJSON(w, view)
}

// handleFeeEstimate proxies the backend's oracle fee projection.
func (s *APIServer) handleFeeEstimate(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	estimate, err := s.agent.backend.EstimateFee(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	s.writeJSON(w, estimate)
}

type createJobPayload struct {
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	Creator            string             `json:"creator"`
	EvaluationCid      string             `json:"evaluationCid"`
	ClassID            uint64             `json:"classId"`
	Threshold          uint8              `json:"threshold"`
	SubmissionDeadline time.Time          `json:"submissionDeadline"`
	PayoutWei          string             `json:"payoutWei"`
	Rubric             *backend.Rubric    `json:"rubric,omitempty"`
	JuryNodes          []backend.JuryNode `json:"juryNodes,omitempty"`
}

// handleCreateJob publishes a new bounty.
func (s *APIServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var payload createJobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	payout, ok := new(big.Int).SetString(payload.PayoutWei, 10)
	if !ok {
		s.writeError(w, errors.New("payoutWei is not a valid integer"), http.StatusBadRequest)
		return
	}

	result, err := s.agent.orchestrator.Create(r.Context(), orchestrator.CreateRequest{
		Title:              payload.Title,
		Description:        payload.Description,
		Creator:            payload.Creator,
		ChainID:            uint64(s.agent.settings.Network.ChainID),
		EvaluationCid:      payload.EvaluationCid,
		ClassID:            payload.ClassID,
		Threshold:          payload.Threshold,
		SubmissionDeadline: payload.SubmissionDeadline,
		PayoutWei:          payout,
		Rubric:             payload.Rubric,
		JuryNodes:          payload.JuryNodes,
	})
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, result)
}

// handleCloseJob winds down an expired bounty.
func (s *APIServer) handleCloseJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	job, err := s.agent.backend.GetJob(r.Context(), jobID, false)
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	resolution := s.agent.resolver.Resolve(r.Context(), job)
	if !resolution.Resolved() {
		s.writeError(w, errors.New("bounty id unknown: "+resolution.Reason), http.StatusConflict)
		return
	}

	result, err := s.agent.orchestrator.CloseExpired(r.Context(), jobID, *resolution.BountyID)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, result)
}

// handleSubmit runs the full submission protocol. The request is multipart:
// files plus hunter, narrative, and per-file description fields.
func (s *APIServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	hunter := r.FormValue("hunter")
	if !common.IsHexAddress(hunter) {
		s.writeError(w, errors.New("hunter is not a valid address"), http.StatusBadRequest)
		return
	}

	// fileDescriptions is an optional JSON object mapping file names to
	// hunter-written blurbs shown alongside the deliverable.
	descriptions := map[string]string{}
	if raw := r.FormValue("fileDescriptions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &descriptions); err != nil {
			s.writeError(w, errors.New("fileDescriptions is not a valid JSON object"), http.StatusBadRequest)
			return
		}
	}

	var files []backend.SubmissionFile
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["files"] {
			file, openErr := header.Open()
			if openErr != nil {
				s.writeError(w, openErr, http.StatusBadRequest)
				return
			}
			content, readErr := io.ReadAll(file)
			file.Close()
			if readErr != nil {
				s.writeError(w, readErr, http.StatusBadRequest)
				return
			}
			files = append(files, backend.SubmissionFile{
				Name:        header.Filename,
				Description: descriptions[header.Filename],
				Content:     content,
			})
		}
	}

	job, err := s.agent.backend.GetJob(r.Context(), jobID, false)
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	resolution := s.agent.resolver.Resolve(r.Context(), job)
	if !resolution.Resolved() {
		s.writeError(w, errors.New("bounty id unknown: "+resolution.Reason), http.StatusConflict)
		return
	}

	result, err := s.agent.coordinator.Submit(r.Context(), coordinator.SubmitRequest{
		JobID:     jobID,
		BountyID:  *resolution.BountyID,
		Hunter:    common.HexToAddress(hunter),
		Narrative: r.FormValue("submissionNarrative"),
		Addendum:  r.FormValue("addendum"),
		Files:     files,
	})
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	s.agent.watchers.Kick()
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, result)
}

type submissionActionPayload struct {
	RecordID     int64  `json:"recordId"`
	BountyID     uint64 `json:"bountyId"`
	SubmissionID uint64 `json:"submissionId"`
}

func (s *APIServer) decodeAction(r *http.Request) (int64, *submissionActionPayload, error) {
	jobID, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	submissionID, err := strconv.ParseUint(mux.Vars(r)["sid"], 10, 64)
	if err != nil {
		return 0, nil, err
	}

	var payload submissionActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && err != io.EOF {
		return 0, nil, err
	}
	payload.SubmissionID = submissionID
	return jobID, &payload, nil
}

// handleFinalize polls the oracle and settles the submission.
func (s *APIServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	jobID, payload, err := s.decodeAction(r)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	result, err := s.agent.coordinator.Finalize(r.Context(), coordinator.FinalizeRequest{
		JobID:        jobID,
		RecordID:     payload.RecordID,
		BountyID:     payload.BountyID,
		SubmissionID: payload.SubmissionID,
	})
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, result)
}

// handleForceFail force-fails a stalled submission.
func (s *APIServer) handleForceFail(w http.ResponseWriter, r *http.Request) {
	jobID, payload, err := s.decodeAction(r)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	if err := s.agent.coordinator.FailTimeout(r.Context(), coordinator.FinalizeRequest{
		JobID:        jobID,
		RecordID:     payload.RecordID,
		BountyID:     payload.BountyID,
		SubmissionID: payload.SubmissionID,
	}); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, map[string]string{"status": "failed"})
}

// handleCancel withdraws a prepared-only submission.
func (s *APIServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID, payload, err := s.decodeAction(r)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	submissionID := payload.SubmissionID
	if err := s.agent.coordinator.Cancel(r.Context(), jobID, payload.RecordID, payload.BountyID, &submissionID); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, map[string]string{"status": "cancelled"})
}

// handleLeases lists currently held poll leases.
func (s *APIServer) handleLeases(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"leases": s.agent.leases.Keys(),
	})
}

// handleHealthCheck reports component connectivity.
func (s *APIServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"ipfs":   s.agent.ipfs.IsAvailable(r.Context()),
		"cache":  s.agent.cache != nil,
		"wallet": s.agent.escrow.Signer() != nil,
	}
	if _, err := s.agent.escrow.BountyCount(r.Context()); err != nil {
		health["status"] = "degraded"
		health["chain"] = err.Error()
	} else {
		health["chain"] = "ok"
	}
	s.writeJSON(w, health)
}
