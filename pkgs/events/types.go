package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event being emitted
type EventType string

const (
	// Wallet interaction events
	EventWalletApprovalRequested EventType = "wallet_approval_requested"
	EventWalletApproved          EventType = "wallet_approved"
	EventWalletRejected          EventType = "wallet_rejected"

	// Transaction events
	EventTxSubmitted EventType = "tx_submitted"
	EventTxConfirmed EventType = "tx_confirmed"
	EventTxFailed    EventType = "tx_failed"

	// Submission lifecycle events
	EventSubmissionPrepared  EventType = "submission_prepared"
	EventWorkSubmitted       EventType = "work_submitted"
	EventSubmissionFinalized EventType = "submission_finalized"
	EventSubmissionFailed    EventType = "submission_failed"
	EventSubmissionCancelled EventType = "submission_cancelled"

	// Evaluation events
	EventEvaluationReady EventType = "evaluation_ready"

	// Bounty lifecycle events
	EventBountyCreated EventType = "bounty_created"
	EventBountyClosed  EventType = "bounty_closed"

	// Job view events
	EventJobViewChanged EventType = "job_view_changed"

	// Scheduler events
	EventPollExhausted       EventType = "poll_exhausted"
	EventAllowanceUnverified EventType = "allowance_unverified"

	// Storage events
	EventArchivePinned EventType = "archive_pinned"
)

// EventSeverity indicates the importance/severity of an event
type EventSeverity string

const (
	SeverityDebug   EventSeverity = "debug"
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// Event represents a client event with metadata and payload
type Event struct {
	// Core event fields
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Severity  EventSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`

	// Context fields
	Component string `json:"component"` // Component that generated the event
	Escrow    string `json:"escrow"`    // Escrow contract address
	ChainID   uint64 `json:"chain_id"`
	Wallet    string `json:"wallet,omitempty"`

	// Event-specific data
	Payload json.RawMessage `json:"payload"`

	// Optional fields
	JobID        int64             `json:"job_id,omitempty"`
	SubmissionID uint64            `json:"submission_id,omitempty"`
	TxHash       string            `json:"tx_hash,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// WalletEventPayload contains data for wallet interaction events
type WalletEventPayload struct {
	Action  string `json:"action"` // "approve", "createBounty", "prepareSubmission", ...
	Wallet  string `json:"wallet"`
	ChainID uint64 `json:"chain_id,omitempty"`
	Reason  string `json:"reason,omitempty"` // For rejection events
}

// TxEventPayload contains data for transaction events
type TxEventPayload struct {
	Method   string `json:"method"`
	TxHash   string `json:"tx_hash"`
	GasUsed  uint64 `json:"gas_used,omitempty"`
	Block    uint64 `json:"block,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

// SubmissionEventPayload contains data for submission lifecycle events
type SubmissionEventPayload struct {
	JobID          int64  `json:"job_id"`
	SubmissionID   uint64 `json:"submission_id,omitempty"`
	Hunter         string `json:"hunter"`
	HunterCid      string `json:"hunter_cid,omitempty"`
	Status         string `json:"status,omitempty"`
	VerdiktaAggID  string `json:"verdikta_agg_id,omitempty"`
	LinkMaxBudget  string `json:"link_max_budget,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// EvaluationEventPayload contains data for evaluation results
type EvaluationEventPayload struct {
	JobID             int64    `json:"job_id"`
	SubmissionID      uint64   `json:"submission_id"`
	AcceptancePercent float64  `json:"acceptance_percent"`
	RejectionPercent  float64  `json:"rejection_percent"`
	JustificationCids []string `json:"justification_cids,omitempty"`
}

// BountyEventPayload contains data for bounty lifecycle events
type BountyEventPayload struct {
	JobID     int64  `json:"job_id"`
	BountyID  uint64 `json:"bounty_id"`
	Creator   string `json:"creator,omitempty"`
	PayoutWei string `json:"payout_wei,omitempty"`
}

// JobViewEventPayload contains data for job view change events
type JobViewEventPayload struct {
	JobID          int64  `json:"job_id"`
	Status         string `json:"status"`
	Source         string `json:"source"` // "backend", "chain", "deadline"
	OverrideReason string `json:"override_reason,omitempty"`
}

// PollEventPayload contains data for scheduler events
type PollEventPayload struct {
	Kind        string `json:"kind"` // "action", "submission", "initial", "allowance"
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	LeaseKey    string `json:"lease_key,omitempty"`
}

// ArchiveEventPayload contains data for IPFS storage events
type ArchiveEventPayload struct {
	CID      string `json:"cid"`
	Size     int64  `json:"size,omitempty"`
	JobID    int64  `json:"job_id,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

// EventHandler is called when an event is emitted
type EventHandler func(event *Event)

// EventFilter can be used to filter events before processing
type EventFilter func(event *Event) bool

// Subscriber represents an event subscriber with optional filtering
type Subscriber struct {
	ID      string
	Handler EventHandler
	Filter  EventFilter
	Types   []EventType // Subscribe to specific event types only
}

// String returns a string representation of the event
func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s: %s (component=%s, job=%d)",
		e.Timestamp.Format(time.RFC3339),
		e.Severity,
		e.Type,
		e.Component,
		e.JobID,
	)
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates a new event with the given parameters
func NewEvent(eventType EventType, severity EventSeverity, component string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Component: component,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
	}, nil
}
