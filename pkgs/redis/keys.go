package redis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// KeyBuilder provides methods to generate namespaced Redis keys. Keys are
// scoped by escrow contract address and chain id so one Redis instance can
// serve clients pointed at different deployments.
type KeyBuilder struct {
	EscrowAddress string
	ChainID       uint64
}

// checksumAddress converts an Ethereum address to checksummed format (EIP-55).
// If the input is not a valid Ethereum address, it returns the input unchanged.
// This ensures all Redis keys use consistent checksummed addresses.
func checksumAddress(addr string) string {
	// Handle empty addresses
	if addr == "" {
		return addr
	}

	// Try to parse as Ethereum address and convert to checksummed format
	if common.IsHexAddress(addr) {
		address := common.HexToAddress(addr)
		return address.Hex() // .Hex() returns checksummed format (EIP-55)
	}

	// If not a valid address, return as-is (might be a non-address identifier)
	return addr
}

// NewKeyBuilder creates a new KeyBuilder instance with a checksummed escrow
// address so keys stay consistent regardless of input casing.
func NewKeyBuilder(escrowAddress string, chainID uint64) *KeyBuilder {
	return &KeyBuilder{
		EscrowAddress: checksumAddress(escrowAddress),
		ChainID:       chainID,
	}
}

func (kb *KeyBuilder) prefix() string {
	return fmt.Sprintf("%s:%d", kb.EscrowAddress, kb.ChainID)
}

// Evaluation Cache Keys

// EvaluationResult returns the key for a cached oracle evaluation result
func (kb *KeyBuilder) EvaluationResult(submissionID uint64) string {
	return fmt.Sprintf("%s:evaluation:result:%d", kb.prefix(), submissionID)
}

// JobStatus returns the key for the cached effective status of a job
func (kb *KeyBuilder) JobStatus(jobID int64) string {
	return fmt.Sprintf("%s:job:%d:status", kb.prefix(), jobID)
}

// SubmissionStatus returns the key for the cached status of a submission
func (kb *KeyBuilder) SubmissionStatus(jobID int64, submissionID uint64) string {
	return fmt.Sprintf("%s:job:%d:submission:%d:status", kb.prefix(), jobID, submissionID)
}

// Resolver Keys

// ResolvedBountyID returns the key for a resolved job-to-bounty id mapping
func (kb *KeyBuilder) ResolvedBountyID(jobID int64) string {
	return fmt.Sprintf("%s:resolver:job:%d:bountyId", kb.prefix(), jobID)
}

// ResolveAttempted returns the key for the sticky resolve-attempted flag
func (kb *KeyBuilder) ResolveAttempted(jobID int64) string {
	return fmt.Sprintf("%s:resolver:job:%d:attempted", kb.prefix(), jobID)
}

// Pub/Sub Channels

// JobViewChanged returns the channel used to broadcast job view changes
func (kb *KeyBuilder) JobViewChanged() string {
	return fmt.Sprintf("%s:job:view:changed", kb.prefix())
}

// Watcher Keys

// WatcherHeartbeat returns the key for a background watcher heartbeat
func (kb *KeyBuilder) WatcherHeartbeat(watcher string) string {
	return fmt.Sprintf("%s:watcher:%s:heartbeat", kb.prefix(), watcher)
}

// Monitoring Keys (not namespaced)

// ComponentHealth returns the key for component health status
func ComponentHealth(component string) string {
	return fmt.Sprintf("client:health:%s", component)
}
