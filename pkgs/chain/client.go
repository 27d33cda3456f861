package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/wallet"
)

// EscrowClient binds to the BountyEscrow contract. Reads go through the
// provider pool (public RPC first); writes require a signer and go through
// the wallet-side endpoint.
type EscrowClient struct {
	readers      *ProviderPool
	writeClient  *ethclient.Client
	signer       wallet.Signer
	contractAddr common.Address
	abi          abi.ABI
	chainID      *big.Int
}

// EscrowConfig configures an EscrowClient.
type EscrowConfig struct {
	ContractAddress string
	ReadRPCURLs     []string
	WriteRPCURL     string
	Signer          wallet.Signer // nil makes the client read-only
	ChainID         int64
}

// NewEscrowClient creates an escrow contract client. When a signer is
// configured the write endpoint's chain id is checked against it so a
// contract address for the wrong network fails fast.
func NewEscrowClient(ctx context.Context, cfg EscrowConfig) (*EscrowClient, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	escrowABI, err := abi.JSON(strings.NewReader(BountyEscrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to load BountyEscrow ABI: %w", err)
	}

	ec := &EscrowClient{
		readers:      NewProviderPool(cfg.ReadRPCURLs...),
		contractAddr: common.HexToAddress(cfg.ContractAddress),
		abi:          escrowABI,
		chainID:      big.NewInt(cfg.ChainID),
	}

	if cfg.Signer != nil && cfg.WriteRPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.WriteRPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to write RPC: %w", err)
		}

		remoteChainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to query chain id: %w", err)
		}
		if remoteChainID.Cmp(cfg.Signer.ChainID()) != 0 {
			client.Close()
			return nil, fmt.Errorf("%w: wallet expects %s, RPC reports %s",
				ErrChainMismatch, cfg.Signer.ChainID(), remoteChainID)
		}

		ec.writeClient = client
		ec.signer = cfg.Signer
	}

	return ec, nil
}

// Address returns the escrow contract address.
func (ec *EscrowClient) Address() common.Address {
	return ec.contractAddr
}

// Readers exposes the read provider pool for sibling contract clients.
func (ec *EscrowClient) Readers() *ProviderPool {
	return ec.readers
}

// WriteClient exposes the wallet-side connection for sibling contract
// clients; nil when the client is read-only.
func (ec *EscrowClient) WriteClient() *ethclient.Client {
	return ec.writeClient
}

// Signer returns the configured signer, nil when read-only.
func (ec *EscrowClient) Signer() wallet.Signer {
	return ec.signer
}

// Close releases the write connection.
func (ec *EscrowClient) Close() {
	if ec.writeClient != nil {
		ec.writeClient.Close()
	}
}

// transact packs and submits a state-changing call, recording write metrics.
func (ec *EscrowClient) transact(ctx context.Context, method string, value *big.Int, args ...interface{}) (*types.Receipt, []byte, error) {
	if ec.signer == nil {
		return nil, nil, ErrWalletMissing
	}

	data, err := ec.abi.Pack(method, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	receipt, callResult, err := submitTx(ctx, ec.writeClient, ec.signer, ec.contractAddr, value, data)
	if err != nil {
		metrics.ChainWrites.WithLabelValues(method, "error").Inc()
		return nil, nil, err
	}
	metrics.ChainWrites.WithLabelValues(method, "success").Inc()

	logrus.WithFields(logrus.Fields{
		"method":       method,
		"tx_hash":      receipt.TxHash.Hex(),
		"block_number": receipt.BlockNumber.Uint64(),
		"gas_used":     receipt.GasUsed,
	}).Info("✅ Transaction confirmed")

	return receipt, callResult, nil
}

// txResultFrom flattens a receipt into the caller-facing TxResult.
func txResultFrom(receipt *types.Receipt) *TxResult {
	return &TxResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
}

// call packs and executes a view call through the read provider pool.
func (ec *EscrowClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := ec.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	var out []interface{}
	err = ec.readers.Do(ctx, func(client *ethclient.Client) error {
		raw, err := client.CallContract(ctx, ethereum.CallMsg{
			To:   &ec.contractAddr,
			Data: data,
		}, nil)
		if err != nil {
			return err
		}
		vals, err := ec.abi.Unpack(method, raw)
		if err != nil {
			return err
		}
		out = vals
		return nil
	})
	if err != nil {
		metrics.ChainReads.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	metrics.ChainReads.WithLabelValues(method, "success").Inc()
	return out, nil
}

// CreateBounty funds a new bounty and recovers its id from the BountyCreated
// log. payoutWei rides as the transaction value.
func (ec *EscrowClient) CreateBounty(ctx context.Context, evaluationCid string, classID uint64, threshold uint8, submissionDeadline uint64, payoutWei *big.Int) (*CreateResult, error) {
	if evaluationCid == "" {
		return nil, &RevertError{Reason: "Empty evaluation CID", Message: revertMessages["Empty evaluation CID"]}
	}
	if threshold > 100 {
		return nil, &RevertError{Reason: "Threshold out of range", Message: revertMessages["Threshold out of range"]}
	}
	if payoutWei == nil || payoutWei.Sign() <= 0 {
		return nil, &RevertError{Reason: "No ETH value", Message: revertMessages["No ETH value"]}
	}

	receipt, _, err := ec.transact(ctx, "createBounty", payoutWei,
		evaluationCid, classID, threshold, submissionDeadline)
	if err != nil {
		return nil, err
	}

	bountyID, err := ec.parseBountyCreated(receipt)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"bounty_id": bountyID,
		"payout":    payoutWei.String(),
		"deadline":  submissionDeadline,
	}).Info("🏦 Bounty created on-chain")

	return &CreateResult{TxResult: *txResultFrom(receipt), BountyID: bountyID}, nil
}

// PrepareSubmission registers the hunter's work package and spins up the
// evaluation wallet. The contract enforces that evaluationCid matches the
// bounty's stored CID.
func (ec *EscrowClient) PrepareSubmission(ctx context.Context, bountyID uint64, evaluationCid, hunterCid string, params PrepareParams) (*PrepareResult, error) {
	receipt, callResult, err := ec.transact(ctx, "prepareSubmission", nil,
		new(big.Int).SetUint64(bountyID),
		evaluationCid,
		hunterCid,
		params.Addendum,
		new(big.Int).SetUint64(params.Alpha),
		params.MaxOracleFee,
		params.EstimatedBaseCost,
		new(big.Int).SetUint64(params.MaxFeeBasedScaling),
	)
	if err != nil {
		return nil, err
	}

	result := &PrepareResult{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber.Uint64()}

	// The SubmissionPrepared log is authoritative; the dry-run tuple covers
	// nodes that drop non-indexed event data from receipts.
	if parsed, perr := ec.parseSubmissionPrepared(receipt); perr == nil {
		result.SubmissionID = parsed.SubmissionID
		result.EvalWallet = parsed.EvalWallet
		result.LinkMaxBudget = parsed.LinkMaxBudget
		return result, nil
	}

	vals, err := ec.abi.Unpack("prepareSubmission", callResult)
	if err != nil || len(vals) != 3 {
		return nil, fmt.Errorf("%w: SubmissionPrepared log missing and return tuple unreadable", ErrNoEventFound)
	}
	result.SubmissionID = vals[0].(*big.Int).Uint64()
	result.EvalWallet = vals[1].(common.Address)
	result.LinkMaxBudget = vals[2].(*big.Int)
	return result, nil
}

// StartPreparedSubmission kicks off oracle evaluation for a prepared
// submission and returns the aggregation id from the WorkSubmitted log.
func (ec *EscrowClient) StartPreparedSubmission(ctx context.Context, bountyID, submissionID uint64) (*StartResult, error) {
	receipt, _, err := ec.transact(ctx, "startPreparedSubmission", nil,
		new(big.Int).SetUint64(bountyID), new(big.Int).SetUint64(submissionID))
	if err != nil {
		return nil, err
	}

	aggID, err := ec.parseWorkSubmitted(receipt)
	if err != nil {
		// The submission did start; the aggregation id shows up on the next
		// getSubmission read, so report the receipt instead of failing.
		logrus.Warnf("WorkSubmitted log not found in %s: %v", receipt.TxHash.Hex(), err)
	}

	return &StartResult{TxResult: *txResultFrom(receipt), VerdiktaAggID: aggID}, nil
}

// FinalizeSubmission settles a submission against the oracle result. A
// PayoutSent log, if present, is logged with the winner and amount.
func (ec *EscrowClient) FinalizeSubmission(ctx context.Context, bountyID, submissionID uint64) (*TxResult, error) {
	receipt, _, err := ec.transact(ctx, "finalizeSubmission", nil,
		new(big.Int).SetUint64(bountyID), new(big.Int).SetUint64(submissionID))
	if err != nil {
		return nil, err
	}

	if winner, amount, ok := ec.parsePayoutSent(receipt); ok {
		logrus.WithFields(logrus.Fields{
			"bounty_id": bountyID,
			"winner":    winner.Hex(),
			"amount":    amount.String(),
		}).Info("💰 Payout sent")
	}

	return txResultFrom(receipt), nil
}

// FailTimedOutSubmission force-fails a submission stuck in evaluation. The
// contract enforces the 10 minute age gate.
func (ec *EscrowClient) FailTimedOutSubmission(ctx context.Context, bountyID, submissionID uint64) (*TxResult, error) {
	receipt, _, err := ec.transact(ctx, "failTimedOutSubmission", nil,
		new(big.Int).SetUint64(bountyID), new(big.Int).SetUint64(submissionID))
	if err != nil {
		return nil, err
	}
	return txResultFrom(receipt), nil
}

// CloseExpiredBounty closes a bounty past its deadline with no submission
// still in evaluation.
func (ec *EscrowClient) CloseExpiredBounty(ctx context.Context, bountyID uint64) (*TxResult, error) {
	receipt, _, err := ec.transact(ctx, "closeExpiredBounty", nil,
		new(big.Int).SetUint64(bountyID))
	if err != nil {
		return nil, err
	}
	return txResultFrom(receipt), nil
}

// BountyCount returns the number of bounties ever created.
func (ec *EscrowClient) BountyCount(ctx context.Context) (uint64, error) {
	vals, err := ec.call(ctx, "bountyCount")
	if err != nil {
		return 0, err
	}
	return vals[0].(*big.Int).Uint64(), nil
}

// GetBountyStatus reads the authoritative on-chain status.
func (ec *EscrowClient) GetBountyStatus(ctx context.Context, bountyID uint64) (BountyStatus, error) {
	vals, err := ec.call(ctx, "getBountyStatus", new(big.Int).SetUint64(bountyID))
	if err != nil {
		return 0, err
	}
	return BountyStatus(vals[0].(uint8)), nil
}

// GetBounty reads the full on-chain bounty record.
func (ec *EscrowClient) GetBounty(ctx context.Context, bountyID uint64) (*BountyInfo, error) {
	vals, err := ec.call(ctx, "getBounty", new(big.Int).SetUint64(bountyID))
	if err != nil {
		return nil, err
	}
	if len(vals) != 10 {
		return nil, fmt.Errorf("unexpected getBounty output arity: %d", len(vals))
	}

	return &BountyInfo{
		ID:                  bountyID,
		Creator:             vals[0].(common.Address),
		EvaluationCid:       vals[1].(string),
		ClassID:             vals[2].(uint64),
		Threshold:           vals[3].(uint8),
		PayoutWei:           vals[4].(*big.Int),
		CreatedAt:           vals[5].(uint64),
		SubmissionCloseTime: vals[6].(uint64),
		Status:              BountyStatus(vals[7].(uint8)),
		Winner:              vals[8].(common.Address),
		SubmissionCount:     vals[9].(*big.Int).Uint64(),
	}, nil
}

// GetSubmission reads the on-chain record of a single submission.
func (ec *EscrowClient) GetSubmission(ctx context.Context, bountyID, submissionID uint64) (*SubmissionInfo, error) {
	vals, err := ec.call(ctx, "getSubmission",
		new(big.Int).SetUint64(bountyID), new(big.Int).SetUint64(submissionID))
	if err != nil {
		return nil, err
	}
	if len(vals) != 7 {
		return nil, fmt.Errorf("unexpected getSubmission output arity: %d", len(vals))
	}

	return &SubmissionInfo{
		BountyID:      bountyID,
		ID:            submissionID,
		Hunter:        vals[0].(common.Address),
		HunterCid:     vals[1].(string),
		EvalWallet:    vals[2].(common.Address),
		LinkMaxBudget: vals[3].(*big.Int),
		VerdiktaAggID: vals[4].([32]byte),
		StatusCode:    vals[5].(uint8),
		SubmittedAt:   vals[6].(uint64),
	}, nil
}
