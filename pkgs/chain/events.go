package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// contractLogs filters receipt logs down to those emitted by the escrow
// contract with the given event signature.
func (ec *EscrowClient) contractLogs(receipt *types.Receipt, eventName string) []*types.Log {
	event, ok := ec.abi.Events[eventName]
	if !ok {
		return nil
	}

	var matched []*types.Log
	for _, vLog := range receipt.Logs {
		if vLog.Address != ec.contractAddr || len(vLog.Topics) == 0 {
			continue
		}
		if vLog.Topics[0] == event.ID {
			matched = append(matched, vLog)
		}
	}
	return matched
}

// parseBountyCreated recovers the bounty id from the BountyCreated log.
func (ec *EscrowClient) parseBountyCreated(receipt *types.Receipt) (uint64, error) {
	logs := ec.contractLogs(receipt, "BountyCreated")
	if len(logs) == 0 {
		return 0, fmt.Errorf("%w: BountyCreated in tx %s", ErrNoEventFound, receipt.TxHash.Hex())
	}

	vLog := logs[0]
	if len(vLog.Topics) < 2 {
		return 0, fmt.Errorf("%w: BountyCreated log has no bountyId topic", ErrNoEventFound)
	}
	return new(big.Int).SetBytes(vLog.Topics[1].Bytes()).Uint64(), nil
}

// parseSubmissionPrepared recovers the prepare tuple from the
// SubmissionPrepared log.
func (ec *EscrowClient) parseSubmissionPrepared(receipt *types.Receipt) (*PrepareResult, error) {
	logs := ec.contractLogs(receipt, "SubmissionPrepared")
	if len(logs) == 0 {
		return nil, fmt.Errorf("%w: SubmissionPrepared in tx %s", ErrNoEventFound, receipt.TxHash.Hex())
	}

	vLog := logs[0]
	if len(vLog.Topics) < 3 {
		return nil, fmt.Errorf("%w: SubmissionPrepared log missing topics", ErrNoEventFound)
	}

	vals, err := ec.abi.Unpack("SubmissionPrepared", vLog.Data)
	if err != nil || len(vals) != 2 {
		return nil, fmt.Errorf("failed to unpack SubmissionPrepared data: %w", err)
	}

	return &PrepareResult{
		SubmissionID:  new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64(),
		EvalWallet:    vals[0].(common.Address),
		LinkMaxBudget: vals[1].(*big.Int),
	}, nil
}

// parseWorkSubmitted recovers the oracle aggregation id from the
// WorkSubmitted log.
func (ec *EscrowClient) parseWorkSubmitted(receipt *types.Receipt) ([32]byte, error) {
	logs := ec.contractLogs(receipt, "WorkSubmitted")
	if len(logs) == 0 {
		return [32]byte{}, fmt.Errorf("%w: WorkSubmitted in tx %s", ErrNoEventFound, receipt.TxHash.Hex())
	}

	vals, err := ec.abi.Unpack("WorkSubmitted", logs[0].Data)
	if err != nil || len(vals) != 1 {
		return [32]byte{}, fmt.Errorf("failed to unpack WorkSubmitted data: %w", err)
	}
	return vals[0].([32]byte), nil
}

// parsePayoutSent reports the winner and amount when finalization paid out.
func (ec *EscrowClient) parsePayoutSent(receipt *types.Receipt) (common.Address, *big.Int, bool) {
	logs := ec.contractLogs(receipt, "PayoutSent")
	if len(logs) == 0 {
		return common.Address{}, nil, false
	}

	vLog := logs[0]
	if len(vLog.Topics) < 3 {
		return common.Address{}, nil, false
	}

	winner := common.BytesToAddress(vLog.Topics[2].Bytes())
	vals, err := ec.abi.Unpack("PayoutSent", vLog.Data)
	if err != nil || len(vals) != 1 {
		return winner, nil, true
	}
	return winner, vals[0].(*big.Int), true
}
