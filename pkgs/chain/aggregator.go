package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
)

// AggregatorClient reads evaluation results off the Verdikta oracle
// aggregator. It is read-only by construction: checking whether an
// evaluation is ready never needs a connected wallet.
type AggregatorClient struct {
	readers      *ProviderPool
	contractAddr common.Address
	abi          abi.ABI
}

// NewAggregatorClient creates an aggregator reader.
func NewAggregatorClient(contractAddr string, readers *ProviderPool) (*AggregatorClient, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid aggregator address: %s", contractAddr)
	}

	aggABI, err := abi.JSON(strings.NewReader(VerdiktaAggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregator ABI: %w", err)
	}

	return &AggregatorClient{
		readers:      readers,
		contractAddr: common.HexToAddress(contractAddr),
		abi:          aggABI,
	}, nil
}

// CheckEvaluationReady reads the aggregator for the given aggregation id.
// A zero id means the submission never reached the oracle, reported as
// not-ready rather than an error.
func (ac *AggregatorClient) CheckEvaluationReady(ctx context.Context, aggID [32]byte) (*EvaluationResult, error) {
	if aggID == ([32]byte{}) {
		return &EvaluationResult{Ready: false}, nil
	}

	data, err := ac.abi.Pack("getEvaluation", aggID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getEvaluation call: %w", err)
	}

	var result *EvaluationResult
	err = ac.readers.Do(ctx, func(client *ethclient.Client) error {
		raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &ac.contractAddr, Data: data}, nil)
		if err != nil {
			return err
		}

		vals, err := ac.abi.Unpack("getEvaluation", raw)
		if err != nil {
			return err
		}
		if len(vals) != 4 {
			return fmt.Errorf("unexpected getEvaluation output arity: %d", len(vals))
		}

		result = &EvaluationResult{
			Ready:             vals[0].(bool),
			Acceptance:        vals[1].(*big.Int),
			Rejection:         vals[2].(*big.Int),
			JustificationCids: vals[3].([]string),
		}
		return nil
	})
	if err != nil {
		metrics.ChainReads.WithLabelValues("getEvaluation", "error").Inc()
		return nil, err
	}
	metrics.ChainReads.WithLabelValues("getEvaluation", "success").Inc()
	return result, nil
}
