package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/wallet"
)

// submitTx runs the full write path against a contract: dry-run call (so
// reverts surface before gas is spent), gas estimation with a 20% buffer,
// nonce and gas price discovery, signing, send, and WaitMined.
// It returns the receipt and the dry-run return data.
func submitTx(ctx context.Context, client *ethclient.Client, signer wallet.Signer, to common.Address, value *big.Int, data []byte) (*types.Receipt, []byte, error) {
	if client == nil || signer == nil {
		return nil, nil, ErrWalletMissing
	}
	if value == nil {
		value = big.NewInt(0)
	}

	from := signer.Address()
	msg := ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	}

	// Dry-run first: a revert here costs nothing and carries the reason string.
	callResult, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, nil, MapTxError(err)
	}

	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, nil, MapTxError(fmt.Errorf("failed to estimate gas: %w", err))
	}
	// Add 20% buffer
	gasLimit = uint64(float64(gasLimit) * 1.2)

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signedTx, err := signer.SignTx(tx)
	if err != nil {
		return nil, nil, MapTxError(err)
	}

	logrus.WithFields(logrus.Fields{
		"tx_hash":   signedTx.Hash().Hex(),
		"to":        to.Hex(),
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
		"nonce":     nonce,
	}).Debug("Sending transaction")

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, nil, MapTxError(fmt.Errorf("failed to send transaction: %w", err))
	}

	receipt, err := bind.WaitMined(ctx, client, signedTx)
	if err != nil {
		return nil, nil, fmt.Errorf("transaction %s not mined: %w", signedTx.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, nil, &RevertError{Reason: "transaction reverted"}
	}

	return receipt, callResult, nil
}
