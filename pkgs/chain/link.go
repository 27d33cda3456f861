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
	"github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/allowance"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/wallet"
)

// LinkClient binds to the LINK token contract.
type LinkClient struct {
	readers      *ProviderPool
	writeClient  *ethclient.Client
	signer       wallet.Signer
	contractAddr common.Address
	abi          abi.ABI
}

// NewLinkClient creates a LINK token client. The write client may be shared
// with the escrow client; pass nil to build a read-only client.
func NewLinkClient(contractAddr string, readers *ProviderPool, writeClient *ethclient.Client, signer wallet.Signer) (*LinkClient, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid LINK token address: %s", contractAddr)
	}

	linkABI, err := abi.JSON(strings.NewReader(LinkTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to load LINK ABI: %w", err)
	}

	return &LinkClient{
		readers:      readers,
		writeClient:  writeClient,
		signer:       signer,
		contractAddr: common.HexToAddress(contractAddr),
		abi:          linkABI,
	}, nil
}

// Approve grants the spender an allowance of amount.
func (lc *LinkClient) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*TxResult, error) {
	if lc.signer == nil {
		return nil, ErrWalletMissing
	}

	data, err := lc.abi.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve call: %w", err)
	}

	receipt, _, err := submitTx(ctx, lc.writeClient, lc.signer, lc.contractAddr, nil, data)
	if err != nil {
		metrics.ChainWrites.WithLabelValues("approve", "error").Inc()
		return nil, err
	}
	metrics.ChainWrites.WithLabelValues("approve", "success").Inc()

	logrus.WithFields(logrus.Fields{
		"spender": spender.Hex(),
		"amount":  amount.String(),
		"tx_hash": receipt.TxHash.Hex(),
	}).Info("🔗 LINK approval confirmed")

	return txResultFrom(receipt), nil
}

// Allowance reads allowance(owner, spender) through the provider pool.
func (lc *LinkClient) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	data, err := lc.abi.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	var out *big.Int
	err = lc.readers.Do(ctx, func(client *ethclient.Client) error {
		raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &lc.contractAddr, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := lc.abi.Unpack("allowance", raw)
		if err != nil {
			return err
		}
		out = vals[0].(*big.Int)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BalanceOf reads the LINK balance of an account.
func (lc *LinkClient) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := lc.abi.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	var out *big.Int
	err = lc.readers.Do(ctx, func(client *ethclient.Client) error {
		raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &lc.contractAddr, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := lc.abi.Unpack("balanceOf", raw)
		if err != nil {
			return err
		}
		out = vals[0].(*big.Int)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllowanceCheckers builds one allowance check per read endpoint, each
// dialing a fresh connection on every call.
func (lc *LinkClient) AllowanceCheckers() []allowance.CheckFunc {
	urls := lc.readers.URLs()
	checks := make([]allowance.CheckFunc, 0, len(urls))
	for _, url := range urls {
		url := url
		checks = append(checks, func(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
			return lc.AllowanceOn(ctx, url, owner, spender)
		})
	}
	return checks
}

// AllowanceOn reads allowance(owner, spender) on one specific endpoint over
// a freshly dialed connection. The allowance verifier uses this to sidestep
// per-connection RPC caches.
func (lc *LinkClient) AllowanceOn(ctx context.Context, rpcURL string, owner, spender common.Address) (*big.Int, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	defer client.Close()

	data, err := lc.abi.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &lc.contractAddr, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	vals, err := lc.abi.Unpack("allowance", raw)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}
