package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrRejected is returned when a signer declines to sign a transaction.
var ErrRejected = errors.New("wallet: signing rejected")

// Signer signs transactions for a single account on a single chain.
// Writes in the chain gateway go through a Signer; reads never need one.
type Signer interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// KeySigner is a Signer backed by a raw private key. This is the agent-mode
// wallet; a browser wallet never exposes its key and is out of scope here.
type KeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	// Approve, when set, is consulted before every signature. Returning false
	// aborts the whole protocol step with ErrRejected, mirroring a user
	// dismissing the wallet prompt.
	Approve func(tx *types.Transaction) bool
}

// NewKeySigner creates a signer from a hex-encoded private key.
func NewKeySigner(privateKeyHex string, chainID int64) (*KeySigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the account address derived from the key.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain this signer is bound to.
func (s *KeySigner) ChainID() *big.Int {
	return s.chainID
}

// SignTx signs the transaction with EIP-155 replay protection.
func (s *KeySigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	if s.Approve != nil && !s.Approve(tx) {
		return nil, ErrRejected
	}

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signedTx, nil
}
