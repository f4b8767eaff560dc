package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// Signer signs transactions for one wallet on one chain.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// NewSigner binds key to chainID.
func NewSigner(key *ecdsa.PrivateKey, chainID int64) *Signer {
	id := big.NewInt(chainID)
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}
}

// NewSignerFromSource loads the key described by src.
func NewSignerFromSource(src KeySource, chainID int64) (*Signer, error) {
	key, err := LoadKey(src)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, chainID), nil
}

// Address returns the wallet address.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer is bound to.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx for the bound chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	return signed, nil
}
