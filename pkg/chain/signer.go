package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"index-swap/pkg/swap"
)

// Gas limit used when estimation fails and no override is configured
const fallbackGasLimit = uint64(150000)

// TxSender is the node surface needed to build and broadcast a transaction.
// *ethclient.Client satisfies it.
type TxSender interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// SignRequest describes a transaction awaiting the user's signature
type SignRequest struct {
	Description string
	From        common.Address
	To          common.Address
	Nonce       uint64
	GasLimit    uint64
	GasPrice    *big.Int
}

// MaxFee returns gas limit times gas price
func (r SignRequest) MaxFee() *big.Int {
	return new(big.Int).Mul(r.GasPrice, new(big.Int).SetUint64(r.GasLimit))
}

// Confirmer asks the user to approve a signature
type Confirmer interface {
	ConfirmSignature(ctx context.Context, req SignRequest) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, req SignRequest) (bool, error)

// ConfirmSignature calls f
func (f ConfirmFunc) ConfirmSignature(ctx context.Context, req SignRequest) (bool, error) {
	return f(ctx, req)
}

// AutoConfirm approves every signature without asking
var AutoConfirm = ConfirmFunc(func(context.Context, SignRequest) (bool, error) { return true, nil })

// SignerConfig holds the wallet settings
type SignerConfig struct {
	PrivateKey string
	ChainID    int64
	GasPrice   *int64
	GasLimit   *uint64
}

// Signer is the wallet: it owns the key, prompts, signs and broadcasts.
// Nothing outside this type sees the private key.
type Signer struct {
	client    TxSender
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	gasPrice  *int64
	gasLimit  *uint64
	confirmer Confirmer
	log       *logrus.Entry
}

// NewSigner parses the private key and binds it to a node
func NewSigner(client TxSender, cfg SignerConfig, confirmer Confirmer, log *logrus.Entry) (*Signer, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", cfg.ChainID)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	if confirmer == nil {
		confirmer = AutoConfirm
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Signer{
		client:    client,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:   big.NewInt(cfg.ChainID),
		gasPrice:  cfg.GasPrice,
		gasLimit:  cfg.GasLimit,
		confirmer: confirmer,
		log:       log,
	}, nil
}

// Address returns the wallet address
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Send builds a contract call, asks for confirmation, signs and broadcasts it.
// It returns once the node accepted the transaction, not once it is mined.
func (s *Signer) Send(ctx context.Context, description string, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, swap.WrapError(swap.KindChainSubmissionFailed, err, "failed to get nonce")
	}

	gasPrice, err := s.getGasPrice(ctx)
	if err != nil {
		return common.Hash{}, swap.WrapError(swap.KindChainSubmissionFailed, err, "failed to get gas price")
	}

	gasLimit := s.getGasLimit(ctx, to, data)

	req := SignRequest{
		Description: description,
		From:        s.address,
		To:          to,
		Nonce:       nonce,
		GasLimit:    gasLimit,
		GasPrice:    gasPrice,
	}
	ok, err := s.confirmer.ConfirmSignature(ctx, req)
	if err != nil {
		return common.Hash{}, swap.WrapError(swap.KindUserDeclined, err, "signature prompt failed")
	}
	if !ok {
		return common.Hash{}, swap.NewError(swap.KindUserDeclined, "%s: signature declined", description)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, swap.WrapError(swap.KindChainSubmissionFailed, err, "failed to sign transaction")
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, swap.WrapError(swap.KindChainSubmissionFailed, err, "failed to send transaction")
	}

	s.log.WithFields(logrus.Fields{
		"tx_hash":   signedTx.Hash().Hex(),
		"to":        to.Hex(),
		"nonce":     nonce,
		"gas_limit": gasLimit,
	}).Debug(description + " broadcast")

	return signedTx.Hash(), nil
}

// getGasPrice returns the configured gas price or asks the node
func (s *Signer) getGasPrice(ctx context.Context) (*big.Int, error) {
	if s.gasPrice != nil {
		return big.NewInt(*s.gasPrice), nil
	}
	return s.client.SuggestGasPrice(ctx)
}

// getGasLimit returns the configured limit, or the estimate plus 20%
func (s *Signer) getGasLimit(ctx context.Context, to common.Address, data []byte) uint64 {
	if s.gasLimit != nil {
		return *s.gasLimit
	}

	estimated, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		s.log.WithError(err).Debug("gas estimation failed, using fallback limit")
		return fallbackGasLimit
	}
	return estimated * 120 / 100
}
