package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"index-swap/config"
	"index-swap/pkg/chain"
	"index-swap/pkg/client"
	"index-swap/pkg/swap"
)

// swapStack is everything one swap attempt needs
type swapStack struct {
	eth          *ethclient.Client
	backend      *client.BackendClient
	signer       *chain.Signer
	orchestrator *swap.Orchestrator
}

func (s *swapStack) Close() {
	if s.eth != nil {
		s.eth.Close()
	}
}

func newBackend(cfg *config.Config, log *logrus.Entry) *client.BackendClient {
	return client.NewBackendClient(cfg.BackendURL, cfg.JWTToken, cfg.RequestTimeout, log.WithField("component", "backend"))
}

// buildSwapStack connects to the chain and wires the orchestrator's collaborators
func buildSwapStack(ctx context.Context, cfg *config.Config, confirmer chain.Confirmer, observer swap.Observer, log *logrus.Entry) (*swapStack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eth, err := chain.Dial(ctx, cfg.Chain.RPCUrl, cfg.Chain.ChainID)
	if err != nil {
		return nil, err
	}
	stack := &swapStack{eth: eth, backend: newBackend(cfg, log)}

	stack.signer, err = chain.NewSigner(eth, chain.SignerConfig{
		PrivateKey: cfg.Chain.PrivateKey,
		ChainID:    cfg.Chain.ChainID,
		GasPrice:   cfg.Chain.GasPrice,
		GasLimit:   cfg.Chain.GasLimit,
	}, confirmer, log.WithField("component", "signer"))
	if err != nil {
		stack.Close()
		return nil, err
	}

	token, err := chain.NewERC20(eth, stack.signer)
	if err != nil {
		stack.Close()
		return nil, err
	}
	gateway, err := chain.NewGateway(common.HexToAddress(cfg.Contracts.Gateway), stack.signer)
	if err != nil {
		stack.Close()
		return nil, err
	}

	stack.orchestrator, err = swap.NewOrchestrator(swap.Config{
		Owner:               stack.signer.Address(),
		Gateway:             gateway.Address(),
		Assets:              cfg.Assets(),
		ConfirmationDepth:   cfg.Confirmations,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	}, swap.Dependencies{
		Registrar: stack.backend,
		Allowance: token,
		Approver:  token,
		Transfer:  gateway,
		Waiter:    chain.NewWaiter(eth, cfg.PollInterval, log.WithField("component", "waiter")),
		Log:       log.WithField("component", "orchestrator"),
		Observer:  observer,
	})
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return stack, nil
}
