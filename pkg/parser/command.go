package parser

import (
	"fmt"
	"regexp"
	"strings"

	"index-swap/pkg/swap"
)

const (
	Stablecoin = "USDC"
	IndexToken = "DSPY"
)

// SwapCommand is a parsed swap request
type SwapCommand struct {
	Direction swap.Direction
	Amount    string
}

var (
	directPattern  = regexp.MustCompile(`^(BUY|SELL)\s+(\S+)(?:\s+([A-Z0-9]+))?$`)
	naturalPattern = regexp.MustCompile(`^(\S+)\s+([A-Z0-9]+)\s+(?:TO|FOR|->)\s+([A-Z0-9]+)$`)
)

// ParseSwapCommand parses a swap command
// Examples:
//   - "buy 100"
//   - "sell 0.5 dspy"
//   - "100 usdc to dspy"
func ParseSwapCommand(command string) (*SwapCommand, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "SWAP ")

	if m := directPattern.FindStringSubmatch(command); m != nil {
		dir, err := swap.ParseDirection(m[1])
		if err != nil {
			return nil, err
		}
		if m[3] != "" && NormalizeTokenSymbol(m[3]) != SpentToken(dir) {
			return nil, fmt.Errorf("%s spends %s, not %s", strings.ToLower(m[1]), SpentToken(dir), m[3])
		}
		return &SwapCommand{Direction: dir, Amount: m[2]}, nil
	}

	if m := naturalPattern.FindStringSubmatch(command); m != nil {
		from := NormalizeTokenSymbol(m[2])
		to := NormalizeTokenSymbol(m[3])
		switch {
		case from == Stablecoin && to == IndexToken:
			return &SwapCommand{Direction: swap.Buy, Amount: m[1]}, nil
		case from == IndexToken && to == Stablecoin:
			return &SwapCommand{Direction: swap.Sell, Amount: m[1]}, nil
		default:
			return nil, fmt.Errorf("unsupported pair %s -> %s: only %s <-> %s", m[2], m[3], Stablecoin, IndexToken)
		}
	}

	return nil, fmt.Errorf("invalid swap command format. Expected: 'buy <amount>', 'sell <amount>' or '<amount> usdc to dspy'")
}

// SpentToken returns the token a direction spends
func SpentToken(dir swap.Direction) string {
	if dir == swap.Sell {
		return IndexToken
	}
	return Stablecoin
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"USD": Stablecoin,
		"SPY": IndexToken,
	}
	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}
	return symbol
}
