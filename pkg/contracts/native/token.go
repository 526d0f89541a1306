package native

import (
	"fmt"
	"sync"
)

// Token is a minimal fungible-token contract: a map of address to balance,
// minted entirely to its owner at deploy time, transferable by any holder.
// It exists to exercise pkg/block's contract-transaction path with state
// that persists and changes across multiple block heights.
type Token struct {
	mu       sync.Mutex
	owner    string
	balances map[string]uint64
}

// NewToken is a contracts.Factory for "token@v1".
func NewToken() *Token { return &Token{balances: make(map[string]uint64)} }

func (t *Token) Init(owner string, initParams map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.owner = owner
	supply := uint64(0)
	if raw, ok := initParams["supply"]; ok {
		v, err := toInt64(raw)
		if err != nil {
			return fmt.Errorf("invalid supply param: %w", err)
		}
		if v < 0 {
			return fmt.Errorf("supply cannot be negative")
		}
		supply = uint64(v)
	}
	t.balances[owner] = supply
	return nil
}

func (t *Token) Call(method string, params map[string]interface{}, sender string) (map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch method {
	case "transfer":
		to, _ := params["to"].(string)
		if to == "" {
			return nil, fmt.Errorf("transfer requires a non-empty to param")
		}
		amount, err := toInt64(params["amount"])
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("transfer requires a non-negative amount param")
		}
		amt := uint64(amount)

		if t.balances[sender] < amt {
			return nil, fmt.Errorf("insufficient balance: sender %s has %d, needs %d", sender, t.balances[sender], amt)
		}
		t.balances[sender] -= amt
		t.balances[to] += amt
		return map[string]interface{}{
			"from_balance": t.balances[sender],
			"to_balance":   t.balances[to],
		}, nil

	case "balance_of":
		address, _ := params["address"].(string)
		return map[string]interface{}{"balance": t.balances[address]}, nil

	default:
		return nil, fmt.Errorf("token: unknown method %q", method)
	}
}
