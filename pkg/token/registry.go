package token

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps contract addresses to token ledgers in a thread-safe manner
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*Token)}
}

// Register adds a token contract
// Returns error if the address is taken or is the native-asset sentinel
func (r *Registry) Register(t *Token) error {
	if t == nil {
		return fmt.Errorf("cannot register nil token")
	}
	if t.Address() == (common.Address{}) {
		return fmt.Errorf("cannot register token at the native-asset address")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[t.Address()]; exists {
		return fmt.Errorf("token %s already registered", t.Address().Hex())
	}
	r.tokens[t.Address()] = t
	return nil
}

// Lookup returns the token at addr, if any
func (r *Registry) Lookup(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// List returns all registered tokens ordered by address
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Address(), out[j].Address()
		return bytes.Compare(ai[:], aj[:]) < 0
	})
	return out
}
