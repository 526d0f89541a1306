package contracts

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// deployment pairs a running NativeContract instance with the kind it was
// created from and the owner that deployed it.
type deployment struct {
	kind     string
	owner    string
	instance NativeContract
}

// Registry is the compiled-in Engine: a map of contract kind to Factory,
// and a map of deployed contract ID to running instance, both guarded by
// one mutex. There is no persistence here: deployed contracts live only as
// long as the Registry value, and nothing re-runs past deploy/execute
// transactions to rebuild them.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	deployed   map[string]*deployment
}

// NewRegistry creates an empty registry. Callers register native contract
// kinds with Register before any Deploy transaction can reference them.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		deployed:  make(map[string]*deployment),
	}
}

// Register makes kind (e.g. "counter@v1") available to Deploy.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Deploy implements Engine. code is the native contract kind identifier as
// plain bytes (e.g. []byte("counter@v1")) — there is no bytecode to
// interpret, only a registered Go implementation to look up by name.
func (r *Registry) Deploy(code []byte, owner string, initParams map[string]interface{}) (string, error) {
	kind := string(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	instance := factory()
	if err := instance.Init(owner, initParams); err != nil {
		return "", fmt.Errorf("init failed: %w", err)
	}

	id, err := newContractID()
	if err != nil {
		return "", err
	}
	r.deployed[id] = &deployment{kind: kind, owner: owner, instance: instance}
	return id, nil
}

// Execute invokes method on the contract deployed at contractID.
func (r *Registry) Execute(contractID, method string, params map[string]interface{}, sender string) (map[string]interface{}, error) {
	r.mu.Lock()
	d, ok := r.deployed[contractID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDeployed, contractID)
	}

	// NativeContract implementations own their own internal locking;
	// holding the registry lock across a call would serialize unrelated
	// contracts against each other for no reason.
	return d.instance.Call(method, params, sender)
}

// Kind returns the native contract kind a deployed contract was created
// from, or "" if contractID is unknown.
func (r *Registry) Kind(contractID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.deployed[contractID]; ok {
		return d.kind
	}
	return ""
}

// Count returns the number of currently deployed contracts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deployed)
}

func newContractID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate contract id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
