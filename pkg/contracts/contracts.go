// Package contracts defines the narrow boundary between the ledger and its
// contract engine: deploy compiled-in native contracts and invoke their
// methods. There is no bytecode interpreter and no user-uploaded code here
// — dynamic execution of arbitrary contract code is an explicit collaborator
// the core only calls through this interface.
package contracts

import "fmt"

// Engine is what pkg/chain depends on to run contract transactions. Deploy
// returns the identifier the chain records in the block's contract_results
// for the deploying transaction; Execute invokes one method against a previously deployed
// contract's state and returns its result fields.
type Engine interface {
	Deploy(code []byte, owner string, initParams map[string]interface{}) (string, error)
	Execute(contractID, method string, params map[string]interface{}, sender string) (map[string]interface{}, error)
}

// NativeContract is a compiled-in contract implementation, keyed in the
// Registry by a version-qualified identifier such as "counter@v1". It
// holds its own state and is solely responsible for serializing it between
// calls; the registry does no interpretation of that state.
type NativeContract interface {
	// Init runs once at deploy time with the owner and constructor params.
	Init(owner string, initParams map[string]interface{}) error
	// Call invokes method with params on behalf of sender and returns the
	// result fields to record in the block's contract_results.
	Call(method string, params map[string]interface{}, sender string) (map[string]interface{}, error)
}

// Factory produces a fresh, zero-valued NativeContract instance for one
// deployment. Registering a factory rather than a shared instance keeps
// every deployed contract's state independent.
type Factory func() NativeContract

var (
	// ErrUnknownKind is returned by Deploy when no factory is registered
	// for the requested native contract kind.
	ErrUnknownKind = fmt.Errorf("unknown native contract kind")
	// ErrNotDeployed is returned by Execute when contractID names nothing
	// in the registry.
	ErrNotDeployed = fmt.Errorf("contract not deployed")
)
