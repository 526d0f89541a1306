// Package native holds the compiled-in contract implementations a
// pkg/contracts.Registry can deploy. Each type here is a small, complete
// example of the NativeContract interface — there is deliberately no
// mechanism for loading anything else at runtime.
package native

import (
	"fmt"
	"sync"
)

// Counter is the simplest possible stateful contract: an integer anyone
// can increment, with an owner-only reset.
type Counter struct {
	mu    sync.Mutex
	owner string
	value int64
}

// NewCounter is a contracts.Factory for "counter@v1".
func NewCounter() *Counter { return &Counter{} }

func (c *Counter) Init(owner string, initParams map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = owner
	if start, ok := initParams["start"]; ok {
		v, err := toInt64(start)
		if err != nil {
			return fmt.Errorf("invalid start param: %w", err)
		}
		c.value = v
	}
	return nil
}

func (c *Counter) Call(method string, params map[string]interface{}, sender string) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method {
	case "increment":
		by := int64(1)
		if raw, ok := params["by"]; ok {
			v, err := toInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid by param: %w", err)
			}
			by = v
		}
		c.value += by
		return map[string]interface{}{"value": c.value}, nil

	case "reset":
		if sender != c.owner {
			return nil, fmt.Errorf("only owner %s may reset", c.owner)
		}
		c.value = 0
		return map[string]interface{}{"value": c.value}, nil

	case "get":
		return map[string]interface{}{"value": c.value}, nil

	default:
		return nil, fmt.Errorf("counter: unknown method %q", method)
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}
