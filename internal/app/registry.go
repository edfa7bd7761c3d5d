package app

import "sync"

// OperationRegistry maps operation names exposed over the API to their
// implementations. Registration happens at startup; lookups are concurrent.
type OperationRegistry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewOperationRegistry creates an empty registry.
func NewOperationRegistry() *OperationRegistry {
	return &OperationRegistry{ops: make(map[string]Operation)}
}

// Register adds or replaces a named operation.
func (r *OperationRegistry) Register(name string, op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = op
}

// Resolve looks up an operation by name.
func (r *OperationRegistry) Resolve(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}
