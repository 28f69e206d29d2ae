package registry

import (
	"context"
	"sync"
)

// LocalRegistry is an in-process Registry for single-instance deployments.
type LocalRegistry struct {
	instanceID string
	mu         sync.Mutex
	owners     map[string]string
}

func NewLocalRegistry(instanceID string) *LocalRegistry {
	return &LocalRegistry{
		instanceID: instanceID,
		owners:     make(map[string]string),
	}
}

func (r *LocalRegistry) Claim(_ context.Context, kind, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roomKey(kind, roomID)
	if owner, ok := r.owners[key]; ok && owner != r.instanceID {
		return ErrOwnedElsewhere
	}
	r.owners[key] = r.instanceID
	return nil
}

func (r *LocalRegistry) Release(_ context.Context, kind, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roomKey(kind, roomID)
	if r.owners[key] == r.instanceID {
		delete(r.owners, key)
	}
	return nil
}

func (r *LocalRegistry) Lookup(_ context.Context, kind, roomID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[roomKey(kind, roomID)], nil
}

// OnLost is a no-op: an in-process lease cannot be taken over.
func (r *LocalRegistry) OnLost(string, func(string)) {}

func (r *LocalRegistry) StartHeartbeat(context.Context) error { return nil }
func (r *LocalRegistry) StopHeartbeat()                       {}
func (r *LocalRegistry) Close() error                         { return nil }

func roomKey(kind, roomID string) string {
	return kind + ":" + roomID
}
