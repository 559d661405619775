// Package registry answers which replicas make up the key manager and which
// runtimes have an active deployment it serves.
package registry

import (
	"context"
	"slices"
)

// Registry is the entity registry and scheduler collaborator.
type Registry interface {
	// Replicas returns the known replica identities, sorted.
	Replicas(ctx context.Context) ([]string, error)
	// IsReplica reports whether id belongs to the replica set.
	IsReplica(ctx context.Context, id string) (bool, error)
	// ActiveDeployment reports whether runtimeID is deployed and served here.
	ActiveDeployment(ctx context.Context, runtimeID string) (bool, error)
	// Runtimes returns every served runtime, sorted.
	Runtimes(ctx context.Context) ([]string, error)
}

// StaticRegistry is a Registry fixed at startup from configuration.
type StaticRegistry struct {
	replicas []string
	runtimes []string
}

// NewStaticRegistry builds a registry from replica and runtime ids. Duplicates
// are dropped. The local replica is always part of the set.
func NewStaticRegistry(localReplica string, replicas, runtimes []string) *StaticRegistry {
	all := append([]string{}, replicas...)
	if localReplica != "" {
		all = append(all, localReplica)
	}
	return &StaticRegistry{
		replicas: normalize(all),
		runtimes: normalize(runtimes),
	}
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Replicas implements Registry.
func (r *StaticRegistry) Replicas(_ context.Context) ([]string, error) {
	return slices.Clone(r.replicas), nil
}

// IsReplica implements Registry.
func (r *StaticRegistry) IsReplica(_ context.Context, id string) (bool, error) {
	_, found := slices.BinarySearch(r.replicas, id)
	return found, nil
}

// ActiveDeployment implements Registry.
func (r *StaticRegistry) ActiveDeployment(_ context.Context, runtimeID string) (bool, error) {
	_, found := slices.BinarySearch(r.runtimes, runtimeID)
	return found, nil
}

// Runtimes implements Registry.
func (r *StaticRegistry) Runtimes(_ context.Context) ([]string, error) {
	return slices.Clone(r.runtimes), nil
}

// ReplicationThreshold returns the number of acknowledgments needed for a
// record to be durable: override when positive, else f+1 where the replica
// set tolerates f = (n-1)/3 faulty members.
func ReplicationThreshold(replicas, override int) int {
	if override > 0 {
		return override
	}
	if replicas <= 1 {
		return 1
	}
	return (replicas-1)/3 + 1
}
