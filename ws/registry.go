package ws

import (
	"sync"
)

// Group key builders. Chat groups fan out channel events; presence groups
// fan out online/offline updates for one user. Keys embed the tenant so
// groups can never straddle tenants.
func chatGroup(tenantID, channelID string) string {
	return "chat." + tenantID + "." + channelID
}

func presenceGroup(tenantID, userID string) string {
	return "presence." + tenantID + "." + userID
}

// Registry maps group keys to the live connections joined to them. It is
// the only chat state shared across connection goroutines and is guarded
// by a single RWMutex; join and leave are O(1).
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]map[*Client]struct{}),
	}
}

func (r *Registry) Join(group string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.groups[group] == nil {
		r.groups[group] = make(map[*Client]struct{})
	}
	r.groups[group][c] = struct{}{}
}

func (r *Registry) Leave(group string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.groups[group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
}

// Members returns a snapshot of the connections currently joined to the
// group. Delivery iterates the snapshot, so a join racing a publish may
// miss that publish; at-most-once to currently-joined members is the
// contract.
func (r *Registry) Members(group string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Client, 0, len(r.groups[group]))
	for c := range r.groups[group] {
		members = append(members, c)
	}
	return members
}

// RemoveClient drops the connection from every group it joined. Called
// once during connection teardown.
func (r *Registry) RemoveClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for group, members := range r.groups {
		delete(members, c)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
}

// GroupCount reports how many groups have at least one member.
func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
