// Package ring implements the directory service's storage-node topology
// (ring membership, backup assignment, and failure recovery). Nodes are
// held in registration order in a circular list; each node's backup copies
// live at its ring successor, so losing a node only ever affects its
// immediate neighbors.
package ring

import (
	"fmt"
	"sync"
)

// RecoveryState is where a storage node sits in the post-failure recovery
// state machine.
type RecoveryState int

const (
	// StateIdle is a node that has never failed, or has fully recovered.
	StateIdle RecoveryState = iota
	// StateSyncFromBackup is pulling the latest copies of its primary files
	// from whichever node holds them as backup, after restarting.
	StateSyncFromBackup
	// StateReReplicate is pushing fresh backup copies of its primary files
	// to its (possibly new) ring successor.
	StateReReplicate
	// StateOnline is fully caught up and serving traffic normally.
	StateOnline
)

func (s RecoveryState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSyncFromBackup:
		return "SYNC_FROM_BACKUP"
	case StateReReplicate:
		return "RE_REPLICATE"
	case StateOnline:
		return "ONLINE"
	default:
		return "UNKNOWN"
	}
}

// Node is one storage node's ring membership record.
type Node struct {
	ID         string // identity key, conventionally "ip:client_port"
	ClientAddr string
	BackupAddr string
	Online     bool

	MustRecover   bool
	Recovery      RecoveryState
	PrimaryCount  int // number of files this node currently holds as primary
}

// Ring is the DS's live storage-node topology.
type Ring struct {
	mu    sync.Mutex
	order []string // node IDs in ring order
	nodes map[string]*Node
}

// New creates an empty ring.
func New() *Ring {
	return &Ring{nodes: make(map[string]*Node)}
}

// Register adds a node to the ring (or reactivates it, if it previously
// registered with the same ID and went offline). It reports whether the
// node must run recovery (true when it was previously known and marked
// offline — a restart after a crash — rather than a first-time join).
func (r *Ring) Register(id, clientAddr, backupAddr string) (mustRecover bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[id]; ok {
		wasOffline := !n.Online
		n.ClientAddr = clientAddr
		n.BackupAddr = backupAddr
		n.Online = true
		if wasOffline {
			n.MustRecover = true
			n.Recovery = StateSyncFromBackup
		}
		return n.MustRecover, nil
	}

	n := &Node{ID: id, ClientAddr: clientAddr, BackupAddr: backupAddr, Online: true, Recovery: StateOnline}
	r.nodes[id] = n
	r.order = append(r.order, id)
	return false, nil
}

// MarkOffline removes a node from active rotation (it stays in the node
// table, since the file map and recovery logic still need its identity)
// and returns the node ID now responsible for its former backup duties: its
// ring successor. No PrimaryCount is changed.
func (r *Ring) MarkOffline(id string) (successor string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return "", fmt.Errorf("ring: unknown node %s", id)
	}

	// Resolve the successor while id is still counted as online: once
	// marked offline it drops out of onlineOrderLocked and could never be
	// found there again, so the lookup has to happen first.
	succ := r.successorLocked(id)
	n.Online = false

	if succ == "" || succ == id {
		return "", nil
	}
	return succ, nil
}

// Successor returns the ring-order successor of id (the node holding id's
// backup copies), or "" if id is the only node or unknown.
func (r *Ring) Successor(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successorLocked(id)
}

func (r *Ring) successorLocked(id string) string {
	online := r.onlineOrderLocked()
	if len(online) < 2 {
		return ""
	}
	for i, nodeID := range online {
		if nodeID == id {
			return online[(i+1)%len(online)]
		}
	}
	return ""
}

// Predecessor returns the ring-order predecessor of id.
func (r *Ring) Predecessor(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	online := r.onlineOrderLocked()
	if len(online) < 2 {
		return ""
	}
	for i, nodeID := range online {
		if nodeID == id {
			return online[(i-1+len(online))%len(online)]
		}
	}
	return ""
}

func (r *Ring) onlineOrderLocked() []string {
	var online []string
	for _, id := range r.order {
		if n, ok := r.nodes[id]; ok && n.Online {
			online = append(online, id)
		}
	}
	return online
}

// AssignPrimaryBackup picks the primary for a new file as the online node
// with the fewest files already assigned as primary (load-balanced across
// the ring), and the backup as that primary's ring successor. It returns an
// error if fewer than two nodes are online, since a file needs distinct
// primary and backup holders.
func (r *Ring) AssignPrimaryBackup() (primary, backup string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	online := r.onlineOrderLocked()
	if len(online) < 2 {
		return "", "", fmt.Errorf("ring: need at least two online storage nodes, have %d", len(online))
	}

	primary = online[0]
	for _, id := range online[1:] {
		if r.nodes[id].PrimaryCount < r.nodes[primary].PrimaryCount {
			primary = id
		}
	}
	backup = r.successorLocked(primary)
	r.nodes[primary].PrimaryCount++
	return primary, backup, nil
}

// ReleasePrimary decrements the primary file count tracked for id, called
// when a file owned by it is deleted.
func (r *Ring) ReleasePrimary(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok && n.PrimaryCount > 0 {
		n.PrimaryCount--
	}
}

// SetRecoveryState transitions id through the recovery state machine.
func (r *Ring) SetRecoveryState(id string, state RecoveryState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("ring: unknown node %s", id)
	}
	n.Recovery = state
	if state == StateOnline {
		n.MustRecover = false
	}
	return nil
}

// Get returns a copy of a node's record.
func (r *Ring) Get(id string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// OnlineNodes returns a snapshot of every currently online node, in ring
// order.
func (r *Ring) OnlineNodes() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Node
	for _, id := range r.onlineOrderLocked() {
		out = append(out, *r.nodes[id])
	}
	return out
}
