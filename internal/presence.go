package internal

import "sync"

// PresenceTable tracks, per username, how many websocket connections are open
// and whether the user is currently online. Both maps are mutated under a
// single mutex so no caller ever observes a count/status mismatch.
//
// A user with no conns entry has zero connections. The status map keeps an
// "offline" entry for users who were online earlier; users who never connected
// have no entry at all and therefore never show up in a snapshot.
type PresenceTable struct {
	mu     sync.Mutex
	conns  map[string]int
	status map[string]string
}

func NewPresenceTable() *PresenceTable {
	return &PresenceTable{
		conns:  make(map[string]int),
		status: make(map[string]string),
	}
}

// Connect records one more open connection for the user and reports whether
// this was the offline-to-online transition.
func (p *PresenceTable) Connect(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[username]++
	if p.conns[username] == 1 {
		p.status[username] = StatusOnline
		return true
	}
	return false
}

// Disconnect records one closed connection and reports whether this was the
// online-to-offline transition. Disconnecting a user with no open connections
// is a no-op: the count never goes negative and no transition is reported.
func (p *PresenceTable) Disconnect(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.conns[username]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(p.conns, username)
		p.status[username] = StatusOffline
		return true
	}
	p.conns[username] = count - 1
	return false
}

// Online reports whether the user has at least one open connection.
func (p *PresenceTable) Online(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[username] > 0
}

// Connections returns the open connection count for a user.
func (p *PresenceTable) Connections(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[username]
}

// Snapshot copies the full status map: every user who has ever connected,
// mapped to "online" or "offline".
func (p *PresenceTable) Snapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make(map[string]string, len(p.status))
	for username, status := range p.status {
		snapshot[username] = status
	}
	return snapshot
}

// ActiveCount returns how many distinct users are online right now.
func (p *PresenceTable) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
