package mcp

import "sync"

// allWorkflows is the watch key of sessions that receive every event.
const allWorkflows = "*"

// SessionRegistry maps workflow IDs to the MCP sessions watching them.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // workflowID -> sessionIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[string]map[string]struct{})}
}

// Watch subscribes sessionID to events of workflowID; "" watches everything.
func (r *SessionRegistry) Watch(workflowID, sessionID string) {
	if workflowID == "" {
		workflowID = allWorkflows
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[workflowID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[workflowID] = set
	}
	set[sessionID] = struct{}{}
}

// Unwatch removes one subscription.
func (r *SessionRegistry) Unwatch(workflowID, sessionID string) {
	if workflowID == "" {
		workflowID = allWorkflows
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers[workflowID], sessionID)
	if len(r.watchers[workflowID]) == 0 {
		delete(r.watchers, workflowID)
	}
}

// SessionsFor returns the sessions to notify about an event of workflowID,
// each at most once.
func (r *SessionRegistry) SessionsFor(workflowID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, key := range []string{workflowID, allWorkflows} {
		for sid := range r.watchers[key] {
			if _, dup := seen[sid]; dup {
				continue
			}
			seen[sid] = struct{}{}
			out = append(out, sid)
		}
	}
	return out
}

// Remove deletes every subscription of sessionID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wf, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, wf)
		}
	}
}
