package session

import "sync"

// MediaSocket is the minimal surface the streamer needs from a live media
// connection. *websocket.Conn satisfies it via a thin adapter in the stream
// package; tests use recording fakes.
type MediaSocket interface {
	WriteJSON(v any) error
}

// SocketRegistry tracks live media sockets per call leg.
//
// Sockets are process-local by nature: they are never serialized and never
// shared across workers. A leg may carry several concurrent sockets.
type SocketRegistry struct {
	mu      sync.RWMutex
	sockets map[string]map[MediaSocket]struct{}
}

func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{sockets: make(map[string]map[MediaSocket]struct{})}
}

func (r *SocketRegistry) Add(callControlID string, ws MediaSocket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.sockets[callControlID]
	if bucket == nil {
		bucket = make(map[MediaSocket]struct{})
		r.sockets[callControlID] = bucket
	}
	bucket[ws] = struct{}{}
}

func (r *SocketRegistry) Remove(callControlID string, ws MediaSocket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.sockets[callControlID]
	if bucket == nil {
		return
	}
	delete(bucket, ws)
	if len(bucket) == 0 {
		delete(r.sockets, callControlID)
	}
}

// Conns returns every live socket attached to the given legs.
func (r *SocketRegistry) Conns(callControlIDs ...string) []MediaSocket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []MediaSocket
	for _, ccid := range callControlIDs {
		for ws := range r.sockets[ccid] {
			out = append(out, ws)
		}
	}
	return out
}
