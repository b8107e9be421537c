package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and single-node setups.
// It honors TTLs against an injectable clock and round-trips every record
// through the codec so tests exercise the same serialization as Redis.
type MemoryStore struct {
	mu    sync.Mutex
	codec Codec
	clock func() time.Time

	sessions    map[string]memoryEntry
	conferences map[string]map[string]struct{}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:       time.Now,
		sessions:    make(map[string]memoryEntry),
		conferences: make(map[string]map[string]struct{}),
	}
}

// SetClock overrides the time source for TTL tests.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *MemoryStore) Put(_ context.Context, sess Session, ttl time.Duration) error {
	b, err := s.codec.Encode(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.CallControlID] = memoryEntry{data: b, expiresAt: s.clock().Add(ttl)}
	if sess.ConferenceName != "" {
		bucket := s.conferences[sess.ConferenceName]
		if bucket == nil {
			bucket = make(map[string]struct{})
			s.conferences[sess.ConferenceName] = bucket
		}
		bucket[sess.CallControlID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, callControlID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(callControlID)
}

func (s *MemoryStore) getLocked(callControlID string) (Session, error) {
	e, ok := s.sessions[callControlID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.clock().After(e.expiresAt) {
		delete(s.sessions, callControlID)
		return Session{}, ErrNotFound
	}
	return s.codec.Decode(e.data)
}

func (s *MemoryStore) GetByConference(_ context.Context, conferenceName string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ccid := range s.conferences[conferenceName] {
		if sess, err := s.getLocked(ccid); err == nil {
			return sess, nil
		}
	}
	return Session{}, ErrNotFound
}

func (s *MemoryStore) Remove(_ context.Context, callControlID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.getLocked(callControlID)
	delete(s.sessions, callControlID)
	if err != nil {
		// Session may be gone while membership lingers; sweep the indexes.
		for conf, bucket := range s.conferences {
			delete(bucket, callControlID)
			if len(bucket) == 0 {
				delete(s.conferences, conf)
			}
		}
		return nil
	}
	if bucket := s.conferences[sess.ConferenceName]; bucket != nil {
		delete(bucket, callControlID)
		if len(bucket) == 0 {
			delete(s.conferences, sess.ConferenceName)
		}
	}
	return nil
}

func (s *MemoryStore) AddLegToConference(_ context.Context, conferenceName, callControlID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.conferences[conferenceName]
	if bucket == nil {
		bucket = make(map[string]struct{})
		s.conferences[conferenceName] = bucket
	}
	bucket[callControlID] = struct{}{}
	return nil
}

func (s *MemoryStore) LegsByConference(_ context.Context, conferenceName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.conferences[conferenceName]
	out := make([]string, 0, len(bucket))
	for ccid := range bucket {
		out = append(out, ccid)
	}
	return out, nil
}
