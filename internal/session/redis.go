package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix       = "callbridge:session:"
	conferenceKeyPrefix    = "callbridge:conference:"
	legConferenceKeyPrefix = "callbridge:leg-conference:"
)

// RedisStore implements Store on a shared Redis instance so every API and
// worker process observes the same call state.
type RedisStore struct {
	rdb   *redis.Client
	codec Codec
}

func NewRedisStore(rdb *redis.Client, codec Codec) *RedisStore {
	return &RedisStore{rdb: rdb, codec: codec}
}

func sessionKey(callControlID string) string     { return sessionKeyPrefix + callControlID }
func conferenceKey(conferenceName string) string { return conferenceKeyPrefix + conferenceName }

// legConferenceKey is the reverse index from a leg to its conference. Monitor
// legs carry membership without a session record, so this is the only way
// Remove can find their conference set.
func legConferenceKey(callControlID string) string { return legConferenceKeyPrefix + callControlID }

func (s *RedisStore) Put(ctx context.Context, sess Session, ttl time.Duration) error {
	if sess.CallControlID == "" {
		return fmt.Errorf("session: call_control_id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("session: ttl must be > 0")
	}
	b, err := s.codec.Encode(sess)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.CallControlID), b, ttl)
	if sess.ConferenceName != "" {
		ck := conferenceKey(sess.ConferenceName)
		pipe.SAdd(ctx, ck, sess.CallControlID)
		pipe.Expire(ctx, ck, ttl)
		pipe.Set(ctx, legConferenceKey(sess.CallControlID), sess.ConferenceName, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, callControlID string) (Session, error) {
	b, err := s.rdb.Get(ctx, sessionKey(callControlID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s.codec.Decode(b)
}

func (s *RedisStore) GetByConference(ctx context.Context, conferenceName string) (Session, error) {
	ccids, err := s.LegsByConference(ctx, conferenceName)
	if err != nil {
		return Session{}, err
	}
	for _, ccid := range ccids {
		sess, err := s.Get(ctx, ccid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		return sess, nil
	}
	return Session{}, ErrNotFound
}

func (s *RedisStore) Remove(ctx context.Context, callControlID string) error {
	var conferenceName string
	sess, err := s.Get(ctx, callControlID)
	switch {
	case err == nil:
		conferenceName = sess.ConferenceName
	case errors.Is(err, ErrNotFound):
		// Monitor legs have membership but no session record; fall back to
		// the reverse index to find the set to prune.
		conf, rerr := s.rdb.Get(ctx, legConferenceKey(callControlID)).Result()
		if errors.Is(rerr, redis.Nil) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
		conferenceName = conf
	default:
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(callControlID))
	pipe.Del(ctx, legConferenceKey(callControlID))
	if conferenceName != "" {
		pipe.SRem(ctx, conferenceKey(conferenceName), callControlID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if conferenceName != "" {
		n, err := s.rdb.SCard(ctx, conferenceKey(conferenceName)).Result()
		if err == nil && n == 0 {
			_ = s.rdb.Del(ctx, conferenceKey(conferenceName)).Err()
		}
	}
	return nil
}

func (s *RedisStore) AddLegToConference(ctx context.Context, conferenceName, callControlID string, ttl time.Duration) error {
	if conferenceName == "" || callControlID == "" {
		return fmt.Errorf("session: conference name and call_control_id are required")
	}
	ck := conferenceKey(conferenceName)
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, ck, callControlID)
	if ttl > 0 {
		pipe.Expire(ctx, ck, ttl)
		pipe.Set(ctx, legConferenceKey(callControlID), conferenceName, ttl)
	} else {
		pipe.Set(ctx, legConferenceKey(callControlID), conferenceName, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LegsByConference(ctx context.Context, conferenceName string) ([]string, error) {
	ccids, err := s.rdb.SMembers(ctx, conferenceKey(conferenceName)).Result()
	if err != nil {
		return nil, err
	}
	return ccids, nil
}
