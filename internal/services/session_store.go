package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/pkg/models"
)

const (
	sessionKeyPrefix  = "sess:"
	sessionAccessZSet = "sessions:lastAccess"

	sessionLockShards = 64
)

// SessionStore keeps session blobs in the hot Redis tier. Blobs carry no
// TTL; liveness is tracked through the last-access sorted set so the expiry
// worker can merge before deleting. Read-modify-write cycles are serialized
// per session id through sharded in-process locks.
type SessionStore struct {
	redis  *redis.Client
	logger *logrus.Logger
	locks  [sessionLockShards]sync.Mutex
	now    func() time.Time
}

func NewSessionStore(redis *redis.Client, logger *logrus.Logger) *SessionStore {
	return &SessionStore{
		redis:  redis,
		logger: logger,
		now:    time.Now,
	}
}

func (s *SessionStore) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%sessionLockShards]
}

// Start writes a fresh blob and registers the session as just accessed.
func (s *SessionStore) Start(ctx context.Context, sessionID string, sess *models.Session) error {
	blob, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	nowMs := s.now().UnixMilli()
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, sessionKeyPrefix+sessionID, blob, 0)
	pipe.ZAdd(ctx, sessionAccessZSet, redis.Z{Score: float64(nowMs), Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    sess.UserID,
	}).Debug("Session started")
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	blob, err := s.redis.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return &sess, nil
}

func (s *SessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Exists(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

// Update runs fn against the current blob under the session's lock and
// writes the result back, refreshing last access.
func (s *SessionStore) Update(ctx context.Context, sessionID string, fn func(*models.Session) error) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := fn(sess); err != nil {
		return err
	}

	blob, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	nowMs := s.now().UnixMilli()
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, sessionKeyPrefix+sessionID, blob, 0)
	pipe.ZAdd(ctx, sessionAccessZSet, redis.Z{Score: float64(nowMs), Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Touch refreshes the session's last-access score.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	nowMs := s.now().UnixMilli()
	err := s.redis.ZAdd(ctx, sessionAccessZSet, redis.Z{
		Score:  float64(nowMs),
		Member: sessionID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	return nil
}

// Delete removes the blob and the sorted-set entry together.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	pipe := s.redis.Pipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.ZRem(ctx, sessionAccessZSet, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RemoveTracking drops only the sorted-set entry, leaving any blob behind.
// Used when the blob is already gone or is kept for inspection.
func (s *SessionStore) RemoveTracking(ctx context.Context, sessionID string) error {
	if err := s.redis.ZRem(ctx, sessionAccessZSet, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to remove session tracking: %w", err)
	}
	return nil
}

// ExpiredSessionIDs returns sessions whose last access is at or before the
// cutoff.
func (s *SessionStore) ExpiredSessionIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.redis.ZRangeByScore(ctx, sessionAccessZSet, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired sessions: %w", err)
	}
	return ids, nil
}
