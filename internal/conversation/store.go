package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	redisPkg "VoicedeskGolang/pkg/redis"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var (
	ErrMemoryNotFound    = errors.New("conversation: memory not found")
	ErrStoreUnavailable  = errors.New("conversation: memory store unavailable")
	ErrCallBusy          = errors.New("conversation: another turn is in flight for this call")
	defaultMemoryTTL     = 15 * time.Minute
	defaultLockTTL       = 30 * time.Second
	defaultSaveAttempts  = 3
	defaultSaveBaseDelay = 100 * time.Millisecond
)

// Store persists ConversationMemory to Redis under a sliding inactivity TTL. The
// store is the engine's single hard dependency: saves are retried with backoff and
// only after exhaustion does the turn fail.
type Store struct {
	redis        redisPkg.IRedis
	ttl          time.Duration
	lockTTL      time.Duration
	saveAttempts int
	baseDelay    time.Duration
	log          *logrus.Logger
}

func NewStore(r redisPkg.IRedis, log *logrus.Logger) *Store {
	ttl := defaultMemoryTTL
	if raw := os.Getenv("CONVERSATION_MEMORY_TTL_MINUTES"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			ttl = time.Duration(minutes) * time.Minute
		}
	}

	return &Store{
		redis:        r,
		ttl:          ttl,
		lockTTL:      defaultLockTTL,
		saveAttempts: defaultSaveAttempts,
		baseDelay:    defaultSaveBaseDelay,
		log:          log,
	}
}

func memoryKey(callID string) string {
	return "call:memory:" + callID
}

func lockKey(callID string) string {
	return "call:lock:" + callID
}

func (s *Store) Save(ctx context.Context, m *Memory) error {
	payload, err := jsoniter.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.saveAttempts; attempt++ {
		if attempt > 0 {
			delay := s.baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.redis.SetJSON(ctx, memoryKey(m.CallID), payload, s.ttl)
		if lastErr == nil {
			return nil
		}

		s.log.WithFields(logrus.Fields{
			"call_id": m.CallID,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("Memory save failed, retrying")
	}

	return fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

// Load reconstructs the memory or reports ErrMemoryNotFound. Absence means "new
// call" to callers, never an error condition.
func (s *Store) Load(ctx context.Context, callID string) (*Memory, error) {
	payload, err := s.redis.GetJSON(ctx, memoryKey(callID))
	if errors.Is(err, redisPkg.ErrKeyNotFound) {
		return nil, ErrMemoryNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var m Memory
	if err := jsoniter.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode memory for call %s: %w", callID, err)
	}

	return &m, nil
}

func (s *Store) Delete(ctx context.Context, callID string) error {
	return s.redis.Delete(ctx, memoryKey(callID))
}

// Lock serializes turn processing per call. A redelivered webhook for the same call
// gets ErrCallBusy instead of racing the in-flight turn.
func (s *Store) Lock(ctx context.Context, callID string, owner string) error {
	err := s.redis.AcquireLock(ctx, lockKey(callID), owner, s.lockTTL)
	if errors.Is(err, redisPkg.ErrLockHeld) {
		return ErrCallBusy
	}
	return err
}

func (s *Store) Unlock(ctx context.Context, callID string, owner string) {
	if err := s.redis.ReleaseLock(ctx, lockKey(callID), owner); err != nil {
		s.log.WithFields(logrus.Fields{
			"call_id": callID,
			"error":   err.Error(),
		}).Warn("Failed to release call lock")
	}
}
