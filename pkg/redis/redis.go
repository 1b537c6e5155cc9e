package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrKeyNotFound = errors.New("redis: key not found")
	ErrLockHeld    = errors.New("redis: lock already held")
)

type IRedis interface {
	SetJSON(ctx context.Context, key string, payload []byte, expiration time.Duration) error
	GetJSON(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	AcquireLock(ctx context.Context, key string, owner string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key string, owner string) error
}

type redisClient struct {
	client *redis.Client
}

func New() IRedis {
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	redisAddr := os.Getenv("REDIS_ADDRESS")
	redisPassword := os.Getenv("REDIS_PASSWORD")

	logrus.Info(fmt.Sprintf("Connecting to Redis at %s...", redisAddr))

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logrus.Info("Successfully connected to Redis")
	}

	return &redisClient{client: client}
}

func (r *redisClient) SetJSON(ctx context.Context, key string, payload []byte, expiration time.Duration) error {
	err := r.client.Set(ctx, key, payload, expiration).Err()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error setting key %s: %v", key, err))
		return err
	}
	logrus.Debug(fmt.Sprintf("Set key %s with expiration %v", key, expiration))
	return nil
}

func (r *redisClient) GetJSON(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		logrus.Debug(fmt.Sprintf("Key %s not found", key))
		return nil, ErrKeyNotFound
	} else if err != nil {
		logrus.Error(fmt.Sprintf("Error getting key %s: %v", key, err))
		return nil, err
	}
	return val, nil
}

func (r *redisClient) Delete(ctx context.Context, key string) error {
	result, err := r.client.Del(ctx, key).Result()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error deleting key %s: %v", key, err))
		return err
	}

	if result == 0 {
		logrus.Debug(fmt.Sprintf("Key %s not found for deletion", key))
	}

	return nil
}

// AcquireLock serializes writers on a shared key. The owner token is checked on
// release so a writer cannot drop a lock that expired and was re-acquired by another.
func (r *redisClient) AcquireLock(ctx context.Context, key string, owner string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error acquiring lock %s: %v", key, err))
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// releaseLockScript deletes the key only while it still holds the caller's token.
// The compare and the delete run as one server-side step, so a lock that expired
// and was re-acquired by another owner between them can never be dropped here.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (r *redisClient) ReleaseLock(ctx context.Context, key string, owner string) error {
	released, err := releaseLockScript.Run(ctx, r.client, []string{key}, owner).Int()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error releasing lock %s: %v", key, err))
		return err
	}

	if released == 0 {
		logrus.Debug(fmt.Sprintf("Lock %s expired or held by another owner, nothing released", key))
	}

	return nil
}
