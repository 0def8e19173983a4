package integration_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/metinatakli/ride-checkout/internal/realtime"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
)

// BaseSuite runs against a real Redis started in a container. The suite is skipped when no
// container runtime is reachable.
type BaseSuite struct {
	suite.Suite
	cacheContainer *RedisContainer
	client         *redis.Client
	publisher      *realtime.RedisPublisher
	logger         *slog.Logger
}

func (s *BaseSuite) SetupSuite() {
	ctx := context.Background()

	redisContainer, err := getCacheContainer(ctx)
	if err != nil {
		s.T().Skipf("redis container unavailable: %s", err)
	}

	s.cacheContainer = redisContainer
	s.client = redis.NewClient(&redis.Options{Addr: redisContainer.ConnectionString})
	s.publisher = realtime.NewRedisPublisher(s.client)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(s.client.Ping(pingCtx).Err())
}

func (s *BaseSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}

	if s.cacheContainer != nil {
		s.Require().NoError(testcontainers.TerminateContainer(s.cacheContainer.Container))
	}
}

func (s *BaseSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(s.T().Context()).Err())
}

func (s *BaseSuite) newFeed() *realtime.RedisFeed {
	return realtime.NewRedisFeed(s.client, realtime.DefaultReconnectPolicy(), s.logger)
}

// roomRecorder is a FeedHandler that records what a subscription delivers.
type roomRecorder struct {
	mu        sync.Mutex
	connected int
	updates   [][]int
}

func (r *roomRecorder) OnConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *roomRecorder) OnDisconnected(error) {}

func (r *roomRecorder) OnSeatsUpdated(occupied []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, occupied)
}

func (r *roomRecorder) received() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.updates...)
}

func (r *roomRecorder) connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}
