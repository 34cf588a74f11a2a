package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakeprem/elsa/actor"
	"github.com/jakeprem/elsa/config"
	"github.com/jakeprem/elsa/group"
	"github.com/jakeprem/elsa/worker"
)

type coordAck struct {
	generationID int32
	topic        string
	partition    int32
	offset       int64
}

type fakeCoordinator struct {
	mu   sync.Mutex
	acks []coordAck
}

func (c *fakeCoordinator) Ack(generationID int32, topic string, partition int32, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, coordAck{generationID, topic, partition, offset})
	return nil
}

func (c *fakeCoordinator) lastAck() (coordAck, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.acks) == 0 {
		return coordAck{}, false
	}
	return c.acks[len(c.acks)-1], true
}

// onePassFetcher serves a single batch at the given offset, then empties.
type onePassFetcher struct {
	mu     sync.Mutex
	offset int64
	batch  []worker.Message
}

func (f *onePassFetcher) Fetch(ctx context.Context, topic string, partition int32, offset int64) ([]worker.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batch == nil || offset != f.offset {
		return nil, nil
	}
	batch := f.batch
	f.batch = nil
	return batch, nil
}

type countingHandler struct {
	mu    sync.Mutex
	count int
}

func (h *countingHandler) HandleMessages(ctx context.Context, batch []worker.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count += len(batch)
	return nil
}

func (h *countingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func testConfig(t *testing.T) *config.T {
	cfg := config.Default(t.Name())
	cfg.Brokers = []string{"localhost:9092"}
	cfg.Group = "g1"
	cfg.Topics = []string{"t"}
	cfg.Consumer.SleepTimeout = 5 * time.Millisecond
	cfg.Consumer.RevocationTimeout = 500 * time.Millisecond
	cfg.Consumer.ShutdownCooldown = 10 * time.Millisecond
	return cfg
}

func TestConsumeAckRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	coordinator := &fakeCoordinator{}
	handler := &countingHandler{}
	fetcher := &onePassFetcher{
		offset: 100,
		batch: []worker.Message{
			{Topic: "t", Partition: 0, Offset: 100, Value: []byte("a")},
			{Topic: "t", Partition: 0, Offset: 101, Value: []byte("b")},
		},
	}
	c, err := Spawn(actor.Root(), cfg, Deps{
		Coordinator: coordinator,
		Fetcher:     fetcher,
		Handler: func(topic string, partition int32, initArgs interface{}) (worker.Handler, error) {
			return handler, nil
		},
	})
	require.NoError(t, err)
	defer c.Stop()

	mgr, err := c.Manager()
	require.NoError(t, err)
	require.NoError(t, mgr.OnAssignmentsReceived("m1", 7,
		[]group.Assignment{{Topic: "t", Partition: 0, BeginOffset: 100}}))

	require.Eventually(t, func() bool {
		ack, ok := coordinator.lastAck()
		return ok && ack == coordAck{7, "t", 0, 101}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, handler.total())

	offsets, err := c.CommittedOffsets("t")
	require.NoError(t, err)
	assert.Empty(t, offsets)
}

func TestSpawnRequiresWorkerSource(t *testing.T) {
	cfg := testConfig(t)
	_, err := Spawn(actor.Root(), cfg, Deps{
		Coordinator: &fakeCoordinator{},
		Handler: func(topic string, partition int32, initArgs interface{}) (worker.Handler, error) {
			return &countingHandler{}, nil
		},
	})
	require.Error(t, err)
}

func TestStopMakesUnavailable(t *testing.T) {
	cfg := testConfig(t)
	c, err := Spawn(actor.Root(), cfg, Deps{
		Coordinator: &fakeCoordinator{},
		Fetcher:     &onePassFetcher{},
		Handler: func(topic string, partition int32, initArgs interface{}) (worker.Handler, error) {
			return &countingHandler{}, nil
		},
	})
	require.NoError(t, err)

	c.Stop()

	_, err = c.Manager()
	assert.Equal(t, ErrUnavailable, err)
	_, err = c.CommittedOffsets("t")
	assert.Equal(t, ErrUnavailable, err)

	// The name is free for a fresh instance after Stop.
	c2, err := Spawn(actor.Root(), cfg, Deps{
		Coordinator: &fakeCoordinator{},
		Fetcher:     &onePassFetcher{},
		Handler: func(topic string, partition int32, initArgs interface{}) (worker.Handler, error) {
			return &countingHandler{}, nil
		},
	})
	require.NoError(t, err)
	c2.Stop()
}
