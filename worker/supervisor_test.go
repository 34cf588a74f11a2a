package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakeprem/elsa/actor"
	"github.com/jakeprem/elsa/config"
)

// scriptedFetcher serves pre-loaded batches keyed by offset and empty
// batches for anything else.
type scriptedFetcher struct {
	mu      sync.Mutex
	batches map[int64][]Message
	err     error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, topic string, partition int32, offset int64) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.batches[offset], nil
}

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]Message
	err     error
}

func (h *recordingHandler) HandleMessages(ctx context.Context, batch []Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.batches = append(h.batches, batch)
	return nil
}

func (h *recordingHandler) batchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batches)
}

func (h *recordingHandler) batch(i int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batches[i]
}

type ackRec struct {
	topic        string
	partition    int32
	generationID int32
	offset       int64
}

type ackRecorder struct {
	mu   sync.Mutex
	acks []ackRec
}

func (r *ackRecorder) ack(topic string, partition int32, generationID int32, offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ackRec{topic, partition, generationID, offset})
}

func (r *ackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acks)
}

func (r *ackRecorder) last() ackRec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acks[len(r.acks)-1]
}

func testSpec(t *testing.T, h Handler, ack AckFunc) StartSpec {
	cfg := config.Default(t.Name())
	cfg.Group = "g1"
	cfg.Consumer.SleepTimeout = 5 * time.Millisecond
	return StartSpec{
		Group:        "g1",
		Topic:        "t",
		Partition:    0,
		GenerationID: 7,
		BeginOffset:  100,
		Factory: func(topic string, partition int32, initArgs interface{}) (Handler, error) {
			return h, nil
		},
		Config: cfg,
		Ack:    ack,
	}
}

func TestWorkerConsumesAndAcks(t *testing.T) {
	fetcher := &scriptedFetcher{batches: map[int64][]Message{
		100: {
			{Topic: "t", Partition: 0, Offset: 100, Value: []byte("a")},
			{Topic: "t", Partition: 0, Offset: 101, Value: []byte("b")},
		},
		102: {
			{Topic: "t", Partition: 0, Offset: 102, Value: []byte("c")},
		},
	}}
	handler := &recordingHandler{}
	acks := &ackRecorder{}
	sup := SpawnLocalSupervisor(actor.Root(), fetcher)
	defer sup.Stop()

	w, err := sup.StartWorker(testSpec(t, handler, acks.ack))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return acks.count() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, ackRec{"t", 0, 7, 102}, acks.last())
	require.Equal(t, 2, handler.batchCount())
	// Generation is stamped into every delivered message.
	for _, msg := range handler.batch(0) {
		assert.Equal(t, int32(7), msg.GenerationID)
	}

	sup.Unsubscribe(w)
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerStopsOnHandlerError(t *testing.T) {
	fetcher := &scriptedFetcher{batches: map[int64][]Message{
		100: {{Topic: "t", Partition: 0, Offset: 100}},
	}}
	handler := &recordingHandler{err: errors.New("boom")}
	acks := &ackRecorder{}
	sup := SpawnLocalSupervisor(actor.Root(), fetcher)
	defer sup.Stop()

	w, err := sup.StartWorker(testSpec(t, handler, acks.ack))
	require.NoError(t, err)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not terminate on handler error")
	}
	assert.Equal(t, 0, acks.count())
}

func TestWorkerStopsOnFetchError(t *testing.T) {
	fetcher := &scriptedFetcher{err: errors.New("broker gone")}
	sup := SpawnLocalSupervisor(actor.Root(), fetcher)
	defer sup.Stop()

	w, err := sup.StartWorker(testSpec(t, &recordingHandler{}, nil))
	require.NoError(t, err)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not terminate on fetch error")
	}
}

func TestSupervisorStopTerminatesWorkers(t *testing.T) {
	fetcher := &scriptedFetcher{}
	sup := SpawnLocalSupervisor(actor.Root(), fetcher)

	w, err := sup.StartWorker(testSpec(t, &recordingHandler{}, nil))
	require.NoError(t, err)

	sup.Stop()
	select {
	case <-w.Done():
	default:
		t.Fatal("worker still running after supervisor stop")
	}

	_, err = sup.StartWorker(testSpec(t, &recordingHandler{}, nil))
	require.Error(t, err)
}
