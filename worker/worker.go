package worker

import (
	"context"
	"time"

	"github.com/jakeprem/elsa/config"
	"github.com/jakeprem/elsa/none"
)

// Message is a single Kafka message handed to a partition worker's handler.
// GenerationID carries the group generation the owning worker was started
// under, so that the handler can acknowledge the message against it.
type Message struct {
	Topic        string
	Partition    int32
	Offset       int64
	Key          []byte
	Value        []byte
	Timestamp    time.Time
	GenerationID int32
}

// Handler processes batches of fetched messages. A handler instance is owned
// by exactly one partition worker and is never called concurrently. A non-nil
// error terminates the worker; the group manager restarts it at the offset
// following the last acknowledged one.
type Handler interface {
	HandleMessages(ctx context.Context, batch []Message) error
}

// HandlerFactory builds a handler for one partition worker. It is invoked
// every time a worker is started, including restarts after a crash.
type HandlerFactory func(topic string, partition int32, initArgs interface{}) (Handler, error)

// AckFunc acknowledges a processed offset on behalf of a worker.
type AckFunc func(topic string, partition int32, generationID int32, offset int64)

// StartSpec carries everything a partition worker needs to run.
type StartSpec struct {
	Group        string
	Topic        string
	Partition    int32
	GenerationID int32
	BeginOffset  int64
	Factory      HandlerFactory
	InitArgs     interface{}
	Config       *config.T
	Ack          AckFunc
}

// T is a running partition worker as seen by the group manager: an opaque
// identity whose Done channel is closed when the worker terminates for any
// reason, graceful or not.
type T interface {
	// Done is closed when the worker's goroutine has fully terminated.
	Done() <-chan none.T
}

// Fetcher is the interface to the fetch engine that supplies messages to
// partition workers. Implementations own broker connections, prefetching and
// offset-out-of-range resolution; a call returns an empty batch when no
// messages are available at the requested offset.
type Fetcher interface {
	Fetch(ctx context.Context, topic string, partition int32, offset int64) ([]Message, error)
}

// Supervisor starts partition workers on behalf of the group manager and
// stops them gracefully on request. Unsubscribe only signals the worker to
// stop; the caller observes actual termination through the worker's Done
// channel.
type Supervisor interface {
	StartWorker(spec StartSpec) (T, error)
	Unsubscribe(w T)
}
