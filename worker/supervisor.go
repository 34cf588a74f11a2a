package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jakeprem/elsa/actor"
	"github.com/jakeprem/elsa/none"
)

// LocalSupervisor runs partition workers as goroutines in the current
// process, each driving a handler against the fetch engine. It implements
// Supervisor.
type LocalSupervisor struct {
	actDesc *actor.Descriptor
	fetcher Fetcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stoppedMu sync.Mutex
	stopped   bool
}

// SpawnLocalSupervisor creates a supervisor that starts workers fed by the
// given fetch engine.
func SpawnLocalSupervisor(parentActDesc *actor.Descriptor, fetcher Fetcher) *LocalSupervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalSupervisor{
		actDesc: parentActDesc.NewChild("worker_sup"),
		fetcher: fetcher,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartWorker starts a goroutine consuming the partition described by spec.
func (s *LocalSupervisor) StartWorker(spec StartSpec) (T, error) {
	s.stoppedMu.Lock()
	defer s.stoppedMu.Unlock()
	if s.stopped {
		return nil, errors.New("supervisor is stopped")
	}
	r := &runner{
		actDesc:    s.actDesc.NewChild(fmt.Sprintf("%s:%d", spec.Topic, spec.Partition)),
		spec:       spec,
		fetcher:    s.fetcher,
		doneCh:     make(chan none.T),
		stoppingCh: make(chan none.T),
	}
	actor.Spawn(r.actDesc, &s.wg, func() { r.run(s.ctx) })
	return r, nil
}

// Unsubscribe signals the worker to stop after the batch it is processing.
func (s *LocalSupervisor) Unsubscribe(w T) {
	r, ok := w.(*runner)
	if !ok {
		s.actDesc.Log().Errorf("Unsubscribe called with a foreign worker: %v", w)
		return
	}
	r.stopOnce.Do(func() { close(r.stoppingCh) })
}

// Stop terminates all workers and waits for them to finish.
func (s *LocalSupervisor) Stop() {
	s.stoppedMu.Lock()
	s.stopped = true
	s.stoppedMu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// runner is a single partition worker goroutine.
type runner struct {
	actDesc    *actor.Descriptor
	spec       StartSpec
	fetcher    Fetcher
	doneCh     chan none.T
	stoppingCh chan none.T
	stopOnce   sync.Once
}

// Done implements T.
func (r *runner) Done() <-chan none.T {
	return r.doneCh
}

func (r *runner) run(ctx context.Context) {
	defer close(r.doneCh)

	spec := r.spec
	logEntry := r.actDesc.Log().WithFields(log.Fields{
		"kafka.group":     spec.Group,
		"kafka.topic":     spec.Topic,
		"kafka.partition": spec.Partition,
	})

	h, err := spec.Factory(spec.Topic, spec.Partition, spec.InitArgs)
	if err != nil {
		logEntry.Errorf("Failed to initialize handler: err=(%s)", err)
		r.idle(ctx, spec.Config.Consumer.SleepTimeout)
		return
	}

	offset := spec.BeginOffset
	logEntry.Infof("Consuming: generation=%d, beginOffset=%d", spec.GenerationID, offset)
	for {
		select {
		case <-r.stoppingCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		batch, err := r.fetcher.Fetch(ctx, spec.Topic, spec.Partition, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logEntry.Errorf("Fetch failed: offset=%d, err=(%s)", offset, err)
			r.idle(ctx, spec.Config.Consumer.SleepTimeout)
			return
		}
		if len(batch) == 0 {
			if !r.idle(ctx, spec.Config.Consumer.SleepTimeout) {
				return
			}
			continue
		}
		if max := spec.Config.Consumer.PrefetchCount; max > 0 && len(batch) > max {
			batch = batch[:max]
		}
		for i := range batch {
			batch[i].GenerationID = spec.GenerationID
		}
		if err := h.HandleMessages(ctx, batch); err != nil {
			logEntry.Errorf("Handler failed: offset=%d, err=(%s)", offset, err)
			return
		}
		last := batch[len(batch)-1].Offset
		if spec.Ack != nil {
			spec.Ack(spec.Topic, spec.Partition, spec.GenerationID, last)
		}
		offset = last + 1
	}
}

// idle sleeps for d unless the worker is asked to stop first. Returns false
// if the worker should terminate.
func (r *runner) idle(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stoppingCh:
		return false
	case <-ctx.Done():
		return false
	}
}
