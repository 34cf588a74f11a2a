package group

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jakeprem/elsa/actor"
	"github.com/jakeprem/elsa/config"
	"github.com/jakeprem/elsa/metrics"
	"github.com/jakeprem/elsa/none"
	"github.com/jakeprem/elsa/registry"
	"github.com/jakeprem/elsa/worker"
)

// ErrTerminated is returned by synchronous calls made after the group
// manager has terminated.
var ErrTerminated = errors.New("group manager terminated")

const eventsChCapacity = 256

// Deps are the external collaborators of a group manager.
type Deps struct {
	// Coordinator receives offset acknowledgments on the indirect path.
	Coordinator Coordinator
	// FetchEngine has its prefetch window advanced on every acknowledgment.
	// Optional.
	FetchEngine FetchEngine
	// Supervisor starts and stops partition workers.
	Supervisor worker.Supervisor
	// DirectAcker commits offsets on the direct path. Required iff the
	// configuration enables direct-ack mode.
	DirectAcker DirectAcknowledger
	// Factory and InitArgs build the message handler of every worker.
	Factory  worker.HandlerFactory
	InitArgs interface{}
}

// T is a consumer group manager. It owns the partition worker fleet of the
// local group member and keeps worker lifecycle, tracked offsets, and the
// published generation consistent with the coordinator's view of the group.
//
// All state is owned by a single goroutine; assignment intake, revocation,
// acknowledgments, and worker termination events are serialized through its
// mailbox.
type T struct {
	actDesc  *actor.Descriptor
	cfg      *config.T
	deps     Deps
	cell     *registry.Cell
	eventsCh chan interface{}
	deadCh   chan none.T
	wg       sync.WaitGroup

	// The fields below are accessed from the manager goroutine only.
	workers      workerTable
	generationID int32
	fatalErr     error
}

type (
	assignRequest struct {
		memberID     string
		generationID int32
		assignments  []Assignment
		replyCh      chan<- error
	}
	revokeRequest struct {
		replyCh chan<- error
	}
	ackEvent struct {
		topic        string
		partition    int32
		generationID int32
		offset       int64
	}
	downEvent struct {
		token uuid.UUID
	}
	fatalEvent struct {
		reason error
	}
	stopRequest struct{}
	syncRequest struct {
		replyCh chan<- none.T
	}
)

// Spawn creates a group manager, registers it in the process-wide registry
// under cfg.Name, and starts its event loop.
func Spawn(parentActDesc *actor.Descriptor, cfg *config.T, deps Deps) (*T, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("a coordinator must be specified")
	}
	if deps.Supervisor == nil {
		return nil, errors.New("a worker supervisor must be specified")
	}
	if deps.Factory == nil {
		return nil, errors.New("a handler factory must be specified")
	}
	if cfg.DirectAck && deps.DirectAcker == nil {
		return nil, errors.New("a direct acknowledger must be specified in direct-ack mode")
	}
	m := &T{
		actDesc:      parentActDesc.NewChild("group_mgr"),
		cfg:          cfg,
		deps:         deps,
		eventsCh:     make(chan interface{}, eventsChCapacity),
		deadCh:       make(chan none.T),
		workers:      make(workerTable),
		generationID: GenerationNone,
	}
	cell, err := registry.Register(cfg.Name, cfg.Group, cfg.DirectAck, m, deps.DirectAcker)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register group member")
	}
	m.cell = cell
	actor.Spawn(m.actDesc, &m.wg, m.run)
	return m, nil
}

// OnAssignmentsReceived is called by the group coordinator client when the
// member is handed a new set of partition assignments. It blocks until the
// assignment cycle has been fully processed. A non-nil error means the cycle
// was rejected and the manager is terminating.
func (m *T) OnAssignmentsReceived(memberID string, generationID int32, assignments []Assignment) error {
	replyCh := make(chan error, 1)
	if !m.post(assignRequest{memberID, generationID, assignments, replyCh}) {
		return ErrTerminated
	}
	select {
	case err := <-replyCh:
		return err
	case <-m.deadCh:
		return ErrTerminated
	}
}

// OnAssignmentsRevoked is called by the group coordinator client before a
// rebalance takes the member's partitions away. It blocks until all workers
// have been stopped and the revocation hook has run; the coordinator is
// expected to budget on the order of Consumer.RevocationTimeout for it.
func (m *T) OnAssignmentsRevoked() error {
	replyCh := make(chan error, 1)
	if !m.post(revokeRequest{replyCh}) {
		return ErrTerminated
	}
	select {
	case err := <-replyCh:
		return err
	case <-m.deadCh:
		return ErrTerminated
	}
}

// CommittedOffsets reports offsets committed by this member for the topic.
// The manager keeps no durable offsets of its own, the coordinator owns
// them, so the list is always empty.
func (m *T) CommittedOffsets(topic string) []PartitionOffset {
	return []PartitionOffset{}
}

// Ack routes an application acknowledgment into the manager's mailbox. It
// never blocks on manager processing and implements registry.Acker.
func (m *T) Ack(topic string, partition int32, generationID int32, offset int64) {
	if !m.post(ackEvent{topic, partition, generationID, offset}) {
		m.actDesc.Log().Warningf("Ack dropped, manager terminated: %s:%d, offset=%d",
			topic, partition, offset)
	}
}

// Terminate asks the manager to shut down with the given fatal reason. It is
// the path for external collaborators, the coordinator client above all, to
// surface their own demise.
func (m *T) Terminate(reason error) {
	m.post(fatalEvent{reason})
}

// Stop gracefully stops the manager: workers are asked to unsubscribe and
// drained, and the registry entry is removed. It blocks until the manager
// goroutine has terminated.
func (m *T) Stop() {
	m.post(stopRequest{})
	<-m.deadCh
	m.wg.Wait()
	registry.Unregister(m.cfg.Name)
}

// Done is closed when the manager goroutine has terminated.
func (m *T) Done() <-chan none.T {
	return m.deadCh
}

// Err returns the fatal termination reason, nil if the manager is still
// running or stopped gracefully.
func (m *T) Err() error {
	select {
	case <-m.deadCh:
		return m.fatalErr
	default:
		return nil
	}
}

// flush blocks until every event posted before it has been processed.
func (m *T) flush() {
	replyCh := make(chan none.T, 1)
	if !m.post(syncRequest{replyCh}) {
		return
	}
	select {
	case <-replyCh:
	case <-m.deadCh:
	}
}

// post submits an event to the manager mailbox. Returns false if the manager
// has terminated.
func (m *T) post(event interface{}) bool {
	select {
	case m.eventsCh <- event:
		return true
	case <-m.deadCh:
		return false
	}
}

func (m *T) run() {
	defer close(m.deadCh)
	for {
		event := <-m.eventsCh
		switch e := event.(type) {
		case assignRequest:
			err := m.onAssignments(e)
			e.replyCh <- err
			if err != nil {
				m.fatal(err)
				return
			}
		case revokeRequest:
			err := m.onRevoke()
			e.replyCh <- err
			if err != nil {
				m.fatal(err)
				return
			}
		case ackEvent:
			if err := m.onAck(e); err != nil {
				m.fatal(err)
				return
			}
		case downEvent:
			if err := m.onWorkerDown(e); err != nil {
				m.fatal(err)
				return
			}
		case fatalEvent:
			m.fatal(e.reason)
			return
		case stopRequest:
			m.stopAllWorkers()
			m.cell.ClearAssignment()
			m.generationID = GenerationNone
			return
		case syncRequest:
			e.replyCh <- none.V
		}
	}
}

// fatal stops whatever workers are left, then terminates after a cooldown so
// that the enclosing supervision does not restart the subtree in a tight
// loop.
func (m *T) fatal(reason error) {
	m.fatalErr = reason
	m.actDesc.Log().Errorf("Terminating: reason=(%s)", reason)
	m.stopAllWorkers()
	m.cell.ClearAssignment()
	m.generationID = GenerationNone
	time.Sleep(m.cfg.Consumer.ShutdownCooldown)
}

func (m *T) onAssignments(e assignRequest) error {
	// A revocation is supposed to precede every assignment cycle. The
	// coordinator normally enforces that, but it is not asserted here; see
	// the log for leaked entries if it ever breaks.
	if len(m.workers) != 0 {
		m.actDesc.Log().Warningf("Assignment cycle with %d workers still tracked: generation=%d",
			len(m.workers), e.generationID)
	}
	if hook := m.cfg.OnAssignmentReceived; hook != nil {
		for _, a := range e.assignments {
			if err := hook(m.cfg.Group, a.Topic, a.Partition, e.generationID); err != nil {
				return errors.Wrapf(err, "assignment rejected: %s:%d generation=%d",
					a.Topic, a.Partition, e.generationID)
			}
		}
	}
	m.cell.StoreAssignment(e.memberID, e.generationID)
	for _, a := range e.assignments {
		h, err := m.startWorker(e.generationID, a)
		if err != nil {
			return errors.Wrapf(err, "failed to start worker: %s:%d", a.Topic, a.Partition)
		}
		m.workers.insert(h)
	}
	m.generationID = e.generationID
	metrics.AssignmentCycles.WithLabelValues(m.cfg.Group).Inc()
	m.actDesc.Log().Infof("Assignments processed: member=%s, generation=%d, partitions=%d",
		e.memberID, e.generationID, len(e.assignments))
	return nil
}

func (m *T) onRevoke() error {
	m.stopAllWorkers()
	if hook := m.cfg.OnAssignmentsRevoked; hook != nil {
		if err := hook(); err != nil {
			return errors.Wrap(err, "revocation hook failed")
		}
	}
	m.cell.ClearAssignment()
	m.generationID = GenerationNone
	metrics.Revocations.WithLabelValues(m.cfg.Group).Inc()
	m.actDesc.Log().Info("Assignments revoked")
	return nil
}

func (m *T) onAck(e ackEvent) error {
	if e.generationID != m.generationID {
		m.actDesc.Log().WithFields(log.Fields{
			"kafka.group":     m.cfg.Group,
			"kafka.topic":     e.topic,
			"kafka.partition": e.partition,
		}).Warningf("Stale ack dropped: generation=%d, current=%d, offset=%d",
			e.generationID, m.generationID, e.offset)
		metrics.StaleAcksDropped.WithLabelValues(m.cfg.Group, e.topic).Inc()
		return nil
	}
	if err := m.deps.Coordinator.Ack(e.generationID, e.topic, e.partition, e.offset); err != nil {
		// The coordinator will re-deliver anything left unacknowledged.
		m.actDesc.Log().Errorf("Failed to ack offset to coordinator: %s:%d, offset=%d, err=(%s)",
			e.topic, e.partition, e.offset, err)
		return nil
	}
	if m.deps.FetchEngine != nil {
		if err := m.deps.FetchEngine.ConsumeAck(e.topic, e.partition, e.offset); err != nil {
			m.actDesc.Log().Warningf("Failed to ack offset to fetch engine: %s:%d, offset=%d, err=(%s)",
				e.topic, e.partition, e.offset, err)
		}
	}
	return m.workers.updateOffset(e.topic, e.partition, e.offset)
}

func (m *T) onWorkerDown(e downEvent) error {
	h := m.workers.findByMonitor(e.token)
	if h == nil {
		// The worker was demonitored during a revocation, or already
		// replaced. Nothing to do.
		return nil
	}
	m.actDesc.Log().Warningf("Worker died: %s:%d, restarting at offset %d",
		h.topic, h.partition, h.latestOffset)
	replacement := Assignment{Topic: h.topic, Partition: h.partition, BeginOffset: h.latestOffset}
	nh, err := m.startWorker(h.generationID, replacement)
	if err != nil {
		return errors.Wrapf(err, "failed to restart worker: %s:%d", h.topic, h.partition)
	}
	m.workers.insert(nh)
	metrics.WorkerRestarts.WithLabelValues(m.cfg.Group, h.topic).Inc()
	return nil
}

// startWorker asks the supervisor for a fresh worker and installs a monitor
// on it. The caller inserts the returned handle into the table.
func (m *T) startWorker(generationID int32, a Assignment) (*workerHandle, error) {
	spec := worker.StartSpec{
		Group:        m.cfg.Group,
		Topic:        a.Topic,
		Partition:    a.Partition,
		GenerationID: generationID,
		BeginOffset:  a.BeginOffset,
		Factory:      m.deps.Factory,
		InitArgs:     m.deps.InitArgs,
		Config:       m.cfg,
		Ack: func(topic string, partition int32, gen int32, offset int64) {
			Ack(m.cfg.Name, topic, partition, gen, offset)
		},
	}
	w, err := m.deps.Supervisor.StartWorker(spec)
	if err != nil {
		return nil, err
	}
	token := uuid.New()
	m.monitor(token, w)
	return &workerHandle{
		worker:       w,
		monitor:      token,
		generationID: generationID,
		topic:        a.Topic,
		partition:    a.Partition,
		latestOffset: a.BeginOffset,
	}, nil
}

// monitor multiplexes the worker's termination into the manager mailbox. The
// token is unique per installation, so termination of a worker that has
// since been drained or replaced no longer matches anything in the table.
func (m *T) monitor(token uuid.UUID, w worker.T) {
	actor.Spawn(m.actDesc.NewChild("monitor"), &m.wg, func() {
		select {
		case <-w.Done():
			m.post(downEvent{token})
		case <-m.deadCh:
		}
	})
}

// stopAllWorkers drains the table, which demonitors every worker, and only
// then requests graceful unsubscribes. The order matters: a monitored worker
// stopping on request would otherwise fire the restart path.
func (m *T) stopAllWorkers() {
	handles := m.workers.drain()
	for _, h := range handles {
		m.deps.Supervisor.Unsubscribe(h.worker)
	}
	m.awaitWorkers(handles, m.cfg.Consumer.RevocationTimeout)
}

func (m *T) awaitWorkers(handles []*workerHandle, timeout time.Duration) {
	if len(handles) == 0 {
		return
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, h := range handles {
		select {
		case <-h.worker.Done():
		case <-deadline.C:
			m.actDesc.Log().Errorf("Timed out waiting for worker to stop: %s:%d",
				h.topic, h.partition)
			return
		}
	}
}
