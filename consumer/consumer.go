// Package consumer assembles a consumer group member from its parts: the
// group manager, a worker supervisor, and the registry cell the ack paths
// read.
package consumer

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/jakeprem/elsa/actor"
	"github.com/jakeprem/elsa/config"
	"github.com/jakeprem/elsa/group"
	"github.com/jakeprem/elsa/worker"
)

var (
	ErrUnavailable = errors.New("group member is shutting down")
)

// T is a consumer group member: the caller-facing front of the group manager
// core. It owns startup and shutdown ordering of the manager and, when no
// supervisor is supplied, of a locally spawned worker supervisor.
type T struct {
	actDesc *actor.Descriptor
	cfg     *config.T

	mgrMu sync.RWMutex
	mgr   *group.T

	ownSup   *worker.LocalSupervisor
	doneOnce sync.Once
}

// Deps carries the external collaborators of the group member. Coordinator
// and Handler are always required. Either Supervisor or Fetcher must be set:
// with a Fetcher a local worker supervisor is spawned around it, with a
// Supervisor workers are started through it as-is.
type Deps struct {
	Coordinator group.Coordinator
	FetchEngine group.FetchEngine
	Supervisor  worker.Supervisor
	Fetcher     worker.Fetcher
	DirectAcker group.DirectAcknowledger
	Handler     worker.HandlerFactory
	InitArgs    interface{}
}

// Spawn creates a group member instance and starts its internal goroutines.
func Spawn(parentActDesc *actor.Descriptor, cfg *config.T, deps Deps) (*T, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	c := &T{
		actDesc: parentActDesc.NewChild(cfg.Name),
		cfg:     cfg,
	}
	sup := deps.Supervisor
	if sup == nil {
		if deps.Fetcher == nil {
			return nil, errors.New("either a supervisor or a fetcher must be specified")
		}
		c.ownSup = worker.SpawnLocalSupervisor(c.actDesc, deps.Fetcher)
		sup = c.ownSup
	}
	mgr, err := group.Spawn(c.actDesc, cfg, group.Deps{
		Coordinator: deps.Coordinator,
		FetchEngine: deps.FetchEngine,
		Supervisor:  sup,
		DirectAcker: deps.DirectAcker,
		Factory:     deps.Handler,
		InitArgs:    deps.InitArgs,
	})
	if err != nil {
		if c.ownSup != nil {
			c.ownSup.Stop()
		}
		return nil, errors.Wrap(err, "failed to spawn group manager")
	}
	c.mgr = mgr
	return c, nil
}

// Stop terminates the group member synchronously.
func (c *T) Stop() {
	c.mgrMu.Lock()
	mgr := c.mgr
	c.mgr = nil
	c.mgrMu.Unlock()
	if mgr != nil {
		mgr.Stop()
	}
	if c.ownSup != nil {
		c.doneOnce.Do(c.ownSup.Stop)
	}
}

// Manager returns the group manager, for the coordinator client to wire its
// assignment callbacks into. Returns ErrUnavailable once Stop has begun.
func (c *T) Manager() (*group.T, error) {
	c.mgrMu.RLock()
	defer c.mgrMu.RUnlock()
	if c.mgr == nil {
		return nil, ErrUnavailable
	}
	return c.mgr, nil
}

// Ack acknowledges a consumed offset. Errors are logged, not returned.
func (c *T) Ack(topic string, partition int32, generationID int32, offset int64) {
	group.Ack(c.cfg.Name, topic, partition, generationID, offset)
}

// AckMessage is the record-shaped form of Ack.
func (c *T) AckMessage(msg worker.Message) {
	group.AckMessage(c.cfg.Name, msg)
}

// CommittedOffsets reports offsets committed by this member for the topic.
// Always empty: the coordinator owns durable offsets.
func (c *T) CommittedOffsets(topic string) ([]group.PartitionOffset, error) {
	c.mgrMu.RLock()
	defer c.mgrMu.RUnlock()
	if c.mgr == nil {
		return nil, ErrUnavailable
	}
	return c.mgr.CommittedOffsets(topic), nil
}
