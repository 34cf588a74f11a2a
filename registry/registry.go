package registry

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Acker accepts acknowledgments routed to a group manager. Implementations
// must be non-blocking with respect to the caller.
type Acker interface {
	Ack(topic string, partition int32, generation int32, offset int64)
}

// DirectAcker commits an offset directly, bypassing the group manager. The
// member id disambiguates the committer during rebalances.
type DirectAcker interface {
	Ack(memberID, topic string, partition int32, generationID int32, offset int64) error
}

// Assignment is an immutable snapshot of the member identity issued by the
// group coordinator for the current generation.
type Assignment struct {
	MemberID     string
	GenerationID int32
}

// Cell holds the shared state of one named group member: the direct-ack mode
// flag, the manager's ack endpoint, and the current assignment snapshot. The
// snapshot has a single writer (the group manager) and is read on every ack,
// so it is swapped atomically rather than guarded by a lock.
type Cell struct {
	name       string
	group      string
	directAck  bool
	acker      Acker
	direct     DirectAcker
	assignment atomic.Value // *Assignment, nil pointer while unassigned
}

// Name returns the name the cell was registered under.
func (c *Cell) Name() string {
	return c.name
}

// Group returns the Kafka consumer group id of the member.
func (c *Cell) Group() string {
	return c.group
}

// DirectAck reports whether direct-ack mode is enabled for this member.
func (c *Cell) DirectAck() bool {
	return c.directAck
}

// Acker returns the manager's ack endpoint.
func (c *Cell) Acker() Acker {
	return c.acker
}

// Direct returns the direct acknowledger the cell was registered with. It is
// only consulted in direct-ack mode and may be nil otherwise.
func (c *Cell) Direct() DirectAcker {
	return c.direct
}

// StoreAssignment publishes the member id and generation of a freshly
// processed assignment cycle.
func (c *Cell) StoreAssignment(memberID string, generationID int32) {
	c.assignment.Store(&Assignment{MemberID: memberID, GenerationID: generationID})
}

// ClearAssignment removes the published assignment. Subsequent Assignment
// calls report no assignment until the next StoreAssignment.
func (c *Cell) ClearAssignment() {
	c.assignment.Store((*Assignment)(nil))
}

// Assignment returns the current assignment snapshot, or ok=false while the
// member is unassigned.
func (c *Cell) Assignment() (Assignment, bool) {
	a, _ := c.assignment.Load().(*Assignment)
	if a == nil {
		return Assignment{}, false
	}
	return *a, true
}

var (
	cellsMu sync.RWMutex
	cells   = make(map[string]*Cell)
)

// Register creates a cell for the given member name. It fails if the name is
// already taken within the process.
func Register(name, group string, directAck bool, acker Acker, direct DirectAcker) (*Cell, error) {
	cellsMu.Lock()
	defer cellsMu.Unlock()
	if _, ok := cells[name]; ok {
		return nil, errors.Errorf("duplicate registration: %s", name)
	}
	c := &Cell{name: name, group: group, directAck: directAck, acker: acker, direct: direct}
	c.assignment.Store((*Assignment)(nil))
	cells[name] = c
	return c, nil
}

// Unregister removes the named cell. Unknown names are ignored.
func Unregister(name string) {
	cellsMu.Lock()
	defer cellsMu.Unlock()
	delete(cells, name)
}

// Lookup returns the cell registered under name.
func Lookup(name string) (*Cell, bool) {
	cellsMu.RLock()
	defer cellsMu.RUnlock()
	c, ok := cells[name]
	return c, ok
}
