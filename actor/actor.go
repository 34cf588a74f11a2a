package actor

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var root = &Descriptor{path: ""}

// Descriptor identifies a goroutine in the actor hierarchy. Descriptors form
// a tree rooted at Root(); each one carries a slash-separated path that is
// attached to every log entry the actor emits.
type Descriptor struct {
	path     string
	childSeq atomic.Int32
}

// Root returns the root of the actor descriptor hierarchy.
func Root() *Descriptor {
	return root
}

// NewChild creates a child descriptor. Every call with the same arguments
// yields a unique path, so respawned actors are distinguishable in logs.
func (d *Descriptor) NewChild(args ...interface{}) *Descriptor {
	if len(args) == 0 {
		return d
	}
	name := fmt.Sprint(args...)
	seq := d.childSeq.Add(1) - 1
	var path string
	if d.path == "" {
		path = fmt.Sprintf("/%s.%d", name, seq)
	} else {
		path = fmt.Sprintf("%s/%s.%d", d.path, name, seq)
	}
	return &Descriptor{path: path}
}

func (d *Descriptor) String() string {
	return d.path
}

// Log returns a logger entry tagged with the actor path.
func (d *Descriptor) Log() *log.Entry {
	return log.WithField("actor", d.path)
}

// Spawn starts function f as a goroutine made a member of the wait group wg,
// logging the goroutine start and stop under the actor descriptor.
func Spawn(actDesc *Descriptor, wg *sync.WaitGroup, f func()) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		actDesc.Log().Info("Started")
		defer actDesc.Log().Info("Stopped")
		f()
	}()
}
