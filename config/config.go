package config

import (
	"time"

	"github.com/pkg/errors"
)

// Special values accepted by Consumer.BeginOffset and resolved by the fetch
// engine against the partition's actual offset range.
const (
	// OffsetNewest tells the fetch engine to start from the next message
	// produced to the partition.
	OffsetNewest int64 = -1
	// OffsetOldest tells the fetch engine to start from the oldest message
	// retained by the partition.
	OffsetOldest int64 = -2
)

// AssignmentHook is called once for every assignment received from the group
// coordinator, before the partition worker is started. A non-nil error
// rejects the entire assignment cycle and terminates the group manager.
type AssignmentHook func(group, topic string, partition, generation int32) error

// RevocationHook is called once after all partition workers have been stopped
// in response to the coordinator revoking the member's assignments.
type RevocationHook func() error

// T holds configuration of a consumer group member.
type T struct {
	// Name identifies the group member instance in the process-wide registry
	// and must be unique within the process.
	Name string

	// Brokers lists the Kafka cluster contact points, host:port.
	Brokers []string

	// Endpoints is accepted as an alternative to Brokers. When both are
	// set Brokers wins.
	Endpoints []string

	// Group is the Kafka consumer group id.
	Group string

	// Topics lists the topics to subscribe to.
	Topics []string

	// DirectAck makes acknowledgments bypass the group manager and commit
	// through the direct acknowledger, tagged with the member id. Direct
	// acks do not advance the local prefetch window.
	DirectAck bool

	// OnAssignmentReceived is invoked per assignment; a nil hook accepts
	// everything.
	OnAssignmentReceived AssignmentHook

	// OnAssignmentsRevoked is invoked on revocation; a nil hook is a no-op.
	OnAssignmentsRevoked RevocationHook

	Consumer struct {
		// MinBytes and MaxBytes bound the size of fetch responses requested
		// from the brokers.
		MinBytes int32
		MaxBytes int32

		// MaxWaitTime is how long a broker may hold a fetch request waiting
		// for MinBytes to accumulate.
		MaxWaitTime time.Duration

		// SleepTimeout is how long a worker idles after an empty fetch.
		SleepTimeout time.Duration

		// PrefetchCount and PrefetchBytes bound the number and volume of
		// messages fetched ahead of acknowledgment.
		PrefetchCount int
		PrefetchBytes int

		// BeginOffset is a default start offset: OffsetNewest or
		// OffsetOldest, or a literal offset. Partition workers start from the
		// begin offset of their assignment and do not read this field.
		BeginOffset int64

		// OffsetResetPolicy tells the fetch engine where to resume when the
		// requested offset is out of range: "earliest" or "latest".
		OffsetResetPolicy string

		// RevocationTimeout bounds the graceful shutdown of partition
		// workers when the coordinator revokes assignments.
		RevocationTimeout time.Duration

		// ShutdownCooldown is slept before the group manager terminates
		// with a fatal reason, to keep the enclosing supervision from
		// restarting it in a tight loop.
		ShutdownCooldown time.Duration
	}
}

// Default returns a configuration instance with all optional parameters set
// to their default values.
func Default(name string) *T {
	c := &T{Name: name}
	c.Consumer.MinBytes = 1
	c.Consumer.MaxBytes = 1024 * 1024
	c.Consumer.MaxWaitTime = 10 * time.Second
	c.Consumer.SleepTimeout = 2 * time.Second
	c.Consumer.PrefetchCount = 10
	c.Consumer.PrefetchBytes = 1024 * 1024
	c.Consumer.BeginOffset = OffsetOldest
	c.Consumer.OffsetResetPolicy = "earliest"
	c.Consumer.RevocationTimeout = 30 * time.Second
	c.Consumer.ShutdownCooldown = 2 * time.Second
	return c
}

// Validate checks the configuration for completeness.
func (c *T) Validate() error {
	if c.Name == "" {
		return errors.New("Name must be specified")
	}
	if len(c.Brokers) == 0 && len(c.Endpoints) == 0 {
		return errors.New("at least one broker must be specified")
	}
	if c.Group == "" {
		return errors.New("Group must be specified")
	}
	if len(c.Topics) == 0 {
		return errors.New("at least one topic must be specified")
	}
	switch c.Consumer.OffsetResetPolicy {
	case "earliest", "latest":
	default:
		return errors.Errorf("bad offset reset policy: %s", c.Consumer.OffsetResetPolicy)
	}
	if c.Consumer.RevocationTimeout <= 0 {
		return errors.New("RevocationTimeout must be positive")
	}
	return nil
}

// BrokerEndpoints returns the configured cluster contact points regardless
// of which of the two keys they were supplied under.
func (c *T) BrokerEndpoints() []string {
	if len(c.Brokers) != 0 {
		return c.Brokers
	}
	return c.Endpoints
}
