// Package group implements the consumer-group manager core: a serialized
// actor that owns the partition worker fleet of one group member and keeps
// worker lifecycle, tracked offsets, and the published generation consistent
// with the coordinator's view of the group, plus the caller-facing ack
// router.
package group

// GenerationNone is the generation value of an unassigned member. Real
// generations issued by the coordinator are non-negative.
const GenerationNone int32 = -1

// Assignment is one partition ownership grant issued by the group
// coordinator to this member.
type Assignment struct {
	Topic       string
	Partition   int32
	BeginOffset int64
}

// PartitionOffset pairs a partition with a committed offset.
type PartitionOffset struct {
	Partition int32
	Offset    int64
}

// Coordinator is the group coordinator client's ack surface. The coordinator
// owns the group membership session and durable offset commits; the manager
// only pushes acknowledged offsets into it.
type Coordinator interface {
	Ack(generationID int32, topic string, partition int32, offset int64) error
}

// FetchEngine is the local fetch side of the consumer client. Acknowledging
// an offset releases the prefetch window held for messages up to it.
type FetchEngine interface {
	ConsumeAck(topic string, partition int32, offset int64) error
}

// DirectAcknowledger commits offsets directly with a member id, bypassing
// the coordinator's ack channel.
type DirectAcknowledger interface {
	Ack(memberID, topic string, partition int32, generationID int32, offset int64) error
}
