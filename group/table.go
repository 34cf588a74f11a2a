package group

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jakeprem/elsa/worker"
)

type topicPartition struct {
	topic     string
	partition int32
}

// workerHandle describes one running partition worker.
type workerHandle struct {
	worker       worker.T
	monitor      uuid.UUID
	generationID int32
	topic        string
	partition    int32
	// latestOffset is the next offset to consume: the assignment's begin
	// offset initially, acked offset + 1 after every acknowledgment.
	latestOffset int64
}

// workerTable maps topic-partitions to their worker handles. All operations
// run on the manager goroutine, so no locking is needed.
type workerTable map[topicPartition]*workerHandle

// insert stores the handle, overwriting any prior entry for the partition.
func (t workerTable) insert(h *workerHandle) {
	t[topicPartition{h.topic, h.partition}] = h
}

// updateOffset advances the partition's latest offset past ackedOffset. An
// ack for a partition this member does not own is a protocol violation.
func (t workerTable) updateOffset(topic string, partition int32, ackedOffset int64) error {
	h, ok := t[topicPartition{topic, partition}]
	if !ok {
		return errors.Errorf("ack for unassigned partition: %s:%d", topic, partition)
	}
	h.latestOffset = ackedOffset + 1
	return nil
}

// generation returns the generation the partition's worker was started under.
func (t workerTable) generation(topic string, partition int32) (int32, error) {
	h, ok := t[topicPartition{topic, partition}]
	if !ok {
		return GenerationNone, errors.Errorf("no worker for partition: %s:%d", topic, partition)
	}
	return h.generationID, nil
}

// findByMonitor returns the handle carrying the given monitor token, or nil.
// Reverse lookup only happens on worker death, so a linear scan is fine.
func (t workerTable) findByMonitor(token uuid.UUID) *workerHandle {
	for _, h := range t {
		if h.monitor == token {
			return h
		}
	}
	return nil
}

// drain removes and returns all handles.
func (t workerTable) drain() []*workerHandle {
	handles := make([]*workerHandle, 0, len(t))
	for tp, h := range t {
		handles = append(handles, h)
		delete(t, tp)
	}
	return handles
}
