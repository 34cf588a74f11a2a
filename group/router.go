package group

import (
	log "github.com/sirupsen/logrus"

	"github.com/jakeprem/elsa/metrics"
	"github.com/jakeprem/elsa/registry"
	"github.com/jakeprem/elsa/worker"
)

// Ack acknowledges a consumed offset on behalf of the named group member.
// In the default mode the ack is forwarded to the member's group manager,
// which relays it to the coordinator and advances the prefetch window. In
// direct-ack mode the offset is committed straight through the direct
// acknowledger, tagged with the member id.
//
// Both modes gate on the generation the message was delivered under: an ack
// that does not match the currently assigned generation is dropped, since
// the coordinator re-delivers unacknowledged messages to the generation's
// new owner. Errors are logged, never returned.
func Ack(name, topic string, partition int32, generationID int32, offset int64) {
	cell, ok := registry.Lookup(name)
	if !ok {
		log.Warningf("Ack for unknown group member dropped: name=%s, %s:%d, offset=%d",
			name, topic, partition, offset)
		return
	}
	if !cell.DirectAck() {
		cell.Acker().Ack(topic, partition, generationID, offset)
		return
	}
	assignment, ok := cell.Assignment()
	if !ok || assignment.GenerationID != generationID {
		log.WithFields(log.Fields{
			"kafka.topic":     topic,
			"kafka.partition": partition,
		}).Warningf("Stale direct ack dropped: name=%s, generation=%d, offset=%d",
			name, generationID, offset)
		metrics.StaleAcksDropped.WithLabelValues(cell.Group(), topic).Inc()
		return
	}
	if err := cell.Direct().Ack(assignment.MemberID, topic, partition, generationID, offset); err != nil {
		log.Errorf("Direct ack failed: name=%s, %s:%d, offset=%d, err=(%s)",
			name, topic, partition, offset, err)
	}
}

// AckMessage is the record-shaped form of Ack.
func AckMessage(name string, msg worker.Message) {
	Ack(name, msg.Topic, msg.Partition, msg.GenerationID, msg.Offset)
}
