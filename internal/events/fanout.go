package events

import (
	"context"

	"codelab.org/internal/enrollment"
	"codelab.org/internal/obs"
)

// Fanout turns settlement results into events. Either sink may be nil.
type Fanout struct {
	stream *Stream
	kafka  *KafkaPublisher
}

var _ enrollment.Observer = (*Fanout)(nil)

func NewFanout(stream *Stream, kafka *KafkaPublisher) *Fanout {
	return &Fanout{stream: stream, kafka: kafka}
}

func (f *Fanout) Settled(ctx context.Context, res enrollment.SettlementResult) {
	evt, ok := FromResult(res)
	if !ok {
		return
	}
	if f.stream != nil {
		f.stream.Publish(evt.Public())
	}
	if f.kafka != nil {
		if err := f.kafka.Publish(evt); err != nil {
			obs.Warn("enrollment_event_dropped", map[string]any{
				"settlement_id": evt.SettlementID,
				"error":         err.Error(),
			})
		}
	}
}
