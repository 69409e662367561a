package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// LogPublisher is a message.Publisher that writes every envelope to the
// structured log. Foreground runs use it instead of a full bus.
type LogPublisher struct{}

func (LogPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, m := range msgs {
		var env Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("unparseable event")
			continue
		}
		ev := log.Debug().Str("topic", topic).Str("type", env.Type)
		if len(env.Payload) > 0 {
			ev = ev.RawJSON("payload", env.Payload)
		}
		ev.Msg("event")
	}
	return nil
}

func (LogPublisher) Close() error { return nil }
