package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(typ string, payload any) (Envelope, error) {
	if typ == "" {
		return Envelope{}, errors.New("empty envelope type")
	}
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal envelope payload")
	}
	return Envelope{Type: typ, Payload: b}, nil
}

// Publish wraps payload in an Envelope and puts it on topic. A nil
// publisher drops the event; every emit site stays unconditional.
func Publish(pub message.Publisher, topic, typ string, payload any) error {
	if pub == nil {
		return nil
	}
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	if err := pub.Publish(topic, message.NewMessage(watermill.NewUUID(), b)); err != nil {
		return errors.Wrapf(err, "publish %s", typ)
	}
	return nil
}

// DecodePayload unmarshals a raw message into an Envelope and its typed
// payload.
func DecodePayload[T any](msg *message.Message) (string, T, error) {
	var out T
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return "", out, errors.Wrap(err, "unmarshal envelope")
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &out); err != nil {
			return env.Type, out, errors.Wrapf(err, "unmarshal %s payload", env.Type)
		}
	}
	return env.Type, out, nil
}
