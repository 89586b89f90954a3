package repository

// TopicCharged carries a model.ChargeEvent for every successful deduction.
const TopicCharged = "credits.charged"

type MessageBus interface {
	Publish(topic string, data []byte) error
}

// NopBus drops every message. Used when no bus provider is configured.
type NopBus struct{}

func (NopBus) Publish(string, []byte) error { return nil }
