package kafka

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers публикуемых событий.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAggregateType = "x-aggregate-type"
	// HeaderReplayed ставится на события, повторно отправленные из DLQ.
	HeaderReplayed = "x-replayed"
)
