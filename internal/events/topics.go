package events

// Topic constants for domain events emitted by the checkout flow.
const (
	TopicOrderCreated    = "order.created"
	TopicOrderPaid       = "order.paid"
	TopicPaymentVerified = "payment.verified"
	TopicPaymentCaptured = "payment.captured"
	TopicPaymentFailed   = "payment.failed"
	taskTypePrefix       = "event:"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicPaymentVerified,
		TopicPaymentCaptured,
		TopicPaymentFailed,
	}
}

// TaskType returns the asynq task type used to carry events of a topic.
func TaskType(topic string) string {
	return taskTypePrefix + topic
}

// TaskPrefix matches every event task type on an asynq.ServeMux.
func TaskPrefix() string {
	return taskTypePrefix
}
