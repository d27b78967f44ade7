package enums

// OutboxEventType names the billing events published to notification consumers.
type OutboxEventType string

const (
	OutboxEventPaymentSucceeded     OutboxEventType = "payment.succeeded"
	OutboxEventPaymentFailed        OutboxEventType = "payment.failed"
	OutboxEventSubscriptionCreated  OutboxEventType = "subscription.created"
	OutboxEventSubscriptionRenewed  OutboxEventType = "subscription.renewed"
	OutboxEventSubscriptionCanceled OutboxEventType = "subscription.canceled"
	OutboxEventSubscriptionExpired  OutboxEventType = "subscription.expired"
	OutboxEventRefundCompleted      OutboxEventType = "refund.completed"
	OutboxEventRefundFailed         OutboxEventType = "refund.failed"
	OutboxEventInvoiceIssued        OutboxEventType = "invoice.issued"
)

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	OutboxAggregatePayment       OutboxAggregateType = "payment"
	OutboxAggregateSubscription  OutboxAggregateType = "subscription"
	OutboxAggregateRefundRequest OutboxAggregateType = "refund_request"
	OutboxAggregateInvoice       OutboxAggregateType = "invoice"
)
