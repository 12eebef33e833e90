package flowbuf

// Producer receives notifications from the consumer side of a [BoundedBuffer].
//
// The buffer never calls a hook while holding its lock, so implementations may call back into
// the buffer.
type Producer interface {
	// OnConsumerReady is called once both sides are attached.
	OnConsumerReady()
	// OnConsumerDemand grants the producer n more items of credit.
	OnConsumerDemand(n int)
	// OnConsumerCancel is called when the consumer gave up on the flow.
	OnConsumerCancel()
}

// Consumer receives notifications from the producer side of a [BoundedBuffer].
type Consumer interface {
	// OnProducerReady is called once both sides are attached.
	OnProducerReady()
	// OnProducerWakeup is called when the buffer becomes non-empty or gets closed while empty.
	OnProducerWakeup()
}
