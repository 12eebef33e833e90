package flowbuf

import "fmt"

// ConsumePolicy controls when [BoundedBuffer.Consume] reports an error stored by the producer.
type ConsumePolicy int

const (
	// PrioritizeErrors reports a stored error before any remaining items. Requires an error
	// handler.
	PrioritizeErrors ConsumePolicy = iota
	// DelayErrors reports a stored error only after all remaining items were delivered. Requires
	// an error handler.
	DelayErrors
	// IgnoreErrors treats an abort like a regular close. The stored error is dropped and no
	// error handler may be passed.
	IgnoreErrors
)

func (p ConsumePolicy) String() string {
	switch p {
	case PrioritizeErrors:
		return "prioritize_errors"
	case DelayErrors:
		return "delay_errors"
	case IgnoreErrors:
		return "ignore_errors"
	default:
		return fmt.Sprintf("ConsumePolicy(%d)", int(p))
	}
}

func (p ConsumePolicy) callsOnError() bool {
	return p != IgnoreErrors
}

func (p ConsumePolicy) check(onError func(error)) {
	switch {
	case p < PrioritizeErrors || p > IgnoreErrors:
		panic(fmt.Sprintf("unknown consume policy %d", int(p)))
	case p.callsOnError() && onError == nil:
		panic(fmt.Sprintf("%s requires an error handler", p))
	case !p.callsOnError() && onError != nil:
		panic(fmt.Sprintf("%s prohibits an error handler", p))
	}
}
