package relay

// EventKind enumerates the wakeups the worker multiplexes over (spec.md
// §4.J). Events from the same source are conflated by the channel: several
// OutboundReady sends may collapse into one wakeup, which is safe because
// the worker always drains its queue to emptiness before blocking again.
type EventKind int

const (
	EventOutboundReady EventKind = iota
	EventReceivedReady
	EventRetryReady
	EventConfirmationReady
	EventNetworkAvailable
	EventCleanupDue
)

func (k EventKind) String() string {
	switch k {
	case EventOutboundReady:
		return "OutboundReady"
	case EventReceivedReady:
		return "ReceivedReady"
	case EventRetryReady:
		return "RetryReady"
	case EventConfirmationReady:
		return "ConfirmationReady"
	case EventNetworkAvailable:
		return "NetworkAvailable"
	case EventCleanupDue:
		return "CleanupDue"
	default:
		return "Unknown"
	}
}

// eventChannelDepth is sized so a burst of pushes across all event kinds
// never blocks the producer; the worker conflates duplicates by kind on its
// own, so a handful of slots per kind is ample headroom.
const eventChannelDepth = 32

// notify sends kind on ch without blocking if the channel is full — a full
// channel means an equivalent wakeup is already pending, which is exactly
// the conflation behavior spec.md §4.J calls for.
func notify(ch chan<- EventKind, kind EventKind) {
	select {
	case ch <- kind:
	default:
	}
}
