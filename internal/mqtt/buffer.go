package mqtt

// outboxMsg is a serialized publish held for replay after reconnection.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO of publishes made while disconnected.
// When full the oldest message is dropped. Not safe for concurrent use.
type outbox struct {
	buf     []outboxMsg
	head    int // next write position
	count   int
	dropped int // messages dropped since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{buf: make([]outboxMsg, capacity)}
}

// push appends msg and reports whether an older message was dropped to make room.
func (o *outbox) push(msg outboxMsg) bool {
	full := o.count == len(o.buf)
	o.buf[o.head] = msg
	o.head = (o.head + 1) % len(o.buf)
	if full {
		o.dropped++
		return true
	}
	o.count++
	return false
}

// drain removes and returns every held message, oldest first, and the
// number dropped since the previous drain.
func (o *outbox) drain() ([]outboxMsg, int) {
	dropped := o.dropped
	o.dropped = 0
	if o.count == 0 {
		return nil, dropped
	}

	out := make([]outboxMsg, o.count)
	start := (o.head - o.count + len(o.buf)) % len(o.buf)
	for i := range out {
		out[i] = o.buf[(start+i)%len(o.buf)]
	}
	o.count = 0
	o.head = 0
	return out, dropped
}

func (o *outbox) len() int {
	return o.count
}
