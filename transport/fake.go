package transport

import (
	"fmt"
	"time"
)

// Fake is a scripted in-memory Transport double: callers queue the replies
// the device would have sent, and record what was written to the
// bulk-OUT endpoint. It substitutes for real hardware in every test that
// exercises session, transfer, or orchestrator logic.
type Fake struct {
	// Replies is drained in order by ReceiveBulk.
	Replies [][]byte
	// Sent records every SendBulk payload, in call order, including
	// zero-length framing transfers.
	Sent [][]byte
	// FailSendAt, if non-negative, makes the Nth SendBulk call (0-indexed)
	// fail with FailErr instead of succeeding.
	FailSendAt int
	// FailReceiveAt, if non-negative, makes the Nth ReceiveBulk call fail.
	FailReceiveAt int
	FailErr       error

	sendCalls    int
	receiveCalls int
	closed       bool
}

// NewFake returns a Fake with no scripted failures.
func NewFake(replies ...[]byte) *Fake {
	return &Fake{
		Replies:       replies,
		FailSendAt:    -1,
		FailReceiveAt: -1,
	}
}

func (f *Fake) SendBulk(data []byte, _ time.Duration) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.Sent = append(f.Sent, cp)
	call := f.sendCalls
	f.sendCalls++
	if f.FailSendAt == call {
		if f.FailErr != nil {
			return f.FailErr
		}
		return &TransportError{Kind: KindIO, Context: "fake send failure"}
	}
	return nil
}

func (f *Fake) ReceiveBulk(capacity int, _ time.Duration) ([]byte, error) {
	call := f.receiveCalls
	f.receiveCalls++
	if f.FailReceiveAt == call {
		if f.FailErr != nil {
			return nil, f.FailErr
		}
		return nil, &TransportError{Kind: KindIO, Context: "fake receive failure"}
	}
	if call >= len(f.Replies) {
		return nil, fmt.Errorf("transport: fake has no scripted reply for receive #%d", call)
	}
	reply := f.Replies[call]
	if len(reply) > capacity {
		reply = reply[:capacity]
	}
	return reply, nil
}

func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed }
