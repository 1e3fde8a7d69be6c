package ipc

import (
	"sync"
	"time"

	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/pkg/axon/message"
)

// BufferedEvent is one entry of the receive buffer: a decoded inbound
// envelope tagged with its assigned sequence number and arrival time
// (spec §3, §4.5.4).
type BufferedEvent struct {
	Seq          uint64
	BufferedAtMs int64
	Envelope     *message.Envelope
}

// ReceiveBuffer is the IPC-side inbound store: a bounded tail of
// sequenced events plus per-consumer ack/delivery cursors.
type ReceiveBuffer struct {
	mu       sync.Mutex
	cap      int
	nextSeq  uint64
	entries  []BufferedEvent // oldest first
	cursors  map[string]*consumerCursor
	now      func() time.Time
}

type consumerCursor struct {
	ackedSeq     uint64
	deliveredSeq uint64
}

// NewReceiveBuffer builds an empty buffer retaining at most capacity entries.
func NewReceiveBuffer(capacity int) *ReceiveBuffer {
	return &ReceiveBuffer{
		cap:     capacity,
		cursors: make(map[string]*consumerCursor),
		now:     time.Now,
	}
}

// Publish implements daemon.Publisher: it assigns the next seq and
// appends the envelope, dropping the oldest entry on overflow.
func (b *ReceiveBuffer) Publish(env *message.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	entry := BufferedEvent{Seq: b.nextSeq, BufferedAtMs: b.now().UnixMilli(), Envelope: env}
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
	metrics.IPCBufferSize.Set(float64(len(b.entries)))
}

func (b *ReceiveBuffer) highestSeqLocked() uint64 {
	if len(b.entries) == 0 {
		return b.nextSeq
	}
	return b.entries[len(b.entries)-1].Seq
}

// HighestSeq returns the current highest assigned seq.
func (b *ReceiveBuffer) HighestSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.highestSeqLocked()
}

func matchesKind(env *message.Envelope, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if string(env.Kind) == k {
			return true
		}
	}
	return false
}

func (b *ReceiveBuffer) cursorLocked(consumer string) *consumerCursor {
	c, ok := b.cursors[consumer]
	if !ok {
		c = &consumerCursor{}
		b.cursors[consumer] = c
	}
	return c
}

// ReplayTo returns every entry with seq <= upToSeq matching kinds, for
// the subscribe(replay=true) path. It advances the consumer's
// delivered_seq to upToSeq (or the highest matching seq if lower).
func (b *ReceiveBuffer) ReplayTo(consumer string, upToSeq uint64, kinds []string) []BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	cursor := b.cursorLocked(consumer)
	var out []BufferedEvent
	for _, e := range b.entries {
		if e.Seq > upToSeq {
			break
		}
		if !matchesKind(e.Envelope, kinds) {
			continue
		}
		out = append(out, e)
		if e.Seq > cursor.deliveredSeq {
			cursor.deliveredSeq = e.Seq
		}
	}
	return out
}

// Inbox returns up to limit entries with seq > max(acked_seq,
// delivered_seq) matching kinds in seq order, the highest seq returned
// (next_seq), and whether more entries remain. It advances delivered_seq.
func (b *ReceiveBuffer) Inbox(consumer string, limit int, kinds []string) (events []BufferedEvent, nextSeq uint64, hasMore bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cursor := b.cursorLocked(consumer)
	floor := cursor.ackedSeq
	if cursor.deliveredSeq > floor {
		floor = cursor.deliveredSeq
	}

	for _, e := range b.entries {
		if e.Seq <= floor {
			continue
		}
		if !matchesKind(e.Envelope, kinds) {
			continue
		}
		if len(events) >= limit {
			hasMore = true
			break
		}
		events = append(events, e)
		nextSeq = e.Seq
	}
	if len(events) > 0 {
		cursor.deliveredSeq = nextSeq
	}
	return events, nextSeq, hasMore
}

// Ack advances consumer's acked_seq to upToSeq if it falls within the
// buffer's currently retained range; otherwise reports out-of-range.
func (b *ReceiveBuffer) Ack(consumer string, upToSeq uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if upToSeq > b.highestSeqLocked() {
		return false
	}
	if len(b.entries) > 0 && upToSeq < b.entries[0].Seq {
		return false
	}
	cursor := b.cursorLocked(consumer)
	if upToSeq > cursor.ackedSeq {
		cursor.ackedSeq = upToSeq
	}
	return true
}

// DeliveredSeq returns the consumer's current delivered_seq, the
// watermark a live subscription starts above.
func (b *ReceiveBuffer) DeliveredSeq(consumer string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursorLocked(consumer).deliveredSeq
}

// AdvanceDelivered records that seq was pushed live to consumer.
func (b *ReceiveBuffer) AdvanceDelivered(consumer string, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cursor := b.cursorLocked(consumer)
	if seq > cursor.deliveredSeq {
		cursor.deliveredSeq = seq
	}
}
