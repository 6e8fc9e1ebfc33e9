package types

// QueueBatch is a run of consecutive deliveries fetched from a participant's
// queue. Sequence numbers are assigned by the relay when a delivery is
// queued and never reused within that queue.
type QueueBatch struct {
	First  uint64 // sequence number of Bodies[0]
	Bodies [][]byte
}

// Len returns the number of deliveries in the batch.
func (b QueueBatch) Len() int { return len(b.Bodies) }

// Seq returns the sequence number of Bodies[i].
func (b QueueBatch) Seq(i int) uint64 { return b.First + uint64(i) }

// Through returns the sequence number to acknowledge once the first n
// deliveries were handled, or 0 when n is zero.
func (b QueueBatch) Through(n int) uint64 {
	if n <= 0 || len(b.Bodies) == 0 {
		return 0
	}
	if n > len(b.Bodies) {
		n = len(b.Bodies)
	}
	return b.Seq(n - 1)
}
