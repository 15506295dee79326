package pipeline

// Queue is a singly linked FIFO of descriptors, intrusive on Descriptor's
// own next pointer so moving a packet between queues never allocates.
type Queue struct {
	head, tail *Descriptor
	count      int
}

// PushBack appends d to the queue.
func (q *Queue) PushBack(d *Descriptor) {
	d.next = nil
	if q.tail == nil {
		q.head, q.tail = d, d
	} else {
		q.tail.next = d
		q.tail = d
	}
	q.count++
}

// PopFront removes and returns the head descriptor, or nil if empty.
func (q *Queue) PopFront() *Descriptor {
	d := q.head
	if d == nil {
		return nil
	}
	q.head = d.next
	if q.head == nil {
		q.tail = nil
	}
	d.next = nil
	q.count--
	return d
}

// Len reports the number of descriptors currently queued.
func (q *Queue) Len() int { return q.count }

// Each calls fn for every descriptor currently queued, in FIFO order,
// without removing them.
func (q *Queue) Each(fn func(*Descriptor)) {
	for d := q.head; d != nil; d = d.next {
		fn(d)
	}
}

// drainInto moves every descriptor from q into dst, leaving q empty.
func (q *Queue) drainInto(dst *Queue) {
	for d := q.PopFront(); d != nil; d = q.PopFront() {
		dst.PushBack(d)
	}
}

// Reset empties the queue without touching its descriptors.
func (q *Queue) Reset() {
	q.head, q.tail, q.count = nil, nil, 0
}
