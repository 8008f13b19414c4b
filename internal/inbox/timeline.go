package inbox

// Timeline is the ordered message log of the currently open conversation.
// Messages are kept in arrival order, which the stream delivers serially,
// rather than re-sorted by created_at; clock skew must never reorder a
// log the admin is reading. Every insert is deduplicated by id because the
// optimistic local insert and the server echo can describe the same
// logical message.
//
// Timeline is not safe for concurrent use; the owning Inbox serializes
// all access.
type Timeline struct {
	counterpartId int64
	msgs          []*Message
	seen          map[int64]struct{}
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		seen: make(map[int64]struct{}),
	}
}

// CounterpartId returns the counterpart the timeline belongs to, or 0
// when no conversation is open.
func (t *Timeline) CounterpartId() int64 {
	return t.counterpartId
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.msgs)
}

// Messages returns the entries in order. The returned slice is a copy;
// entries are shared.
func (t *Timeline) Messages() []*Message {
	out := make([]*Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Reset replaces the timeline with a freshly fetched snapshot. Called on
// every conversation open; nothing is cached across opens.
func (t *Timeline) Reset(counterpartId int64, msgs []*Message) {
	t.counterpartId = counterpartId
	t.msgs = t.msgs[:0]
	t.seen = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		t.AppendIfNew(m)
	}
}

// Clear empties the timeline when the conversation closes.
func (t *Timeline) Clear() {
	t.counterpartId = 0
	t.msgs = nil
	t.seen = make(map[int64]struct{})
}

// AppendIfNew appends the message unless an entry with the same id already
// exists. Used for push-delivered and echo-delivered messages alike.
func (t *Timeline) AppendIfNew(m *Message) bool {
	if _, ok := t.seen[m.Id]; ok {
		return false
	}
	t.seen[m.Id] = struct{}{}
	t.msgs = append(t.msgs, m)
	return true
}

// Confirm matches a pending provisional entry against the server-stored
// message, remaps its id to the server-assigned one and marks it
// confirmed, so a later echo with that id deduplicates instead of adding
// a second bubble. Returns false when the provisional entry is gone, for
// example after the timeline was reset by a re-open.
func (t *Timeline) Confirm(provisionalId int64, stored *Message) bool {
	m, ok := t.find(provisionalId)
	if !ok {
		return false
	}

	delete(t.seen, provisionalId)
	m.Id = stored.Id
	m.CreatedAt = stored.CreatedAt
	m.TicketId = stored.TicketId
	m.SendStatus = SendConfirmed
	t.seen[m.Id] = struct{}{}
	return true
}

// ConfirmMatching confirms the oldest pending admin entry carrying the
// same body and ticket as the echoed message. Covers the echo racing
// ahead of the REST response, where no provisional id is known yet.
func (t *Timeline) ConfirmMatching(stored *Message) bool {
	for _, m := range t.msgs {
		if m.SendStatus == SendPending && m.SenderRole == RoleAdmin &&
			m.Body == stored.Body && m.TicketId == stored.TicketId {
			return t.Confirm(m.Id, stored)
		}
	}
	return false
}

// MarkFailed flags a provisional entry whose REST call was rejected. The
// entry stays visible; responsiveness is preferred over rollback.
func (t *Timeline) MarkFailed(provisionalId int64) bool {
	m, ok := t.find(provisionalId)
	if !ok {
		return false
	}
	m.SendStatus = SendFailed
	return true
}

// HasMessage reports whether an entry with the id exists.
func (t *Timeline) HasMessage(id int64) bool {
	_, ok := t.seen[id]
	return ok
}

// LastTicketId returns the ticket id of the most recent non-system entry,
// which is the ticket a reply must target. Returns 0 when the timeline
// holds no chat messages.
func (t *Timeline) LastTicketId() int64 {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if !t.msgs[i].IsSystem() {
			return t.msgs[i].TicketId
		}
	}
	return 0
}

func (t *Timeline) find(id int64) (*Message, bool) {
	if _, ok := t.seen[id]; !ok {
		return nil, false
	}
	for _, m := range t.msgs {
		if m.Id == id {
			return m, true
		}
	}
	return nil, false
}
