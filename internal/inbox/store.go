package inbox

import "sort"

// Store is the authoritative ordered set of conversation summaries, keyed
// by counterpart id and sorted by last activity, newest first. Any
// mutation that touches LastMessageAt re-splices the entry to the head
// instead of re-sorting the whole list.
//
// Store is not safe for concurrent use; the owning Inbox serializes all
// access, mirroring the single event loop the view runs on.
type Store struct {
	order []*Conversation
	byId  map[int64]*Conversation
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byId: make(map[int64]*Conversation),
	}
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	return len(s.order)
}

// Get returns the conversation for a counterpart.
func (s *Store) Get(counterpartId int64) (*Conversation, bool) {
	c, ok := s.byId[counterpartId]
	return c, ok
}

// List returns the conversations in display order, newest activity first.
// The returned slice is a copy; entries are shared.
func (s *Store) List() []*Conversation {
	out := make([]*Conversation, len(s.order))
	copy(out, s.order)
	return out
}

// MergeSnapshot merges a REST snapshot into the store. Entries are matched
// by counterpart id and replaced in place, never appended twice; the full
// list is then ordered by last activity. Entries missing from the snapshot
// are kept: conversations are never deleted client-side.
func (s *Store) MergeSnapshot(items []*Conversation) {
	for _, item := range items {
		existing, ok := s.byId[item.CounterpartId]
		if !ok {
			c := *item
			s.byId[c.CounterpartId] = &c
			s.order = append(s.order, &c)
			continue
		}
		*existing = *item
	}

	sort.SliceStable(s.order, func(i, j int) bool {
		return s.order[i].LastMessageAt > s.order[j].LastMessageAt
	})
}

// UpsertFromPush applies a counterpart message push. While the admin is
// viewing the conversation the unread count is pinned to zero; otherwise
// it is incremented by one per push so concurrent pushes accumulate. The
// entry moves to the head either way.
//
// Returns false when the counterpart is unknown: the caller must refetch
// the full snapshot instead of fabricating a partial entry.
func (s *Store) UpsertFromPush(counterpartId int64, patch Patch, isViewing bool) bool {
	c, ok := s.byId[counterpartId]
	if !ok {
		return false
	}

	s.applyPatch(c, patch)
	if isViewing {
		c.UnreadCount = 0
		c.Status = StatusCaughtUp
	} else {
		c.UnreadCount++
		c.Status = StatusActive
	}
	s.moveToHead(c)
	return true
}

// ApplyAdminEcho applies another admin session's reply: last activity and
// ordering change but the unread count is untouched, since the event is
// outbound activity rather than something left to read.
func (s *Store) ApplyAdminEcho(counterpartId int64, patch Patch) bool {
	c, ok := s.byId[counterpartId]
	if !ok {
		return false
	}

	s.applyPatch(c, patch)
	s.moveToHead(c)
	return true
}

// Open marks a conversation as currently viewed: the unread count is
// zeroed immediately, before any read-receipt round trip. Opening is not
// new activity, so the entry keeps its position.
func (s *Store) Open(counterpartId int64) {
	c, ok := s.byId[counterpartId]
	if !ok {
		return
	}

	c.UnreadCount = 0
	if c.Status == StatusActive {
		c.Status = StatusCaughtUp
	}
}

// Resolve marks a conversation resolved and clears its unread count. The
// effect is identical whether the resolve was local or a push about
// another admin's action.
func (s *Store) Resolve(counterpartId int64) {
	c, ok := s.byId[counterpartId]
	if !ok {
		return
	}

	c.Status = StatusResolved
	c.UnreadCount = 0
}

// RecordLocalSend reflects an optimistic outgoing reply before its REST
// round trip resolves: preview and ordering update immediately and the
// unread count is pinned to zero.
func (s *Store) RecordLocalSend(counterpartId int64, patch Patch) {
	c, ok := s.byId[counterpartId]
	if !ok {
		return
	}

	s.applyPatch(c, patch)
	c.UnreadCount = 0
	c.Status = StatusCaughtUp
	s.moveToHead(c)
}

// UnreadConversations returns the number of conversations with unread
// activity. The inbox publishes this to the sidebar badge when it changes.
func (s *Store) UnreadConversations() int {
	count := 0
	for _, c := range s.order {
		if c.UnreadCount > 0 {
			count++
		}
	}
	return count
}

func (s *Store) applyPatch(c *Conversation, patch Patch) {
	if patch.LastMessage != "" {
		c.LastMessage = patch.LastMessage
	}
	if patch.LastMessageAt != 0 {
		c.LastMessageAt = patch.LastMessageAt
	}
}

// moveToHead splices the entry to the front of the order.
func (s *Store) moveToHead(c *Conversation) {
	idx := -1
	for i, e := range s.order {
		if e == c {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}

	copy(s.order[1:idx+1], s.order[:idx])
	s.order[0] = c
}
