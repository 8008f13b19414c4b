package inbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/lavoo/supportdesk/internal/api"
	"github.com/lavoo/supportdesk/internal/badge"
	"github.com/lavoo/supportdesk/internal/stream"
	"github.com/lavoo/supportdesk/pkg/identity"
	"github.com/lavoo/supportdesk/pkg/idgen"
)

// SupportAPI is the REST collaborator surface the inbox consumes.
type SupportAPI interface {
	ListConversations(ctx context.Context) ([]*api.ConversationSummary, error)
	ListMessages(ctx context.Context, userId int64) ([]*api.Message, error)
	PostReply(ctx context.Context, ticketId int64, body string) (*api.Message, error)
	ResolveConversation(ctx context.Context, userId int64) error
}

// Callbacks notify the embedding view of state changes. All callbacks are
// optional and are invoked outside the inbox lock.
type Callbacks struct {
	// OnConversationsChanged fires after any mutation of the conversation
	// list.
	OnConversationsChanged func()
	// OnTimelineAppend fires after entries are appended to the open
	// timeline; the view scrolls to latest while visible.
	OnTimelineAppend func(counterpartId int64)
	// OnTimelineLoaded fires once the async snapshot load after an open
	// completes.
	OnTimelineLoaded func(counterpartId int64)
	// OnSendFailed reports a rejected reply as a non-blocking
	// notification. The optimistic entry stays, flagged failed.
	OnSendFailed func(counterpartId, provisionalId int64, err error)
	// OnStreamState reports connection establishment and loss.
	OnStreamState func(connected bool)
}

// Inbox is the single controlling view of the admin conversation system.
// It exclusively owns the conversation store and the timeline; nested
// views read them through accessors and signal intent through methods,
// never by direct mutation. One mutex serializes every frame dispatch and
// local action, so all updates caused by one inbound frame are atomic
// with respect to other frames.
type Inbox struct {
	self     identity.Admin
	api      SupportAPI
	notifier badge.Notifier
	cb       Callbacks

	mu         sync.Mutex
	store      *Store
	timeline   *Timeline
	active     int64
	closed     bool
	lastUnread int

	conn *stream.Conn
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithNotifier sets the unread badge notifier.
func WithNotifier(n badge.Notifier) Option {
	return func(ib *Inbox) {
		ib.notifier = n
	}
}

// WithCallbacks sets the view callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(ib *Inbox) {
		ib.cb = cb
	}
}

// New creates an inbox for the given admin identity. The identity is an
// explicit parameter so echo suppression never depends on ambient state.
func New(self identity.Admin, apiClient SupportAPI, opts ...Option) *Inbox {
	ib := &Inbox{
		self:       self,
		api:        apiClient,
		store:      NewStore(),
		timeline:   NewTimeline(),
		lastUnread: -1,
	}

	for _, opt := range opts {
		opt(ib)
	}

	return ib
}

// Connect opens the streaming connection and routes its frames into the
// inbox. Idempotent while the stream layer is connecting or connected.
func (ib *Inbox) Connect(url string, opts ...stream.Option) error {
	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return ErrClosed
	}
	if ib.conn == nil {
		opts = append(opts, stream.WithStateHandler(func(connected bool) {
			if ib.cb.OnStreamState != nil {
				ib.cb.OnStreamState(connected)
			}
		}))
		ib.conn = stream.NewConn(url, ib.HandleFrame, opts...)
	}
	conn := ib.conn
	ib.mu.Unlock()

	return conn.Connect()
}

// Close tears the inbox down: the stream stops dispatching, pending
// reconnects are canceled, and all later frames and actions are ignored.
func (ib *Inbox) Close() {
	ib.mu.Lock()
	ib.closed = true
	conn := ib.conn
	ib.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Load fetches the initial conversation snapshot. A failure leaves the
// list empty and is returned to the caller; it never touches the stream.
func (ib *Inbox) Load(ctx context.Context) error {
	summaries, err := ib.api.ListConversations(ctx)
	if err != nil {
		log.CtxError(ctx, "load conversations failed: %v", err)
		return err
	}

	ib.mu.Lock()
	ib.mergeSnapshotLocked(summaries)
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)
	return nil
}

// Conversations returns the current conversation list, newest activity
// first.
func (ib *Inbox) Conversations() []*Conversation {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.store.List()
}

// Conversation returns one conversation summary.
func (ib *Inbox) Conversation(counterpartId int64) (*Conversation, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.store.Get(counterpartId)
}

// ActiveConversation returns the counterpart currently open, or 0.
func (ib *Inbox) ActiveConversation() int64 {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.active
}

// Timeline returns the message log of the open conversation in arrival
// order.
func (ib *Inbox) Timeline() []*Message {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.timeline.Messages()
}

// OpenConversation selects a conversation. The unread count drops to zero
// synchronously, before any network round trip; the timeline snapshot
// loads asynchronously and never blocks the transition.
func (ib *Inbox) OpenConversation(ctx context.Context, counterpartId int64) {
	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return
	}
	ib.active = counterpartId
	ib.store.Open(counterpartId)
	ib.timeline.Reset(counterpartId, nil)
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)

	go ib.loadTimeline(ctx, counterpartId)
}

// CloseConversation dismisses the open conversation. Pushes for it keep
// updating the store but no longer reach a timeline.
func (ib *Inbox) CloseConversation() {
	ib.mu.Lock()
	ib.active = 0
	ib.timeline.Clear()
	ib.mu.Unlock()
}

func (ib *Inbox) loadTimeline(ctx context.Context, counterpartId int64) {
	msgs, err := ib.api.ListMessages(ctx, counterpartId)
	if err != nil {
		// The view shows an empty state; the failure stays in this layer.
		log.CtxError(ctx, "load messages failed: counterpart_id=%d, error=%v", counterpartId, err)
		return
	}

	entries := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, messageFromAPI(m))
	}

	ib.mu.Lock()
	if ib.closed || ib.active != counterpartId {
		// The admin moved on while the fetch was in flight.
		ib.mu.Unlock()
		return
	}
	ib.timeline.Reset(counterpartId, entries)
	ib.mu.Unlock()

	if ib.cb.OnTimelineLoaded != nil {
		ib.cb.OnTimelineLoaded(counterpartId)
	}
}

// SendReply optimistically appends an admin message to the open timeline
// and issues the REST call against the last ticket without waiting for
// it. The provisional entry keeps SendStatus pending until the response
// confirms it or flips it to failed; a failure never rolls the entry
// back.
func (ib *Inbox) SendReply(ctx context.Context, body string) (int64, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return 0, ErrEmptyMessage
	}

	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return 0, ErrClosed
	}
	counterpartId := ib.active
	if counterpartId == 0 {
		ib.mu.Unlock()
		return 0, ErrNoConversationOpen
	}
	ticketId := ib.timeline.LastTicketId()
	if ticketId == 0 {
		ib.mu.Unlock()
		return 0, ErrNoOpenTicket
	}

	now := time.Now().UnixMilli()
	msg := &Message{
		Id:         idgen.NextID(),
		SenderRole: RoleAdmin,
		SenderName: ib.self.Name,
		Body:       body,
		CreatedAt:  now,
		TicketId:   ticketId,
		SendStatus: SendPending,
	}
	ib.timeline.AppendIfNew(msg)
	ib.store.RecordLocalSend(counterpartId, Patch{LastMessage: body, LastMessageAt: now})
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)
	if ib.cb.OnTimelineAppend != nil {
		ib.cb.OnTimelineAppend(counterpartId)
	}

	go ib.deliverReply(ctx, counterpartId, ticketId, msg.Id, body)

	return msg.Id, nil
}

func (ib *Inbox) deliverReply(ctx context.Context, counterpartId, ticketId, provisionalId int64, body string) {
	stored, err := ib.api.PostReply(ctx, ticketId, body)
	if err != nil {
		log.CtxError(ctx, "send reply failed: counterpart_id=%d, ticket_id=%d, error=%v", counterpartId, ticketId, err)

		ib.mu.Lock()
		ib.timeline.MarkFailed(provisionalId)
		ib.mu.Unlock()

		if ib.cb.OnSendFailed != nil {
			ib.cb.OnSendFailed(counterpartId, provisionalId, err)
		}
		return
	}

	ib.mu.Lock()
	if ib.active == counterpartId {
		ib.timeline.Confirm(provisionalId, messageFromAPI(stored))
	}
	ib.mu.Unlock()
}

// Resolve marks the open conversation resolved locally and tells the
// backend to close its tickets. The local state change is identical to
// receiving a ticket_resolved push.
func (ib *Inbox) Resolve(ctx context.Context) error {
	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return ErrClosed
	}
	counterpartId := ib.active
	if counterpartId == 0 {
		ib.mu.Unlock()
		return ErrNoConversationOpen
	}
	ib.store.Resolve(counterpartId)
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)

	go func() {
		if err := ib.api.ResolveConversation(ctx, counterpartId); err != nil {
			log.CtxError(ctx, "resolve conversation failed: counterpart_id=%d, error=%v", counterpartId, err)
		}
	}()

	return nil
}

// HandleFrame dispatches one inbound push frame. It runs synchronously on
// the stream read loop, so the store and timeline updates for a frame
// complete before the next frame is seen. Unrecognized frame types are
// ignored.
func (ib *Inbox) HandleFrame(frame *stream.Frame) {
	ctx := context.Background()

	switch frame.Type {
	case stream.TypeNewMessage:
		ib.handleNewMessage(ctx, frame)
	case stream.TypeAdminMessageSent:
		ib.handleAdminMessageSent(ctx, frame)
	case stream.TypeTicketResolved:
		ib.handleTicketResolved(ctx, frame)
	default:
		log.CtxDebug(ctx, "ignoring unknown frame type: %s", frame.Type)
	}
}

func (ib *Inbox) handleNewMessage(ctx context.Context, frame *stream.Frame) {
	var p NewMessagePayload
	if err := decodeBody(frame.Payload, &p); err != nil {
		log.CtxWarn(ctx, "bad new_message payload: %v", err)
		return
	}

	role := p.SenderRole
	if role == "" {
		role = RoleUser
	}

	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return
	}
	isViewing := ib.active == p.UserId
	appended := false
	if isViewing {
		appended = ib.timeline.AppendIfNew(&Message{
			Id:         p.Id,
			SenderRole: role,
			SenderName: p.SenderName,
			Body:       p.Content,
			CreatedAt:  p.CreatedAt,
			TicketId:   p.TicketId,
			SendStatus: SendConfirmed,
		})
	}
	known := ib.store.UpsertFromPush(p.UserId, Patch{LastMessage: p.Content, LastMessageAt: p.CreatedAt}, isViewing)
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)
	if appended && ib.cb.OnTimelineAppend != nil {
		ib.cb.OnTimelineAppend(p.UserId)
	}
	if !known {
		go ib.refetchConversations(ctx)
	}
}

func (ib *Inbox) handleAdminMessageSent(ctx context.Context, frame *stream.Frame) {
	var m AdminMessageBody
	if err := decodeBody(frame.Message, &m); err != nil {
		log.CtxWarn(ctx, "bad admin_message_sent body: %v", err)
		return
	}

	ownEcho := frame.SenderId == ib.self.Id

	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return
	}

	isViewing := ib.active == m.UserId
	appended := false
	if isViewing {
		stored := &Message{
			Id:         m.Id,
			SenderRole: m.SenderRole,
			SenderName: m.SenderName,
			Body:       m.Message,
			CreatedAt:  m.CreatedAt,
			TicketId:   m.TicketId,
			SendStatus: SendConfirmed,
		}
		if ownEcho {
			// The optimistic insert already holds this message; match it
			// up instead of adding a second bubble. Dedup by id covers
			// the case where the REST response confirmed it first.
			if !ib.timeline.HasMessage(m.Id) && !ib.timeline.ConfirmMatching(stored) {
				// Echo from this admin's other tab: nothing local to
				// reconcile against.
				appended = ib.timeline.AppendIfNew(stored)
			}
		} else {
			appended = ib.timeline.AppendIfNew(stored)
		}
	}

	known := true
	if !ownEcho {
		// The local send already re-spliced the entry for our own echo.
		known = ib.store.ApplyAdminEcho(m.UserId, Patch{LastMessage: m.Message, LastMessageAt: m.CreatedAt})
	}
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)
	if appended && ib.cb.OnTimelineAppend != nil {
		ib.cb.OnTimelineAppend(m.UserId)
	}
	if !known {
		go ib.refetchConversations(ctx)
	}
}

func (ib *Inbox) handleTicketResolved(ctx context.Context, frame *stream.Frame) {
	var p TicketResolvedPayload
	if err := decodeBody(frame.Payload, &p); err != nil {
		log.CtxWarn(ctx, "bad ticket_resolved payload: %v", err)
		return
	}

	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return
	}
	ib.store.Resolve(p.UserId)
	appended := false
	if ib.active == p.UserId && p.Message.Id != 0 {
		// Resolution markers render as delimiters, not chat bubbles.
		appended = ib.timeline.AppendIfNew(&Message{
			Id:         p.Message.Id,
			SenderRole: RoleSystem,
			Body:       p.Message.Message,
			CreatedAt:  p.Message.CreatedAt,
			TicketId:   p.Message.TicketId,
			SendStatus: SendConfirmed,
		})
	}
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)
	if appended && ib.cb.OnTimelineAppend != nil {
		ib.cb.OnTimelineAppend(p.UserId)
	}
}

// refetchConversations replaces partial knowledge about an unseen
// counterpart with a full snapshot merge.
func (ib *Inbox) refetchConversations(ctx context.Context) {
	summaries, err := ib.api.ListConversations(ctx)
	if err != nil {
		log.CtxError(ctx, "refetch conversations failed: %v", err)
		return
	}

	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return
	}
	ib.mergeSnapshotLocked(summaries)
	count, changed := ib.unreadNotifyLocked()
	ib.mu.Unlock()

	ib.conversationsChanged(ctx, count, changed)
}

func (ib *Inbox) mergeSnapshotLocked(summaries []*api.ConversationSummary) {
	items := make([]*Conversation, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, conversationFromSummary(s))
	}
	ib.store.MergeSnapshot(items)

	// The open conversation stays read regardless of what the snapshot
	// claims.
	if ib.active != 0 {
		ib.store.Open(ib.active)
	}
}

// unreadNotifyLocked decides whether the aggregate unread count changed
// in this mutation batch. At most one badge publish happens per change.
func (ib *Inbox) unreadNotifyLocked() (int, bool) {
	count := ib.store.UnreadConversations()
	if count == ib.lastUnread {
		return 0, false
	}
	ib.lastUnread = count
	return count, true
}

// conversationsChanged fans a mutation out to the view and, when the
// aggregate unread count moved, to the badge notifier. Runs outside the
// lock.
func (ib *Inbox) conversationsChanged(ctx context.Context, count int, changed bool) {
	if ib.cb.OnConversationsChanged != nil {
		ib.cb.OnConversationsChanged()
	}
	if changed && ib.notifier != nil {
		ib.notifier.Publish(ctx, count)
	}
}
