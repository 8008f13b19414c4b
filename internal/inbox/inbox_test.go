package inbox

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavoo/supportdesk/internal/api"
	"github.com/lavoo/supportdesk/internal/stream"
	"github.com/lavoo/supportdesk/pkg/identity"
)

var testAdmin = identity.Admin{Id: 77, Name: "Agent Smith"}

// fakeAPI is an in-memory stand-in for the REST collaborator.
type fakeAPI struct {
	mu            sync.Mutex
	conversations []*api.ConversationSummary
	messages      map[int64][]*api.Message
	replyResp     *api.Message
	replyErr      error
	replyGate     chan struct{}
	listCalls     int
	resolved      []int64
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]*api.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]*api.ConversationSummary, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, userId int64) ([]*api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[userId], nil
}

func (f *fakeAPI) PostReply(ctx context.Context, ticketId int64, body string) (*api.Message, error) {
	if f.replyGate != nil {
		<-f.replyGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	return f.replyResp, nil
}

func (f *fakeAPI) ResolveConversation(ctx context.Context, userId int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, userId)
	return nil
}

func (f *fakeAPI) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// countingNotifier records every published unread count.
type countingNotifier struct {
	mu     sync.Mutex
	counts []int
}

func (n *countingNotifier) Publish(ctx context.Context, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counts = append(n.counts, count)
}

func (n *countingNotifier) All() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]int, len(n.counts))
	copy(out, n.counts)
	return out
}

func rawBody(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newMessageFrame(t *testing.T, p NewMessagePayload) *stream.Frame {
	return &stream.Frame{Type: stream.TypeNewMessage, Payload: rawBody(t, p)}
}

func supportFixture() *fakeAPI {
	return &fakeAPI{
		conversations: []*api.ConversationSummary{
			{UserId: 42, UserName: "Jamie", UserEmail: "jamie@example.com", UnreadCount: 3, LastMessage: "still broken", LastMessageAt: 3000, Status: "active"},
			{UserId: 9, UserName: "Sam", UserEmail: "sam@example.com", LastMessage: "thanks", LastMessageAt: 2000, Status: "caught_up"},
		},
		messages: map[int64][]*api.Message{
			42: {
				{Id: 501, UserId: 42, SenderRole: "user", Message: "it broke", CreatedAt: 1000, TicketId: 7},
				{Id: 502, UserId: 42, SenderRole: "admin", SenderName: "Agent Smith", Message: "looking into it", CreatedAt: 2000, TicketId: 7},
				{Id: 503, UserId: 42, SenderRole: "user", Message: "still broken", CreatedAt: 3000, TicketId: 7},
			},
		},
	}
}

func loadedInbox(t *testing.T, f *fakeAPI, opts ...Option) *Inbox {
	t.Helper()
	ib := New(testAdmin, f, opts...)
	require.NoError(t, ib.Load(context.Background()))
	return ib
}

func openAndWait(t *testing.T, ib *Inbox, f *fakeAPI, counterpartId int64) {
	t.Helper()
	ib.OpenConversation(context.Background(), counterpartId)
	want := len(f.messages[counterpartId])
	require.Eventually(t, func() bool {
		return len(ib.Timeline()) == want
	}, time.Second, 5*time.Millisecond, "timeline snapshot load")
}

func TestInbox_OpenZeroesUnreadSynchronously(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)

	// Before any network response the unread count is already zero.
	ib.OpenConversation(context.Background(), 42)
	c, ok := ib.Conversation(42)
	require.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, int64(42), ib.ActiveConversation())
}

func TestInbox_SendReply_EndToEnd(t *testing.T) {
	f := supportFixture()
	f.replyGate = make(chan struct{})
	f.replyResp = &api.Message{Id: 555, UserId: 42, SenderRole: "admin", SenderName: "Agent Smith", Message: "Thanks", CreatedAt: 4000, TicketId: 7}

	ib := loadedInbox(t, f)
	openAndWait(t, ib, f, 42)

	provisionalId, err := ib.SendReply(context.Background(), "Thanks")
	require.NoError(t, err)
	require.Negative(t, provisionalId)

	// Optimistic state, before the REST round trip resolves.
	msgs := ib.Timeline()
	require.Len(t, msgs, 4)
	last := msgs[3]
	assert.Equal(t, RoleAdmin, last.SenderRole)
	assert.Equal(t, "Thanks", last.Body)
	assert.Equal(t, SendPending, last.SendStatus)
	assert.Equal(t, int64(7), last.TicketId)

	list := ib.Conversations()
	assert.Equal(t, int64(42), list[0].CounterpartId)
	assert.Equal(t, "Thanks", list[0].LastMessage)

	// Release the REST call; the provisional entry gets the server id.
	close(f.replyGate)
	require.Eventually(t, func() bool {
		msgs := ib.Timeline()
		return msgs[3].Id == 555 && msgs[3].SendStatus == SendConfirmed
	}, time.Second, 5*time.Millisecond)

	// The echo frame for the same message must not add a second bubble.
	ib.HandleFrame(&stream.Frame{
		Type:     stream.TypeAdminMessageSent,
		SenderId: testAdmin.Id,
		Message: rawBody(t, AdminMessageBody{
			Id: 555, UserId: 42, SenderRole: "admin", SenderName: "Agent Smith",
			Message: "Thanks", CreatedAt: 4000, TicketId: 7,
		}),
	})
	assert.Len(t, ib.Timeline(), 4)
}

func TestInbox_EchoBeforeRestResponse(t *testing.T) {
	f := supportFixture()
	f.replyGate = make(chan struct{})
	f.replyResp = &api.Message{Id: 555, UserId: 42, SenderRole: "admin", Message: "Thanks", CreatedAt: 4000, TicketId: 7}

	ib := loadedInbox(t, f)
	openAndWait(t, ib, f, 42)

	_, err := ib.SendReply(context.Background(), "Thanks")
	require.NoError(t, err)

	// The push echo races ahead of the REST response.
	ib.HandleFrame(&stream.Frame{
		Type:     stream.TypeAdminMessageSent,
		SenderId: testAdmin.Id,
		Message:  rawBody(t, AdminMessageBody{Id: 555, UserId: 42, SenderRole: "admin", Message: "Thanks", CreatedAt: 4000, TicketId: 7}),
	})

	msgs := ib.Timeline()
	require.Len(t, msgs, 4)
	assert.Equal(t, int64(555), msgs[3].Id)
	assert.Equal(t, SendConfirmed, msgs[3].SendStatus)

	close(f.replyGate)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ib.Timeline(), 4, "late REST response must not duplicate the entry")
}

func TestInbox_SendFailure_NoRollback(t *testing.T) {
	f := supportFixture()
	f.replyErr = api.ErrSendFailed

	var failedMu sync.Mutex
	var failed []int64
	ib := loadedInbox(t, f, WithCallbacks(Callbacks{
		OnSendFailed: func(counterpartId, provisionalId int64, err error) {
			failedMu.Lock()
			failed = append(failed, provisionalId)
			failedMu.Unlock()
		},
	}))
	openAndWait(t, ib, f, 42)

	provisionalId, err := ib.SendReply(context.Background(), "Thanks")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := ib.Timeline()
		return msgs[len(msgs)-1].SendStatus == SendFailed
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, ib.Timeline(), 4, "failed send stays visible")
	failedMu.Lock()
	assert.Equal(t, []int64{provisionalId}, failed)
	failedMu.Unlock()
}

func TestInbox_SendReply_Validation(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)

	_, err := ib.SendReply(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = ib.SendReply(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoConversationOpen)
}

func TestInbox_ClosedConversationAccumulatesThenResolves(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)

	for i := 0; i < 3; i++ {
		ib.HandleFrame(newMessageFrame(t, NewMessagePayload{
			Id: int64(600 + i), UserId: 9, Content: "ping", CreatedAt: int64(5000 + i), TicketId: 12,
		}))
	}

	c, ok := ib.Conversation(9)
	require.True(t, ok)
	assert.Equal(t, 3, c.UnreadCount)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, int64(9), ib.Conversations()[0].CounterpartId)
	assert.Empty(t, ib.Timeline(), "closed conversation routes to the store only")

	var resolvedPayload TicketResolvedPayload
	resolvedPayload.UserId = 9
	resolvedPayload.Message.Id = 700
	resolvedPayload.Message.Message = "Ticket resolved"
	resolvedPayload.Message.CreatedAt = 6000
	resolvedPayload.Message.TicketId = 12
	ib.HandleFrame(&stream.Frame{Type: stream.TypeTicketResolved, Payload: rawBody(t, resolvedPayload)})

	assert.Equal(t, StatusResolved, c.Status)
	assert.Equal(t, 0, c.UnreadCount)
}

func TestInbox_TicketResolvedWhileViewing_AppendsDelimiter(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)
	openAndWait(t, ib, f, 42)

	var p TicketResolvedPayload
	p.UserId = 42
	p.Message.Id = 700
	p.Message.Message = "Ticket resolved by Agent Jones"
	p.Message.CreatedAt = 6000
	p.Message.TicketId = 7
	ib.HandleFrame(&stream.Frame{Type: stream.TypeTicketResolved, Payload: rawBody(t, p)})

	msgs := ib.Timeline()
	require.Len(t, msgs, 4)
	assert.True(t, msgs[3].IsSystem())

	c, _ := ib.Conversation(42)
	assert.Equal(t, StatusResolved, c.Status)
}

func TestInbox_ViewedPushRoutesToTimelineAndStore(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)
	openAndWait(t, ib, f, 42)

	ib.HandleFrame(newMessageFrame(t, NewMessagePayload{
		Id: 600, UserId: 42, Content: "any update?", CreatedAt: 5000, TicketId: 7,
	}))

	msgs := ib.Timeline()
	require.Len(t, msgs, 4)
	assert.Equal(t, "any update?", msgs[3].Body)

	c, _ := ib.Conversation(42)
	assert.Equal(t, 0, c.UnreadCount, "viewing pins unread to zero")
	assert.Equal(t, "any update?", c.LastMessage)
}

func TestInbox_UnknownCounterpartTriggersRefetch(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)
	calls := f.ListCalls()

	f.mu.Lock()
	f.conversations = append(f.conversations, &api.ConversationSummary{
		UserId: 1000, UserName: "New User", UnreadCount: 1, LastMessage: "hello?", LastMessageAt: 9000, Status: "active",
	})
	f.mu.Unlock()

	ib.HandleFrame(newMessageFrame(t, NewMessagePayload{
		Id: 800, UserId: 1000, Content: "hello?", CreatedAt: 9000, TicketId: 30,
	}))

	require.Eventually(t, func() bool {
		_, ok := ib.Conversation(1000)
		return ok && f.ListCalls() > calls
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2+1, len(ib.Conversations()), "refetch merges, never fabricates or duplicates")
}

func TestInbox_OtherAdminReply(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)
	openAndWait(t, ib, f, 42)

	ib.HandleFrame(&stream.Frame{
		Type:     stream.TypeAdminMessageSent,
		SenderId: 88, // a different admin session
		Message:  rawBody(t, AdminMessageBody{Id: 560, UserId: 42, SenderRole: "admin", SenderName: "Agent Jones", Message: "on it", CreatedAt: 4500, TicketId: 7}),
	})

	msgs := ib.Timeline()
	require.Len(t, msgs, 4)
	assert.Equal(t, "Agent Jones", msgs[3].SenderName)

	c, _ := ib.Conversation(42)
	assert.Equal(t, "on it", c.LastMessage)
	assert.Equal(t, 0, c.UnreadCount, "another admin's reply is not unread activity")
}

func TestInbox_UnreadSignalAtMostOncePerChange(t *testing.T) {
	f := supportFixture()
	n := &countingNotifier{}
	ib := loadedInbox(t, f, WithNotifier(n))

	// Load publishes the initial count (one conversation has unread).
	require.Equal(t, []int{1}, n.All())

	// Pushes for a second conversation: the aggregate moves 1 -> 2 once;
	// further pushes on the same conversation change nothing.
	ib.HandleFrame(newMessageFrame(t, NewMessagePayload{Id: 600, UserId: 9, Content: "a", CreatedAt: 5000, TicketId: 12}))
	ib.HandleFrame(newMessageFrame(t, NewMessagePayload{Id: 601, UserId: 9, Content: "b", CreatedAt: 5001, TicketId: 12}))
	ib.HandleFrame(newMessageFrame(t, NewMessagePayload{Id: 602, UserId: 9, Content: "c", CreatedAt: 5002, TicketId: 12}))
	assert.Equal(t, []int{1, 2}, n.All())

	ib.OpenConversation(context.Background(), 9)
	assert.Equal(t, []int{1, 2, 1}, n.All())
}

func TestInbox_UnknownFrameTypeIgnored(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)

	ib.HandleFrame(&stream.Frame{Type: "typing_indicator", Payload: json.RawMessage(`{"user_id":42}`)})

	assert.Equal(t, 2, len(ib.Conversations()))
}

func TestInbox_Resolve(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)
	openAndWait(t, ib, f, 42)

	require.NoError(t, ib.Resolve(context.Background()))

	c, _ := ib.Conversation(42)
	assert.Equal(t, StatusResolved, c.Status)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.resolved) == 1 && f.resolved[0] == 42
	}, time.Second, 5*time.Millisecond)
}

func TestInbox_CloseGuardsDispatch(t *testing.T) {
	f := supportFixture()
	ib := loadedInbox(t, f)
	ib.Close()

	ib.HandleFrame(newMessageFrame(t, NewMessagePayload{Id: 600, UserId: 9, Content: "late", CreatedAt: 5000, TicketId: 12}))

	c, _ := ib.Conversation(9)
	assert.Equal(t, 0, c.UnreadCount, "no dispatch after teardown")
}
