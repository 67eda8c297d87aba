package usecase

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/voicelink/internal/application/config"
	"github.com/qrave1/voicelink/internal/domain/events"
	"github.com/qrave1/voicelink/internal/infra/adapters/memory"
)

// fakeConnRepo собирает исходящие сообщения вместо записи в сокеты.
type fakeConnRepo struct {
	mu      sync.Mutex
	writes  map[string][]any
	offline map[string]bool
	renames [][2]string
}

func newFakeConnRepo() *fakeConnRepo {
	return &fakeConnRepo{
		writes:  make(map[string][]any),
		offline: make(map[string]bool),
	}
}

func (f *fakeConnRepo) Add(userID string, conn *websocket.Conn) {}
func (f *fakeConnRepo) Remove(userID string)                    {}

func (f *fakeConnRepo) Write(userID string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes[userID] = append(f.writes[userID], payload)
}

func (f *fakeConnRepo) Connected(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.offline[userID]
}

func (f *fakeConnRepo) Rename(oldID, newID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.renames = append(f.renames, [2]string{oldID, newID})
}

func (f *fakeConnRepo) sent(userID string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]any, len(f.writes[userID]))
	copy(out, f.writes[userID])
	return out
}

func (f *fakeConnRepo) lastSent(t *testing.T, userID string) any {
	t.Helper()

	msgs := f.sent(userID)
	if len(msgs) == 0 {
		t.Fatalf("no messages sent to %q", userID)
	}
	return msgs[len(msgs)-1]
}

func newTestUsecase() (SignalingUsecase, *fakeConnRepo) {
	registry := memory.NewRoomRegistry(config.RoomConfig{
		MaxUsers:    8,
		IdleTimeout: 5 * time.Minute,
	})
	repo := newFakeConnRepo()

	return NewSignalingUsecase(registry, repo), repo
}

func raw(t *testing.T, payload any) []byte {
	t.Helper()

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %T: %v", payload, err)
	}
	return b
}

func hello(t *testing.T, uc SignalingUsecase, userID, userName string) *Session {
	t.Helper()

	sess := &Session{ConnID: "conn-" + userID}
	uc.Dispatch(sess, raw(t, events.Hello{Type: events.TypeHello, UserID: userID, UserName: userName}))
	if sess.UserID != userID {
		t.Fatalf("session not authenticated after hello")
	}
	return sess
}

func TestDispatch_RequiresHello(t *testing.T) {
	uc, repo := newTestUsecase()

	sess := &Session{ConnID: "conn-1"}
	uc.Dispatch(sess, raw(t, events.CreateRoom{Type: events.TypeCreateRoom}))

	msg := repo.lastSent(t, "conn-1")
	errMsg, ok := msg.(events.Error)
	if !ok {
		t.Fatalf("expected error reply, got %T", msg)
	}
	if errMsg.Code != events.CodeUnregistered {
		t.Fatalf("code = %q, want %q", errMsg.Code, events.CodeUnregistered)
	}
}

func TestDispatch_HelloAckAndRename(t *testing.T) {
	uc, repo := newTestUsecase()

	sess := hello(t, uc, "u1", "alice")

	if len(repo.renames) != 1 || repo.renames[0] != [2]string{"conn-u1", "u1"} {
		t.Fatalf("renames = %v, want conn-u1 -> u1", repo.renames)
	}

	ack, ok := repo.lastSent(t, "u1").(events.HelloAck)
	if !ok {
		t.Fatalf("expected HelloAck, got %T", repo.lastSent(t, "u1"))
	}
	if ack.UserID != sess.UserID {
		t.Fatalf("ack for %q, want %q", ack.UserID, sess.UserID)
	}
}

func TestDispatch_IgnoresGarbageSilently(t *testing.T) {
	uc, repo := newTestUsecase()

	sess := &Session{ConnID: "conn-1"}
	uc.Dispatch(sess, []byte(`{"type":`))
	uc.Dispatch(sess, []byte(`{"type":"no-such-thing"}`))

	if got := repo.sent("conn-1"); len(got) != 0 {
		t.Fatalf("garbage produced replies: %v", got)
	}
}

func TestDispatch_CreateThenJoinFlow(t *testing.T) {
	uc, repo := newTestUsecase()

	alice := hello(t, uc, "alice", "Alice")
	bob := hello(t, uc, "bob", "Bob")

	uc.Dispatch(alice, raw(t, events.CreateRoom{Type: events.TypeCreateRoom, Name: "standup"}))

	var roomID string
	for _, msg := range repo.sent("alice") {
		if created, ok := msg.(events.RoomCreated); ok {
			roomID = created.RoomID
		}
	}
	if roomID == "" {
		t.Fatalf("alice never received room-created: %v", repo.sent("alice"))
	}

	uc.Dispatch(bob, raw(t, events.JoinRoom{Type: events.TypeJoinRoom, RoomID: roomID}))

	joined, ok := repo.lastSent(t, "bob").(events.RoomJoined)
	if !ok {
		t.Fatalf("expected RoomJoined for bob, got %T", repo.lastSent(t, "bob"))
	}
	if joined.RoomID != roomID || len(joined.Users) != 2 {
		t.Fatalf("unexpected room-joined: %+v", joined)
	}

	userJoined, ok := repo.lastSent(t, "alice").(events.UserJoined)
	if !ok {
		t.Fatalf("expected UserJoined for alice, got %T", repo.lastSent(t, "alice"))
	}
	if userJoined.User.ID != "bob" || userJoined.User.Volume != 80 || userJoined.User.Speaking {
		t.Fatalf("unexpected user announcement: %+v", userJoined.User)
	}
}

func TestDispatch_JoinUnknownRoom(t *testing.T) {
	uc, repo := newTestUsecase()

	sess := hello(t, uc, "u1", "alice")
	uc.Dispatch(sess, raw(t, events.JoinRoom{Type: events.TypeJoinRoom, RoomID: "DEADBEEF"}))

	errMsg, ok := repo.lastSent(t, "u1").(events.Error)
	if !ok {
		t.Fatalf("expected error, got %T", repo.lastSent(t, "u1"))
	}
	if errMsg.Code != events.CodeRoomNotFound {
		t.Fatalf("code = %q, want %q", errMsg.Code, events.CodeRoomNotFound)
	}
}

func TestDispatch_LeaveAlwaysAcked(t *testing.T) {
	uc, repo := newTestUsecase()

	sess := hello(t, uc, "u1", "alice")
	uc.Dispatch(sess, raw(t, events.LeaveRoom{Type: events.TypeLeaveRoom}))

	if _, ok := repo.lastSent(t, "u1").(events.RoomLeft); !ok {
		t.Fatalf("expected RoomLeft even outside a room, got %T", repo.lastSent(t, "u1"))
	}
}

func TestDispatch_SignalUnicast(t *testing.T) {
	uc, repo := newTestUsecase()

	alice := hello(t, uc, "alice", "Alice")
	hello(t, uc, "bob", "Bob")

	data := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	uc.Dispatch(alice, raw(t, events.Signal{Type: events.TypeSignal, To: "bob", Data: data}))

	relayed, ok := repo.lastSent(t, "bob").(events.Signal)
	if !ok {
		t.Fatalf("expected Signal for bob, got %T", repo.lastSent(t, "bob"))
	}
	if relayed.From != "alice" || relayed.To != "" {
		t.Fatalf("relay must stamp from and clear to: %+v", relayed)
	}
	if string(relayed.Data) != string(data) {
		t.Fatalf("data mutated in transit: %s", relayed.Data)
	}
}

func TestDispatch_SignalToOfflineTargetDropped(t *testing.T) {
	uc, repo := newTestUsecase()

	alice := hello(t, uc, "alice", "Alice")
	repo.offline["bob"] = true

	before := len(repo.sent("alice"))
	uc.Dispatch(alice, raw(t, events.Signal{Type: events.TypeSignal, To: "bob", Data: json.RawMessage(`{}`)}))

	if got := repo.sent("bob"); len(got) != 0 {
		t.Fatalf("offline target received %v", got)
	}
	if got := repo.sent("alice"); len(got) != before {
		t.Fatalf("sender must get no error for dropped signal, got %v", got[before:])
	}
}

func TestDispatch_SpeakingFanOut(t *testing.T) {
	uc, repo := newTestUsecase()

	alice := hello(t, uc, "alice", "Alice")
	bob := hello(t, uc, "bob", "Bob")

	uc.Dispatch(alice, raw(t, events.CreateRoom{Type: events.TypeCreateRoom}))

	var roomID string
	if created, ok := repo.sent("alice")[1].(events.RoomCreated); ok {
		roomID = created.RoomID
	}
	uc.Dispatch(bob, raw(t, events.JoinRoom{Type: events.TypeJoinRoom, RoomID: roomID}))

	uc.Dispatch(alice, raw(t, events.Speaking{Type: events.TypeSpeaking, Speaking: true}))

	speaking, ok := repo.lastSent(t, "bob").(events.UserSpeaking)
	if !ok {
		t.Fatalf("expected UserSpeaking for bob, got %T", repo.lastSent(t, "bob"))
	}
	if speaking.UserID != "alice" || !speaking.Speaking {
		t.Fatalf("unexpected user-speaking: %+v", speaking)
	}
	for _, msg := range repo.sent("alice") {
		if _, ok := msg.(events.UserSpeaking); ok {
			t.Fatalf("speaker received own user-speaking")
		}
	}
}

func TestHandleDisconnect_ImplicitLeave(t *testing.T) {
	uc, repo := newTestUsecase()

	alice := hello(t, uc, "alice", "Alice")
	bob := hello(t, uc, "bob", "Bob")

	uc.Dispatch(alice, raw(t, events.CreateRoom{Type: events.TypeCreateRoom}))

	var roomID string
	for _, msg := range repo.sent("alice") {
		if created, ok := msg.(events.RoomCreated); ok {
			roomID = created.RoomID
		}
	}
	uc.Dispatch(bob, raw(t, events.JoinRoom{Type: events.TypeJoinRoom, RoomID: roomID}))

	uc.HandleDisconnect(bob)

	left, ok := repo.lastSent(t, "alice").(events.UserLeft)
	if !ok {
		t.Fatalf("expected UserLeft for alice, got %T", repo.lastSent(t, "alice"))
	}
	if left.UserID != "bob" {
		t.Fatalf("left.UserID = %q, want bob", left.UserID)
	}

	if rooms := uc.ListPublicRooms(); len(rooms) != 1 || rooms[0].UserCount != 1 {
		t.Fatalf("unexpected rooms after disconnect: %+v", rooms)
	}
}

func TestHandleDisconnect_Unauthenticated(t *testing.T) {
	uc, repo := newTestUsecase()

	// не паникует и ничего не рассылает
	uc.HandleDisconnect(&Session{ConnID: "conn-1"})

	for user, msgs := range repo.writes {
		t.Fatalf("unexpected writes to %q: %v", user, msgs)
	}
}

func TestDispatch_ManyUsersRoomFull(t *testing.T) {
	registry := memory.NewRoomRegistry(config.RoomConfig{MaxUsers: 2, IdleTimeout: 5 * time.Minute})
	repo := newFakeConnRepo()
	uc := NewSignalingUsecase(registry, repo)

	owner := hello(t, uc, "owner", "Owner")
	uc.Dispatch(owner, raw(t, events.CreateRoom{Type: events.TypeCreateRoom}))

	var roomID string
	for _, msg := range repo.sent("owner") {
		if created, ok := msg.(events.RoomCreated); ok {
			roomID = created.RoomID
		}
	}

	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("guest-%d", i)
		sess := hello(t, uc, id, id)
		uc.Dispatch(sess, raw(t, events.JoinRoom{Type: events.TypeJoinRoom, RoomID: roomID}))
	}

	full, ok := repo.lastSent(t, "guest-1").(events.Error)
	if !ok {
		t.Fatalf("expected ROOM_FULL error, got %T", repo.lastSent(t, "guest-1"))
	}
	if full.Code != events.CodeRoomFull {
		t.Fatalf("code = %q, want %q", full.Code, events.CodeRoomFull)
	}
}
