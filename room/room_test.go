package room

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

type fakeSub struct {
	id     string
	reject bool

	mu   sync.Mutex
	msgs [][]byte
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(p []byte) bool {
	if f.reject {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, p)
	return true
}

func (f *fakeSub) userLists(t *testing.T) []domain.UserList {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UserList
	for _, m := range f.msgs {
		var ul domain.UserList
		if err := sonic.Unmarshal(m, &ul); err != nil {
			t.Fatalf("decode user list: %v", err)
		}
		if ul.Type == domain.MessageUserList {
			out = append(out, ul)
		}
	}
	return out
}

func (f *fakeSub) last(t *testing.T) domain.UserList {
	t.Helper()
	lists := f.userLists(t)
	if len(lists) == 0 {
		t.Fatalf("%s received no user list", f.id)
	}
	return lists[len(lists)-1]
}

var (
	keyA = domain.BoardKey{ProjectID: "p1", BoardName: "a"}
	keyB = domain.BoardKey{ProjectID: "p1", BoardName: "b"}
)

func newTestRegistry() (*Registry, *Hub) {
	logger, _ := test.NewNullLogger()
	hub := NewHub()
	return NewRegistry(hub, logger), hub
}

func TestHubPublish(t *testing.T) {
	hub := NewHub()
	a, b, slow := &fakeSub{id: "a"}, &fakeSub{id: "b"}, &fakeSub{id: "slow", reject: true}
	hub.Subscribe(keyA, a)
	hub.Subscribe(keyA, slow)
	hub.Subscribe(keyB, b)

	if n := hub.Publish(keyA, []byte("x")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(a.msgs) != 1 || len(b.msgs) != 0 {
		t.Fatalf("unexpected fan-out: a=%d b=%d", len(a.msgs), len(b.msgs))
	}
	if n := hub.Publish(domain.BoardKey{ProjectID: "none", BoardName: "none"}, []byte("x")); n != 0 {
		t.Fatalf("publish to empty topic delivered %d", n)
	}

	hub.Unsubscribe(keyA, a)
	hub.Unsubscribe(keyA, slow)
	if hub.Subscribers(keyA) != 0 {
		t.Fatal("expected empty topic")
	}
	if _, ok := hub.topics[keyA]; ok {
		t.Fatal("empty topic was not discarded")
	}
}

func TestJoinBroadcastsPresenceToEveryone(t *testing.T) {
	reg, _ := newTestRegistry()
	c1, c2 := &fakeSub{id: "c1"}, &fakeSub{id: "c2"}

	if err := reg.Join(c1, "alice", keyA); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := reg.Join(c2, "bob", keyA); err != nil {
		t.Fatalf("join: %v", err)
	}
	want := []string{"alice", "bob"}
	for _, c := range []*fakeSub{c1, c2} {
		if got := c.last(t).Users; !reflect.DeepEqual(got, want) {
			t.Fatalf("%s saw %v, want %v", c.id, got, want)
		}
	}
	if len(c1.userLists(t)) != 2 {
		t.Fatalf("c1 expected two presence messages, got %d", len(c1.userLists(t)))
	}
}

func TestJoinIsIdempotentAndRefreshesUser(t *testing.T) {
	reg, _ := newTestRegistry()
	c1 := &fakeSub{id: "c1"}
	_ = reg.Join(c1, "alice", keyA)
	_ = reg.Join(c1, "alice2", keyA)
	if got := reg.Members(keyA); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("unexpected members %v", got)
	}
	if got := reg.Presence(keyA); !reflect.DeepEqual(got, []string{"alice2"}) {
		t.Fatalf("unexpected presence %v", got)
	}
}

func TestPresenceIsDistinct(t *testing.T) {
	reg, _ := newTestRegistry()
	_ = reg.Join(&fakeSub{id: "tab1"}, "alice", keyA)
	_ = reg.Join(&fakeSub{id: "tab2"}, "alice", keyA)
	if got := reg.Presence(keyA); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("expected one alice, got %v", got)
	}
	reg.Leave("tab1")
	if got := reg.Presence(keyA); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("alice should remain while another tab is open, got %v", got)
	}
}

func TestJoinOtherRoomLeavesFirst(t *testing.T) {
	reg, hub := newTestRegistry()
	c1, c2 := &fakeSub{id: "c1"}, &fakeSub{id: "c2"}
	_ = reg.Join(c1, "alice", keyA)
	_ = reg.Join(c2, "bob", keyA)
	if err := reg.Join(c1, "alice", keyB); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := c2.last(t).Users; !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("room A should show only bob, got %v", got)
	}
	last := c1.last(t)
	if last.BoardName != "b" || !reflect.DeepEqual(last.Users, []string{"alice"}) {
		t.Fatalf("unexpected presence for c1: %+v", last)
	}
	if key, ok := reg.RoomOf("c1"); !ok || key != keyB {
		t.Fatalf("c1 should be in room B, got %v %v", key, ok)
	}
	if hub.Subscribers(keyA) != 1 || hub.Subscribers(keyB) != 1 {
		t.Fatal("hub subscriptions not moved")
	}
}

func TestLeaveDiscardsEmptyRoomAndIsRepeatable(t *testing.T) {
	reg, hub := newTestRegistry()
	c1, c2 := &fakeSub{id: "c1"}, &fakeSub{id: "c2"}
	_ = reg.Join(c1, "alice", keyA)
	_ = reg.Join(c2, "bob", keyA)

	reg.Leave("c1")
	reg.Leave("c1")
	reg.Leave("never-joined")
	if got := c2.last(t).Users; !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("expected bob only, got %v", got)
	}
	before := len(c1.msgs)
	reg.Leave("c2")
	if len(reg.Rooms()) != 0 {
		t.Fatalf("expected no rooms, got %v", reg.Rooms())
	}
	if hub.Subscribers(keyA) != 0 {
		t.Fatal("hub still has subscribers")
	}
	if len(c1.msgs) != before {
		t.Fatal("departed connection kept receiving presence")
	}
}

func TestJoinRejectsInvalidInput(t *testing.T) {
	reg, _ := newTestRegistry()
	if err := reg.Join(&fakeSub{id: "c"}, "alice", domain.BoardKey{ProjectID: "p"}); err == nil {
		t.Fatal("expected error for missing board name")
	}
	if err := reg.Join(&fakeSub{id: "c"}, "  ", keyA); err == nil {
		t.Fatal("expected error for empty user")
	}
	if len(reg.Rooms()) != 0 {
		t.Fatal("failed join created a room")
	}
}

func TestPresenceConverges(t *testing.T) {
	reg, _ := newTestRegistry()
	keys := []domain.BoardKey{keyA, keyB}
	subs := make([]*fakeSub, 20)
	for i := range subs {
		subs[i] = &fakeSub{id: fmt.Sprintf("c%d", i)}
	}

	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *fakeSub) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(i)))
			for j := 0; j < 50; j++ {
				if rnd.Intn(3) == 0 {
					reg.Leave(s.id)
					continue
				}
				_ = reg.Join(s, fmt.Sprintf("user%d", i%7), keys[rnd.Intn(len(keys))])
			}
		}(i, s)
	}
	wg.Wait()

	for _, key := range keys {
		want := reg.Presence(key)
		for _, id := range reg.Members(key) {
			var sub *fakeSub
			for _, s := range subs {
				if s.id == id {
					sub = s
				}
			}
			last := sub.last(t)
			if last.BoardName != key.BoardName || !reflect.DeepEqual(last.Users, want) {
				t.Fatalf("%s last saw %+v, room %s has %v", id, last, key, want)
			}
		}
	}
}
