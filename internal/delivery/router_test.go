package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chartbot/internal/readiness"
	"chartbot/internal/store"
	"chartbot/internal/transport"
	logx "chartbot/pkg/logx"
)

type sentMsg struct {
	kind string // "user" or "channel"
	id   string
	msg  transport.Message
}

type fakeTransport struct {
	users    map[string]bool // id -> resolvable
	channels map[string]bool
	failSend map[string]error // destination id -> send error

	mu   sync.Mutex
	sent []sentMsg
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		users:    map[string]bool{},
		channels: map[string]bool{},
		failSend: map[string]error{},
	}
}

func (f *fakeTransport) ResolveUser(_ context.Context, id string) (bool, error) {
	return f.users[id], nil
}

func (f *fakeTransport) ResolveChannel(_ context.Context, id string) (bool, error) {
	return f.channels[id], nil
}

func (f *fakeTransport) SendUser(_ context.Context, id string, msg transport.Message) (transport.MessageRef, error) {
	if err := f.failSend[id]; err != nil {
		return transport.MessageRef{}, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMsg{kind: "user", id: id, msg: msg})
	f.mu.Unlock()
	return transport.MessageRef{ChannelID: "dm-" + id, MessageID: "m"}, nil
}

func (f *fakeTransport) SendChannel(_ context.Context, id string, msg transport.Message) (transport.MessageRef, error) {
	if err := f.failSend[id]; err != nil {
		return transport.MessageRef{}, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMsg{kind: "channel", id: id, msg: msg})
	f.mu.Unlock()
	return transport.MessageRef{ChannelID: id, MessageID: "m"}, nil
}

func seedNotification(t *testing.T, docs store.Store, n Notification) string {
	t.Helper()
	path := store.JoinPath(Collection, n.ID)
	doc := store.Document{"title": n.Title, "color": float64(n.Color)}
	if n.UserID != "" {
		doc["user"] = n.UserID
		doc["backupChannel"] = n.BackupChannelID
	} else {
		doc["channel"] = n.ChannelID
		doc["backupUser"] = n.BackupUserID
	}
	if err := docs.Set(context.Background(), path, doc); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return path
}

func recordPresent(t *testing.T, docs store.Store, path string) bool {
	t.Helper()
	_, err := docs.Get(context.Background(), path)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return true
}

func TestDeliverPrimarySuccess(t *testing.T) {
	t.Parallel()
	tp := newFakeTransport()
	tp.users["u1"] = true
	tp.channels["backup"] = true
	docs := store.NewMemory()
	r := NewRouter(tp, docs, logx.Nop())

	n := Notification{ID: "n1", Title: "alert", UserID: "u1", BackupChannelID: "backup"}
	path := seedNotification(t, docs, n)

	if err := r.Deliver(context.Background(), path, n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(tp.sent) != 1 || tp.sent[0].kind != "user" || tp.sent[0].id != "u1" {
		t.Fatalf("sent = %+v, want single DM to u1", tp.sent)
	}
	if recordPresent(t, docs, path) {
		t.Fatal("record must be deleted after confirmed send")
	}
}

func TestDeliverFallsBackToChannel(t *testing.T) {
	t.Parallel()
	tp := newFakeTransport()
	tp.users["u1"] = true
	tp.channels["backup"] = true
	tp.failSend["u1"] = errors.New("dms closed")
	docs := store.NewMemory()
	r := NewRouter(tp, docs, logx.Nop())

	n := Notification{ID: "n1", Title: "alert", UserID: "u1", BackupChannelID: "backup"}
	path := seedNotification(t, docs, n)

	if err := r.Deliver(context.Background(), path, n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(tp.sent) != 1 || tp.sent[0].kind != "channel" || tp.sent[0].id != "backup" {
		t.Fatalf("sent = %+v, want single channel fallback", tp.sent)
	}
	// The user resolved but the DM failed: no "unreachable" mention.
	if tp.sent[0].msg.Content != "" {
		t.Fatalf("unexpected mention for resolved user: %q", tp.sent[0].msg.Content)
	}
	if recordPresent(t, docs, path) {
		t.Fatal("record must be deleted after fallback send")
	}
}

func TestDeliverUnresolvedUserGetsMention(t *testing.T) {
	t.Parallel()
	tp := newFakeTransport()
	tp.channels["backup"] = true // user never resolves
	docs := store.NewMemory()
	r := NewRouter(tp, docs, logx.Nop())

	n := Notification{ID: "n1", Title: "alert", UserID: "u1", BackupChannelID: "backup"}
	path := seedNotification(t, docs, n)

	if err := r.Deliver(context.Background(), path, n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(tp.sent) != 1 || tp.sent[0].id != "backup" {
		t.Fatalf("sent = %+v", tp.sent)
	}
	if !strings.Contains(tp.sent[0].msg.Content, "<@!u1>") {
		t.Fatalf("channel fallback should mention the unreachable user, got %q", tp.sent[0].msg.Content)
	}
}

func TestDeliverChannelPrimaryUserBackup(t *testing.T) {
	t.Parallel()
	tp := newFakeTransport()
	tp.channels["c1"] = true
	tp.users["owner"] = true
	tp.failSend["c1"] = errors.New("missing access")
	docs := store.NewMemory()
	r := NewRouter(tp, docs, logx.Nop())

	n := Notification{ID: "n1", Title: "alert", ChannelID: "c1", BackupUserID: "owner"}
	path := seedNotification(t, docs, n)

	if err := r.Deliver(context.Background(), path, n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(tp.sent) != 1 || tp.sent[0].kind != "user" || tp.sent[0].id != "owner" {
		t.Fatalf("sent = %+v, want DM fallback to owner", tp.sent)
	}
	if !strings.Contains(tp.sent[0].msg.Content, "missing access") {
		t.Fatalf("user fallback should carry the failure reason, got %q", tp.sent[0].msg.Content)
	}
	if recordPresent(t, docs, path) {
		t.Fatal("record must be deleted after fallback send")
	}
}

func TestDeliverBothFailRetainsRecord(t *testing.T) {
	t.Parallel()
	tp := newFakeTransport()
	tp.users["u1"] = true
	tp.channels["backup"] = true
	tp.failSend["u1"] = errors.New("dms closed")
	tp.failSend["backup"] = errors.New("channel gone")
	docs := store.NewMemory()
	r := NewRouter(tp, docs, logx.Nop())

	n := Notification{ID: "n1", Title: "alert", UserID: "u1", BackupChannelID: "backup"}
	path := seedNotification(t, docs, n)

	err := r.Deliver(context.Background(), path, n)
	if !errors.Is(err, ErrUndeliverable) {
		t.Fatalf("Deliver = %v, want ErrUndeliverable", err)
	}
	if len(tp.sent) != 0 {
		t.Fatalf("nothing should have been recorded as sent, got %+v", tp.sent)
	}
	if !recordPresent(t, docs, path) {
		t.Fatal("record must stay in the store when every path fails")
	}
}

func TestServiceDeliversFromChangeFeed(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp := newFakeTransport()
	tp.users["u1"] = true
	tp.channels["backup"] = true
	docs := store.NewMemory()
	gate := readiness.NewGate(logx.Nop()).WithPollInterval(5 * time.Millisecond)
	gate.SetCachesPrimed()
	gate.SetSessionUp()

	svc := New(Config{Workers: 2, RatePerSec: 1000}, NewRouter(tp, docs, logx.Nop()), docs, gate, logx.Nop())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	path := seedNotification(t, docs, Notification{ID: "n1", Title: "alert", UserID: "u1", BackupChannelID: "backup"})

	deadline := time.After(2 * time.Second)
	for recordPresent(t, docs, path) {
		select {
		case <-deadline:
			t.Fatal("notification was not delivered from the change feed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
