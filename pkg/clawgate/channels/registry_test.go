package channels

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
)

type fakeChannel struct {
	name    string
	handler Handler
	started atomic.Bool
	sent    []*UnifiedSendRequest
	failOn  error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(context.Context) error {
	if f.failOn != nil {
		return f.failOn
	}
	f.started.Store(true)
	return nil
}

func (f *fakeChannel) Stop() error {
	f.started.Store(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, req *UnifiedSendRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeChannel) SetHandler(h Handler) { f.handler = h }

func TestRegistryRegisterAndRoute(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(slog.Default())
	qq := &fakeChannel{name: "qq"}
	if err := reg.Register(qq); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(&fakeChannel{name: "qq"}); err == nil {
		t.Error("duplicate Register() succeeded")
	}

	req := &UnifiedSendRequest{ChatID: "42", Content: "hi", Type: MessagePrivate}
	if err := reg.Route(context.Background(), "qq", req); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(qq.sent) != 1 || qq.sent[0].Content != "hi" {
		t.Errorf("routed sends = %+v", qq.sent)
	}

	err := reg.Route(context.Background(), "telegram", req)
	if !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Route(unknown) error = %v, want ErrChannelNotFound", err)
	}
}

func TestRegistrySetHandlerWiresAllChannels(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(slog.Default())
	before := &fakeChannel{name: "qq"}
	reg.Register(before)

	var count atomic.Int64
	reg.SetHandler(func(context.Context, *UnifiedMessage) { count.Add(1) })

	after := &fakeChannel{name: "lark"}
	reg.Register(after)

	// Both the pre-existing and the later channel carry the handler.
	if before.handler == nil || after.handler == nil {
		t.Fatal("handler not wired to all channels")
	}
	before.handler(context.Background(), &UnifiedMessage{})
	after.handler(context.Background(), &UnifiedMessage{})
	if count.Load() != 2 {
		t.Errorf("handler invoked %d times, want 2", count.Load())
	}
}

func TestRegistryStartAllSkipsFailures(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(slog.Default())
	good := &fakeChannel{name: "qq"}
	bad := &fakeChannel{name: "lark", failOn: errors.New("bad credentials")}
	reg.Register(good)
	reg.Register(bad)

	reg.StartAll(context.Background())
	if !good.started.Load() {
		t.Error("healthy channel not started after sibling failure")
	}
}
