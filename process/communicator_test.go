package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxlink/address"
)

// fakeLink is a minimal NetworkLink that records sent APDUs and lets tests
// inject inbound group events through its installed listener.
type fakeLink struct {
	mu       sync.Mutex
	listener func(GroupEvent)
	sent     [][]byte
	open     bool
	device   address.IndividualAddress
	onSend   func(dst address.GroupAddress, apdu []byte)
}

func newFakeLink() *fakeLink {
	dev, _ := address.NewIndividualAddress(1, 1, 1)
	return &fakeLink{open: true, device: dev}
}

func (f *fakeLink) SendRequestWait(_ context.Context, dst address.GroupAddress, _ address.Priority, apdu []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, apdu)
	cb := f.onSend
	f.mu.Unlock()
	if cb != nil {
		cb(dst, apdu)
	}
	return nil
}

func (f *fakeLink) SetListener(l func(GroupEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeLink) IsOpen() bool                               { return f.open }
func (f *fakeLink) DeviceAddress() address.IndividualAddress   { return f.device }
func (f *fakeLink) Close() error                                { f.open = false; return nil }

func (f *fakeLink) inject(ev GroupEvent) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(ev)
	}
}

func mustGA(t *testing.T, main, middle, sub uint8) address.GroupAddress {
	t.Helper()
	ga, err := address.NewGroupAddress3(main, middle, sub)
	if err != nil {
		t.Fatalf("NewGroupAddress3: %v", err)
	}
	return ga
}

// TestReadFromGroupResponseWindow is the §8.5 scenario: an invalid-length
// response raises InvalidResponse, and a correctly-sized length-optimized
// response on the next call succeeds.
func TestReadFromGroupResponseWindow(t *testing.T) {
	link := newFakeLink()
	dst := mustGA(t, 1, 1, 1)

	link.onSend = func(d address.GroupAddress, _ []byte) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			link.inject(GroupEvent{Dest: d, Service: ServiceGroupResponse, APDU: []byte{0x00, 0x41, 0xFF}})
		}()
	}

	c, err := New(link, nil, Config{ResponseTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.ReadBool(context.Background(), dst, address.PriorityNormal); err != ErrInvalidResponse {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}

	link.onSend = func(d address.GroupAddress, _ []byte) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			link.inject(GroupEvent{Dest: d, Service: ServiceGroupResponse, APDU: []byte{0x00, 0x41}})
		}()
	}

	got, err := c.ReadBool(context.Background(), dst, address.PriorityNormal)
	if err != nil {
		t.Fatalf("ReadBool: %v", err)
	}
	if !got {
		t.Fatalf("ReadBool() = false, want true")
	}
}

// TestReadFromGroupTimeout exercises the absence of any response.
func TestReadFromGroupTimeout(t *testing.T) {
	link := newFakeLink()
	dst := mustGA(t, 1, 1, 2)

	c, err := New(link, nil, Config{ResponseTimeout: 30 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.ReadFromGroup(context.Background(), dst, address.PriorityNormal, 0, 0)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

// TestReadFromGroupConcurrentReadersShareSlot verifies that two concurrent
// readers for the same destination only cause a single GroupRead to be
// transmitted and both observe the same response.
func TestReadFromGroupConcurrentReadersShareSlot(t *testing.T) {
	link := newFakeLink()
	dst := mustGA(t, 1, 1, 3)

	var sendCount int
	var sendMu sync.Mutex
	link.onSend = func(d address.GroupAddress, _ []byte) {
		sendMu.Lock()
		sendCount++
		sendMu.Unlock()
		go func() {
			time.Sleep(20 * time.Millisecond)
			link.inject(GroupEvent{Dest: d, Service: ServiceGroupResponse, APDU: []byte{0x00, 0x41}})
		}()
	}

	c, err := New(link, nil, Config{ResponseTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.ReadBool(context.Background(), dst, address.PriorityNormal)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("reader %d: %v", i, errs[i])
		}
		if !results[i] {
			t.Fatalf("reader %d: got false, want true", i)
		}
	}
	sendMu.Lock()
	defer sendMu.Unlock()
	if sendCount != 1 {
		t.Fatalf("sendCount = %d, want 1 (readers should share one request)", sendCount)
	}
}

// TestReadFromGroupCleansUpAfterReturn verifies the post-condition from §8:
// once ReadFromGroup returns, no waiter remains registered for dst.
func TestReadFromGroupCleansUpAfterReturn(t *testing.T) {
	link := newFakeLink()
	dst := mustGA(t, 1, 1, 4)
	link.onSend = func(d address.GroupAddress, _ []byte) {
		go func() {
			time.Sleep(2 * time.Millisecond)
			link.inject(GroupEvent{Dest: d, Service: ServiceGroupResponse, APDU: []byte{0x00, 0x40}})
		}()
	}

	c, err := New(link, nil, Config{ResponseTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.ReadFromGroup(context.Background(), dst, address.PriorityNormal, 0, 0); err != nil {
		t.Fatalf("ReadFromGroup: %v", err)
	}

	c.mu.Lock()
	_, ok := c.waiters[dst]
	c.mu.Unlock()
	if ok {
		t.Fatalf("waiter for %v still registered after ReadFromGroup returned", dst)
	}
}

// TestSendThenDispatch verifies an inbound frame both satisfies an
// outstanding reader and is delivered to listeners (§4.E).
func TestSendThenDispatch(t *testing.T) {
	link := newFakeLink()
	dst := mustGA(t, 1, 1, 5)

	var mu sync.Mutex
	var received []GroupEvent
	link.onSend = func(d address.GroupAddress, _ []byte) {
		go func() {
			time.Sleep(2 * time.Millisecond)
			link.inject(GroupEvent{Dest: d, Service: ServiceGroupResponse, APDU: []byte{0x00, 0x40}})
		}()
	}

	c, err := New(link, nil, Config{ResponseTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.AddListener(func(ev GroupEvent) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})

	if _, err := c.ReadFromGroup(context.Background(), dst, address.PriorityNormal, 0, 0); err != nil {
		t.Fatalf("ReadFromGroup: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("listener received %d events, want 1", len(received))
	}
}

// TestDetachIsIdempotent verifies the second Detach call returns
// ErrDetached and the first removes the link listener.
func TestDetachIsIdempotent(t *testing.T) {
	link := newFakeLink()
	c, err := New(link, nil, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var detachedCalled bool
	c.OnDetach(func() { detachedCalled = true })

	if _, err := c.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if !detachedCalled {
		t.Fatalf("onDetach callback was not invoked")
	}
	if link.listener != nil {
		t.Fatalf("link listener still installed after Detach")
	}
	if _, err := c.Detach(); err != ErrDetached {
		t.Fatalf("second Detach err = %v, want ErrDetached", err)
	}
}

// TestNewRejectsNegativeResponseTimeout covers the boundary behavior in §8.
func TestNewRejectsNegativeResponseTimeout(t *testing.T) {
	link := newFakeLink()
	if _, err := New(link, nil, Config{ResponseTimeout: -time.Second}, nil); err == nil {
		t.Fatalf("expected error for negative response timeout")
	}
}
