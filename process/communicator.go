package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/knxlink/address"
)

// DefaultResponseTimeout is used when Config.ResponseTimeout is zero (§6).
const DefaultResponseTimeout = 5 * time.Second

// GroupEvent is an inbound group-service indication delivered by the
// network link.
type GroupEvent struct {
	Source  address.IndividualAddress
	Dest    address.GroupAddress
	Service Service
	APDU    []byte
}

// NetworkLink is the transport collaborator the communicator sends requests
// through and receives indications from (§6). It is satisfied by, for
// example, a KNXnet/IP tunnel client or an FT1.2-backed serial connection;
// neither is part of this package.
type NetworkLink interface {
	// SendRequestWait transmits apdu to dst at priority and blocks until the
	// underlying medium has acknowledged it.
	SendRequestWait(ctx context.Context, dst address.GroupAddress, priority address.Priority, apdu []byte) error
	// SetListener installs the single callback notified of every inbound
	// group event; passing nil removes it (mirrors the link's own
	// single-callback dispatch idiom).
	SetListener(l func(GroupEvent))
	IsOpen() bool
	DeviceAddress() address.IndividualAddress
	Close() error
}

// SecureLayer is the optional KNX Data Secure collaborator (§6). A nil
// SecureLayer disables secure wrapping entirely.
type SecureLayer interface {
	// SecureGroupObject wraps plainAPDU for dst, returning ok=false when no
	// group key is configured for dst (the core then sends plainAPDU as-is).
	SecureGroupObject(src address.IndividualAddress, dst address.GroupAddress, plainAPDU []byte) (secured []byte, ok bool, err error)
	// WriteGroupObjectDiagnostics reports diagnostics instead of wrapping
	// directly; modeled as a blocking call honoring ctx in place of a
	// language-level Future.
	WriteGroupObjectDiagnostics(ctx context.Context, dst address.GroupAddress, data []byte) (address.ReturnCode, error)
	GroupKeys() map[address.GroupAddress][]byte
	Close() error
}

// Config holds the communicator's open-time parameters (§6).
type Config struct {
	// ResponseTimeout bounds readFromGroup's wait for a response. Zero
	// selects DefaultResponseTimeout; negative is rejected by New.
	ResponseTimeout time.Duration

	// Priority is the default send priority. Its zero value is the KNX
	// "System" encoding; no other default is applied. The communicator's
	// read and write methods take their priority per call and do not read
	// this field.
	Priority address.Priority

	// UseGoDiagnostics, when true, routes secured writes through
	// WriteGroupObjectDiagnostics instead of direct secure wrapping,
	// provided a group key exists for the destination (§6).
	UseGoDiagnostics bool
}

func (c Config) responseTimeout() time.Duration {
	if c.ResponseTimeout == 0 {
		return DefaultResponseTimeout
	}
	return c.ResponseTimeout
}

// Communicator multiplexes group reads over a NetworkLink and dispatches
// inbound group-service indications to registered listeners. A single
// intrinsic lock guards the waiter registry; no I/O happens while it is
// held (§5).
type Communicator struct {
	link    NetworkLink
	secure  SecureLayer
	cfg     Config
	logger  Logger

	group singleflight.Group

	mu      sync.Mutex
	waiters map[address.GroupAddress]chan []byte

	listenersMu sync.Mutex
	listeners   []func(GroupEvent)

	detachMu sync.Mutex
	detached bool
	onDetach func()
}

// Logger is the minimal structured-logging contract the communicator
// depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// New builds a Communicator over link, registering its own listener to
// receive inbound group indications. secure may be nil.
func New(link NetworkLink, secure SecureLayer, cfg Config, logger Logger) (*Communicator, error) {
	if cfg.ResponseTimeout < 0 {
		return nil, fmt.Errorf("%w: response timeout must be > 0", ErrIllegalArgument)
	}
	c := &Communicator{
		link:    link,
		secure:  secure,
		cfg:     cfg,
		logger:  logger,
		waiters: make(map[address.GroupAddress]chan []byte),
	}
	link.SetListener(c.onLinkEvent)
	return c, nil
}

// OnDetach installs the callback fired by the first Detach call.
func (c *Communicator) OnDetach(f func()) {
	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	c.onDetach = f
}

// AddListener registers l to receive every inbound group event, in arrival
// order (§5: "listener callbacks observe frames in the order they arrived").
func (c *Communicator) AddListener(l func(GroupEvent)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// onLinkEvent is the communicator's own link listener: it satisfies any
// outstanding readFromGroup waiter for ev.Dest and then dispatches ev to
// every registered listener, in that order (§4.E: "send-then-dispatch").
func (c *Communicator) onLinkEvent(ev GroupEvent) {
	if ev.Service == ServiceGroupResponse || ev.Service == ServiceGroupWrite {
		c.mu.Lock()
		if ch, ok := c.waiters[ev.Dest]; ok {
			select {
			case ch <- ev.APDU:
			default:
			}
		}
		c.mu.Unlock()
	}
	c.dispatch(ev)
}

func (c *Communicator) dispatch(ev GroupEvent) {
	c.listenersMu.Lock()
	listeners := append([]func(GroupEvent){}, c.listeners...)
	c.listenersMu.Unlock()

	for _, l := range listeners {
		c.safeInvoke(l, ev)
	}
}

func (c *Communicator) safeInvoke(l func(GroupEvent), ev GroupEvent) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("group listener panicked", "recovered", fmt.Sprintf("%v", r))
		}
	}()
	l(ev)
}

// sendAPDU wraps apdu through the secure layer (when configured) and sends
// it through the network link, blocking until the medium acknowledges it.
// When Group Object Diagnostics applies, the APDU is handed to
// WriteGroupObjectDiagnostics only and is not sent on the link.
func (c *Communicator) sendAPDU(ctx context.Context, dst address.GroupAddress, priority address.Priority, apdu []byte) error {
	out := apdu
	if c.secure != nil {
		_, hasKey := c.secure.GroupKeys()[dst]
		if c.cfg.UseGoDiagnostics && hasKey {
			_, err := c.secure.WriteGroupObjectDiagnostics(ctx, dst, apdu)
			return err
		} else {
			secured, ok, err := c.secure.SecureGroupObject(c.link.DeviceAddress(), dst, apdu)
			if err != nil {
				return err
			}
			if ok {
				out = secured
			}
		}
	}
	if !c.link.IsOpen() {
		return ErrLinkClosed
	}
	return c.link.SendRequestWait(ctx, dst, priority, out)
}

// WriteGroup sends a GroupWrite APDU to dst (§4.E).
func (c *Communicator) WriteGroup(ctx context.Context, dst address.GroupAddress, priority address.Priority, optimized bool, optimizedValue byte, data []byte) error {
	apdu, err := BuildGroupAPDU(ServiceGroupWrite, optimized, optimizedValue, data)
	if err != nil {
		return err
	}
	return c.sendAPDU(ctx, dst, priority, apdu)
}

// ReadFromGroup implements the four-step readFromGroup operation (§4.E):
// it registers a waiter for dst, sends a GroupRead, and waits up to the
// configured response timeout for a reply whose ASDU length lies in
// [minAsduLen, maxAsduLen]. Concurrent callers for the same dst share a
// single outstanding request via singleflight; each still applies its own
// window to the shared reply.
func (c *Communicator) ReadFromGroup(ctx context.Context, dst address.GroupAddress, priority address.Priority, minAsduLen, maxAsduLen int) ([]byte, error) {
	key := dst.String()
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.awaitResponse(ctx, dst, priority)
	})
	if err != nil {
		return nil, err
	}
	raw := v.([]byte)
	if _, err := ParseGroupAPDU(raw); err != nil {
		return nil, err
	}
	asduLen := len(raw) - 2
	if asduLen < minAsduLen || asduLen > maxAsduLen {
		return nil, ErrInvalidResponse
	}
	return raw, nil
}

// awaitResponse registers the waiter slot, sends the GroupRead, and blocks
// for the shared response. It is the singleflight-guarded body of step 1-3
// (§4.E); step 4's cleanup happens here via defer regardless of outcome.
func (c *Communicator) awaitResponse(ctx context.Context, dst address.GroupAddress, priority address.Priority) ([]byte, error) {
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.waiters[dst] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, dst)
		c.mu.Unlock()
	}()

	if err := c.sendAPDU(ctx, dst, priority, BuildGroupRead()); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.responseTimeout())
	defer timer.Stop()
	select {
	case raw := <-ch:
		return raw, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Detach is idempotent (§4.E): the first call removes the communicator's
// link listener, closes the secure layer, and returns the underlying link;
// every later call reports ErrDetached.
func (c *Communicator) Detach() (NetworkLink, error) {
	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	if c.detached {
		return nil, ErrDetached
	}
	c.detached = true
	c.link.SetListener(nil)
	if c.secure != nil {
		c.secure.Close()
	}
	if c.onDetach != nil {
		c.onDetach()
	}
	return c.link, nil
}
