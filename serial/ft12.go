package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/knxlink/address"
	"github.com/nerrad567/knxlink/cemi"
)

// State is one of the link's four observable states (§4.D).
type State int

// Link states.
const (
	StateClosed State = iota
	StateOk
	StateAckPending
	StateConPending
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOk:
		return "Ok"
	case StateAckPending:
		return "AckPending"
	case StateConPending:
		return "ConPending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ldataConTimeout is the fixed wait budget for an L_Data.con after a send's
// ACK has been accepted (§4.D step 6).
const ldataConTimeout = 300 * time.Millisecond

// resetAckTimeout is the per-attempt ACK wait budget during bring-up (§4.D).
const resetAckTimeout = 150 * time.Millisecond

// resetAttempts is the total number of reset transmissions (1 initial + 3
// retries) before giving up (§4.D).
const resetAttempts = 4

// sendAttempts is the total number of send transmissions (1 initial + 3
// retries) before giving up on an ACK (§4.D).
const sendAttempts = 4

// FrameEvent is a decoded inbound payload delivered to the link's listener.
type FrameEvent struct {
	Payload []byte
}

// Link is a primary-station FT1.2 connection. All exported methods are
// concurrency-safe; a single fair mutex and three condition variables
// (readyToSend, ack, con) serialize outbound exchanges while a dedicated
// receiver goroutine reads the port and signals progress (§9: "no
// async/await is required; the semantics are synchronous with explicit
// timeouts").
type Link struct {
	port Port
	baud int

	mu          sync.Mutex
	readyToSend *sync.Cond
	ackCond     *sync.Cond
	conCond     *sync.Cond

	state State

	sendFrameCount byte // 0x00 or ctrlFCB
	rcvFrameCount  byte // expected inbound FCB

	ackArrived bool
	conArrived bool

	haveLastAccepted     bool
	lastAcceptedChecksum byte

	pendingConDest uint16

	onFrame func(FrameEvent)
	logger  Logger

	closed bool
	wg     sync.WaitGroup
}

// Open brings up a link over port: it starts the receiver goroutine, then
// runs the reset handshake (§4.D). On handshake failure the port is closed
// and ErrAckTimeout is returned.
func Open(ctx context.Context, port Port, cfg Config, onFrame func(FrameEvent)) (*Link, error) {
	l := &Link{
		port:           port,
		baud:           cfg.baudRate(),
		logger:         cfg.Logger,
		state:          StateClosed,
		pendingConDest: noLDataDest,
		onFrame:        onFrame,
	}
	l.readyToSend = sync.NewCond(&l.mu)
	l.ackCond = sync.NewCond(&l.mu)
	l.conCond = sync.NewCond(&l.mu)

	l.wg.Add(1)
	go l.receiveLoop()

	if err := l.sendReset(ctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// exchangeTimeout is the ACK wait budget for a send attempt, derived from
// baud rate with tolerance (§4.D).
func (l *Link) exchangeTimeout() time.Duration {
	ms := (1000*512+l.baud-1)/l.baud + 5
	return time.Duration(ms) * time.Millisecond
}

// idleTimeout is the inter-byte idle budget derived from baud rate (§4.D).
// Nothing in this package calls it; the receiver loop relies on blocking
// reads instead.
func (l *Link) idleTimeout() time.Duration {
	ms := (1000*33+l.baud-1)/l.baud + 15
	return time.Duration(ms) * time.Millisecond
}

// sendReset performs the bring-up handshake: transmit the short reset frame
// up to resetAttempts times, waiting resetAckTimeout for a single 0xE5 ACK
// byte after each attempt.
func (l *Link) sendReset(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; attempt < resetAttempts; attempt++ {
		l.ackArrived = false
		l.state = StateAckPending
		if _, err := l.port.Write(resetFrame); err != nil {
			l.closeLocked()
			return fmt.Errorf("%w: %v", ErrPortClosed, err)
		}
		ok := l.waitTimeout(l.ackCond, resetAckTimeout, func() bool {
			return l.ackArrived || l.state == StateClosed
		})
		if l.state == StateClosed {
			return ErrPortClosed
		}
		if ok && l.ackArrived {
			l.state = StateOk
			l.readyToSend.Broadcast()
			return nil
		}
	}

	l.closeLocked()
	return ErrAckTimeout
}

// waitTimeout waits on cond (mu must already be held) until predicate
// becomes true or timeout elapses, returning predicate's final value. A
// timer goroutine broadcasts the condition at the deadline so a genuinely
// stalled wait does not block forever.
func (l *Link) waitTimeout(cond *sync.Cond, timeout time.Duration, predicate func() bool) bool {
	timer := time.AfterFunc(timeout, func() {
		l.mu.Lock()
		cond.Broadcast()
		l.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)
	for !predicate() {
		if !time.Now().Before(deadline) {
			return predicate()
		}
		cond.Wait()
	}
	return true
}

// Send encodes payload (an already-EMI-encoded frame) as an FT1.2 variable
// frame and transmits it, following the eight-step send operation (§4.D).
// When blocking is false the call returns without writing anything: a
// background goroutine writes the frame and runs the ACK/confirmation
// exchange and retries, and its outcome is not reported to the caller.
func (l *Link) Send(_ context.Context, payload []byte, blocking bool) error {
	l.mu.Lock()

	for l.state != StateOk {
		if l.state == StateClosed {
			l.mu.Unlock()
			return ErrPortClosed
		}
		l.readyToSend.Wait()
	}

	isLDataReq, dest := detectLDataReq(payload)
	if isLDataReq {
		l.pendingConDest = dest
	} else {
		l.pendingConDest = noLDataDest
	}

	ctrl := byte(ctrlInitiator) | l.sendFrameCount | ctrlFCV | funcSendUData
	frame, err := encodeVariableFrame(ctrl, payload)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	if !blocking {
		go l.runExchange(frame, isLDataReq)
		l.mu.Unlock()
		return nil
	}
	defer l.mu.Unlock()
	return l.runExchangeLocked(frame, isLDataReq)
}

// runExchange runs the exchange in its own goroutine for a non-blocking
// Send, acquiring the link's lock itself.
func (l *Link) runExchange(frame []byte, isLDataReq bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.runExchangeLocked(frame, isLDataReq); err != nil && l.logger != nil {
		l.logger.Debug("ft1.2 background send did not complete", "error", err.Error())
	}
}

// runExchangeLocked performs steps 3-8 of the send operation. l.mu must be
// held on entry and remains held throughout.
func (l *Link) runExchangeLocked(frame []byte, isLDataReq bool) error {
	acked := false
	for attempt := 0; attempt < sendAttempts; attempt++ {
		l.ackArrived = false
		l.state = StateAckPending
		if _, err := l.port.Write(frame); err != nil {
			l.closeLocked()
			return fmt.Errorf("%w: %v", ErrPortClosed, err)
		}
		ok := l.waitTimeout(l.ackCond, l.exchangeTimeout(), func() bool {
			return l.ackArrived || l.state == StateClosed
		})
		if l.state == StateClosed {
			return ErrPortClosed
		}
		if ok && l.ackArrived {
			acked = true
			break
		}
	}

	var resultErr error
	if !acked {
		resultErr = ErrAckTimeout
	} else if isLDataReq {
		l.conArrived = false
		ok := l.waitTimeout(l.conCond, ldataConTimeout, func() bool {
			return l.conArrived || l.state == StateClosed
		})
		if l.state == StateClosed {
			return ErrPortClosed
		}
		if !ok || !l.conArrived {
			resultErr = ErrTimeout
		}
	}

	// Step 7: toggle exactly once per exchange, regardless of outcome.
	l.sendFrameCount ^= ctrlFCB
	l.pendingConDest = noLDataDest
	l.state = StateOk
	l.readyToSend.Broadcast()
	return resultErr
}

// noLDataDest is the FT1.2 sentinel meaning "no pending L_Data.con is
// outstanding" (§3: "IndividualAddress 0xFFFF is a reserved sentinel used
// by the FT1.2 layer"), reused as a raw destination value regardless of
// whether the remembered destination is an individual or group address.
var noLDataDest = address.Unmatched.Raw()

// detectLDataReq decodes payload as an EMI frame and reports whether it is
// an L_Data.req, along with its raw destination value.
func detectLDataReq(payload []byte) (bool, uint16) {
	f, err := cemi.FromEMI(payload)
	if err != nil || f.MC != cemi.LDataReq {
		return false, noLDataDest
	}
	return true, f.Dest
}

// receiveLoop reads inbound bytes and dispatches by leading byte (§4.D).
func (l *Link) receiveLoop() {
	defer l.wg.Done()

	r := bufio.NewReader(l.port)
	for {
		b, err := r.ReadByte()
		if err != nil {
			l.handleReadError(err)
			return
		}

		switch b {
		case ackByte:
			l.handleAck()
		case startVariable:
			l.handleVariableFrame(r)
		case startFixed:
			l.handleShortFrame(r)
		default:
			if l.logger != nil {
				l.logger.Debug("discarding unexpected byte", "byte", fmt.Sprintf("0x%02X", b))
			}
		}
	}
}

func (l *Link) handleReadError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.logger != nil {
		l.logger.Error("ft1.2 read failed", "error", err.Error())
	}
	l.closeLocked()
}

func (l *Link) handleAck() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateAckPending {
		l.ackArrived = true
		l.state = StateConPending
		l.ackCond.Broadcast()
	}
}

func (l *Link) handleVariableFrame(r *bufio.Reader) {
	vf, err := readVariableFrame(r)
	if err != nil {
		if l.logger != nil {
			l.logger.Debug("discarding malformed variable frame", "error", err.Error())
		}
		return
	}
	if vf.Ctrl&ctrlInboundRequired != ctrlInboundRequired {
		if l.logger != nil {
			l.logger.Debug("discarding variable frame with invalid control bits")
		}
		return
	}

	l.ackPort()

	checksum := frameChecksum(vf.Ctrl, vf.UserData)

	l.mu.Lock()
	remoteFCB := vf.Ctrl & ctrlFCB
	var dispatch bool
	if remoteFCB == l.rcvFrameCount {
		l.rcvFrameCount ^= ctrlFCB
		dispatch = true
	} else if l.haveLastAccepted && checksum == l.lastAcceptedChecksum {
		// Duplicate retransmission: drop silently.
		dispatch = false
	} else {
		// Known coupler quirk: adjust expected framecount once and accept.
		l.rcvFrameCount = remoteFCB ^ ctrlFCB
		dispatch = true
	}
	if dispatch {
		l.haveLastAccepted = true
		l.lastAcceptedChecksum = checksum
	}
	l.checkConfirmation(vf.UserData)
	l.mu.Unlock()

	if dispatch {
		l.dispatch(vf.UserData)
	}
}

func (l *Link) handleShortFrame(r *bufio.Reader) {
	buf := make([]byte, 3)
	if _, err := io.ReadFull(r, buf); err != nil {
		return
	}
	if _, _, err := parseShortFrame(buf); err != nil {
		if l.logger != nil {
			l.logger.Debug("discarding malformed short frame", "error", err.Error())
		}
		return
	}
	l.ackPort()
}

// ackPort transmits the single ACK byte required after every valid inbound
// frame (§4.D). It takes the link's lock so the byte cannot interleave with
// an in-progress send's own write (cond.Wait releases the lock while a
// sender is blocked waiting for ACK/confirmation, so this never deadlocks
// against an active exchange). Write errors close the port.
func (l *Link) ackPort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.port.Write([]byte{ackByte}); err != nil {
		l.closeLocked()
	}
}

// checkConfirmation implements L-Data.con correlation (§4.D). l.mu must be
// held.
func (l *Link) checkConfirmation(userData []byte) {
	if l.state != StateConPending {
		return
	}
	f, err := cemi.FromEMI(userData)
	if err != nil || f.MC != cemi.LDataCon {
		return
	}
	if f.Confirm {
		// Confirm flag set marks a negative (error) confirmation.
		return
	}
	if f.Dest != l.pendingConDest {
		return
	}
	l.conArrived = true
	l.conCond.Broadcast()
}

func (l *Link) dispatch(userData []byte) {
	if l.onFrame == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil && l.logger != nil {
				l.logger.Error("ft1.2 frame listener panicked", "recovered", fmt.Sprintf("%v", r))
			}
		}()
		l.onFrame(FrameEvent{Payload: userData})
	}()
}

// readVariableFrame reads and validates one variable frame from r, given
// that the leading START byte has already been consumed by the caller.
func readVariableFrame(r io.Reader) (variableFrame, error) {
	head := make([]byte, 2)
	if _, err := io.ReadFull(r, head); err != nil {
		return variableFrame{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	length := head[0]
	rest := make([]byte, int(length)+3) // START + (ctrl+userData) + checksum + end
	if _, err := io.ReadFull(r, rest); err != nil {
		return variableFrame{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	buf := append(head, rest...)
	vf, _, err := parseVariableFrame(buf)
	return vf, err
}

// State returns the link's current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close shuts the link down: the port is closed and the receiver goroutine
// is allowed to exit; any goroutine blocked in Send observes ErrPortClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	l.closeLocked()
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

// closeLocked transitions to Closed and wakes every waiter. l.mu must be
// held.
func (l *Link) closeLocked() {
	if l.closed {
		return
	}
	l.closed = true
	l.state = StateClosed
	l.port.Close()
	l.readyToSend.Broadcast()
	l.ackCond.Broadcast()
	l.conCond.Broadcast()
}
