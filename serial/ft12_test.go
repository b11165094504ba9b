package serial

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxlink/address"
	"github.com/nerrad567/knxlink/cemi"
)

// drainServer reads and discards everything written by the link, unblocking
// the link's writes without ever acknowledging them.
func drainServer(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

// TestFT12ResetHandshakeSuccess is the §8.4 scenario: a port whose response
// stream is a single 0xE5 brings the connection Closed -> Ok within 150 ms.
func TestFT12ResetHandshakeSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		buf := make([]byte, 16)
		if _, err := server.Read(buf); err != nil {
			return
		}
		server.Write([]byte{ackByte})
	}()

	start := time.Now()
	link, err := Open(context.Background(), client, Config{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close()

	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("handshake took %v, want <= 150ms", elapsed)
	}
	if link.State() != StateOk {
		t.Fatalf("State() = %v, want Ok", link.State())
	}
}

// TestFT12ResetHandshakeTimeout is the §8.4 negative scenario: a port that
// never returns an ACK raises AckTimeout after ~600 ms (4 * 150 ms) and the
// connection is closed.
func TestFT12ResetHandshakeTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go drainServer(server)

	start := time.Now()
	_, err := Open(context.Background(), client, Config{}, nil)
	elapsed := time.Since(start)

	if err != ErrAckTimeout {
		t.Fatalf("err = %v, want ErrAckTimeout", err)
	}
	if elapsed < 500*time.Millisecond {
		t.Fatalf("handshake failed too quickly: %v", elapsed)
	}
}

// openOK brings up a link whose server immediately ACKs the reset frame,
// returning the link and the server side of the pipe for further scripting.
func openOK(t *testing.T, onFrame func(FrameEvent)) (*Link, net.Conn) {
	t.Helper()
	client, server := net.Pipe()

	ackNext := make(chan struct{}, 1)
	ackNext <- struct{}{}

	go func() {
		buf := make([]byte, 16)
		if _, err := server.Read(buf); err != nil {
			return
		}
		server.Write([]byte{ackByte})
	}()

	link, err := Open(context.Background(), client, Config{}, onFrame)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return link, server
}

func buildLDataReqEMI(t *testing.T, dest address.IndividualAddress) []byte {
	t.Helper()
	src, _ := address.NewIndividualAddress(1, 1, 1)
	f, err := cemi.NewLData(cemi.LDataReq, src, false, dest.Raw(), address.PriorityNormal, 6, []byte{0x00, 0x80})
	if err != nil {
		t.Fatalf("NewLData: %v", err)
	}
	raw, err := cemi.ToEMI(f, false)
	if err != nil {
		t.Fatalf("ToEMI: %v", err)
	}
	return raw
}

func buildLDataConEMI(t *testing.T, dest address.IndividualAddress, confirm bool) []byte {
	t.Helper()
	src, _ := address.NewIndividualAddress(1, 1, 1)
	f, err := cemi.NewLData(cemi.LDataCon, src, false, dest.Raw(), address.PriorityNormal, 6, []byte{0x00, 0x80})
	if err != nil {
		t.Fatalf("NewLData: %v", err)
	}
	f.Confirm = confirm
	raw, err := cemi.ToEMI(f, false)
	if err != nil {
		t.Fatalf("ToEMI: %v", err)
	}
	return raw
}

// TestFT12SendNonLDataCompletesOnAck exercises a send for a payload that is
// not an L_Data.req: the exchange completes as soon as the ACK arrives, no
// confirmation wait is required, and sendFrameCount toggles exactly once.
func TestFT12SendNonLDataCompletesOnAck(t *testing.T) {
	link, server := openOK(t, nil)
	defer link.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 256)
		if _, err := server.Read(buf); err != nil {
			return
		}
		server.Write([]byte{ackByte})
	}()

	before := link.sendFrameCount
	if err := link.Send(context.Background(), []byte{0xAA, 0xBB, 0xCC}, true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	after := link.sendFrameCount
	if before == after {
		t.Fatalf("sendFrameCount did not toggle")
	}
	if link.State() != StateOk {
		t.Fatalf("State() = %v, want Ok", link.State())
	}
}

// TestFT12SendLDataReqConfirmed exercises the full L_Data.con correlation
// path: ACK arrives, then a matching positive confirmation; Send returns
// nil and the link returns to Ok.
func TestFT12SendLDataReqConfirmed(t *testing.T) {
	dest, _ := address.NewIndividualAddress(1, 1, 5)
	link, server := openOK(t, nil)
	defer link.Close()
	defer server.Close()

	conPayload := buildLDataConEMI(t, dest, false) // Confirm flag clear: positive

	go func() {
		buf := make([]byte, 256)
		n, err := server.Read(buf)
		if err != nil {
			return
		}
		_ = n
		server.Write([]byte{ackByte})

		conFrame, err := encodeVariableFrame(ctrlDirFromBAU|ctrlInitiator, conPayload)
		if err != nil {
			return
		}
		server.Write(conFrame)
		ackBuf := make([]byte, 1)
		server.Read(ackBuf) // consume the link's ACK of our confirmation frame
	}()

	payload := buildLDataReqEMI(t, dest)
	before := link.sendFrameCount
	if err := link.Send(context.Background(), payload, true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if link.sendFrameCount == before {
		t.Fatalf("sendFrameCount did not toggle")
	}
	if link.State() != StateOk {
		t.Fatalf("State() = %v, want Ok", link.State())
	}
}

// TestFT12SendLDataReqTimesOutWithoutConfirmation: ACK arrives but no
// L_Data.con follows within 300 ms; Send reports ErrTimeout and the link
// still toggles its frame count and returns to Ok.
func TestFT12SendLDataReqTimesOutWithoutConfirmation(t *testing.T) {
	dest, _ := address.NewIndividualAddress(1, 1, 5)
	link, server := openOK(t, nil)
	defer link.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 256)
		if _, err := server.Read(buf); err != nil {
			return
		}
		server.Write([]byte{ackByte})
		drainServer(server)
	}()

	payload := buildLDataReqEMI(t, dest)
	before := link.sendFrameCount
	err := link.Send(context.Background(), payload, true)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if link.sendFrameCount == before {
		t.Fatalf("sendFrameCount did not toggle despite confirmation timeout")
	}
}

// TestFT12ReceiveDispatchAndDuplicateSuppression exercises the receiver's
// framecount logic: a fresh inbound frame dispatches once; an exact
// retransmission (same FCB bit, same checksum) is ACKed again but dropped
// silently rather than re-dispatched.
func TestFT12ReceiveDispatchAndDuplicateSuppression(t *testing.T) {
	var mu sync.Mutex
	var events []FrameEvent
	onFrame := func(e FrameEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	link, server := openOK(t, onFrame)
	defer link.Close()
	defer server.Close()

	payload := []byte{0x03, 0x11}
	inbound, err := encodeVariableFrame(ctrlDirFromBAU|ctrlInitiator, payload) // FCB bit clear, matches initial rcvFrameCount=0
	if err != nil {
		t.Fatalf("encodeVariableFrame: %v", err)
	}

	ackCh := make(chan struct{}, 2)
	go func() {
		ackBuf := make([]byte, 1)
		for i := 0; i < 2; i++ {
			if _, err := server.Read(ackBuf); err != nil {
				return
			}
			ackCh <- struct{}{}
		}
	}()

	server.Write(inbound)
	<-ackCh
	server.Write(inbound) // exact duplicate retransmission
	<-ackCh

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("dispatched %d events, want exactly 1 (duplicate must be suppressed)", len(events))
	}
}
