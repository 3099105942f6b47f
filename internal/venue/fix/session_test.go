package fix

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-core/internal/model"
)

// peer is the counterparty side of a net.Pipe, decoding whatever the Session
// under test writes and letting the test inject raw messages back.
type peer struct {
	conn net.Conn

	mu   sync.Mutex
	recv []Message
}

func startPeer(conn net.Conn) *peer {
	p := &peer{conn: conn}
	go p.readLoop()
	return p
}

func (p *peer) readLoop() {
	buf := make([]byte, 4096)
	var partial []byte
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			return
		}
		partial = append(partial, buf[:n]...)
		for {
			idx := indexChecksumEnd(partial)
			if idx < 0 {
				break
			}
			raw := string(partial[:idx])
			partial = partial[idx:]
			msg, err := Parse(raw)
			if err != nil {
				continue
			}
			p.mu.Lock()
			p.recv = append(p.recv, msg)
			p.mu.Unlock()
		}
	}
}

func (p *peer) send(msg Message) {
	_, _ = p.conn.Write([]byte(msg.Raw))
}

// waitFor polls for the next received message of msgType, consuming it so a
// later waitFor call doesn't see it again.
func (p *peer) waitFor(msgType MessageType, timeout time.Duration) (Message, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		for i, m := range p.recv {
			if m.Type == msgType {
				p.recv = append(p.recv[:i], p.recv[i+1:]...)
				p.mu.Unlock()
				return m, true
			}
		}
		p.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return Message{}, false
}

func (p *peer) count(msgType MessageType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.recv {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func connectOverPipe(t *testing.T, s *Session, ctx context.Context) *peer {
	t.Helper()
	clientConn, peerConn := net.Pipe()
	p := startPeer(peerConn)

	connectDone := make(chan error, 1)
	go func() { connectDone <- s.Connect(ctx, clientConn) }()

	if _, ok := p.waitFor(MsgLogon, time.Second); !ok {
		t.Fatal("expected a Logon from the session on connect")
	}
	if err := <-connectDone; err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	p.send(NewLogon("THEM", "US", 1, 3600))
	return p
}

func TestMessage_ValidateChecksumRejectsTamperedBytes(t *testing.T) {
	msg := NewHeartbeat("US", "THEM", 2, "")
	tampered := msg
	tampered.Raw = msg.Raw[:len(msg.Raw)-5] + "999" + SOH
	if tampered.ValidateChecksum() {
		t.Fatal("expected tampered checksum to fail validation")
	}
	if !msg.ValidateChecksum() {
		t.Fatal("expected the original message to validate")
	}
}

// TestSession_GapRecoveryBuffersAndAppliesHighSeqMessage is scenario S4: the
// peer's seq jumps ahead while we're behind. The high-seq message must be
// buffered, not dropped, and applied once the gap closes (§4.3).
func TestSession_GapRecoveryBuffersAndAppliesHighSeqMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSession(Config{SenderCompID: "US", TargetCompID: "THEM", HeartbeatInterval: time.Hour})
	p := connectOverPipe(t, s, ctx)

	s.seqIn.Store(7)

	p.send(NewBuilder("THEM", "US", 10).Build(MsgExecutionReport))

	resend, ok := p.waitFor(MsgResendRequest, time.Second)
	if !ok {
		t.Fatal("expected a ResendRequest for the gap")
	}
	if v, _ := resend.Field(TagBeginSeqNo); v != "7" {
		t.Fatalf("expected BeginSeqNo=7, got %s", v)
	}
	if v, _ := resend.Field(TagEndSeqNo); v != "9" {
		t.Fatalf("expected EndSeqNo=9, got %s", v)
	}

	for seq := 7; seq <= 9; seq++ {
		p.send(NewBuilder("THEM", "US", seq).Build(MsgExecutionReport))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.seqIn.Load() != 11 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.seqIn.Load(); got != 11 {
		t.Fatalf("expected seqIn to reach 11 once the gap drained, got %d", got)
	}

	var gotSeqs []int
	deadline = time.Now().Add(time.Second)
	for len(gotSeqs) < 4 && time.Now().Before(deadline) {
		select {
		case msg := <-s.Incoming():
			gotSeqs = append(gotSeqs, msg.SeqNum())
		case <-time.After(50 * time.Millisecond):
		}
	}
	want := []int{7, 8, 9, 10}
	if len(gotSeqs) != len(want) {
		t.Fatalf("expected 4 delivered messages (including the buffered seq 10), got %v", gotSeqs)
	}
	for i, seq := range want {
		if gotSeqs[i] != seq {
			t.Fatalf("expected delivery order %v, got %v", want, gotSeqs)
		}
	}
}

// TestSession_LowSequenceWithoutPossDupRejectsAndLogsOut covers §4.3's rule
// that a stale MsgSeqNum without PossDupFlag is a session-level violation.
func TestSession_LowSequenceWithoutPossDupRejectsAndLogsOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSession(Config{SenderCompID: "US", TargetCompID: "THEM", HeartbeatInterval: time.Hour})
	p := connectOverPipe(t, s, ctx)

	s.seqIn.Store(5)
	p.send(NewBuilder("THEM", "US", 3).Build(MsgExecutionReport))

	reject, ok := p.waitFor(MsgReject, time.Second)
	if !ok {
		t.Fatal("expected a session-level Reject for the low, non-duplicate sequence")
	}
	if v, _ := reject.Field(TagRefSeqNum); v != "3" {
		t.Fatalf("expected RefSeqNum=3, got %s", v)
	}
	if _, ok := p.waitFor(MsgLogout, time.Second); !ok {
		t.Fatal("expected a Logout to follow the Reject")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.State() != model.FIXDisconnected {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.State(); got != model.FIXDisconnected {
		t.Fatalf("expected session to disconnect after the sequence violation, got %s", got)
	}
}

// TestSession_LowSequenceWithPossDupIsIgnored covers the complementary path:
// a PossDupFlag=Y resend of something already processed is silently dropped,
// not treated as a protocol violation.
func TestSession_LowSequenceWithPossDupIsIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSession(Config{SenderCompID: "US", TargetCompID: "THEM", HeartbeatInterval: time.Hour})
	p := connectOverPipe(t, s, ctx)

	s.seqIn.Store(5)
	p.send(NewBuilder("THEM", "US", 3).With(TagPossDupFlag, "Y").Build(MsgExecutionReport))

	if _, ok := p.waitFor(MsgReject, 200*time.Millisecond); ok {
		t.Fatal("did not expect a Reject for a PossDupFlag=Y resend")
	}
	if got := s.seqIn.Load(); got != 5 {
		t.Fatalf("expected seqIn to stay at 5, got %d", got)
	}
	if got := s.State(); got == model.FIXDisconnected {
		t.Fatal("did not expect the session to disconnect")
	}
}

// TestSession_HeartbeatSendsOneTestRequestThenEscalates exercises the §8
// boundary invariant: silence past 2*interval sends exactly one TestRequest,
// and continued silence past TestRequestDelay escalates to a session
// failure (here settling Disconnected, since no Dialer is configured).
func TestSession_HeartbeatSendsOneTestRequestThenEscalates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSession(Config{
		SenderCompID:      "US",
		TargetCompID:      "THEM",
		HeartbeatInterval: 20 * time.Millisecond,
		TestRequestDelay:  30 * time.Millisecond,
	})
	p := connectOverPipe(t, s, ctx)

	if _, ok := p.waitFor(MsgTestRequest, time.Second); !ok {
		t.Fatal("expected a TestRequest after counterparty silence")
	}

	// Give the loop several more ticks; the pending flag must suppress any
	// further TestRequest until the session gives up and escalates.
	time.Sleep(60 * time.Millisecond)
	if n := p.count(MsgTestRequest); n > 1 {
		t.Fatalf("expected exactly one outstanding TestRequest, observed %d", n)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.State() != model.FIXDisconnected {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.State(); got != model.FIXDisconnected {
		t.Fatalf("expected the session to settle Disconnected after unanswered TestRequest, got %s", got)
	}
}

// TestSession_ReconnectLoopRedialsUntilSuccess checks the backoff-driven
// reconnect path actually re-establishes a session via a fresh transport.
func TestSession_ReconnectLoopRedialsUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dialed atomic.Int64
	var newPeerMu sync.Mutex
	var newPeer *peer

	s := NewSession(Config{
		SenderCompID:         "US",
		TargetCompID:         "THEM",
		HeartbeatInterval:    20 * time.Millisecond,
		TestRequestDelay:     20 * time.Millisecond,
		ReconnectBaseBackoff: 10 * time.Millisecond,
		ReconnectMaxBackoff:  10 * time.Millisecond,
		ReconnectMaxAttempts: 3,
		Dialer: func(ctx context.Context) (Transport, error) {
			dialed.Add(1)
			clientConn, peerConn := net.Pipe()
			newPeerMu.Lock()
			newPeer = startPeer(peerConn)
			newPeerMu.Unlock()
			return clientConn, nil
		},
	})
	_ = connectOverPipe(t, s, ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		newPeerMu.Lock()
		found := newPeer != nil
		newPeerMu.Unlock()
		if found {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	newPeerMu.Lock()
	np := newPeer
	newPeerMu.Unlock()
	if np == nil {
		t.Fatal("expected the reconnect loop to invoke the Dialer and establish a new transport")
	}
	if _, ok := np.waitFor(MsgLogon, time.Second); !ok {
		t.Fatal("expected the session to re-logon over the reconnected transport")
	}
	if dialed.Load() == 0 {
		t.Fatal("expected at least one dial attempt")
	}
}
