package fix

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"trading-core/internal/model"
)

// Transport is the byte pipe a Session writes/reads FIX messages over.
// Implemented by a TLS connection in production, a net.Conn in tests.
type Transport interface {
	net.Conn
}

// Config holds one counterparty's session identity and timing.
type Config struct {
	SenderCompID      string
	TargetCompID      string
	HeartbeatInterval time.Duration
	TestRequestDelay  time.Duration

	// Dialer redials the transport after a session failure (a TestRequest,
	// sent after 2*HeartbeatInterval of inbound silence, left unanswered for
	// TestRequestDelay, or a read error). Nil disables reconnection: the
	// session just goes Disconnected.
	Dialer func(ctx context.Context) (Transport, error)

	// ReconnectBaseBackoff, ReconnectMaxBackoff, ReconnectMaxAttempts
	// govern the reconnect loop's exponential backoff (§4.3: initial 1s,
	// cap 30s, x2, max 5 attempts). Zero values fall back to those
	// defaults.
	ReconnectBaseBackoff time.Duration
	ReconnectMaxBackoff  time.Duration
	ReconnectMaxAttempts int
}

// storedMessage is one previously sent application message, kept around so
// a ResendRequest can be answered by replay (§4.3).
type storedMessage struct {
	seq int
	msg Message
}

// Session is a FIX 4.4 session: connect/logon, sequence-number discipline
// in both directions, heartbeat/TestRequest liveness, and gap recovery via
// ResendRequest + SequenceReset-GapFill. Background loops are started by
// Connect and stopped by Disconnect or when ctx passed to Connect is
// cancelled — they hold no reference back to the Session beyond what's
// needed to read/write the wire and touch the atomics below, so they never
// keep a disconnected Session pinned in memory (the idiomatic Go analogue
// of the original's Weak<...> session handles).
type Session struct {
	cfg Config

	mu    sync.RWMutex
	state model.FIXSessionState
	conn  Transport

	seqOut atomic.Int64
	seqIn  atomic.Int64

	lastHeartbeatSent    atomic.Int64 // unix nanos
	lastHeartbeatRecv    atomic.Int64

	testRequestPending atomic.Bool
	testRequestSentAt  atomic.Int64

	storeMu sync.Mutex
	sent    []storedMessage

	// pending holds application messages that arrived with MsgSeqNum
	// ahead of seqIn, keyed by their seq — buffered rather than dropped,
	// so they can be applied once ResendRequest fills the gap (§4.3).
	pendingMu sync.Mutex
	pending   map[int]Message

	incoming chan Message

	stop     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	failOnce sync.Once
}

// NewSession builds a Session in the Disconnected state with both sequence
// counters at 1 (FIX counters are 1-based).
func NewSession(cfg Config) *Session {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.TestRequestDelay == 0 {
		cfg.TestRequestDelay = 10 * time.Second
	}
	if cfg.ReconnectBaseBackoff == 0 {
		cfg.ReconnectBaseBackoff = time.Second
	}
	if cfg.ReconnectMaxBackoff == 0 {
		cfg.ReconnectMaxBackoff = 30 * time.Second
	}
	if cfg.ReconnectMaxAttempts == 0 {
		cfg.ReconnectMaxAttempts = 5
	}
	s := &Session{
		cfg:      cfg,
		state:    model.FIXDisconnected,
		pending:  make(map[int]Message),
		incoming: make(chan Message, 256),
		stop:     make(chan struct{}),
	}
	s.seqOut.Store(1)
	s.seqIn.Store(1)
	return s
}

func (s *Session) setState(st model.FIXSessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current session state.
func (s *Session) State() model.FIXSessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Incoming exposes application-level messages (anything not handled by the
// session layer itself) for the adapter above to consume.
func (s *Session) Incoming() <-chan Message { return s.incoming }

// Connect takes over conn, sends Logon, and starts the background
// heartbeat and read loops. ctx bounds the loops' lifetime in addition to
// Disconnect.
func (s *Session) Connect(ctx context.Context, conn Transport) error {
	s.mu.Lock()
	s.conn = conn
	s.state = model.FIXConnecting
	s.mu.Unlock()
	s.failOnce = sync.Once{}

	if err := s.sendLogon(); err != nil {
		s.setState(model.FIXDisconnected)
		return fmt.Errorf("fix: logon failed: %w", err)
	}
	s.setState(model.FIXLogonSent)

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.heartbeatLoop(ctx)
	return nil
}

// Disconnect sends a Logout and stops the background loops.
func (s *Session) Disconnect() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.State() == model.FIXLoggedIn {
		_ = s.send(NewLogout(s.cfg.SenderCompID, s.cfg.TargetCompID, s.nextSeqOut(), "normal disconnect"))
	}
	s.setState(model.FIXLogoutSent)
	close(s.stop)
	// Close the transport before waiting so a read loop blocked in Read
	// unblocks and exits.
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	s.setState(model.FIXDisconnected)
	return err
}

func (s *Session) nextSeqOut() int { return int(s.seqOut.Add(1)) - 1 }

// send writes msg to the wire and, for application messages, records it in
// the resend store.
func (s *Session) send(msg Message) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("fix: not connected")
	}
	if _, err := conn.Write([]byte(msg.Raw)); err != nil {
		return fmt.Errorf("fix: write failed: %w", err)
	}
	if !msg.Type.isAdminMessage() {
		s.storeMu.Lock()
		s.sent = append(s.sent, storedMessage{seq: msg.SeqNum(), msg: msg})
		s.storeMu.Unlock()
	}
	if msg.Type == MsgHeartbeat {
		s.lastHeartbeatSent.Store(time.Now().UnixNano())
	}
	return nil
}

// SendApplication sends an application-level message (e.g. NewOrderSingle)
// using the next outbound sequence number.
func (s *Session) SendApplication(build func(seq int) Message) error {
	seq := s.nextSeqOut()
	return s.send(build(seq))
}

func (s *Session) sendLogon() error {
	seq := s.nextSeqOut()
	hb := int(s.cfg.HeartbeatInterval.Seconds())
	return s.send(NewLogon(s.cfg.SenderCompID, s.cfg.TargetCompID, seq, hb))
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	var partial []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			s.failSession(ctx)
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
			s.handleIncoming(msg)
		}
	}
}

// indexChecksumEnd finds the end of the first complete message in buf by
// locating "10=" followed by three digits and the trailing SOH, returning
// -1 if no complete message is buffered yet.
func indexChecksumEnd(buf []byte) int {
	s := string(buf)
	for start := 0; ; {
		pos := indexFrom(s, "10=", start)
		if pos < 0 {
			return -1
		}
		end := pos + 3 + 3 + 1 // tag+'=' (3 bytes) + 3 digits + SOH
		if end > len(s) {
			return -1
		}
		if s[end-1] == '\x01' {
			return end
		}
		start = pos + 3
	}
}

func indexFrom(s, substr string, from int) int {
	if from >= len(s) {
		return -1
	}
	idx := indexOf(s[from:], substr)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func (s *Session) handleIncoming(msg Message) {
	if !msg.ValidateChecksum() {
		return
	}

	expected := int(s.seqIn.Load())
	received := msg.SeqNum()

	if !msg.Type.isAdminMessage() {
		switch {
		case received > expected:
			// Out-of-sequence: keep the message, don't apply it yet, and
			// ask the counterparty to replay the gap (S4).
			s.bufferPending(received, msg)
			s.handleSequenceGap(expected, received)
			return
		case received < expected:
			s.handleLowSequence(msg, expected, received)
			return
		default:
			s.seqIn.Add(1)
			s.applyMessage(msg)
			s.drainPending()
		}
	} else {
		s.applyMessage(msg)
	}

	s.lastHeartbeatRecv.Store(time.Now().UnixNano())
	s.testRequestPending.Store(false)
}

// applyMessage runs the session/application-level handling for msg once
// sequencing has already cleared it (in-order, admin, or drained from the
// pending buffer).
func (s *Session) applyMessage(msg Message) {
	switch msg.Type {
	case MsgLogon:
		s.setState(model.FIXLoggedIn)
	case MsgLogout:
		_ = s.Disconnect()
	case MsgHeartbeat:
	case MsgTestRequest:
		testReqID, _ := msg.Field(TagTestReqID)
		_ = s.send(NewHeartbeat(s.cfg.SenderCompID, s.cfg.TargetCompID, s.nextSeqOut(), testReqID))
	case MsgResendRequest:
		s.handleResendRequest(msg)
	case MsgSequenceReset:
		if newSeqStr, ok := msg.Field(TagNewSeqNo); ok {
			if n, err := strconv.Atoi(newSeqStr); err == nil {
				s.seqIn.Store(int64(n))
				s.drainPending()
			}
		}
	case MsgReject:
		// Surfaced to the adapter via the incoming channel below; the
		// session layer itself only logs via the caller's diagnostics.
		select {
		case s.incoming <- msg:
		default:
		}
	default:
		select {
		case s.incoming <- msg:
		default:
		}
	}
}

// bufferPending stashes an application message that arrived ahead of seqIn,
// to be applied once earlier messages fill in (§4.3 S4).
func (s *Session) bufferPending(seq int, msg Message) {
	s.pendingMu.Lock()
	s.pending[seq] = msg
	s.pendingMu.Unlock()
}

// drainPending applies any buffered messages that are now next in line,
// advancing seqIn as each is consumed.
func (s *Session) drainPending() {
	for {
		next := int(s.seqIn.Load())
		s.pendingMu.Lock()
		msg, ok := s.pending[next]
		if ok {
			delete(s.pending, next)
		}
		s.pendingMu.Unlock()
		if !ok {
			return
		}
		s.seqIn.Add(1)
		s.applyMessage(msg)
	}
}

// handleLowSequence implements the "received < expected" branch of §4.3: a
// PossDupFlag=Y message is a legitimate resend of something already
// processed and is silently ignored; without it, the sequence is corrupt
// and the session must reject and log out rather than keep trusting the
// counterparty's numbering.
func (s *Session) handleLowSequence(msg Message, expected, received int) {
	if dup, _ := msg.Field(TagPossDupFlag); dup == "Y" {
		return
	}
	_ = s.send(NewReject(s.cfg.SenderCompID, s.cfg.TargetCompID, s.nextSeqOut(), received,
		fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d without PossDupFlag", expected, received)))
	_ = s.send(NewLogout(s.cfg.SenderCompID, s.cfg.TargetCompID, s.nextSeqOut(), "sequence integrity violation"))
	s.setState(model.FIXLogoutSent)
	go func() { _ = s.Disconnect() }()
}

// handleSequenceGap asks the counterparty to replay [expected, received-1]
// when we're behind (§4.3, §6 Open Question: full ResendRequest semantics).
func (s *Session) handleSequenceGap(expected, received int) {
	seq := s.nextSeqOut()
	_ = s.send(NewResendRequest(s.cfg.SenderCompID, s.cfg.TargetCompID, seq, expected, received-1))
}

// handleResendRequest replays every stored application message in range,
// and closes any admin-message-only gaps with SequenceReset-GapFill instead
// of replaying session-level noise (§4 Supplemented features).
func (s *Session) handleResendRequest(msg Message) {
	beginStr, _ := msg.Field(TagBeginSeqNo)
	endStr, _ := msg.Field(TagEndSeqNo)
	begin, _ := strconv.Atoi(beginStr)
	end, _ := strconv.Atoi(endStr)

	s.storeMu.Lock()
	var toReplay []storedMessage
	for _, sm := range s.sent {
		if sm.seq >= begin && (end == 0 || sm.seq <= end) {
			toReplay = append(toReplay, sm)
		}
	}
	s.storeMu.Unlock()

	if len(toReplay) == 0 {
		newSeq := end + 1
		if newSeq <= begin {
			newSeq = begin + 1
		}
		seq := s.nextSeqOut()
		_ = s.send(NewSequenceResetGapFill(s.cfg.SenderCompID, s.cfg.TargetCompID, seq, newSeq))
		return
	}
	next := begin
	for _, sm := range toReplay {
		if sm.seq > next {
			_ = s.send(NewSequenceResetGapFill(s.cfg.SenderCompID, s.cfg.TargetCompID, s.nextSeqOut(), sm.seq))
		}
		_ = s.send(sm.msg)
		next = sm.seq + 1
	}
	if end >= next {
		_ = s.send(NewSequenceResetGapFill(s.cfg.SenderCompID, s.cfg.TargetCompID, s.nextSeqOut(), end+1))
	}
}

// heartbeatLoop sends our own heartbeats on schedule and watches for
// counterparty silence. Past 2*HeartbeatInterval with no inbound message it
// sends exactly one TestRequest (§8); if that also goes unanswered for
// TestRequestDelay, the session is declared failed and handed to the
// reconnect loop rather than left sending TestRequests forever.
func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			lastSent := s.lastHeartbeatSent.Load()
			if lastSent == 0 || time.Since(time.Unix(0, lastSent)) >= s.cfg.HeartbeatInterval {
				seq := s.nextSeqOut()
				if err := s.send(NewHeartbeat(s.cfg.SenderCompID, s.cfg.TargetCompID, seq, "")); err != nil {
					return
				}
			}

			lastRecv := s.lastHeartbeatRecv.Load()
			if lastRecv == 0 {
				continue
			}
			silence := time.Since(time.Unix(0, lastRecv))

			switch {
			case s.testRequestPending.Load():
				sentAt := s.testRequestSentAt.Load()
				if time.Since(time.Unix(0, sentAt)) >= s.cfg.TestRequestDelay {
					s.failSession(ctx)
					return
				}
			case silence >= 2*s.cfg.HeartbeatInterval:
				seq := s.nextSeqOut()
				testReqID := strconv.FormatInt(time.Now().UnixNano(), 10)
				if err := s.send(NewTestRequest(s.cfg.SenderCompID, s.cfg.TargetCompID, seq, testReqID)); err == nil {
					s.testRequestPending.Store(true)
					s.testRequestSentAt.Store(time.Now().UnixNano())
				}
			}
		}
	}
}

// failSession marks the session Reconnecting, closes the stale transport so
// any goroutine blocked reading it unblocks, and starts the reconnect loop.
// Idempotent per connection generation (Connect resets failOnce).
func (s *Session) failSession(ctx context.Context) {
	s.failOnce.Do(func() {
		s.setState(model.FIXReconnecting)
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn != nil {
			_ = conn.Close()
		}
		go s.reconnectLoop(ctx)
	})
}

// reconnectLoop redials and re-logs-on with exponential backoff (initial 1s,
// cap 30s, x2, max 5 attempts per §4.3). With no Dialer configured, or once
// attempts are exhausted, the session settles into Disconnected rather than
// retrying forever.
func (s *Session) reconnectLoop(ctx context.Context) {
	if s.cfg.Dialer == nil {
		s.setState(model.FIXDisconnected)
		return
	}

	backoff := s.cfg.ReconnectBaseBackoff
	for attempt := 1; attempt <= s.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-time.After(backoff):
		}

		conn, err := s.cfg.Dialer(ctx)
		if err == nil {
			if err = s.Connect(ctx, conn); err == nil {
				return
			}
		}

		backoff *= 2
		if backoff > s.cfg.ReconnectMaxBackoff {
			backoff = s.cfg.ReconnectMaxBackoff
		}
	}
	s.setState(model.FIXDisconnected)
}
