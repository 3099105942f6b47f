// Package fix implements a FIX 4.4 session: tag=value SOH framing,
// checksum validation, the Logon/Heartbeat/TestRequest/ResendRequest/
// SequenceReset state machine, and sequence-number discipline with gap
// recovery (§4.3, §6). Grounded in the original engine's dxtrade FIX client,
// translated into an explicit Go state enum plus atomic sequence counters
// rather than the original's async task/channel shape.
package fix

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SOH is the FIX tag=value field separator.
const SOH = "\x01"

// MessageType enumerates the FIX 4.4 message types this session speaks.
// Business message types beyond order entry (market data, positions) are
// included because the original dxtrade client parses them even though
// order routing in this engine goes through the REST/WS adapters, not FIX.
type MessageType string

const (
	MsgHeartbeat                     MessageType = "0"
	MsgTestRequest                   MessageType = "1"
	MsgResendRequest                 MessageType = "2"
	MsgReject                        MessageType = "3"
	MsgSequenceReset                 MessageType = "4"
	MsgLogout                        MessageType = "5"
	MsgLogon                         MessageType = "A"
	MsgNewOrderSingle                MessageType = "D"
	MsgExecutionReport               MessageType = "8"
	MsgOrderCancelReject             MessageType = "9"
	MsgOrderCancelRequest            MessageType = "F"
	MsgOrderCancelReplaceRequest     MessageType = "G"
	MsgOrderStatusRequest            MessageType = "H"
	MsgMarketDataRequest             MessageType = "V"
	MsgMarketDataSnapshotFullRefresh MessageType = "W"
	MsgMarketDataIncrementalRefresh  MessageType = "X"
	MsgMarketDataRequestReject       MessageType = "Y"
	MsgTradingSessionStatus          MessageType = "h"
	MsgTradingSessionStatusRequest   MessageType = "g"
	MsgPositionReport                MessageType = "AP"
	MsgRequestForPositions           MessageType = "AN"
	MsgRequestForPositionsAck        MessageType = "AO"
	MsgBusinessMessageReject         MessageType = "j"
)

// isAdminMessage reports whether t is a session-level (as opposed to
// application-level) message, used to decide GapFill vs. real replay during
// ResendRequest handling (§6).
func (t MessageType) isAdminMessage() bool {
	switch t {
	case MsgHeartbeat, MsgTestRequest, MsgResendRequest, MsgReject, MsgSequenceReset, MsgLogout, MsgLogon:
		return true
	default:
		return false
	}
}

// Common field tags used directly by the session state machine.
const (
	TagBeginString   = 8
	TagBodyLength    = 9
	TagMsgType       = 35
	TagSenderCompID  = 49
	TagTargetCompID  = 56
	TagMsgSeqNum     = 34
	TagSendingTime   = 52
	TagCheckSum      = 10
	TagTestReqID     = 112
	TagBeginSeqNo    = 7
	TagEndSeqNo      = 16
	TagNewSeqNo      = 36
	TagGapFillFlag   = 123
	TagPossDupFlag   = 43
	TagRefSeqNum     = 45
	TagText          = 58
)

// Message is a parsed or about-to-be-built FIX message: a tag->value map
// plus the exact raw bytes (needed for checksum validation and resend
// replay, which must reproduce the bytes byte-for-byte).
type Message struct {
	Type   MessageType
	Fields map[int]string
	Raw    string
}

// Field returns a field value and whether it was present.
func (m Message) Field(tag int) (string, bool) {
	v, ok := m.Fields[tag]
	return v, ok
}

// SeqNum returns MsgSeqNum, or 0 if absent/unparsable.
func (m Message) SeqNum() int {
	v, _ := strconv.Atoi(m.Fields[TagMsgSeqNum])
	return v
}

// Parse splits raw on SOH into a tag=value map, per dxtrade's fix_messages.rs.
func Parse(raw string) (Message, error) {
	fields := make(map[int]string)
	var msgType MessageType
	for _, part := range strings.Split(raw, SOH) {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		tag, err := strconv.Atoi(kv[0])
		if err != nil {
			return Message{}, fmt.Errorf("fix: invalid tag %q", kv[0])
		}
		fields[tag] = kv[1]
		if tag == TagMsgType {
			msgType = MessageType(kv[1])
		}
	}
	return Message{Type: msgType, Fields: fields, Raw: raw}, nil
}

// checksum is message bytes summed mod 256, the FIX 4.4 checksum algorithm.
func checksum(s string) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += int(s[i])
	}
	return sum % 256
}

// ValidateChecksum recomputes the checksum over everything before the
// trailing "10=" field and compares it against the message's own 3-digit
// checksum field.
func (m Message) ValidateChecksum() bool {
	pos := strings.LastIndex(m.Raw, "10=")
	if pos < 0 || pos+6 > len(m.Raw) {
		return false
	}
	expected := checksum(m.Raw[:pos])
	actual, err := strconv.Atoi(m.Raw[pos+3 : pos+6])
	if err != nil {
		return false
	}
	return expected == actual
}

// Builder assembles a Message the way FIXMessageBuilder does: collect
// fields, sort by tag, compute BodyLength and the trailing checksum, and
// render to the exact wire bytes.
type Builder struct {
	senderCompID string
	targetCompID string
	seqNum       int
	fields       map[int]string
}

// NewBuilder seeds the standard header fields (SenderCompID, TargetCompID,
// MsgSeqNum, SendingTime) every message carries.
func NewBuilder(senderCompID, targetCompID string, seqNum int) *Builder {
	b := &Builder{
		senderCompID: senderCompID,
		targetCompID: targetCompID,
		seqNum:       seqNum,
		fields:       make(map[int]string),
	}
	b.fields[TagSenderCompID] = senderCompID
	b.fields[TagTargetCompID] = targetCompID
	b.fields[TagMsgSeqNum] = strconv.Itoa(seqNum)
	b.fields[TagSendingTime] = time.Now().UTC().Format("20060102-15:04:05.000")
	return b
}

// With sets an arbitrary field.
func (b *Builder) With(tag int, value string) *Builder {
	b.fields[tag] = value
	return b
}

// Build renders the final wire message for msgType: BeginString and
// BodyLength are computed, fields are emitted in ascending tag order, and a
// 3-digit modulo-256 checksum is appended last.
func (b *Builder) Build(msgType MessageType) Message {
	b.fields[TagBeginString] = "FIX.4.4"
	b.fields[TagMsgType] = string(msgType)

	tags := make([]int, 0, len(b.fields))
	for t := range b.fields {
		if t == TagBeginString || t == TagBodyLength || t == TagCheckSum {
			continue
		}
		tags = append(tags, t)
	}
	sort.Ints(tags)

	var body strings.Builder
	for _, t := range tags {
		fmt.Fprintf(&body, "%d=%s%s", t, b.fields[t], SOH)
	}

	beginField := fmt.Sprintf("%d=%s%s", TagBeginString, "FIX.4.4", SOH)
	bodyLenField := fmt.Sprintf("%d=%d%s", TagBodyLength, body.Len(), SOH)
	withoutChecksum := beginField + bodyLenField + body.String()
	checksumField := fmt.Sprintf("%d=%03d%s", TagCheckSum, checksum(withoutChecksum), SOH)
	raw := withoutChecksum + checksumField

	out := make(map[int]string, len(b.fields)+1)
	for t, v := range b.fields {
		out[t] = v
	}
	out[TagBodyLength] = strconv.Itoa(body.Len())

	return Message{Type: msgType, Fields: out, Raw: raw}
}

// NewHeartbeat builds a Heartbeat, optionally answering a TestRequest by
// echoing its TestReqID (tag 112) per the spec.
func NewHeartbeat(senderCompID, targetCompID string, seqNum int, testReqID string) Message {
	b := NewBuilder(senderCompID, targetCompID, seqNum)
	if testReqID != "" {
		b.With(TagTestReqID, testReqID)
	}
	return b.Build(MsgHeartbeat)
}

// NewTestRequest builds a TestRequest carrying a fresh TestReqID.
func NewTestRequest(senderCompID, targetCompID string, seqNum int, testReqID string) Message {
	return NewBuilder(senderCompID, targetCompID, seqNum).With(TagTestReqID, testReqID).Build(MsgTestRequest)
}

// NewLogon builds a Logon message. heartBtInt is seconds.
func NewLogon(senderCompID, targetCompID string, seqNum, heartBtInt int) Message {
	return NewBuilder(senderCompID, targetCompID, seqNum).
		With(98, "0").
		With(108, strconv.Itoa(heartBtInt)).
		Build(MsgLogon)
}

// NewLogout builds a Logout message, with an optional human-readable reason.
func NewLogout(senderCompID, targetCompID string, seqNum int, reason string) Message {
	b := NewBuilder(senderCompID, targetCompID, seqNum)
	if reason != "" {
		b.With(TagText, reason)
	}
	return b.Build(MsgLogout)
}

// NewResendRequest asks the counterparty to replay seq nums [begin, end].
// end=0 means "everything from begin onward" per the FIX convention.
func NewResendRequest(senderCompID, targetCompID string, seqNum, begin, end int) Message {
	return NewBuilder(senderCompID, targetCompID, seqNum).
		With(TagBeginSeqNo, strconv.Itoa(begin)).
		With(TagEndSeqNo, strconv.Itoa(end)).
		Build(MsgResendRequest)
}

// NewReject builds a session-level Reject citing the offending MsgSeqNum,
// used when an inbound message fails a sequencing rule (§4.3).
func NewReject(senderCompID, targetCompID string, seqNum, refSeqNum int, text string) Message {
	return NewBuilder(senderCompID, targetCompID, seqNum).
		With(TagRefSeqNum, strconv.Itoa(refSeqNum)).
		With(TagText, text).
		Build(MsgReject)
}

// NewSequenceResetGapFill builds an admin-message gap fill: tells the
// counterparty to treat seq nums up to newSeqNo-1 as skipped rather than
// replayed, used when resend range covers only admin messages (§4.3 Open
// Question: full ResendRequest semantics).
func NewSequenceResetGapFill(senderCompID, targetCompID string, seqNum, newSeqNo int) Message {
	return NewBuilder(senderCompID, targetCompID, seqNum).
		With(TagGapFillFlag, "Y").
		With(TagPossDupFlag, "Y").
		With(TagNewSeqNo, strconv.Itoa(newSeqNo)).
		Build(MsgSequenceReset)
}
