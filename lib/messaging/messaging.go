// Package messaging implements the Messaging component from spec §4.5–4.7:
// the shared receive loop, the two-phase datagram handshake for text, and
// the datagram-announce-plus-stream-transfer protocol for files.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/DJSixHub/Proyecto-de-Redes/internal/slogutil"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/ackregistry"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/lcpproto"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/peertable"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/store"
)

var l = slogutil.Facility("messaging")

// Timing and sizing constants from spec §6.
const (
	DefaultSendTimeout = 5 * time.Second
	DefaultRetries     = 3
	PendingFileTTL     = 30 * time.Second
	StreamChunk        = 32 * 1024
	SockBuf            = 256 * 1024
	bodyReadTimeout    = 5 * time.Second
	announceSleep      = 500 * time.Millisecond

	// dedupTTL is "≥ 3 × DEFAULT_SEND_TIMEOUT", spec §9 "at-most-once delivery".
	dedupTTL = 3 * DefaultSendTimeout

	// MaxMessageBodyLength bounds an announced text message body (spec §7
	// crash-safety ceiling). A message body always arrives as a single UDP
	// datagram, so nothing legitimate can ever approach this; it exists to
	// reject a forged header before a receive buffer is sized from it.
	MaxMessageBodyLength = 64 * 1024

	// MaxFileBodyLength bounds an announced file body (spec §7 crash-safety
	// ceiling). Generous enough for any transfer this node is expected to
	// carry, finite enough that a forged announce can't force an
	// arbitrarily large allocation.
	MaxFileBodyLength = 4 << 30 // 4 GiB
)

// MessageCallback is invoked on every accepted inbound text message.
type MessageCallback func(senderUID string, payload []byte, at time.Time)

// FileCallback is invoked on every accepted inbound file transfer.
type FileCallback func(senderUID, filename string, payload []byte, at time.Time)

// pendingFile is a file-announce header awaiting its stream transfer.
type pendingFile struct {
	senderUID  string
	bodyLength uint64
}

// dedupKey identifies one (sender, body_id) delivery for the at-most-once
// cache described in spec §9.
type dedupKey struct {
	sender string
	bodyID byte
}

// Messaging ties together the shared datagram socket (borrowed from
// Discovery), the stream socket it owns for file transfer, the
// AckRegistry, and the PeerTable.
type Messaging struct {
	conn    *net.UDPConn // shared with Discovery; Messaging is the sole reader
	udpPort int
	tcpPort int
	selfUID lcpproto.UID
	table   *peertable.Table
	acks    *ackregistry.Registry
	history store.HistoryStore

	onMessage MessageCallback
	onFile    FileCallback

	bodyIDCounter atomic.Uint32

	destLocksMu sync.Mutex
	destLocks   map[string]*sync.Mutex // per-recipient serialisation, spec §9

	pending *lru.LRU[byte, pendingFile]
	dedup   *lru.LRU[dedupKey, struct{}]

	discoveryEcho  func(fromUID lcpproto.UID, fromAddr *net.UDPAddr, now time.Time)
	discoveryReply func(resp lcpproto.Response, fromAddr *net.UDPAddr, now time.Time)

	listener net.Listener // bound lazily by StreamAcceptLoop
}

// New constructs a Messaging instance over the shared datagram conn.
// onEcho/onReply are Discovery's HandleEchoRequest/HandleEchoReply,
// wired in by Engine so the single receive loop can dispatch to them
// without Messaging importing Discovery (spec §9 "socket coupling").
func New(
	conn *net.UDPConn,
	udpPort, tcpPort int,
	selfUID lcpproto.UID,
	table *peertable.Table,
	acks *ackregistry.Registry,
	history store.HistoryStore,
	onMessage MessageCallback,
	onFile FileCallback,
	onEcho func(fromUID lcpproto.UID, fromAddr *net.UDPAddr, now time.Time),
	onReply func(resp lcpproto.Response, fromAddr *net.UDPAddr, now time.Time),
) *Messaging {
	return &Messaging{
		conn:           conn,
		udpPort:        udpPort,
		tcpPort:        tcpPort,
		selfUID:        selfUID,
		table:          table,
		acks:           acks,
		history:        history,
		onMessage:      onMessage,
		onFile:         onFile,
		destLocks:      make(map[string]*sync.Mutex),
		pending:        lru.NewLRU[byte, pendingFile](256, nil, PendingFileTTL),
		dedup:          lru.NewLRU[dedupKey, struct{}](4096, nil, dedupTTL),
		discoveryEcho:  onEcho,
		discoveryReply: onReply,
	}
}

func (m *Messaging) destLock(uid string) *sync.Mutex {
	m.destLocksMu.Lock()
	defer m.destLocksMu.Unlock()
	mu, ok := m.destLocks[uid]
	if !ok {
		mu = &sync.Mutex{}
		m.destLocks[uid] = mu
	}
	return mu
}

func (m *Messaging) nextBodyID() byte {
	return byte(m.bodyIDCounter.Add(1) % 256)
}

// ReceiveLoop is the single reader of the shared datagram socket (spec
// §4.5, §9 "shared datagram socket with concurrent waiters"). It is a
// suture.Service.
func (m *Messaging) ReceiveLoop(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("messaging: receive loop: %w", err)
		}
		m.dispatch(buf[:n], addr)
	}
}

// dispatch classifies one datagram per the §4.5 table and routes it.
func (m *Messaging) dispatch(b []byte, addr *net.UDPAddr) {
	now := time.Now()
	switch {
	case len(b) == lcpproto.ResponseSize:
		resp, err := lcpproto.UnpackResponse(b)
		if err != nil {
			l.Debug("dropping malformed response", slog.Any("error", err))
			return
		}
		trimmed := resp.Responder.Trimmed()
		if resp.Status == lcpproto.StatusOK && m.acks.TrySignal(trimmed) {
			return
		}
		if m.discoveryReply != nil {
			m.discoveryReply(resp, addr, now)
		}

	case len(b) >= lcpproto.HeaderSize:
		h, err := lcpproto.UnpackHeader(b)
		if err != nil {
			l.Debug("dropping malformed header", slog.Any("error", err))
			return
		}
		switch {
		case h.Op == lcpproto.OpEcho && h.To.IsBroadcast():
			if m.discoveryEcho != nil {
				m.discoveryEcho(h.From, addr, now)
			}
		case (h.Op == lcpproto.OpMessage || h.Op == lcpproto.OpFile) && h.To.Trimmed() == m.selfUID.Trimmed():
			m.handleInboundHeader(h, addr, now)
		case h.Op == lcpproto.OpFile && h.To.IsBroadcast():
			// Rejected with status 1 by handleInboundHeader.
			m.handleInboundHeader(h, addr, now)
		default:
			l.Debug("dropping header for unrecognised target", slog.Any("op", h.Op))
		}

	default:
		l.Debug("dropping undersized datagram", slog.Int("length", len(b)))
	}
}

// handleInboundHeader implements spec §4.5 "When a header for self arrives".
func (m *Messaging) handleInboundHeader(h lcpproto.Header, addr *net.UDPAddr, now time.Time) {
	senderUID := h.From.Trimmed()

	if h.Op == lcpproto.OpFile && h.To.IsBroadcast() {
		m.sendResponse(addr, lcpproto.StatusBadRequest)
		return
	}

	if !acceptableBodyLength(h.Op, h.BodyLength) {
		l.Warn("dropping header with implausible body_length",
			slog.String("op", h.Op.String()), slog.Uint64("body_length", h.BodyLength))
		return
	}

	m.sendResponse(addr, lcpproto.StatusOK)

	switch h.Op {
	case lcpproto.OpMessage:
		m.receiveMessageBody(h, senderUID, addr, now)
	case lcpproto.OpFile:
		m.pending.Add(h.BodyID, pendingFile{senderUID: senderUID, bodyLength: h.BodyLength})
	}
}

// acceptableBodyLength rejects a header whose body_length is too small to
// hold its fixed prefix or large enough to make the allocation it drives
// (receiveMessageBody's datagram buffer, handleInboundFile's payload
// buffer) a denial-of-service vector (spec §7, "a crash-safe receive loop
// is mandatory"). body_length is attacker-controlled: it arrives verbatim
// on the wire with no other validation.
func acceptableBodyLength(op lcpproto.Op, bodyLength uint64) bool {
	switch op {
	case lcpproto.OpMessage:
		return bodyLength >= lcpproto.MessageIDSize && bodyLength <= MaxMessageBodyLength
	case lcpproto.OpFile:
		return bodyLength >= fileBodyFixedPrefix && bodyLength <= MaxFileBodyLength
	default:
		return true
	}
}

func (m *Messaging) sendResponse(addr *net.UDPAddr, status lcpproto.Status) {
	resp, err := lcpproto.PackResponse(status, m.selfUID)
	if err != nil {
		l.Error("pack response", slog.Any("error", err))
		return
	}
	if _, err := m.conn.WriteToUDP(resp, addr); err != nil {
		l.Debug("send response failed", slog.Any("error", err))
	}
}

// receiveMessageBody reads the body datagram that follows a message
// header on the same socket (spec §4.5 step 2). Because ReceiveLoop is
// the socket's sole reader, it reads the body inline rather than issuing
// a second recv from another goroutine (spec §9).
func (m *Messaging) receiveMessageBody(h lcpproto.Header, senderUID string, addr *net.UDPAddr, now time.Time) {
	m.conn.SetReadDeadline(time.Now().Add(bodyReadTimeout))
	buf := make([]byte, h.BodyLength)
	n, bodyAddr, err := m.conn.ReadFromUDP(buf)
	if err != nil {
		l.Debug("timed out waiting for message body", slog.Any("error", err))
		return
	}

	messageID, payload, err := lcpproto.UnpackMessageBody(buf[:n])
	if err != nil {
		l.Debug("malformed message body", slog.Any("error", err))
		return
	}
	if byte(messageID) != h.BodyID {
		l.Warn("message body id mismatch", slog.Int("header_body_id", int(h.BodyID)), slog.Uint64("body_message_id", messageID))
	}

	m.sendResponse(bodyAddr, lcpproto.StatusOK)

	key := dedupKey{sender: senderUID, bodyID: h.BodyID}
	if _, seen := m.dedup.Get(key); seen {
		return
	}
	m.dedup.Add(key, struct{}{})

	if m.history != nil {
		if err := m.history.AppendMessage(senderUID, m.selfUID.Trimmed(), string(payload), now); err != nil {
			l.Warn("append message history failed", slog.Any("error", err))
		}
	}
	metricMessagesReceived.Inc()
	if m.onMessage != nil {
		m.onMessage(senderUID, payload, now)
	}
}

// Send implements spec §4.6: a two-phase (header then body) ACK-and-retry
// datagram handshake. Overlapping sends to the same peer are serialised
// per spec §9.
func (m *Messaging) Send(recipientUID string, payload []byte, timeout time.Duration, retries int) error {
	mu := m.destLock(recipientUID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok := m.table.Get(recipientUID)
	if !ok {
		return &SendError{Peer: recipientUID, Step: "lookup", Err: ErrUnknownPeer}
	}
	addr := &net.UDPAddr{IP: net.ParseIP(rec.Address), Port: m.udpPort}
	bodyID := m.nextBodyID()

	header, err := lcpproto.PackHeader(m.selfUID, lcpproto.NewUID(recipientUID), lcpproto.OpMessage, bodyID, uint64(lcpproto.MessageIDSize+len(payload)))
	if err != nil {
		return &SendError{Peer: recipientUID, Step: "header", Err: err}
	}
	if err := m.sendAndAwaitAck(recipientUID, header, addr, timeout, retries, "header"); err != nil {
		return err
	}

	body := lcpproto.PackMessageBody(uint64(bodyID), payload)
	if err := m.sendAndAwaitAck(recipientUID, body, addr, timeout, retries, "body"); err != nil {
		return err
	}

	if m.history != nil {
		if err := m.history.AppendMessage(m.selfUID.Trimmed(), recipientUID, string(payload), time.Now()); err != nil {
			l.Warn("append sent message history failed", slog.Any("error", err))
		}
	}
	metricMessagesSent.Inc()
	return nil
}

// sendAndAwaitAck sends datagram to addr and waits, with back-off retries,
// for an ACK observed by ReceiveLoop and relayed via AckRegistry.
func (m *Messaging) sendAndAwaitAck(recipientUID string, datagram []byte, addr *net.UDPAddr, timeout time.Duration, retries int, step string) error {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		waiter := m.acks.Register(recipientUID)
		_, err := m.conn.WriteToUDP(datagram, addr)
		if err != nil {
			m.acks.Cancel(recipientUID)
			lastErr = err
			if attempt == retries-1 {
				return &SendError{Peer: recipientUID, Step: step, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
			}
		} else if waiter.Wait(timeout) {
			m.acks.Cancel(recipientUID)
			return nil
		} else {
			m.acks.Cancel(recipientUID)
			lastErr = ErrAckTimeout
		}

		time.Sleep(time.Duration(float64(attempt+1) * 0.5 * float64(time.Second)))
	}
	if lastErr == nil {
		lastErr = ErrAckTimeout
	}
	if lastErr == ErrAckTimeout {
		metricAckTimeouts.Inc()
	}
	return &SendError{Peer: recipientUID, Step: step, Err: lastErr}
}

// Broadcast sends payload to every currently online peer, suppressing
// per-peer failures (spec §4.6).
func (m *Messaging) Broadcast(payload []byte, timeout time.Duration, retries int) {
	online, _ := m.table.Classify(time.Now())
	for _, rec := range online {
		if err := m.Send(rec.UID, payload, timeout, retries); err != nil {
			l.Warn("broadcast send failed", slog.String("peer", rec.UID), slog.Any("error", err))
		}
	}
}
