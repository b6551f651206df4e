package messaging

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
	"unicode/utf8"

	"github.com/rs/xid"

	"github.com/DJSixHub/Proyecto-de-Redes/lib/lcpproto"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/store"
)

// fileBodyFixedPrefix is the width, in bytes, of the 8-byte body id plus
// the 2-byte filename length that precede the filename and payload on the
// stream socket (spec §6, "File body").
const fileBodyFixedPrefix = lcpproto.MessageIDSize + 2

// maxFilenameLen bounds a claimed filename length even when it would
// otherwise fit within the announced body length (spec §4.7 step 4).
const maxFilenameLen = 64 * 1024

// SendFile implements spec §4.7: announce over datagram, then stream the
// file body over a dedicated TCP connection.
func (m *Messaging) SendFile(recipientUID string, fileBytes []byte, filename string, timeout time.Duration) error {
	mu := m.destLock(recipientUID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok := m.table.Get(recipientUID)
	if !ok {
		return &SendError{Peer: recipientUID, Step: "lookup", Err: ErrUnknownPeer}
	}

	filenameBytes := []byte(filename)
	if len(filenameBytes) > 0xFFFF {
		return &SendError{Peer: recipientUID, Step: "announce", Err: ErrBadFileName}
	}
	bodyID := m.nextBodyID()

	body := make([]byte, 0, fileBodyFixedPrefix+len(filenameBytes)+len(fileBytes))
	body = append(body, lcpproto.FileBodyPrefix(uint64(bodyID), uint16(len(filenameBytes)))...)
	body = append(body, filenameBytes...)
	body = append(body, fileBytes...)

	addr := &net.UDPAddr{IP: net.ParseIP(rec.Address), Port: m.udpPort}
	header, err := lcpproto.PackHeader(m.selfUID, lcpproto.NewUID(recipientUID), lcpproto.OpFile, bodyID, uint64(len(body)))
	if err != nil {
		return &SendError{Peer: recipientUID, Step: "announce", Err: err}
	}
	if err := m.sendAndAwaitAck(recipientUID, header, addr, timeout, DefaultRetries, "announce"); err != nil {
		return err
	}

	// Spec §9 notes a robust design would have the receiver arm its
	// acceptor before ACKing the announce instead of sleeping here; we
	// follow the sender-side sleep the spec describes directly.
	time.Sleep(announceSleep)

	correlation := xid.New().String()
	log := l.With("correlation", correlation, "peer", recipientUID)

	streamAddr := fmt.Sprintf("%s:%d", rec.Address, m.tcpPort)
	conn, err := net.Dial("tcp4", streamAddr)
	if err != nil {
		return &SendError{Peer: recipientUID, Step: "stream", Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetWriteBuffer(SockBuf)
	}

	log.Debug("streaming file body", slog.Int("bytes", len(body)))
	for off := 0; off < len(body); off += StreamChunk {
		end := off + StreamChunk
		if end > len(body) {
			end = len(body)
		}
		if _, err := conn.Write(body[off:end]); err != nil {
			return &SendError{Peer: recipientUID, Step: "stream", Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
		}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(bodyReadTimeout))
	respBuf := make([]byte, lcpproto.ResponseSize)
	if _, err := io.ReadFull(conn, respBuf); err != nil {
		return &SendError{Peer: recipientUID, Step: "final-response", Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	resp, err := lcpproto.UnpackResponse(respBuf)
	if err != nil {
		return &SendError{Peer: recipientUID, Step: "final-response", Err: ErrBadFrame}
	}

	switch resp.Status {
	case lcpproto.StatusOK:
		metricFilesSent.Inc()
		metricFileBytesSent.Add(float64(len(fileBytes)))
		return nil
	case lcpproto.StatusBadRequest:
		log.Info("remote already holds this file content")
		return ErrAlreadyExists
	case lcpproto.StatusInternalError:
		return &SendError{Peer: recipientUID, Step: "final-response", Err: ErrRemoteError}
	default:
		return &SendError{Peer: recipientUID, Step: "final-response", Err: ErrBadFrame}
	}
}

// StreamAcceptLoop binds the stream socket and spawns one handler per
// accepted connection (spec §4.7 "Stream-accept loop"). It is a
// suture.Service.
func (m *Messaging) StreamAcceptLoop(ctx context.Context) error {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", m.tcpPort))
	if err != nil {
		return fmt.Errorf("messaging: stream listen: %w", err)
	}
	m.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("messaging: stream accept: %w", err)
			}
		}
		go m.handleInboundFile(conn)
	}
}

// writeFinalResponse packs and writes the terminating response of an
// inbound file transfer.
func (m *Messaging) writeFinalResponse(conn net.Conn, status lcpproto.Status) {
	resp, err := lcpproto.PackResponse(status, m.selfUID)
	if err != nil {
		l.Error("pack final response", slog.Any("error", err))
		return
	}
	if _, err := conn.Write(resp); err != nil {
		l.Debug("write final response failed", slog.Any("error", err))
	}
}

// handleInboundFile implements spec §4.7's "Inbound file handler".
func (m *Messaging) handleInboundFile(conn net.Conn) {
	correlation := xid.New().String()
	remote := conn.RemoteAddr().String()
	log := l.With("correlation", correlation, "remote", remote)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(PendingFileTTL))

	prefix := make([]byte, lcpproto.MessageIDSize)
	if _, err := io.ReadFull(conn, prefix); err != nil {
		log.Debug("failed to read body id", slog.Any("error", err))
		return
	}
	bodyID := byte(binary.BigEndian.Uint64(prefix))

	pf, ok := m.pending.Get(bodyID)
	if !ok {
		m.writeFinalResponse(conn, lcpproto.StatusInternalError)
		log.Debug("no pending announce for body id", slog.Int("body_id", int(bodyID)))
		return
	}
	m.pending.Remove(bodyID)

	expected, known := m.table.Get(pf.senderUID)
	remoteHost, _, _ := net.SplitHostPort(remote)
	if !known || expected.Address != remoteHost {
		m.writeFinalResponse(conn, lcpproto.StatusInternalError)
		log.Warn("stream peer address did not match announced sender", slog.String("sender", pf.senderUID))
		return
	}

	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		m.writeFinalResponse(conn, lcpproto.StatusInternalError)
		return
	}
	claimedLen := binary.BigEndian.Uint16(lenBuf)

	if pf.bodyLength < fileBodyFixedPrefix {
		m.writeFinalResponse(conn, lcpproto.StatusInternalError)
		return
	}
	remaining := pf.bodyLength - fileBodyFixedPrefix

	var filename string
	filenameLen := uint64(claimedLen)
	if filenameLen > remaining || filenameLen > maxFilenameLen {
		filename = fmt.Sprintf("archivo_%d.bin", bodyID)
		filenameLen = 0
	} else if filenameLen > 0 {
		nameBuf := make([]byte, filenameLen)
		if _, err := io.ReadFull(conn, nameBuf); err != nil {
			m.writeFinalResponse(conn, lcpproto.StatusInternalError)
			return
		}
		if !utf8.Valid(nameBuf) {
			filename = fmt.Sprintf("archivo_%d.bin", bodyID)
		} else {
			filename = string(nameBuf)
		}
	}

	payloadLen := remaining - filenameLen
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		log.Warn("truncated file payload", slog.Any("error", err))
		m.writeFinalResponse(conn, lcpproto.StatusInternalError)
		return
	}

	now := time.Now()
	hash := store.Sha256Hex(payload)
	var duplicate bool
	if m.history != nil {
		if dup, err := m.history.HasFileContent(pf.senderUID, hash); err == nil {
			duplicate = dup
		}
		if err := m.history.AppendFile(pf.senderUID, m.selfUID.Trimmed(), filename, now, hash); err != nil {
			log.Warn("append file history failed", slog.Any("error", err))
		}
	}

	metricFilesReceived.Inc()
	metricFileBytesRecv.Add(float64(len(payload)))
	if m.onFile != nil {
		m.onFile(pf.senderUID, filename, payload, now)
	}

	if duplicate {
		m.writeFinalResponse(conn, lcpproto.StatusBadRequest)
		return
	}
	m.writeFinalResponse(conn, lcpproto.StatusOK)
}

// JanitorLoop periodically touches the pending-files cache so entries
// older than PendingFileTTL are pruned even for body ids that are never
// looked up again (spec §4.7, "A janitor task removes pending-files
// entries older than 30 seconds").
func (m *Messaging) JanitorLoop(ctx context.Context) error {
	t := time.NewTicker(PendingFileTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.pending.Keys()
		}
	}
}
