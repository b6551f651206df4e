// Package discovery implements the Discovery component from spec §4.3: it
// owns the shared datagram socket, announces this node periodically by
// broadcast, answers and issues echo traffic, and feeds the PeerTable.
// Messaging borrows the socket this package creates (spec §9, "Discovery /
// Messaging socket coupling") and runs the actual receive loop, forwarding
// echo-request and echo-reply frames back into the HandleEchoRequest and
// HandleEchoReply methods below.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/DJSixHub/Proyecto-de-Redes/internal/slogutil"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/lcpproto"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/peertable"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/store"
)

var l = slogutil.Facility("discovery")

const (
	// BroadcastInterval is spec §4.3's BROADCAST_INTERVAL.
	BroadcastInterval = 1 * time.Second
	// PersistenceInterval is the period of the persistence loop in §4.3.
	PersistenceInterval = 5 * time.Second

	// forceDiscoverBurst bounds how many ForceDiscover calls in quick
	// succession still produce an immediate broadcast; spec.md does not
	// mandate a limiter, but an unthrottled UI-driven loop would turn it
	// into a broadcast storm, so SPEC_FULL §2 wires x/time/rate here.
	forceDiscoverBurst = 1
)

// Discovery owns the shared UDP socket, the broadcast address, and the
// periodic tasks of §4.3. Its BroadcastLoop and PersistenceLoop methods
// have the func(context.Context) error shape that Engine wraps as
// suture services.
type Discovery struct {
	conn      *net.UDPConn
	port      int
	selfUID   lcpproto.UID
	selfTrim  string
	broadcast *net.UDPAddr
	localAddr []string

	table     *peertable.Table
	peerStore store.PeerStore // nil if none bound

	limiter *rate.Limiter
}

// New binds the shared datagram socket and constructs a Discovery. bindIP
// and broadcastIP come from selectInterface (or a caller-supplied
// override); localAddrs is the full set of this host's addresses used for
// self-filtering.
func New(selfUID lcpproto.UID, port int, bindIP, broadcastIP net.IP, localAddrs []string, table *peertable.Table, peerStore store.PeerStore) (*Discovery, error) {
	conn, err := bindSocket(bindIP, port)
	if err != nil {
		l.Warn("falling back to 0.0.0.0 after bind failure", slogError(err))
		conn, err = bindSocket(net.IPv4zero, port)
		if err != nil {
			return nil, fmt.Errorf("discovery: bind: %w", err)
		}
	}

	return &Discovery{
		conn:      conn,
		port:      port,
		selfUID:   selfUID,
		selfTrim:  selfUID.Trimmed(),
		broadcast: &net.UDPAddr{IP: broadcastIP, Port: port},
		localAddr: localAddrs,
		table:     table,
		peerStore: peerStore,
		limiter:   rate.NewLimiter(rate.Every(BroadcastInterval), forceDiscoverBurst),
	}, nil
}

func slogError(err error) slog.Attr { return slog.Any("error", err) }

// bindSocket opens the UDP socket with address-reuse and broadcast
// permission set, per spec §4.3. Neither option has a net package
// accessor, so this is one of the rare stdlib-only corners of the repo
// (see DESIGN.md): it reaches for syscall.SetsockoptInt directly.
func bindSocket(ip net.IP, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if sockErr == nil {
					sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("%s:%d", ip.String(), port))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// Conn exposes the shared socket so Messaging can run the receive loop and
// send header/body datagrams over the same underlying connection.
func (d *Discovery) Conn() *net.UDPConn { return d.conn }

// LocalAddrs returns the full set of this host's IPv4 addresses.
func (d *Discovery) LocalAddrs() []string { return d.localAddr }

// Close closes the shared socket, which unblocks Messaging's receive loop
// with an error it interprets as shutdown (spec §5, "Cancellation").
func (d *Discovery) Close() error { return d.conn.Close() }

// isLocal reports whether addr (host only, no port) belongs to this host.
func (d *Discovery) isLocal(addr string) bool {
	for _, a := range d.localAddr {
		if a == addr {
			return true
		}
	}
	return false
}

func (d *Discovery) sendEcho(to *net.UDPAddr) {
	b, err := lcpproto.PackHeader(d.selfUID, lcpproto.Broadcast, lcpproto.OpEcho, 0, 0)
	if err != nil {
		l.Error("pack echo header", slogError(err))
		return
	}
	if _, err := d.conn.WriteToUDP(b, to); err != nil {
		l.Debug("send echo failed", slogError(err))
		return
	}
	metricBroadcastsSent.Inc()
}

// BroadcastLoop sends an echo-request to the broadcast address every
// BroadcastInterval. It is a suture.Service.
func (d *Discovery) BroadcastLoop(ctx context.Context) error {
	t := time.NewTicker(BroadcastInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.sendEcho(d.broadcast)
		}
	}
}

// ForceDiscover sends one immediate broadcast outside the periodic loop,
// rate-limited so a caller spinning on it can't flood the LAN.
func (d *Discovery) ForceDiscover() {
	if !d.limiter.Allow() {
		l.Debug("ForceDiscover rate-limited")
		return
	}
	d.sendEcho(d.broadcast)
}

// HandleEchoRequest processes an inbound opcode-0 header addressed to the
// broadcast UID, per spec §4.3. fromUID is the sender identifier as
// carried in the header (padded; it is trimmed here before comparison and
// storage); fromAddr is the sender's datagram address, whose host part is
// used.
func (d *Discovery) HandleEchoRequest(fromUID lcpproto.UID, fromAddr *net.UDPAddr, now time.Time) {
	metricEchoesSeen.Inc()
	host := fromAddr.IP.String()
	trimmed := fromUID.Trimmed()
	if d.isLocal(host) || trimmed == d.selfTrim {
		return
	}

	resp, err := lcpproto.PackResponse(lcpproto.StatusOK, d.selfUID)
	if err != nil {
		l.Error("pack echo response", slogError(err))
		return
	}
	if _, err := d.conn.WriteToUDP(resp, fromAddr); err != nil {
		l.Debug("send echo response failed", slogError(err))
	}

	d.table.Upsert(trimmed, host, now)
}

// HandleEchoReply processes a 25-byte response frame the receive loop
// could not match to an outstanding AckRegistry waiter, per spec §4.3/§4.5.
func (d *Discovery) HandleEchoReply(resp lcpproto.Response, fromAddr *net.UDPAddr, now time.Time) {
	metricEchoesSeen.Inc()
	host := fromAddr.IP.String()
	trimmed := resp.Responder.Trimmed()
	if resp.Status != lcpproto.StatusOK || d.isLocal(host) || trimmed == d.selfTrim {
		return
	}
	d.table.Upsert(trimmed, host, now)
}

// PersistenceLoop snapshots the PeerTable every PersistenceInterval,
// updates the online/offline peer gauges, and hands an annotated copy to
// the bound PeerStore, per spec §4.3. The gauge update runs even with no
// PeerStore bound; only the save is skipped.
func (d *Discovery) PersistenceLoop(ctx context.Context) error {
	t := time.NewTicker(PersistenceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.persistOnce()
		}
	}
}

func (d *Discovery) persistOnce() {
	now := time.Now()
	online, offline := d.table.Classify(now)
	metricOnlinePeers.Set(float64(len(online)))
	metricOfflinePeers.Set(float64(len(offline)))

	if d.peerStore == nil {
		return
	}

	out := make(map[string]store.PeerRecord, len(online)+len(offline))
	for _, rec := range online {
		out[rec.UID] = store.PeerRecord{UID: rec.UID, Address: rec.Address, LastSeen: rec.LastSeen, Status: store.PeerConnected}
	}
	for _, rec := range offline {
		out[rec.UID] = store.PeerRecord{UID: rec.UID, Address: rec.Address, LastSeen: rec.LastSeen, Status: store.PeerDisconnected}
	}

	if err := d.peerStore.Save(out); err != nil {
		l.Warn("peer store save failed", slogError(err))
	}
}
