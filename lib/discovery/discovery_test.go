package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/DJSixHub/Proyecto-de-Redes/lib/lcpproto"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/peertable"
)

func newTestDiscovery(t *testing.T, selfUID string, localAddrs []string) *Discovery {
	t.Helper()
	table := peertable.New(selfUID, localAddrs)
	d, err := New(lcpproto.NewUID(selfUID), 0, net.IPv4(127, 0, 0, 1), net.IPv4(127, 255, 255, 255), localAddrs, table, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestHandleEchoRequestUpsertsAndReplies(t *testing.T) {
	// 127.0.0.1 is left out of the local-address set so that the loopback
	// client below counts as a remote peer rather than being self-filtered.
	d := newTestDiscovery(t, "alice", []string{"10.0.0.1"})

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("client listen: %v", err)
	}
	defer client.Close()

	clientAddr := client.LocalAddr().(*net.UDPAddr)
	fromAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: clientAddr.Port}

	d.HandleEchoRequest(lcpproto.NewUID("bob"), fromAddr, time.Now())

	rec, ok := d.table.Get("bob")
	if !ok {
		t.Fatal("expected bob to be upserted")
	}
	if rec.Address != "127.0.0.1" {
		t.Fatalf("unexpected address: %q", rec.Address)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, lcpproto.ResponseSize)
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a response datagram: %v", err)
	}
	resp, err := lcpproto.UnpackResponse(buf[:n])
	if err != nil {
		t.Fatalf("unpack response: %v", err)
	}
	if resp.Status != lcpproto.StatusOK {
		t.Fatalf("expected status OK, got %v", resp.Status)
	}
}

func TestHandleEchoRequestDropsLocalAddress(t *testing.T) {
	d := newTestDiscovery(t, "alice", []string{"127.0.0.1"})
	d.HandleEchoRequest(lcpproto.NewUID("bob"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}, time.Now())
	if _, ok := d.table.Get("bob"); ok {
		t.Fatal("expected a local-address echo to be dropped")
	}
}

func TestHandleEchoRequestDropsSelfUID(t *testing.T) {
	d := newTestDiscovery(t, "alice", []string{"127.0.0.1"})
	d.HandleEchoRequest(lcpproto.NewUID("alice"), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 4000}, time.Now())
	if _, ok := d.table.Get("alice"); ok {
		t.Fatal("local UID must never be stored, even from a non-local address")
	}
}

func TestHandleEchoReplyUpsertsOnSuccess(t *testing.T) {
	d := newTestDiscovery(t, "alice", []string{"127.0.0.1"})
	resp := lcpproto.Response{Status: lcpproto.StatusOK, Responder: lcpproto.NewUID("bob")}
	d.HandleEchoReply(resp, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 4000}, time.Now())
	if _, ok := d.table.Get("bob"); !ok {
		t.Fatal("expected bob to be upserted from a successful echo-reply")
	}
}

func TestHandleEchoReplyDropsNonOK(t *testing.T) {
	d := newTestDiscovery(t, "alice", []string{"127.0.0.1"})
	resp := lcpproto.Response{Status: lcpproto.StatusBadRequest, Responder: lcpproto.NewUID("bob")}
	d.HandleEchoReply(resp, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 4000}, time.Now())
	if _, ok := d.table.Get("bob"); ok {
		t.Fatal("a non-OK echo-reply must not upsert")
	}
}

func TestForceDiscoverIsRateLimited(t *testing.T) {
	d := newTestDiscovery(t, "alice", []string{"127.0.0.1"})
	// Should not panic or block when called rapidly; the first call takes
	// the limiter's only token and the second is absorbed by the limiter.
	d.ForceDiscover()
	d.ForceDiscover()
	if d.limiter.Allow() {
		t.Fatal("expected the limiter to have no token left right after ForceDiscover")
	}
}
