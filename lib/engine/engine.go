// Package engine wires the codec, PeerTable, Discovery, AckRegistry and
// Messaging components into the single start/stop lifecycle spec §2
// describes as "Engine".
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/DJSixHub/Proyecto-de-Redes/internal/slogutil"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/ackregistry"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/discovery"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/lcpproto"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/messaging"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/peertable"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/store"
)

var l = slogutil.Facility("engine")

// serviceFunc adapts a plain function to suture.Service, mirroring the
// teacher's own serviceFunc idiom (cmd/syncthing/summarysvc.go), updated
// to suture v4's context-carrying Serve signature.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }

// Engine is the top-level node: identity, stores, interface selection,
// and the supervised task tree.
type Engine struct {
	cfg     Config
	selfUID lcpproto.UID

	table *peertable.Table
	acks  *ackregistry.Registry

	peerStore   store.PeerStore
	historyStore store.HistoryStore

	discovery *discovery.Discovery
	messaging *messaging.Messaging

	sup *suture.Supervisor
}

// New constructs an Engine. peerStore/historyStore may be nil; onMessage
// and onFile are the application callbacks spec §4.5 and §4.7 describe.
func New(
	cfg Config,
	peerStore store.PeerStore,
	historyStore store.HistoryStore,
	onMessage messaging.MessageCallback,
	onFile messaging.FileCallback,
) (*Engine, error) {
	if cfg.Identity == "" {
		return nil, fmt.Errorf("engine: Config.Identity is required")
	}
	if cfg.UDPPort == 0 {
		cfg.UDPPort = DefaultPort
	}
	if cfg.TCPPort == 0 {
		cfg.TCPPort = DefaultPort
	}

	selfUID := lcpproto.NewUID(cfg.Identity)

	bindIP, broadcastIP, localAddrs, err := discovery.SelectInterface(cfg.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("engine: interface selection: %w", err)
	}

	table := peertable.New(selfUID.Trimmed(), localAddrs)

	// Supplemented feature: seed the table from the last snapshot before
	// Discovery's broadcast loop runs, filtered the same way Discovery
	// filters live traffic (SPEC_FULL §3.3).
	if peerStore != nil {
		if snapshot, err := peerStore.Load(); err != nil {
			l.Warn("peer store load failed", slog.Any("error", err))
		} else {
			records := make([]peertable.Record, 0, len(snapshot))
			for uid, rec := range snapshot {
				records = append(records, peertable.Record{UID: uid, Address: rec.Address, LastSeen: rec.LastSeen})
			}
			table.Seed(records)
		}
	}

	disc, err := discovery.New(selfUID, cfg.UDPPort, bindIP, broadcastIP, localAddrs, table, peerStore)
	if err != nil {
		return nil, fmt.Errorf("engine: discovery: %w", err)
	}

	acks := ackregistry.New()
	msg := messaging.New(
		disc.Conn(),
		cfg.UDPPort,
		cfg.TCPPort,
		selfUID,
		table,
		acks,
		historyStore,
		onMessage,
		onFile,
		disc.HandleEchoRequest,
		disc.HandleEchoReply,
	)

	sup := suture.New("lcpnode", suture.Spec{
		PassThroughPanics: false,
		EventHook: func(ev suture.Event) {
			l.Debug(ev.String())
		},
	})

	e := &Engine{
		cfg:          cfg,
		selfUID:      selfUID,
		table:        table,
		acks:         acks,
		peerStore:    peerStore,
		historyStore: historyStore,
		discovery:    disc,
		messaging:    msg,
		sup:          sup,
	}

	sup.Add(serviceFunc(disc.BroadcastLoop))
	sup.Add(serviceFunc(disc.PersistenceLoop))
	sup.Add(serviceFunc(msg.ReceiveLoop))
	sup.Add(serviceFunc(msg.StreamAcceptLoop))
	sup.Add(serviceFunc(msg.JanitorLoop))

	return e, nil
}

// Start runs the supervised task tree until ctx is cancelled or Stop is
// called. It blocks, so callers typically run it in its own goroutine.
func (e *Engine) Start(ctx context.Context) error {
	return e.sup.Serve(ctx)
}

// Stop closes the shared datagram socket, which unblocks the receive loop
// with an error it interprets as shutdown (spec §5, "Cancellation"). It
// does not close the stream listener: StreamAcceptLoop closes that only
// when the context passed to Start is cancelled, so callers should also
// cancel that context.
func (e *Engine) Stop() error {
	return e.discovery.Close()
}

// Send implements spec §4.6 using this engine's defaults for timeout and
// retries.
func (e *Engine) Send(recipientUID string, payload []byte) error {
	return e.messaging.Send(recipientUID, payload, messaging.DefaultSendTimeout, messaging.DefaultRetries)
}

// Broadcast implements spec §4.6's broadcast/send_all.
func (e *Engine) Broadcast(payload []byte) {
	e.messaging.Broadcast(payload, messaging.DefaultSendTimeout, messaging.DefaultRetries)
}

// SendFile implements spec §4.7 using this engine's default timeout.
func (e *Engine) SendFile(recipientUID string, fileBytes []byte, filename string) error {
	return e.messaging.SendFile(recipientUID, fileBytes, filename, messaging.DefaultSendTimeout)
}

// ForceDiscover implements spec §4.3's force-discover operation.
func (e *Engine) ForceDiscover() {
	e.discovery.ForceDiscover()
}

// Snapshot returns the current PeerTable contents.
func (e *Engine) Snapshot() []peertable.Record {
	return e.table.Snapshot()
}

// Classify partitions the PeerTable into online and offline peers.
func (e *Engine) Classify() (online, offline []peertable.Record) {
	return e.table.Classify(time.Now())
}

// Conversation proxies to the bound HistoryStore, if any (SPEC_FULL §3.2).
func (e *Engine) Conversation(peer string) ([]store.HistoryRecord, error) {
	if e.historyStore == nil {
		return nil, nil
	}
	return e.historyStore.Conversation(peer)
}

// SelfUID returns this node's trimmed identifier.
func (e *Engine) SelfUID() string { return e.selfUID.Trimmed() }
