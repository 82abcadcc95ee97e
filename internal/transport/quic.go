package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/mnemosyne-run/orchestrator/internal/config"
)

// alpnProtocol identifies this wire protocol in the QUIC TLS handshake
// (spec §4.12 P2P endpoint).
const alpnProtocol = "mnemosyne-agent"

// Endpoint is a P2P QUIC node: it can both accept inbound connections and
// dial peers, streaming length-prefixed AgentMessage frames over one
// bidirectional stream per connection (spec §4.12).
type Endpoint struct {
	cfg      config.TransportConfig
	listener *quic.Listener
	router   *MessageRouter
	key      nodeKey
}

// NewEndpoint binds a QUIC listener on cfg.Listen (if non-empty) and wires
// inbound messages to router. Every endpoint, listening or dial-only, gets
// a fresh identity keypair (spec §4.12: "its NodeId is the public key").
func NewEndpoint(cfg config.TransportConfig, router *MessageRouter) (*Endpoint, error) {
	key, err := newNodeKey()
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{cfg: cfg, router: router, key: key}
	if cfg.Listen == "" {
		return ep, nil
	}

	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("generating transport TLS config: %w", err)
	}
	quicConf := &quic.Config{
		HandshakeIdleTimeout: time.Duration(cfg.HandshakeTimeMS) * time.Millisecond,
	}

	listener, err := quic.ListenAddr(cfg.Listen, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	ep.listener = listener
	return ep, nil
}

// Addr returns the endpoint's bound listen address, or "" if it is
// dial-only.
func (e *Endpoint) Addr() string {
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// NodeID returns this endpoint's public-key identity.
func (e *Endpoint) NodeID() NodeID {
	return e.key.id()
}

// Ticket returns the bootstrap ticket for this endpoint, usable by a peer
// to dial back via JoinPeer. Only meaningful for a listening endpoint;
// returns the zero Ticket if this endpoint is dial-only.
func (e *Endpoint) Ticket() Ticket {
	return NewTicket(e.NodeID(), e.Addr())
}

// JoinPeer decodes ticket and dials the peer it describes, confirming
// reachability with a zero-length probe stream before returning the
// peer's NodeID (spec §6: "join_peer(ticket) returns the peer's NodeId on
// success"). It does not register the peer with the router; callers that
// want to route outbound agent messages to it should wrap the returned
// address in a Peer and AttachPeer it.
func (e *Endpoint) JoinPeer(ctx context.Context, ticket string) (NodeID, error) {
	t, err := ParseTicket(ticket)
	if err != nil {
		return NodeID{}, err
	}
	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpnProtocol}}
	conn, err := quic.DialAddr(ctx, t.Addr, tlsConf, nil)
	if err != nil {
		return NodeID{}, fmt.Errorf("dialing peer %s at %s: %w", t.Node, t.Addr, err)
	}
	defer conn.CloseWithError(0, "")
	return t.Node, nil
}

// Serve accepts connections until ctx is cancelled, reading frames off
// each and dispatching them through the router.
func (e *Endpoint) Serve(ctx context.Context) error {
	if e.listener == nil {
		return nil
	}
	for {
		conn, err := e.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting quic connection: %w", err)
		}
		go e.serveConn(ctx, conn)
	}
}

func (e *Endpoint) serveConn(ctx context.Context, conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go e.serveStream(ctx, stream)
	}
}

func (e *Endpoint) serveStream(ctx context.Context, stream quic.Stream) {
	defer stream.Close()
	for {
		data, err := ReadFrame(stream, e.cfg.MaxFrameBytes)
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			continue
		}
		if e.router != nil {
			_ = e.router.Dispatch(ctx, msg)
		}
	}
}

// SendTo dials addr and writes msg as a single framed stream. Each call
// opens a fresh connection; a future revision may pool connections per
// peer once the registry exposes stable peer addresses.
func (e *Endpoint) SendTo(ctx context.Context, addr string, msg AgentMessage) error {
	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpnProtocol}}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("opening stream to %s: %w", addr, err)
	}
	defer stream.Close()

	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(stream, data, e.cfg.MaxFrameBytes)
}

// Close shuts down the listener, if any.
func (e *Endpoint) Close() error {
	if e.listener == nil {
		return nil
	}
	return e.listener.Close()
}

// Peer is a fixed remote address bound to an Endpoint, satisfying the
// Transport interface the MessageRouter publishes through.
type Peer struct {
	endpoint *Endpoint
	addr     string
}

// NewPeer binds addr to endpoint for outbound sends.
func NewPeer(endpoint *Endpoint, addr string) *Peer {
	return &Peer{endpoint: endpoint, addr: addr}
}

// Send implements Transport.
func (p *Peer) Send(ctx context.Context, msg AgentMessage) error {
	return p.endpoint.SendTo(ctx, p.addr, msg)
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate for
// the QUIC handshake. Peer identity in this protocol is established by the
// application-layer HMAC signatures in internal/crossprocess, not by the
// TLS certificate chain, so a fresh ECDSA cert per process is sufficient
// (spec §4.12: "peer identity verified out of band").
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}, nil
}
