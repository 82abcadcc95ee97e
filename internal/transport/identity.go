package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/mnemosyne-run/orchestrator/internal/corerr"
)

// NodeID is the public-key identity of a P2P endpoint (spec §4.12: "its
// NodeId is the public key"). It is rendered as lower-case, unpadded
// base32 — the same encoding agentid.ID.Short uses for worktree leaf
// names, applied here to a full ed25519 public key instead of a truncated
// UUID.
type NodeID [ed25519.PublicKeySize]byte

var nodeIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// String renders the node id as lower-case base32.
func (n NodeID) String() string {
	return strings.ToLower(nodeIDEncoding.EncodeToString(n[:]))
}

// ParseNodeID parses the base32 rendering produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	raw, err := nodeIDEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return NodeID{}, corerr.ValidationError(corerr.CodeInvalidMessageID, "malformed node id: "+err.Error())
	}
	if len(raw) != ed25519.PublicKeySize {
		return NodeID{}, corerr.ValidationError(corerr.CodeInvalidMessageID, "node id has wrong length")
	}
	var n NodeID
	copy(n[:], raw)
	return n, nil
}

// nodeKey is an endpoint's identity keypair. The public half is its NodeID;
// the private half signs nothing on the wire today (the application-layer
// HMAC in internal/crossprocess authenticates shared state, not P2P
// messages) but is generated and held so a future revision can sign
// JoinApproval payloads without changing the identity shape.
type nodeKey struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func newNodeKey() (nodeKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nodeKey{}, fmt.Errorf("generating node identity key: %w", err)
	}
	return nodeKey{public: pub, private: priv}, nil
}

func (k nodeKey) id() NodeID {
	var n NodeID
	copy(n[:], k.public)
	return n
}

// Ticket is an opaque, shareable string encoding enough addressing to
// bootstrap a connection to a node: its NodeID and a dial address (spec
// §4.12: "Tickets ... encode 'how to reach node X' for bootstrap"). The
// wire form is "mnode1<base32(nodeid||addr)>" — a fixed-width NodeID
// followed by the UTF-8 dial address, base32-encoded as one blob so the
// whole ticket is copy-paste safe.
type Ticket struct {
	Node NodeID
	Addr string
}

const ticketPrefix = "mnode1"

// String renders t as an opaque bootstrap ticket.
func (t Ticket) String() string {
	raw := append(append([]byte(nil), t.Node[:]...), []byte(t.Addr)...)
	return ticketPrefix + strings.ToLower(nodeIDEncoding.EncodeToString(raw))
}

// ParseTicket decodes a ticket produced by Ticket.String.
func ParseTicket(s string) (Ticket, error) {
	if !strings.HasPrefix(s, ticketPrefix) {
		return Ticket{}, corerr.ValidationError(corerr.CodeInvalidMessageID, "not a mnemosyne ticket")
	}
	raw, err := nodeIDEncoding.DecodeString(strings.ToUpper(strings.TrimPrefix(s, ticketPrefix)))
	if err != nil {
		return Ticket{}, corerr.ValidationError(corerr.CodeInvalidMessageID, "malformed ticket: "+err.Error())
	}
	if len(raw) <= ed25519.PublicKeySize {
		return Ticket{}, corerr.ValidationError(corerr.CodeInvalidMessageID, "ticket missing address")
	}
	var node NodeID
	copy(node[:], raw[:ed25519.PublicKeySize])
	return Ticket{Node: node, Addr: string(raw[ed25519.PublicKeySize:])}, nil
}

// NewTicket builds a ticket addressed to an endpoint reachable at addr.
func NewTicket(node NodeID, addr string) Ticket {
	return Ticket{Node: node, Addr: addr}
}
