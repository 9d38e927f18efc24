package consensus

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// PeerState is a Peer's best-known connection state, exposed through
// Peer.State for diagnostics. No role reads it; the protocol never blocks
// on it.
type PeerState int32

const (
	PeerDisconnected PeerState = iota
	PeerConnecting
	PeerConnected
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Transport is what a concrete transport implementation (see
// transport/httptransport) provides for one remote peer: an idempotent
// Connect and a request/response Invoke. A transport's job ends at
// delivering args and populating reply, or returning a transport-level
// error; retry policy belongs to the calling role, never to the
// transport.
//
// This package's Peer never receives peer-initiated inbound RPCs through
// this interface: request/response transports like HTTP deliver those to
// a Node's HandleAppendEntries/HandleRequestVote/HandleRPC entrypoints
// directly from the transport's server side, since there is no single
// duplex connection to multiplex "our outgoing call" and "their incoming
// call" through. That is the "call" event from the peer transport
// contract, realised as a direct method call instead of a subscription.
type Transport interface {
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, rpcType RPCType, args any, reply any) error
}

// Peer represents one remote participant in the cluster: identity plus the
// transport used to reach it. Owned by the Node for the Node's lifetime.
type Peer struct {
	id        string
	transport Transport
	logger    *zap.Logger
	state     atomic.Int32
}

// NewPeer wraps transport as a cluster peer identified by id.
func NewPeer(id string, transport Transport, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Peer{id: id, transport: transport, logger: logger}
}

// ID returns the peer's stable identity.
func (p *Peer) ID() string { return p.id }

// State returns the peer's last-known connection state.
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// Connect establishes the underlying channel; idempotent.
func (p *Peer) Connect(ctx context.Context) error {
	p.state.Store(int32(PeerConnecting))
	if err := p.transport.Connect(ctx); err != nil {
		p.state.Store(int32(PeerDisconnected))
		return &Error{Kind: ErrTransport, Err: err}
	}
	p.state.Store(int32(PeerConnected))
	return nil
}

// Invoke sends an RPC of the named type with the given args and decodes
// the response into reply. On transport failure it returns a
// *Error{Kind: ErrTransport} and leaves reply untouched; the caller
// decides whether and when to retry.
func (p *Peer) Invoke(ctx context.Context, rpcType RPCType, args any, reply any) error {
	p.logger.Debug("outgoing call", zap.String("peer", p.id), zap.String("rpc", string(rpcType)))
	err := p.transport.Invoke(ctx, rpcType, args, reply)
	if err != nil {
		p.state.Store(int32(PeerDisconnected))
		p.logger.Debug("response", zap.String("peer", p.id), zap.String("rpc", string(rpcType)), zap.Error(err))
		return &Error{Kind: ErrTransport, Err: err}
	}
	p.state.Store(int32(PeerConnected))
	p.logger.Debug("response", zap.String("peer", p.id), zap.String("rpc", string(rpcType)))
	return nil
}
