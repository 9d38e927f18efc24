package consensus

import (
	"context"
	"sync"
)

// Broadcast fans one RPC out to a set of peers and reports each reply
// (success or transport error) as it arrives, tagged with the originating
// peer. It is a dispatch tool only; quorum accounting belongs to the role
// that uses it (the Candidate, which counts RequestVote grants).
type Broadcast[Req any, Reply any] struct {
	rpcType RPCType
	args    Req

	mu        sync.Mutex
	cancelled bool
}

// NewBroadcast constructs a Broadcast for one RPC type and its args. Reply
// is the zero value the RPC populates on success; it must be the reply
// struct type itself, not a pointer to it — Send takes &reply's address to
// decode into, and a pointer Reply would make that a double pointer.
func NewBroadcast[Req any, Reply any](rpcType RPCType, args Req) *Broadcast[Req, Reply] {
	return &Broadcast[Req, Reply]{rpcType: rpcType, args: args}
}

// Send invokes the RPC on every peer concurrently. onReply is called once
// per peer as its response (or transport error) arrives; it is never
// called after Cancel. Send does not block past dispatch.
func (b *Broadcast[Req, Reply]) Send(ctx context.Context, peers []*Peer, onReply func(peerID string, reply Reply, err error)) {
	for _, p := range peers {
		peer := p
		go func() {
			var reply Reply
			err := peer.Invoke(ctx, b.rpcType, b.args, &reply)
			if b.isCancelled() {
				return
			}
			onReply(peer.ID(), reply, err)
		}()
	}
}

// Cancel detaches this Broadcast's listeners. In-flight RPCs may still
// complete, but their replies are discarded rather than delivered to
// onReply.
func (b *Broadcast[Req, Reply]) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
}

func (b *Broadcast[Req, Reply]) isCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}
