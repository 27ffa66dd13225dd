package rpc

import (
	"context"
	"fmt"

	"github.com/cuemby/adlb-go/pkg/types"
)

// Router is the RemoteSync a multi-shard deployment hands to
// pkg/server.New: it owns one ShardClient per peer rank and forwards
// each §4.6 sync call to whichever rank types.Locate names, the same
// sharding rule pkg/store uses to place a datum in the first place.
type Router struct {
	serverCount int
	peers       map[int]*ShardClient // rank -> client; never contains this server's own rank
}

// NewRouter builds a Router over already-dialed peer connections, keyed
// by rank. peers must not include the local rank.
func NewRouter(serverCount int, peers map[int]*ShardClient) *Router {
	return &Router{serverCount: serverCount, peers: peers}
}

func (r *Router) peerFor(id types.DatumID) (*ShardClient, error) {
	rank := types.Locate(id, r.serverCount)
	c, ok := r.peers[rank]
	if !ok {
		return nil, fmt.Errorf("rpc: no peer connection for rank %d (datum %d)", rank, id)
	}
	return c, nil
}

// IncrRemote implements server.RemoteSync.
func (r *Router) IncrRemote(ctx context.Context, id types.DatumID, deltaRead, deltaWrite int) error {
	c, err := r.peerFor(id)
	if err != nil {
		return err
	}
	return c.IncrRemote(ctx, id, deltaRead, deltaWrite)
}

// SubscribeRemote implements server.RemoteSync.
func (r *Router) SubscribeRemote(ctx context.Context, id types.DatumID, subscript string, workType int) (bool, error) {
	c, err := r.peerFor(id)
	if err != nil {
		return false, err
	}
	return c.SubscribeRemote(ctx, id, subscript, workType)
}
