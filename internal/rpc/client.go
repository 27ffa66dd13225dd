package rpc

import (
	"context"

	"github.com/cuemby/adlb-go/pkg/store"
	"github.com/cuemby/adlb-go/pkg/types"
	"google.golang.org/grpc"
)

// ShardClient is a point-to-point connection to one server's shard.
// It implements server.RemoteSync directly, so a peer server can use
// it as-is for the §4.6 sync protocol, and also exposes the full §6
// operation set for worker callers.
type ShardClient struct {
	conn *grpc.ClientConn
}

// NewShardClient wraps an already-dialed connection (see Dial).
func NewShardClient(conn *grpc.ClientConn) *ShardClient {
	return &ShardClient{conn: conn}
}

func (c *ShardClient) call(ctx context.Context, method string, req []byte) ([]byte, error) {
	var resp []byte
	if err := c.conn.Invoke(ctx, fullMethod(method), &req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func codeErr(code types.Code) error {
	return types.NewError(code, nil)
}

// Unique requests a fresh datum id from the remote shard.
func (c *ShardClient) Unique(ctx context.Context) (types.DatumID, error) {
	resp, err := c.call(ctx, "Unique", nil)
	if err != nil {
		return 0, err
	}
	r := newFrameReader(resp)
	return r.getDatumID()
}

// Create declares a new datum on the remote shard.
func (c *ShardClient) Create(ctx context.Context, id types.DatumID, typ types.ValueType, extra types.TypeExtra, readRC, writeRC int, permanent bool) (types.DatumID, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putInt(int64(typ))
	w.putInt(int64(extra.KeyType))
	w.putInt(int64(extra.ValType))
	w.putInt(int64(extra.StructType))
	w.putInt(int64(readRC))
	w.putInt(int64(writeRC))
	w.putBool(permanent)

	resp, err := c.call(ctx, "Create", w.bytes())
	if err != nil {
		return 0, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return 0, err
	}
	newID, err := r.getDatumID()
	if err != nil {
		return 0, err
	}
	if types.Code(code) != types.SUCCESS {
		return 0, codeErr(types.Code(code))
	}
	return newID, nil
}

// Store writes a value on the remote shard.
func (c *ShardClient) Store(ctx context.Context, id types.DatumID, subscript string, value []byte, typ types.ValueType, decrRead, decrWrite int) error {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putString(subscript)
	w.putBlob(value)
	w.putInt(int64(typ))
	w.putInt(int64(decrRead))
	w.putInt(int64(decrWrite))

	resp, err := c.call(ctx, "Store", w.bytes())
	if err != nil {
		return err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return err
	}
	if types.Code(code) != types.SUCCESS {
		return codeErr(types.Code(code))
	}
	return nil
}

// Retrieve reads a value from the remote shard.
func (c *ShardClient) Retrieve(ctx context.Context, id types.DatumID, subscript string, policy types.RefcountPolicy) ([]byte, types.ValueType, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putString(subscript)
	w.putInt(int64(policy.DecrRead))
	w.putInt(int64(policy.DecrWrite))
	w.putInt(int64(policy.AcquireRead))
	w.putInt(int64(policy.AcquireWrite))

	resp, err := c.call(ctx, "Retrieve", w.bytes())
	if err != nil {
		return nil, 0, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return nil, 0, err
	}
	typ, err := r.getInt()
	if err != nil {
		return nil, 0, err
	}
	value, err := r.getBlob()
	if err != nil {
		return nil, 0, err
	}
	if types.Code(code) != types.SUCCESS {
		return nil, 0, codeErr(types.Code(code))
	}
	return value, types.ValueType(typ), nil
}

// Exists checks presence on the remote shard.
func (c *ShardClient) Exists(ctx context.Context, id types.DatumID, subscript string, decrRead int) (bool, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putString(subscript)
	w.putInt(int64(decrRead))

	resp, err := c.call(ctx, "Exists", w.bytes())
	if err != nil {
		return false, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return false, err
	}
	exists, err := r.getBool()
	if err != nil {
		return false, err
	}
	if types.Code(code) != types.SUCCESS {
		return false, codeErr(types.Code(code))
	}
	return exists, nil
}

// Enumerate lists container/multiset entries on the remote shard.
func (c *ShardClient) Enumerate(ctx context.Context, id types.DatumID, count, offset int, includeKeys, includeVals bool, decrRead int) ([]store.EnumerateResult, types.ValueType, types.ValueType, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putInt(int64(count))
	w.putInt(int64(offset))
	w.putBool(includeKeys)
	w.putBool(includeVals)
	w.putInt(int64(decrRead))

	resp, err := c.call(ctx, "Enumerate", w.bytes())
	if err != nil {
		return nil, 0, 0, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return nil, 0, 0, err
	}
	keyType, err := r.getInt()
	if err != nil {
		return nil, 0, 0, err
	}
	valType, err := r.getInt()
	if err != nil {
		return nil, 0, 0, err
	}
	n, err := r.getInt()
	if err != nil {
		return nil, 0, 0, err
	}
	results := make([]store.EnumerateResult, n)
	for i := int64(0); i < n; i++ {
		if results[i].Key, err = r.getBlob(); err != nil {
			return nil, 0, 0, err
		}
		if results[i].Value, err = r.getBlob(); err != nil {
			return nil, 0, 0, err
		}
	}
	if types.Code(code) != types.SUCCESS {
		return nil, 0, 0, codeErr(types.Code(code))
	}
	return results, types.ValueType(keyType), types.ValueType(valType), nil
}

// IncrRemote implements server.RemoteSync's refcount half of §4.6 sync.
func (c *ShardClient) IncrRemote(ctx context.Context, id types.DatumID, deltaRead, deltaWrite int) error {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putInt(int64(deltaRead))
	w.putInt(int64(deltaWrite))

	resp, err := c.call(ctx, "RefcountIncr", w.bytes())
	if err != nil {
		return err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return err
	}
	if types.Code(code) != types.SUCCESS {
		return codeErr(types.Code(code))
	}
	return nil
}

// SubscribeRemote implements server.RemoteSync's subscribe half of §4.6
// sync. The listener registered on the remote shard is attributed to
// types.AnyRank: waking a listener that originated from a peer server
// rather than a local worker requires an outbound notify back to that
// peer, which routeClose does not yet implement (see DESIGN.md) — the
// immediate-already-closed path this call resolves synchronously is
// fully correct regardless.
func (c *ShardClient) SubscribeRemote(ctx context.Context, id types.DatumID, subscript string, workType int) (bool, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putString(subscript)
	w.putInt(int64(types.AnyRank))
	w.putInt(int64(workType))

	resp, err := c.call(ctx, "Subscribe", w.bytes())
	if err != nil {
		return false, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return false, err
	}
	alreadyClosed, err := r.getBool()
	if err != nil {
		return false, err
	}
	if types.Code(code) != types.SUCCESS {
		return false, codeErr(types.Code(code))
	}
	return alreadyClosed, nil
}

// ContainerReference binds or immediately resolves a reference on the
// remote shard.
func (c *ShardClient) ContainerReference(ctx context.Context, id types.DatumID, subscript string, binding types.ReferenceBinding) ([]byte, types.ValueType, bool, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putString(subscript)
	w.putDatumID(binding.RefID)
	w.putString(binding.RefSubscript)
	w.putInt(int64(binding.RefType))
	w.putInt(int64(binding.TransferRead))
	w.putInt(int64(binding.TransferWrite))

	resp, err := c.call(ctx, "ContainerReference", w.bytes())
	if err != nil {
		return nil, 0, false, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return nil, 0, false, err
	}
	present, err := r.getBool()
	if err != nil {
		return nil, 0, false, err
	}
	valType, err := r.getInt()
	if err != nil {
		return nil, 0, false, err
	}
	value, err := r.getBlob()
	if err != nil {
		return nil, 0, false, err
	}
	if types.Code(code) != types.SUCCESS {
		return nil, 0, false, codeErr(types.Code(code))
	}
	return value, types.ValueType(valType), present, nil
}

// InsertAtomic reserves a container slot on the remote shard.
func (c *ShardClient) InsertAtomic(ctx context.Context, id types.DatumID, subscript string) (*store.InsertAtomicResult, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	w.putString(subscript)

	resp, err := c.call(ctx, "InsertAtomic", w.bytes())
	if err != nil {
		return nil, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return nil, err
	}
	created, err := r.getBool()
	if err != nil {
		return nil, err
	}
	value, err := r.getBlob()
	if err != nil {
		return nil, err
	}
	if types.Code(code) != types.SUCCESS {
		return nil, codeErr(types.Code(code))
	}
	return &store.InsertAtomicResult{Created: created, Value: value}, nil
}

// Lock acquires the remote shard's advisory lock on id.
func (c *ShardClient) Lock(ctx context.Context, id types.DatumID) (bool, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	resp, err := c.call(ctx, "Lock", w.bytes())
	if err != nil {
		return false, err
	}
	return newFrameReader(resp).getBool()
}

// Unlock releases the remote shard's advisory lock on id.
func (c *ShardClient) Unlock(ctx context.Context, id types.DatumID) (bool, error) {
	w := &frameWriter{}
	w.putDatumID(id)
	resp, err := c.call(ctx, "Unlock", w.bytes())
	if err != nil {
		return false, err
	}
	return newFrameReader(resp).getBool()
}

// Get requests a work unit from the remote shard.
func (c *ShardClient) Get(ctx context.Context, rank, workType int, blocking bool) (types.WorkUnit, bool, error) {
	w := &frameWriter{}
	w.putInt(int64(rank))
	w.putInt(int64(workType))
	w.putBool(blocking)

	resp, err := c.call(ctx, "Get", w.bytes())
	if err != nil {
		return types.WorkUnit{}, false, err
	}
	r := newFrameReader(resp)
	ok, err := r.getBool()
	if err != nil {
		return types.WorkUnit{}, false, err
	}
	wu, err := getWorkUnit(r)
	if err != nil {
		return types.WorkUnit{}, false, err
	}
	return wu, ok, nil
}

// Put enqueues a ready work unit on the remote shard.
func (c *ShardClient) Put(ctx context.Context, wu types.WorkUnit) error {
	w := &frameWriter{}
	putWorkUnit(w, wu)
	_, err := c.call(ctx, "Put", w.bytes())
	return err
}

// PutRule registers a dependency rule on the remote shard that owns
// wu's declared inputs.
func (c *ShardClient) PutRule(ctx context.Context, wu types.WorkUnit, inputIDs []types.DatumID, inputSubs []string) (bool, error) {
	w := &frameWriter{}
	putWorkUnit(w, wu)
	w.putInt(int64(len(inputIDs)))
	for i := range inputIDs {
		w.putDatumID(inputIDs[i])
		w.putString(inputSubs[i])
	}

	resp, err := c.call(ctx, "PutRule", w.bytes())
	if err != nil {
		return false, err
	}
	r := newFrameReader(resp)
	code, err := r.getInt()
	if err != nil {
		return false, err
	}
	ready, err := r.getBool()
	if err != nil {
		return false, err
	}
	if types.Code(code) != types.SUCCESS {
		return false, codeErr(types.Code(code))
	}
	return ready, nil
}
