package rpc

import (
	"context"
	"errors"

	"github.com/cuemby/adlb-go/pkg/server"
	"github.com/cuemby/adlb-go/pkg/types"
	"google.golang.org/grpc"
)

const serviceName = "adlb.shard.v1.Shard"

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// codeOfErr recovers the taxonomy code carried by err, defaulting to
// UNKNOWN for an error that never went through types.NewError. This
// mirrors pkg/server's own codeOf helper; duplicated here rather than
// exported from pkg/server to keep that package free of any wire
// concern.
func codeOfErr(err error) types.Code {
	if err == nil {
		return types.SUCCESS
	}
	var ce *types.CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return types.UNKNOWN
}

// serverHandler implements the server side of every operation, each
// reading its arguments off a frameReader and writing its result onto
// a frameWriter; every handler except unique, lock, unlock, get and put
// writes the taxonomy code ahead of that result. A non-success Code
// is part of the reply payload per §7 ("handlers return the taxonomy
// code synchronously in the reply"), not a transport-level gRPC error
// — only a genuine decode/transport failure returns a Go error here.
type serverHandler struct {
	srv *server.Server
}

func (h *serverHandler) unique(ctx context.Context, req []byte) ([]byte, error) {
	w := &frameWriter{}
	w.putDatumID(h.srv.Unique())
	return w.bytes(), nil
}

func (h *serverHandler) create(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	typ, err := r.getInt()
	if err != nil {
		return nil, err
	}
	keyType, err := r.getInt()
	if err != nil {
		return nil, err
	}
	valType, err := r.getInt()
	if err != nil {
		return nil, err
	}
	structType, err := r.getInt()
	if err != nil {
		return nil, err
	}
	readRC, err := r.getInt()
	if err != nil {
		return nil, err
	}
	writeRC, err := r.getInt()
	if err != nil {
		return nil, err
	}
	permanent, err := r.getBool()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	newID, callErr := h.srv.Create(id, types.ValueType(typ), types.TypeExtra{
		KeyType:    types.ValueType(keyType),
		ValType:    types.ValueType(valType),
		StructType: int(structType),
	}, int(readRC), int(writeRC), permanent)

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	w.putDatumID(newID)
	return w.bytes(), nil
}

func (h *serverHandler) store(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	subscript, err := r.getString()
	if err != nil {
		return nil, err
	}
	value, err := r.getBlob()
	if err != nil {
		return nil, err
	}
	typ, err := r.getInt()
	if err != nil {
		return nil, err
	}
	decrRead, err := r.getInt()
	if err != nil {
		return nil, err
	}
	decrWrite, err := r.getInt()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	callErr := h.srv.Store(id, subscript, value, types.ValueType(typ), int(decrRead), int(decrWrite))

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	return w.bytes(), nil
}

func (h *serverHandler) retrieve(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	subscript, err := r.getString()
	if err != nil {
		return nil, err
	}
	decrRead, err := r.getInt()
	if err != nil {
		return nil, err
	}
	decrWrite, err := r.getInt()
	if err != nil {
		return nil, err
	}
	acquireRead, err := r.getInt()
	if err != nil {
		return nil, err
	}
	acquireWrite, err := r.getInt()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	value, typ, callErr := h.srv.Retrieve(id, subscript, types.RefcountPolicy{
		DecrRead:     int(decrRead),
		DecrWrite:    int(decrWrite),
		AcquireRead:  int(acquireRead),
		AcquireWrite: int(acquireWrite),
	})

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	w.putInt(int64(typ))
	w.putBlob(value)
	return w.bytes(), nil
}

func (h *serverHandler) exists(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	subscript, err := r.getString()
	if err != nil {
		return nil, err
	}
	decrRead, err := r.getInt()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	exists, callErr := h.srv.Exists(id, subscript, int(decrRead))

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	w.putBool(exists)
	return w.bytes(), nil
}

func (h *serverHandler) enumerate(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	count, err := r.getInt()
	if err != nil {
		return nil, err
	}
	offset, err := r.getInt()
	if err != nil {
		return nil, err
	}
	includeKeys, err := r.getBool()
	if err != nil {
		return nil, err
	}
	includeVals, err := r.getBool()
	if err != nil {
		return nil, err
	}
	decrRead, err := r.getInt()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	results, keyType, valType, callErr := h.srv.Enumerate(id, int(count), int(offset), includeKeys, includeVals, int(decrRead))

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	w.putInt(int64(keyType))
	w.putInt(int64(valType))
	w.putInt(int64(len(results)))
	for _, res := range results {
		w.putBlob(res.Key)
		w.putBlob(res.Value)
	}
	return w.bytes(), nil
}

func (h *serverHandler) refcountIncr(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	deltaRead, err := r.getInt()
	if err != nil {
		return nil, err
	}
	deltaWrite, err := r.getInt()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	callErr := h.srv.RefcountIncr(ctx, id, int(deltaRead), int(deltaWrite))

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	return w.bytes(), nil
}

func (h *serverHandler) subscribe(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	subscript, err := r.getString()
	if err != nil {
		return nil, err
	}
	rank, err := r.getInt()
	if err != nil {
		return nil, err
	}
	workType, err := r.getInt()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	alreadyClosed, callErr := h.srv.Subscribe(ctx, id, subscript, types.Listener{Rank: int(rank), WorkType: int(workType)})

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	w.putBool(alreadyClosed)
	return w.bytes(), nil
}

func (h *serverHandler) containerReference(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	subscript, err := r.getString()
	if err != nil {
		return nil, err
	}
	refID, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	refSubscript, err := r.getString()
	if err != nil {
		return nil, err
	}
	refType, err := r.getInt()
	if err != nil {
		return nil, err
	}
	transferRead, err := r.getInt()
	if err != nil {
		return nil, err
	}
	transferWrite, err := r.getInt()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	value, valType, present, callErr := h.srv.ContainerReference(id, subscript, types.ReferenceBinding{
		RefID:         refID,
		RefSubscript:  refSubscript,
		RefType:       types.ValueType(refType),
		TransferRead:  int(transferRead),
		TransferWrite: int(transferWrite),
	})

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	w.putBool(present)
	w.putInt(int64(valType))
	w.putBlob(value)
	return w.bytes(), nil
}

func (h *serverHandler) insertAtomic(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	subscript, err := r.getString()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	result, callErr := h.srv.InsertAtomic(id, subscript)

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	if result != nil {
		w.putBool(result.Created)
		w.putBlob(result.Value)
	} else {
		w.putBool(false)
		w.putBlob(nil)
	}
	return w.bytes(), nil
}

func (h *serverHandler) lock(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	w := &frameWriter{}
	w.putBool(h.srv.Lock(id))
	return w.bytes(), nil
}

func (h *serverHandler) unlock(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	id, err := r.getDatumID()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	w := &frameWriter{}
	w.putBool(h.srv.Unlock(id))
	return w.bytes(), nil
}

func (h *serverHandler) get(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	rank, err := r.getInt()
	if err != nil {
		return nil, err
	}
	workType, err := r.getInt()
	if err != nil {
		return nil, err
	}
	blocking, err := r.getBool()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	wu, ok := h.srv.Get(int(rank), int(workType), blocking)

	w := &frameWriter{}
	w.putBool(ok)
	putWorkUnit(w, wu)
	return w.bytes(), nil
}

func (h *serverHandler) put(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	wu, err := getWorkUnit(r)
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	h.srv.Put(wu)
	return nil, nil
}

func (h *serverHandler) putRule(ctx context.Context, req []byte) ([]byte, error) {
	r := newFrameReader(req)
	wu, err := getWorkUnit(r)
	if err != nil {
		return nil, err
	}
	n, err := r.getInt()
	if err != nil {
		return nil, err
	}
	inputIDs := make([]types.DatumID, n)
	inputSubs := make([]string, n)
	for i := int64(0); i < n; i++ {
		inputIDs[i], err = r.getDatumID()
		if err != nil {
			return nil, err
		}
		inputSubs[i], err = r.getString()
		if err != nil {
			return nil, err
		}
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	ready, callErr := h.srv.PutRule(ctx, wu, inputIDs, inputSubs)

	w := &frameWriter{}
	w.putInt(int64(codeOfErr(callErr)))
	w.putBool(ready)
	return w.bytes(), nil
}

// putWorkUnit/getWorkUnit serialize a types.WorkUnit in full, shared by
// Get, Put, and PutRule.
func putWorkUnit(w *frameWriter, wu types.WorkUnit) {
	w.putInt(wu.ID)
	w.putInt(wu.EnqueuedAt)
	w.putInt(int64(wu.Type))
	w.putInt(int64(wu.Putter))
	w.putInt(int64(wu.Priority))
	w.putInt(int64(wu.Answer))
	w.putInt(int64(wu.Target))
	w.putInt(int64(wu.Accuracy))
	w.putInt(int64(wu.Strictness))
	w.putInt(int64(wu.Parallelism))
	w.putBlob(wu.Payload)
}

func getWorkUnit(r *frameReader) (types.WorkUnit, error) {
	var wu types.WorkUnit
	var err error
	if wu.ID, err = r.getInt(); err != nil {
		return wu, err
	}
	if wu.EnqueuedAt, err = r.getInt(); err != nil {
		return wu, err
	}
	typ, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Type = int(typ)
	putter, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Putter = int(putter)
	priority, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Priority = int(priority)
	answer, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Answer = int(answer)
	target, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Target = int(target)
	accuracy, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Accuracy = types.Accuracy(accuracy)
	strictness, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Strictness = types.Strictness(strictness)
	parallelism, err := r.getInt()
	if err != nil {
		return wu, err
	}
	wu.Parallelism = int(parallelism)
	if wu.Payload, err = r.getBlob(); err != nil {
		return wu, err
	}
	return wu, nil
}

func unaryHandler(name string, fn func(*serverHandler, context.Context, []byte) ([]byte, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	method := fullMethod(name)
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new([]byte)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := &serverHandler{srv: srv.(*server.Server)}
		if interceptor == nil {
			resp, err := fn(h, ctx, *in)
			if err != nil {
				return nil, err
			}
			return &resp, nil
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			resp, err := fn(h, ctx, *(req.(*[]byte)))
			if err != nil {
				return nil, err
			}
			return &resp, nil
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc registers every §6 operation as a gRPC unary method
// against a *server.Server, over the raw-bytes codec instead of
// protoc-generated stubs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*server.Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Unique", Handler: unaryHandler("Unique", (*serverHandler).unique)},
		{MethodName: "Create", Handler: unaryHandler("Create", (*serverHandler).create)},
		{MethodName: "Store", Handler: unaryHandler("Store", (*serverHandler).store)},
		{MethodName: "Retrieve", Handler: unaryHandler("Retrieve", (*serverHandler).retrieve)},
		{MethodName: "Exists", Handler: unaryHandler("Exists", (*serverHandler).exists)},
		{MethodName: "Enumerate", Handler: unaryHandler("Enumerate", (*serverHandler).enumerate)},
		{MethodName: "RefcountIncr", Handler: unaryHandler("RefcountIncr", (*serverHandler).refcountIncr)},
		{MethodName: "Subscribe", Handler: unaryHandler("Subscribe", (*serverHandler).subscribe)},
		{MethodName: "ContainerReference", Handler: unaryHandler("ContainerReference", (*serverHandler).containerReference)},
		{MethodName: "InsertAtomic", Handler: unaryHandler("InsertAtomic", (*serverHandler).insertAtomic)},
		{MethodName: "Lock", Handler: unaryHandler("Lock", (*serverHandler).lock)},
		{MethodName: "Unlock", Handler: unaryHandler("Unlock", (*serverHandler).unlock)},
		{MethodName: "Get", Handler: unaryHandler("Get", (*serverHandler).get)},
		{MethodName: "Put", Handler: unaryHandler("Put", (*serverHandler).put)},
		{MethodName: "PutRule", Handler: unaryHandler("PutRule", (*serverHandler).putRule)},
	},
	Metadata: "internal/rpc/service.go",
}

// RegisterShardServer attaches srv's operations to a *grpc.Server.
func RegisterShardServer(s *grpc.Server, srv *server.Server) {
	s.RegisterService(&ServiceDesc, srv)
}
