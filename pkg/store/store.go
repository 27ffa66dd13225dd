// Package store implements the typed distributed datum store: create,
// store, retrieve, enumerate, exists, and refcount adjustment for the
// datums owned by this server's shard.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/adlb-go/pkg/codec"
	"github.com/cuemby/adlb-go/pkg/metrics"
	"github.com/cuemby/adlb-go/pkg/types"
)

// CloseEvent reports a side effect of a store or refcount operation
// that the caller (the control plane) must route: a whole-datum close
// (write refcount reached zero) carries the listeners to notify, and a
// subscript write names the slot so the caller can consult the
// subscription tables for (id, subscript) listeners.
type CloseEvent struct {
	DatumID       types.DatumID
	Subscript     string // "" for a whole-datum close
	WholeClosed   bool   // write refcount reached zero for the whole datum
	Listeners     []types.Listener
	Value         []byte
	Type          types.ValueType
	GarbageCollected bool
}

// Store owns every datum located on this server's shard.
type Store struct {
	mu      sync.Mutex
	datums  map[types.DatumID]*types.Datum
	decls   map[int]*types.StructDecl
	rank    int
	servers int
	nextSeq int64
}

// New creates a Store for a server of the given rank within a
// deployment of serverCount servers. Fresh ids are allocated starting
// at rank with stride serverCount so allocation never collides across
// servers without coordination.
func New(rank, serverCount int) *Store {
	return &Store{
		datums:  make(map[types.DatumID]*types.Datum),
		decls:   make(map[int]*types.StructDecl),
		rank:    rank,
		servers: serverCount,
		nextSeq: int64(rank),
	}
}

// Unique allocates and returns a fresh, never-before-used datum id.
func (s *Store) Unique() types.DatumID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.DatumID(s.nextSeq)
	s.nextSeq += int64(s.servers)
	if id == types.NullID {
		id = types.DatumID(s.nextSeq)
		s.nextSeq += int64(s.servers)
	}
	return id
}

// DeclareStruct registers a struct type by index. Redeclaring the same
// index is an error (append-or-once semantics).
func (s *Store) DeclareStruct(decl types.StructDecl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decls[decl.Index]; exists {
		return types.NewError(types.DOUBLE_DECLARE, fmt.Errorf("struct type %d already declared", decl.Index))
	}
	d := decl
	s.decls[decl.Index] = &d
	return nil
}

// StructDecl returns the declaration registered for index, if any.
func (s *Store) StructDecl(index int) (*types.StructDecl, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decls[index]
	return d, ok
}

// Create allocates a new datum record. If both refcounts are zero and
// the datum is not permanent, the call is a no-op success (fire-and-
// forget idiom) and no record is retained.
func (s *Store) Create(id types.DatumID, typ types.ValueType, extra types.TypeExtra, readRC, writeRC int, permanent bool) error {
	if id == types.NullID {
		return types.NewError(types.NULL, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.datums[id]; exists {
		return types.NewError(types.DOUBLE_DECLARE, fmt.Errorf("id %d already present", id))
	}
	if readRC == 0 && writeRC == 0 && !permanent {
		return nil
	}

	d := &types.Datum{
		ID:            id,
		Type:          typ,
		Extra:         extra,
		ReadRefcount:  readRC,
		WriteRefcount: writeRC,
		Permanent:     permanent,
	}
	switch typ {
	case types.TypeContainer:
		d.Container = make(map[string]*types.ContainerSlot)
	case types.TypeMultiset:
		d.Multiset = types.NewMultiset(extra.ValType, 256)
	case types.TypeStruct:
		if decl, ok := s.decls[extra.StructType]; ok {
			d.Struct = instantiateStructFields(decl.Fields)
		}
	}
	s.datums[id] = d
	metrics.DatumsLive.Set(float64(len(s.datums)))
	metrics.DatumsCreated.Inc()
	return nil
}

// instantiateStructFields allocates one StructField per declared
// field, recursing into NestedFields for any field itself declared as
// TypeStruct so a multi-level declaration (e.g. a struct field whose
// own field is a struct) gets a matching multi-level Nested tree to
// store into.
func instantiateStructFields(decls []types.StructFieldDecl) []*types.StructField {
	fields := make([]*types.StructField, len(decls))
	for i, f := range decls {
		sf := &types.StructField{Type: f.Type}
		if f.Type == types.TypeStruct {
			sf.Nested = instantiateStructFields(f.NestedFields)
		}
		fields[i] = sf
	}
	return fields
}

// Exists reports whether id is known, and, if subscript is non-empty,
// whether that slot has been set.
func (s *Store) Exists(id types.DatumID, subscript string) (exists bool, set bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.datums[id]
	if !ok {
		return false, false, nil
	}
	if subscript == "" {
		return true, d.Set, nil
	}
	switch d.Type {
	case types.TypeContainer:
		slot, ok := d.Container[subscript]
		if !ok {
			return false, false, nil
		}
		return true, slot.Present && slot.Value != nil, nil
	default:
		return false, false, types.NewError(types.TYPE, fmt.Errorf("subscript exists on non-container datum %d", id))
	}
}

func (s *Store) get(id types.DatumID) (*types.Datum, error) {
	if id == types.NullID {
		return nil, types.NewError(types.NULL, nil)
	}
	d, ok := s.datums[id]
	if !ok {
		return nil, types.NewError(types.NOT_FOUND, fmt.Errorf("id %d unknown", id))
	}
	return d, nil
}

// Store writes a value (or subfield, if subscript is non-empty),
// applies decrRead/decrWrite to the datum's refcounts atomically with
// the write, and reports any close events the caller must route to
// subscribers.
func (s *Store) Store(id types.DatumID, subscript string, value []byte, typ types.ValueType, decrRead, decrWrite int) (*CloseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if d.Type != typ && subscript == "" {
		return nil, types.NewError(types.TYPE, fmt.Errorf("store type mismatch on id %d: have %s want %s", id, d.Type, typ))
	}

	// Validate before mutating anything, so a refcount failure below
	// never leaves a partially-applied write in place: store must be
	// atomic with the refcount decrement it carries.
	var structField *types.StructField
	switch {
	case subscript == "" && d.Type == types.TypeContainer:
		return nil, types.NewError(types.INVALID, fmt.Errorf("container store on id %d requires a subscript", id))
	case subscript == "":
		if d.Set {
			return nil, types.NewError(types.DOUBLE_WRITE, fmt.Errorf("scalar id %d already set", id))
		}
	case d.Type == types.TypeContainer:
		if slot, ok := d.Container[subscript]; ok && slot.Value != nil {
			return nil, types.NewError(types.DOUBLE_WRITE, fmt.Errorf("container slot %d[%s] already filled", id, subscript))
		}
	case d.Type == types.TypeMultiset:
		// append is always valid
	case d.Type == types.TypeStruct:
		f, err := resolveStructField(d.Struct, subscript)
		if err != nil {
			return nil, err
		}
		if f.Initialized {
			return nil, types.NewError(types.DOUBLE_WRITE, fmt.Errorf("struct field %s of id %d already set", subscript, id))
		}
		structField = f
	default:
		return nil, types.NewError(types.TYPE, fmt.Errorf("store on id %d: unsupported subscripted type %s", id, d.Type))
	}

	if err := s.adjustRefcounts(d, -decrRead, -decrWrite); err != nil {
		return nil, err
	}

	switch {
	case subscript == "":
		d.Scalar = value
		d.Set = true
	case d.Type == types.TypeContainer:
		d.Container[subscript] = &types.ContainerSlot{Present: true, Value: value}
	case d.Type == types.TypeMultiset:
		d.Multiset.Append(value)
	case d.Type == types.TypeStruct:
		structField.Scalar = value
		structField.Initialized = true
	}

	ev := &CloseEvent{DatumID: id, Subscript: subscript, Value: value, Type: typ}
	if d.WriteRefcount == 0 && subscript == "" {
		ev.WholeClosed = true
		ev.Listeners = d.Listeners
		d.Listeners = nil
	}
	if err := s.maybeCollect(d, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// resolveStructField walks a dot-separated subscript path (e.g.
// "3.1.4" addresses field 4 of field 1 of field 3) into fields,
// descending into a field's Nested slots for every path segment but
// the last. Returns the leaf field the final segment names.
func resolveStructField(fields []*types.StructField, subscript string) (*types.StructField, error) {
	segs := strings.Split(subscript, ".")
	cur := fields
	var leaf *types.StructField
	for i, seg := range segs {
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, types.NewError(types.NUMBER_FORMAT, err)
		}
		if idx < 0 || idx >= len(cur) {
			return nil, types.NewError(types.SUBSCRIPT_NOT_FOUND, fmt.Errorf("struct field %d out of range", idx))
		}
		leaf = cur[idx]
		if i < len(segs)-1 {
			if leaf.Type != types.TypeStruct {
				return nil, types.NewError(types.TYPE, fmt.Errorf("struct field %d is not a nested struct", idx))
			}
			cur = leaf.Nested
		}
	}
	return leaf, nil
}

// Retrieve returns the packed value (or subfield) for id, applying the
// policy's DecrRead/DecrWrite atomically with the read. The policy's
// AcquireRead/AcquireWrite are ignored: no referand refcount is acquired.
func (s *Store) Retrieve(id types.DatumID, subscript string, policy types.RefcountPolicy) ([]byte, types.ValueType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.get(id)
	if err != nil {
		return nil, 0, err
	}

	var value []byte
	valType := d.Type
	switch {
	case subscript == "":
		if !d.Set && d.Type != types.TypeContainer && d.Type != types.TypeMultiset && d.Type != types.TypeStruct {
			return nil, 0, types.NewError(types.UNSET, fmt.Errorf("id %d unset", id))
		}
		value = d.Scalar
	case d.Type == types.TypeContainer:
		slot, ok := d.Container[subscript]
		if !ok {
			return nil, 0, types.NewError(types.SUBSCRIPT_NOT_FOUND, nil)
		}
		if slot.Value == nil {
			return nil, 0, types.NewError(types.UNSET, fmt.Errorf("container slot %d[%s] reserved but unset", id, subscript))
		}
		value = slot.Value
		valType = d.Extra.ValType
	case d.Type == types.TypeStruct:
		f, err := resolveStructField(d.Struct, subscript)
		if err != nil {
			return nil, 0, err
		}
		if !f.Initialized {
			return nil, 0, types.NewError(types.UNSET, nil)
		}
		value = f.Scalar
		valType = f.Type
	default:
		return nil, 0, types.NewError(types.TYPE, fmt.Errorf("retrieve: unsupported subscript on type %s", d.Type))
	}

	if err := s.adjustRefcounts(d, -policy.DecrRead, -policy.DecrWrite); err != nil {
		return nil, 0, err
	}
	if err := s.maybeCollect(d, nil); err != nil {
		return nil, 0, err
	}
	return value, valType, nil
}

// EnumerateResult is one (key, value) pair returned by Enumerate.
type EnumerateResult struct {
	Key   []byte
	Value []byte
}

// Enumerate returns up to count entries of a container or multiset,
// starting at offset. Multiset entries come in insertion order;
// container entries come in Go map iteration order, which is not
// insertion order and is not stable between calls.
func (s *Store) Enumerate(id types.DatumID, count, offset int, includeKeys, includeVals bool, decrRead int) ([]EnumerateResult, types.ValueType, types.ValueType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.get(id)
	if err != nil {
		return nil, 0, 0, err
	}

	var keys [][]byte
	var vals [][]byte
	switch d.Type {
	case types.TypeContainer:
		for k, v := range d.Container {
			if v.Value == nil {
				continue
			}
			keys = append(keys, []byte(k))
			vals = append(vals, v.Value)
		}
	case types.TypeMultiset:
		vals = d.Multiset.Elements()
	default:
		return nil, 0, 0, types.NewError(types.TYPE, fmt.Errorf("enumerate: unsupported type %s", d.Type))
	}

	if offset > len(vals) {
		offset = len(vals)
	}
	end := len(vals)
	if count >= 0 && offset+count < end {
		end = offset + count
	}

	results := make([]EnumerateResult, 0, end-offset)
	for i := offset; i < end; i++ {
		r := EnumerateResult{}
		if includeVals {
			r.Value = vals[i]
		}
		if includeKeys && i < len(keys) {
			r.Key = keys[i]
		}
		results = append(results, r)
	}

	if err := s.adjustRefcounts(d, -decrRead, 0); err != nil {
		return nil, 0, 0, err
	}
	if err := s.maybeCollect(d, nil); err != nil {
		return nil, 0, 0, err
	}
	return results, d.Extra.KeyType, d.Extra.ValType, nil
}

// InsertAtomicResult is the outcome of InsertAtomic.
type InsertAtomicResult struct {
	Created bool
	Value   []byte // non-nil if the slot was already filled
}

// InsertAtomic reserves a container slot. A fresh reservation returns
// Created=true; an already-filled slot returns the existing value; a
// slot reserved by someone else returns Created=false, Value=nil.
func (s *Store) InsertAtomic(id types.DatumID, subscript string) (*InsertAtomicResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if d.Type != types.TypeContainer {
		return nil, types.NewError(types.TYPE, fmt.Errorf("insert_atomic on non-container id %d", id))
	}

	slot, ok := d.Container[subscript]
	if !ok {
		d.Container[subscript] = &types.ContainerSlot{Present: true, Value: nil}
		return &InsertAtomicResult{Created: true}, nil
	}
	if slot.Value != nil {
		return &InsertAtomicResult{Created: false, Value: slot.Value}, nil
	}
	return &InsertAtomicResult{Created: false, Value: nil}, nil
}

// AddListener registers a whole-datum listener, to be returned in the
// next close event for id.
func (s *Store) AddListener(id types.DatumID, l types.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.get(id)
	if err != nil {
		return err
	}
	d.Listeners = append(d.Listeners, l)
	return nil
}

// IncrRemote adjusts refcounts on a datum possibly owned by a remote
// server; this server's caller is responsible for routing the call to
// the owner if Locate(id) != this server's rank. Mirrors
// xlb_incr_rc_svr from the reference implementation: the entry point
// used by cross-server sync.
func (s *Store) IncrRemote(id types.DatumID, deltaRead, deltaWrite int) (*CloseEvent, error) {
	return s.incrLocal(id, deltaRead, deltaWrite)
}

// incrLocal adjusts refcounts on a datum this server owns directly.
// Mirrors xlb_incr_rc_local.
func (s *Store) incrLocal(id types.DatumID, deltaRead, deltaWrite int) (*CloseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ev := &CloseEvent{DatumID: id}
	if err := s.adjustRefcounts(d, deltaRead, deltaWrite); err != nil {
		return nil, err
	}
	if d.WriteRefcount == 0 && deltaWrite < 0 {
		ev.WholeClosed = true
		ev.Listeners = d.Listeners
		d.Listeners = nil
	}
	if err := s.maybeCollect(d, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// incrReferand atomically transfers refcounts from a releasing datum
// to the referands named in its value, per the "acquire while
// releasing" contract: referands must never be observed with zero
// references between release-by-container and acquire-by-new-holder.
// Mirrors xlb_incr_referand's release_read/release_write/to_acquire
// triple. Called while s.mu is already held by the caller (only
// maybeCollect, during garbage collection) so the whole sequence is one
// atomic step from the perspective of other operations on this store.
func (s *Store) incrReferand(referandID types.DatumID, releaseRead, releaseWrite bool, acquireRead, acquireWrite int) (*CloseEvent, error) {
	d, ok := s.datums[referandID]
	if !ok {
		// referand already gone or remote; caller routes remote refcount
		// changes via the sync protocol instead.
		return nil, nil
	}

	deltaRead := acquireRead
	deltaWrite := acquireWrite
	if releaseRead {
		deltaRead--
	}
	if releaseWrite {
		deltaWrite--
	}

	ev := &CloseEvent{DatumID: referandID}
	if err := s.adjustRefcounts(d, deltaRead, deltaWrite); err != nil {
		return nil, err
	}
	if d.WriteRefcount == 0 && deltaWrite < 0 {
		ev.WholeClosed = true
		ev.Listeners = d.Listeners
		d.Listeners = nil
	}
	if err := s.maybeCollect(d, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Store) adjustRefcounts(d *types.Datum, deltaRead, deltaWrite int) error {
	if d.Permanent {
		return nil
	}
	if d.ReadRefcount+deltaRead < 0 || d.WriteRefcount+deltaWrite < 0 {
		return types.NewError(types.SLOTS_NEGATIVE, fmt.Errorf("refcount would go negative on id %d", d.ID))
	}
	d.ReadRefcount += deltaRead
	d.WriteRefcount += deltaWrite
	return nil
}

// maybeCollect garbage-collects d when both refcounts reach zero,
// recursively releasing the read refcount held on every referand
// appearing in its value. ev may be nil when the caller has no close
// event to annotate (e.g. a retrieve that doesn't close the datum).
func (s *Store) maybeCollect(d *types.Datum, ev *CloseEvent) error {
	if d.Permanent || d.ReadRefcount > 0 || d.WriteRefcount > 0 {
		return nil
	}
	for _, referandID := range referandsOf(d) {
		if _, err := s.incrReferand(referandID, true, d.ReleaseWriteRefs, 0, 0); err != nil {
			return err
		}
	}
	delete(s.datums, d.ID)
	metrics.DatumsLive.Set(float64(len(s.datums)))
	metrics.DatumsCollected.Inc()
	if ev != nil {
		ev.GarbageCollected = true
	}
	return nil
}

// Count returns the number of datums currently live, for metrics.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.datums)
}

// Snapshot returns read-only refcount/type info for leaked-data
// reporting at shutdown.
func (s *Store) Snapshot() []LeakReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LeakReport, 0, len(s.datums))
	for id, d := range s.datums {
		out = append(out, LeakReport{
			ID:            id,
			Type:          d.Type,
			ReadRefcount:  d.ReadRefcount,
			WriteRefcount: d.WriteRefcount,
		})
	}
	return out
}

// LeakReport describes one datum still live at shutdown.
type LeakReport struct {
	ID            types.DatumID
	Type          types.ValueType
	ReadRefcount  int
	WriteRefcount int
}

// referandsOf returns the datum ids referenced by d's value: the
// scalar itself for a ref/file-ref datum, or every ref-typed element
// for a container/multiset/struct. Malformed reference bytes are
// skipped rather than propagated, since garbage collection must not
// fail on account of a referand that can no longer be decoded.
func referandsOf(d *types.Datum) []types.DatumID {
	switch d.Type {
	case types.TypeRef, types.TypeFileRef:
		if len(d.Scalar) == 0 {
			return nil
		}
		id, err := codec.UnpackRef(d.Scalar)
		if err != nil {
			return nil
		}
		return []types.DatumID{id}
	case types.TypeContainer:
		if d.Extra.ValType != types.TypeRef && d.Extra.ValType != types.TypeFileRef {
			return nil
		}
		var out []types.DatumID
		for _, slot := range d.Container {
			if slot.Value == nil {
				continue
			}
			if id, err := codec.UnpackRef(slot.Value); err == nil {
				out = append(out, id)
			}
		}
		return out
	case types.TypeMultiset:
		if d.Extra.ValType != types.TypeRef && d.Extra.ValType != types.TypeFileRef || d.Multiset == nil {
			return nil
		}
		var out []types.DatumID
		for _, e := range d.Multiset.Elements() {
			if id, err := codec.UnpackRef(e); err == nil {
				out = append(out, id)
			}
		}
		return out
	case types.TypeStruct:
		var out []types.DatumID
		for _, f := range d.Struct {
			if !f.Initialized || f.Type != types.TypeRef && f.Type != types.TypeFileRef {
				continue
			}
			if id, err := codec.UnpackRef(f.Scalar); err == nil {
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}
