// Package types defines the core data model shared by every server
// component: datum records and their value union, pending tasks, work
// units, requests, and the error taxonomy every core operation reports.
package types

import "fmt"

// DatumID is a signed 64-bit globally-unique identifier. Zero is the
// reserved null id. A server allocates fresh ids from an arithmetic
// progression starting at its rank with stride equal to the server
// count, so allocation never needs cross-server coordination.
type DatumID int64

// NullID is the reserved identifier that never names a real datum.
const NullID DatumID = 0

// Locate returns the rank of the server owning id, given serverCount
// servers in the deployment.
func Locate(id DatumID, serverCount int) int {
	return int(int64(id) % int64(serverCount))
}

// ValueType is the closed set of types a datum may hold.
type ValueType int

const (
	TypeInt ValueType = iota
	TypeFloat
	TypeString
	TypeBlob
	TypeRef
	TypeFileRef
	TypeContainer
	TypeMultiset
	TypeStruct
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBlob:
		return "blob"
	case TypeRef:
		return "ref"
	case TypeFileRef:
		return "file_ref"
	case TypeContainer:
		return "container"
	case TypeMultiset:
		return "multiset"
	case TypeStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// TypeExtra carries type parameters that are not part of the ValueType
// tag itself: the key/value types of a container, the element type of
// a multiset, or the declared struct-type index of a struct.
type TypeExtra struct {
	KeyType    ValueType
	ValType    ValueType
	StructType int
}

// Code is the complete taxonomy of outcomes a core operation may
// signal. Every handler returns exactly one of these, synchronously,
// in its reply.
type Code int

const (
	SUCCESS Code = iota
	OOM
	DOUBLE_DECLARE
	DOUBLE_WRITE
	UNSET
	NOT_FOUND
	SUBSCRIPT_NOT_FOUND
	NUMBER_FORMAT
	INVALID
	NULL
	TYPE
	SLOTS_NEGATIVE
	LIMIT
	UNKNOWN
)

func (c Code) String() string {
	switch c {
	case SUCCESS:
		return "SUCCESS"
	case OOM:
		return "OOM"
	case DOUBLE_DECLARE:
		return "DOUBLE_DECLARE"
	case DOUBLE_WRITE:
		return "DOUBLE_WRITE"
	case UNSET:
		return "UNSET"
	case NOT_FOUND:
		return "NOT_FOUND"
	case SUBSCRIPT_NOT_FOUND:
		return "SUBSCRIPT_NOT_FOUND"
	case NUMBER_FORMAT:
		return "NUMBER_FORMAT"
	case INVALID:
		return "INVALID"
	case NULL:
		return "NULL"
	case TYPE:
		return "TYPE"
	case SLOTS_NEGATIVE:
		return "SLOTS_NEGATIVE"
	case LIMIT:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

// CodeError wraps a Code as a Go error so callers can use errors.Is
// against the sentinel Err* values below while still printing a human
// string and, where relevant, an underlying cause.
type CodeError struct {
	Code  Code
	Cause error
}

func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code.String()
}

func (e *CodeError) Unwrap() error { return e.Cause }

// Is reports whether target is a *CodeError with the same Code, so
// errors.Is(err, types.ErrNotFound) works without exposing fields.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	return ok && t.Code == e.Code
}

// NewError wraps code (and an optional cause) as an error. Returns nil
// for SUCCESS.
func NewError(code Code, cause error) error {
	if code == SUCCESS {
		return nil
	}
	return &CodeError{Code: code, Cause: cause}
}

// Sentinel errors for errors.Is comparisons against NewError results.
var (
	ErrOOM               = &CodeError{Code: OOM}
	ErrDoubleDeclare     = &CodeError{Code: DOUBLE_DECLARE}
	ErrDoubleWrite       = &CodeError{Code: DOUBLE_WRITE}
	ErrUnset             = &CodeError{Code: UNSET}
	ErrNotFound          = &CodeError{Code: NOT_FOUND}
	ErrSubscriptNotFound = &CodeError{Code: SUBSCRIPT_NOT_FOUND}
	ErrNumberFormat      = &CodeError{Code: NUMBER_FORMAT}
	ErrInvalid           = &CodeError{Code: INVALID}
	ErrNull              = &CodeError{Code: NULL}
	ErrType              = &CodeError{Code: TYPE}
	ErrSlotsNegative     = &CodeError{Code: SLOTS_NEGATIVE}
	ErrLimit             = &CodeError{Code: LIMIT}
	ErrUnknown           = &CodeError{Code: UNKNOWN}
)

// Accuracy is the granularity at which a work unit's target is
// interpreted.
type Accuracy int

const (
	AccuracyRank Accuracy = iota
	AccuracyHost
)

// Strictness controls whether a targeted work unit may fall back to
// an untargeted match.
type Strictness int

const (
	Strict Strictness = iota
	Soft
)

// AnyRank is the target sentinel meaning "no specific rank required".
const AnyRank = -1

// Listener is a (rank, work-type) pair waiting on a whole-datum or
// subscript close.
type Listener struct {
	Rank     int
	WorkType int
}

// ReferenceBinding names a referand to notify when the bound container
// slot closes: deliver the closed bytes to RefID/RefSubscript, typed
// as RefType, then release TransferRead/TransferWrite from the
// container's own refcount — the reservation container_reference held
// open on behalf of this binding.
type ReferenceBinding struct {
	RefID         DatumID
	RefSubscript  string
	RefType       ValueType
	TransferRead  int
	TransferWrite int
}

// RefcountPolicy bundles the refcount side effects a retrieve call
// may request atomically with its primary effect.
type RefcountPolicy struct {
	DecrRead  int
	DecrWrite int
	// AcquireRead/AcquireWrite are carried over the wire with the
	// policy; store.Retrieve does not apply them, so no referand
	// refcount is acquired.
	AcquireRead  int
	AcquireWrite int
}

// Notification describes one listener to wake after a store or
// refcount-incr closes a datum or subscript.
type Notification struct {
	Rank     int
	WorkType int
	DatumID  DatumID
	Subtree  string
	Value    []byte
	Type     ValueType
}

// ContainerSlot is one entry of a container-typed datum. A present slot
// with a nil Value is an atomic reservation awaiting its store.
type ContainerSlot struct {
	Present bool
	Value   []byte
}

// Datum is the in-memory record for one identifier, owned by exactly
// the server Locate(id) selects.
type Datum struct {
	ID    DatumID
	Type  ValueType
	Extra TypeExtra

	Set              bool
	Permanent        bool
	ReleaseWriteRefs bool
	SubscriptNotifs  bool

	ReadRefcount  int
	WriteRefcount int

	Listeners []Listener

	// Scalar holds the packed wire bytes for int/float/string/blob/ref/file-ref.
	Scalar []byte

	// Container holds key -> slot for TypeContainer datums.
	Container map[string]*ContainerSlot

	// Multiset holds the chunked element sequence for TypeMultiset datums.
	Multiset *Multiset

	// Struct holds one slot per declared field for TypeStruct datums.
	Struct []*StructField
}

// Multiset is an append-only chunked sequence of typed elements so a
// very large multiset never requires one huge reallocation.
type Multiset struct {
	ElemType  ValueType
	ChunkSize int
	chunks    []*multisetChunk
}

type multisetChunk struct {
	elems [][]byte
}

// NewMultiset creates an empty multiset with the given chunk capacity.
func NewMultiset(elemType ValueType, chunkSize int) *Multiset {
	if chunkSize <= 0 {
		chunkSize = 256
	}
	return &Multiset{ElemType: elemType, ChunkSize: chunkSize}
}

// Append adds one packed element, starting a new chunk when the
// current tail chunk is full.
func (m *Multiset) Append(elem []byte) {
	if len(m.chunks) == 0 || len(m.chunks[len(m.chunks)-1].elems) >= m.ChunkSize {
		m.chunks = append(m.chunks, &multisetChunk{})
	}
	tail := m.chunks[len(m.chunks)-1]
	tail.elems = append(tail.elems, elem)
}

// Len returns the total element count across all chunks.
func (m *Multiset) Len() int {
	n := 0
	for _, c := range m.chunks {
		n += len(c.elems)
	}
	return n
}

// Elements returns every element in insertion order.
func (m *Multiset) Elements() [][]byte {
	out := make([][]byte, 0, m.Len())
	for _, c := range m.chunks {
		out = append(out, c.elems...)
	}
	return out
}

// StructField is one field slot of a struct-typed datum, addressable
// by a subscript path such as "3.1.4".
type StructField struct {
	Initialized bool
	Type        ValueType
	Scalar      []byte
	Nested      []*StructField // non-nil when Type == TypeStruct
}

// StructDecl is a compile-time struct type declaration, identical on
// every process. Declarations are append-or-once: redeclaring the
// same index is an error.
type StructDecl struct {
	Index  int
	Name   string
	Fields []StructFieldDecl
}

// StructFieldDecl names one field of a declared struct type. When
// Type is TypeStruct, NestedFields declares that field's own fields in
// turn, so a subscript path like "3.1.4" can be resolved by walking
// one StructFieldDecl (and the matching StructField.Nested slot) per
// path segment instead of stopping at the first index.
type StructFieldDecl struct {
	Type         ValueType
	Name         string
	NestedFields []StructFieldDecl
}

// WorkUnit is a task payload plus routing metadata waiting in a work
// queue to be handed to a worker.
type WorkUnit struct {
	ID          int64
	EnqueuedAt  int64 // unix nanos, stamped by the caller
	Type        int
	Putter      int
	Priority    int
	Answer      int
	Target      int
	Accuracy    Accuracy
	Strictness  Strictness
	Parallelism int
	Payload     []byte
}

// PendingTask is the dependency engine's record of a task blocked on
// one or more datum/subscript closes. It embeds the WorkUnit it will
// become once every input has closed.
type PendingTask struct {
	ID   int64
	Unit WorkUnit

	InputIDs  []DatumID
	InputSubs []string // "" for a whole-datum input, else the subscript key
	Closed    []bool   // parallel to InputIDs/InputSubs

	Blocker     int // lowest index not yet known closed
	TotalInputs int
}

// Remaining reports how many inputs have not yet closed.
func (p *PendingTask) Remaining() int {
	n := 0
	for _, c := range p.Closed {
		if !c {
			n++
		}
	}
	return n
}

// Ready reports whether every input has closed.
func (p *PendingTask) Ready() bool {
	return p.Blocker >= p.TotalInputs
}

// Request is one worker's outstanding get registration: count
// outstanding copies of a (rank, work-type) request, optionally
// blocking for idle/quiescence accounting.
type Request struct {
	Rank     int
	WorkType int
	Count    int
	Blocking bool
}
