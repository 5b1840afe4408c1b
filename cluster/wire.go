// Package cluster implements the distributed update pipeline: coordinator,
// stateless workers, a broker abstraction, and the compact binary wire
// messages exchanged between them.
package cluster

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"

	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

const component = "cluster"

// TaskID correlates a request with its eventual response. It is a
// time-ordered (v7-style) UUID assigned at request construction.
type TaskID [16]byte

// NewTaskID mints a fresh, time-ordered task id.
func NewTaskID() TaskID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the runtime's random source is broken;
		// falling back to v4 keeps TaskID generation infallible from the
		// caller's point of view.
		id = uuid.New()
	}
	return TaskID(id)
}

// PayloadID addresses an out-of-band payload in the broker's blob store.
type PayloadID = TaskID

// NewPayloadID mints a fresh payload id.
func NewPayloadID() PayloadID { return NewTaskID() }

// headTag identifies a RequestHead's wire shape.
type headTag byte

const (
	tagStoreBlock headTag = iota + 1
	tagRetrieveData
	tagPersistUpdate
	tagBufferUpdateData
	tagUpdate
	tagFlushBuf
	tagDropStore
	tagHeartBeat
	tagShutdown
)

// RequestHead is the closed set of request payload shapes.
type RequestHead interface {
	requestTag() headTag
	encode(w *bytes.Buffer)
}

type StoreBlockReq struct {
	ID        storage.BlockID
	PayloadID PayloadID
}

type RetrieveDataReq struct {
	ID     storage.BlockID
	Ranges []storage.Range
}

type PersistUpdateReq struct {
	ID storage.BlockID
}

type BufferUpdateDataReq struct {
	ID        storage.BlockID
	Ranges    []storage.Range
	PayloadID PayloadID
}

type UpdateReq struct {
	ID        storage.BlockID
	Ranges    []storage.Range
	PayloadID PayloadID
}

type FlushBufReq struct{}
type DropStoreReq struct{}
type HeartBeatReq struct{}
type ShutdownReq struct{}

func (StoreBlockReq) requestTag() headTag        { return tagStoreBlock }
func (RetrieveDataReq) requestTag() headTag       { return tagRetrieveData }
func (PersistUpdateReq) requestTag() headTag      { return tagPersistUpdate }
func (BufferUpdateDataReq) requestTag() headTag   { return tagBufferUpdateData }
func (UpdateReq) requestTag() headTag             { return tagUpdate }
func (FlushBufReq) requestTag() headTag           { return tagFlushBuf }
func (DropStoreReq) requestTag() headTag          { return tagDropStore }
func (HeartBeatReq) requestTag() headTag          { return tagHeartBeat }
func (ShutdownReq) requestTag() headTag           { return tagShutdown }

func (r StoreBlockReq) encode(w *bytes.Buffer) {
	writeU64(w, uint64(r.ID))
	w.Write(r.PayloadID[:])
}
func (r RetrieveDataReq) encode(w *bytes.Buffer) {
	writeU64(w, uint64(r.ID))
	writeRanges(w, r.Ranges)
}
func (r PersistUpdateReq) encode(w *bytes.Buffer) { writeU64(w, uint64(r.ID)) }
func (r BufferUpdateDataReq) encode(w *bytes.Buffer) {
	writeU64(w, uint64(r.ID))
	writeRanges(w, r.Ranges)
	w.Write(r.PayloadID[:])
}
func (r UpdateReq) encode(w *bytes.Buffer) {
	writeU64(w, uint64(r.ID))
	writeRanges(w, r.Ranges)
	w.Write(r.PayloadID[:])
}
func (FlushBufReq) encode(*bytes.Buffer) {}
func (DropStoreReq) encode(*bytes.Buffer) {}
func (HeartBeatReq) encode(*bytes.Buffer) {}
func (ShutdownReq) encode(*bytes.Buffer) {}

// Request is a fully addressed wire message: Request := TaskID(16B) |
// HeadTag(1B) | HeadFields...
type Request struct {
	TaskID TaskID
	Head   RequestHead
}

// Encode serializes r to the compact binary wire form.
func (r Request) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(r.TaskID[:])
	buf.WriteByte(byte(r.Head.requestTag()))
	r.Head.encode(&buf)
	return buf.Bytes()
}

// DecodeRequest parses a wire-encoded Request.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) < 17 {
		return Request{}, errkit.New(errkit.InvalidArg, component, "request too short")
	}
	var taskID TaskID
	copy(taskID[:], data[:16])
	r := bytes.NewReader(data[17:])
	tag := headTag(data[16])
	head, err := decodeRequestHead(tag, r)
	if err != nil {
		return Request{}, err
	}
	return Request{TaskID: taskID, Head: head}, nil
}

func decodeRequestHead(tag headTag, r *bytes.Reader) (RequestHead, error) {
	switch tag {
	case tagStoreBlock:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		var pid PayloadID
		if _, err := io.ReadFull(r, pid[:]); err != nil {
			return nil, errkit.Wrap(errkit.InvalidArg, component, "decoding payload id", err)
		}
		return StoreBlockReq{ID: storage.BlockID(id), PayloadID: pid}, nil
	case tagRetrieveData:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		ranges, err := readRanges(r)
		if err != nil {
			return nil, err
		}
		return RetrieveDataReq{ID: storage.BlockID(id), Ranges: ranges}, nil
	case tagPersistUpdate:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		return PersistUpdateReq{ID: storage.BlockID(id)}, nil
	case tagBufferUpdateData:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		ranges, err := readRanges(r)
		if err != nil {
			return nil, err
		}
		var pid PayloadID
		if _, err := io.ReadFull(r, pid[:]); err != nil {
			return nil, errkit.Wrap(errkit.InvalidArg, component, "decoding payload id", err)
		}
		return BufferUpdateDataReq{ID: storage.BlockID(id), Ranges: ranges, PayloadID: pid}, nil
	case tagUpdate:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		ranges, err := readRanges(r)
		if err != nil {
			return nil, err
		}
		var pid PayloadID
		if _, err := io.ReadFull(r, pid[:]); err != nil {
			return nil, errkit.Wrap(errkit.InvalidArg, component, "decoding payload id", err)
		}
		return UpdateReq{ID: storage.BlockID(id), Ranges: ranges, PayloadID: pid}, nil
	case tagFlushBuf:
		return FlushBufReq{}, nil
	case tagDropStore:
		return DropStoreReq{}, nil
	case tagHeartBeat:
		return HeartBeatReq{}, nil
	case tagShutdown:
		return ShutdownReq{}, nil
	default:
		return nil, errkit.New(errkit.InvalidArg, component, "unknown request head tag")
	}
}

// resultTag identifies a ResponseResult's wire shape.
type resultTag byte

const (
	tagAck resultTag = iota + 1
	tagNak
)

// ResponseResult is either Ack{variant} or Nak{error_payload_id}.
type ResponseResult interface {
	resultTagByte() resultTag
	encode(w *bytes.Buffer)
}

// ackTag identifies the shape of data carried by a successful Ack.
type ackTag byte

const (
	ackSimple ackTag = iota + 1
	ackRetrieveData
	ackPersistUpdate
)

// Ack carries a request-shaped acknowledgement. RetrieveData's ack carries
// the concatenated bytes of every requested range, in range order.
// PersistUpdate's ack carries the ranges that were present in the buffer
// plus their concatenated (pre-overwrite) bytes.
type Ack struct {
	Variant ackTag
	Data    []byte
	Ranges  []storage.Range
}

func SimpleAck() Ack                                  { return Ack{Variant: ackSimple} }
func RetrieveDataAck(data []byte) Ack                 { return Ack{Variant: ackRetrieveData, Data: data} }
func PersistUpdateAck(ranges []storage.Range, data []byte) Ack {
	return Ack{Variant: ackPersistUpdate, Ranges: ranges, Data: data}
}

func (Ack) resultTagByte() resultTag { return tagAck }
func (a Ack) encode(w *bytes.Buffer) {
	w.WriteByte(byte(a.Variant))
	switch a.Variant {
	case ackRetrieveData:
		writeBytes(w, a.Data)
	case ackPersistUpdate:
		writeRanges(w, a.Ranges)
		writeBytes(w, a.Data)
	}
}

// Nak carries the id of a textual error message already stored out of band
// in the broker's blob store.
type Nak struct {
	ErrPayloadID PayloadID
}

func (Nak) resultTagByte() resultTag { return tagNak }
func (n Nak) encode(w *bytes.Buffer) { w.Write(n.ErrPayloadID[:]) }

// Response is Response := TaskID(16B) | ResultTag(1B) | AckOrNakFields...
type Response struct {
	TaskID TaskID
	Result ResponseResult
}

func (r Response) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(r.TaskID[:])
	buf.WriteByte(byte(r.Result.resultTagByte()))
	r.Result.encode(&buf)
	return buf.Bytes()
}

func DecodeResponse(data []byte) (Response, error) {
	if len(data) < 17 {
		return Response{}, errkit.New(errkit.InvalidArg, component, "response too short")
	}
	var taskID TaskID
	copy(taskID[:], data[:16])
	r := bytes.NewReader(data[17:])
	switch resultTag(data[16]) {
	case tagAck:
		variantByte, err := r.ReadByte()
		if err != nil {
			return Response{}, errkit.Wrap(errkit.InvalidArg, component, "decoding ack variant", err)
		}
		ack := Ack{Variant: ackTag(variantByte)}
		switch ack.Variant {
		case ackRetrieveData:
			data, err := readBytes(r)
			if err != nil {
				return Response{}, err
			}
			ack.Data = data
		case ackPersistUpdate:
			ranges, err := readRanges(r)
			if err != nil {
				return Response{}, err
			}
			data, err := readBytes(r)
			if err != nil {
				return Response{}, err
			}
			ack.Ranges, ack.Data = ranges, data
		}
		return Response{TaskID: taskID, Result: ack}, nil
	case tagNak:
		var pid PayloadID
		if _, err := io.ReadFull(r, pid[:]); err != nil {
			return Response{}, errkit.Wrap(errkit.InvalidArg, component, "decoding nak payload id", err)
		}
		return Response{TaskID: taskID, Result: Nak{ErrPayloadID: pid}}, nil
	default:
		return Response{}, errkit.New(errkit.InvalidArg, component, "unknown response result tag")
	}
}

func writeU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errkit.Wrap(errkit.InvalidArg, component, "decoding u64", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeBytes(w *bytes.Buffer, data []byte) {
	writeU64(w, uint64(len(data)))
	w.Write(data)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errkit.Wrap(errkit.InvalidArg, component, "decoding byte payload", err)
	}
	return buf, nil
}

// writeRanges/readRanges serialize []storage.Range as a count followed by
// (pos, size) pairs, preserving order — the order the RetrieveData ack
// concatenates its payload bytes in.
func writeRanges(w *bytes.Buffer, ranges []storage.Range) {
	writeU64(w, uint64(len(ranges)))
	for _, r := range ranges {
		writeU64(w, uint64(r.Pos))
		writeU64(w, uint64(r.Size))
	}
}

func readRanges(r *bytes.Reader) ([]storage.Range, error) {
	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Range, n)
	for i := range out {
		pos, err := readU64(r)
		if err != nil {
			return nil, err
		}
		size, err := readU64(r)
		if err != nil {
			return nil, err
		}
		out[i] = storage.Range{Pos: int(pos), Size: int(size)}
	}
	return out, nil
}
