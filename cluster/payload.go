package cluster

import (
	"github.com/klauspost/compress/zstd"

	"github.com/lokyinzhao/stripe-update-go/errkit"
)

// compressionThreshold is the payload size at or above which StoreBlock/
// BufferUpdateData/Update payloads are zstd-compressed before they hit the
// blob store, the way backend/raid3 only reaches for zstd on whole blocks
// rather than every small write.
const compressionThreshold = 16 * 1024

const (
	payloadPlain byte = iota
	payloadZstd
)

// putPayload stores data under a fresh PayloadID, transparently compressing
// it with zstd when it clears compressionThreshold.
func putPayload(broker Broker, data []byte) (PayloadID, error) {
	pid := NewPayloadID()
	encoded, err := encodePayload(data)
	if err != nil {
		return PayloadID{}, err
	}
	if err := broker.PutPayload(pid, encoded); err != nil {
		return PayloadID{}, err
	}
	return pid, nil
}

// takePayload fetches and decodes the payload at id, reversing whatever
// compression putPayload applied.
func takePayload(broker Broker, id PayloadID) ([]byte, bool, error) {
	raw, ok, err := broker.TakePayload(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := decodePayload(raw)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func encodePayload(data []byte) ([]byte, error) {
	if len(data) < compressionThreshold {
		return append([]byte{payloadPlain}, data...), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errkit.Wrap(errkit.Other, component, "constructing zstd encoder", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(data, nil)
	return append([]byte{payloadZstd}, compressed...), nil
}

func decodePayload(encoded []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, errkit.New(errkit.InvalidArg, component, "empty payload envelope")
	}
	tag, body := encoded[0], encoded[1:]
	switch tag {
	case payloadPlain:
		return body, nil
	case payloadZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errkit.Wrap(errkit.Other, component, "constructing zstd decoder", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, errkit.Wrap(errkit.Other, component, "zstd-decoding payload", err)
		}
		return out, nil
	default:
		return nil, errkit.New(errkit.InvalidArg, component, "unknown payload envelope tag")
	}
}
