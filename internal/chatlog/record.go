package chatlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Record encoding: uvarint headerLen | header | payload | crc32c(header|payload)
//
// The header is the minimal fallback schema: it must stay decodable even when
// the payload JSON drifts, so corrupt entries degrade to FailedToDeserialize
// instead of aborting readers.
//
// Header layout (big-endian): index(4) | timestamp_ms(8) | expires_ms(8).

const recordHeaderLen = 4 + 8 + 8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorrupt reports bytes that fail even fallback decoding. This indicates
// store corruption and must be escalated, never masked.
var ErrCorrupt = errors.New("chatlog: record corrupt beyond fallback decoding")

func encodeRecord(ev Event) ([]byte, error) {
	payload, err := marshalPayload(ev.CorrelationID, ev.Payload)
	if err != nil {
		return nil, err
	}

	var header [recordHeaderLen]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(ev.Index))
	binary.BigEndian.PutUint64(header[4:12], uint64(ev.Timestamp))
	binary.BigEndian.PutUint64(header[12:20], uint64(ev.Expires))

	out := make([]byte, 0, 10+recordHeaderLen+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(recordHeaderLen))
	out = append(out, tmp[:n]...)
	out = append(out, header[:]...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header[:])
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...), nil
}

// decodeHeader extracts the fallback schema fields. It tolerates headers
// longer than recordHeaderLen (written by newer software) but nothing shorter.
func decodeHeader(b []byte) (Event, error) {
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen < recordHeaderLen || uint64(n)+hlen > uint64(len(b)) {
		return Event{}, ErrCorrupt
	}
	h := b[n : n+recordHeaderLen]
	return Event{
		Index:     EventIndex(binary.BigEndian.Uint32(h[0:4])),
		Timestamp: int64(binary.BigEndian.Uint64(h[4:12])),
		Expires:   int64(binary.BigEndian.Uint64(h[12:20])),
	}, nil
}

// decodeRecord decodes stored bytes back into an Event. On payload failure it
// falls back to the header-only schema and synthesizes FailedToDeserialize;
// if even the header is unreadable it returns ErrCorrupt.
func decodeRecord(b []byte) (Event, error) {
	ev, err := decodeHeader(b)
	if err != nil {
		return Event{}, err
	}

	hlen, n := binary.Uvarint(b)
	end := len(b) - 4
	payloadStart := n + int(hlen)
	if end < payloadStart {
		ev.Payload = FailedToDeserialize{}
		return ev, nil
	}
	payload := b[payloadStart:end]
	expect := binary.BigEndian.Uint32(b[end:])
	crc := crc32.Update(0, castagnoli, b[n:payloadStart])
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		ev.Payload = FailedToDeserialize{}
		return ev, nil
	}

	correlation, p, perr := unmarshalPayload(payload)
	if perr != nil {
		ev.Payload = FailedToDeserialize{}
		return ev, nil
	}
	ev.CorrelationID = correlation
	ev.Payload = p
	return ev, nil
}

// validateRawRecord checks that imported bytes are at least well-formed enough
// for the fallback path, and that the embedded index matches the target slot.
func validateRawRecord(b []byte, want EventIndex) error {
	ev, err := decodeHeader(b)
	if err != nil {
		return err
	}
	if ev.Index != want {
		return fmt.Errorf("chatlog: raw record index %d does not match position %d", ev.Index, want)
	}
	return nil
}
