package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/types"
)

// maxRequestBody caps protobuf and JSON payloads. The largest reader
// message is a few hundred bytes, so 4 KiB is generous.
const maxRequestBody = 4096

const contentTypeProto = "application/x-protobuf"

// Field numbers of the reader wire messages. They must never be reused.
const (
	hbReqModuleID        protowire.Number = 1
	hbReqFirmwareVersion protowire.Number = 2
	hbReqUptimeS         protowire.Number = 3
	hbReqDoorClosed      protowire.Number = 4
	hbReqRSSIDbm         protowire.Number = 5
	hbReqIP              protowire.Number = 6
	hbReqFreeHeapBytes   protowire.Number = 7
	hbReqSequence        protowire.Number = 8

	hbRespOK         protowire.Number = 1
	hbRespKnown      protowire.Number = 2
	hbRespModuleID   protowire.Number = 3
	hbRespServerTime protowire.Number = 4
	hbRespDoor       protowire.Number = 5

	accReqModuleID    protowire.Number = 1
	accReqCardID      protowire.Number = 2
	accReqDoorClosed  protowire.Number = 3
	accReqRequestedAt protowire.Number = 4
	accReqBits        protowire.Number = 5

	accRespOK         protowire.Number = 1
	accRespKnown      protowire.Number = 2
	accRespGranted    protowire.Number = 3
	accRespReason     protowire.Number = 4
	accRespModuleID   protowire.Number = 5
	accRespServerTime protowire.Number = 6
	accRespUnlockMs   protowire.Number = 7
)

var errBadProto = errors.New("malformed protobuf payload")

// isProtobuf reports whether the body is protobuf. Readers send
// "application/x-protobuf".
func isProtobuf(r *http.Request) bool {
	switch r.Header.Get("Content-Type") {
	case contentTypeProto, "application/protobuf", "application/octet-stream":
		return true
	}
	return false
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
}

func writeProto(w http.ResponseWriter, status int, b []byte) {
	w.Header().Set("Content-Type", contentTypeProto)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// field is one decoded tag/value pair. Only varint and bytes are used by
// the reader messages.
type field struct {
	num protowire.Number
	u   uint64
	b   []byte
}

// walk calls fn for every field in b. Known fields must arrive with the
// wire type listed in want; unknown field numbers are ignored.
func walk(b []byte, want map[protowire.Number]protowire.Type, fn func(field)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errBadProto, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", errBadProto, protowire.ParseError(n))
		}
		b = b[n:]

		wt, known := want[num]
		if !known {
			continue
		}
		if wt != typ {
			return fmt.Errorf("%w: field %d has wire type %d, want %d", errBadProto, num, typ, wt)
		}
		fn(f)
	}
	return nil
}

var heartbeatRequestTypes = map[protowire.Number]protowire.Type{
	hbReqModuleID:        protowire.BytesType,
	hbReqFirmwareVersion: protowire.BytesType,
	hbReqUptimeS:         protowire.VarintType,
	hbReqDoorClosed:      protowire.VarintType,
	hbReqRSSIDbm:         protowire.VarintType,
	hbReqIP:              protowire.BytesType,
	hbReqFreeHeapBytes:   protowire.VarintType,
	hbReqSequence:        protowire.VarintType,
}

var accessRequestTypes = map[protowire.Number]protowire.Type{
	accReqModuleID:    protowire.BytesType,
	accReqCardID:      protowire.BytesType,
	accReqDoorClosed:  protowire.VarintType,
	accReqRequestedAt: protowire.BytesType,
	accReqBits:        protowire.BytesType,
}

func boolPtr(v uint64) *bool {
	b := v != 0
	return &b
}

func decodeHeartbeatRequest(b []byte) (types.HeartbeatRequest, error) {
	var req types.HeartbeatRequest
	err := walk(b, heartbeatRequestTypes, func(f field) {
		switch f.num {
		case hbReqModuleID:
			req.ModuleID = string(f.b)
		case hbReqFirmwareVersion:
			req.FirmwareVersion = string(f.b)
		case hbReqUptimeS:
			req.UptimeSeconds = f.u
		case hbReqDoorClosed:
			req.DoorClosed = boolPtr(f.u)
		case hbReqRSSIDbm:
			// int32 on the wire: negatives arrive sign-extended to 64 bits.
			v := int(int32(f.u))
			req.RSSIDbm = &v
		case hbReqIP:
			req.IP = string(f.b)
		case hbReqFreeHeapBytes:
			req.FreeHeapBytes = uint32(f.u)
		case hbReqSequence:
			req.Sequence = uint32(f.u)
		}
	})
	return req, err
}

func decodeAccessRequest(b []byte) (types.AccessRequest, error) {
	var req types.AccessRequest
	err := walk(b, accessRequestTypes, func(f field) {
		switch f.num {
		case accReqModuleID:
			req.ModuleID = string(f.b)
		case accReqCardID:
			req.CardID = string(f.b)
		case accReqDoorClosed:
			req.DoorClosed = boolPtr(f.u)
		case accReqRequestedAt:
			req.RequestedAt = string(f.b)
		case accReqBits:
			req.Bits = string(f.b)
		}
	})
	return req, err
}

// Proto3 rules: zero values are omitted.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeHeartbeatResponse(r types.HeartbeatResponse) []byte {
	var b []byte
	b = appendBool(b, hbRespOK, r.OK)
	b = appendBool(b, hbRespKnown, r.Known)
	b = appendString(b, hbRespModuleID, r.ModuleID)
	b = appendString(b, hbRespServerTime, r.ServerTime)
	b = appendString(b, hbRespDoor, r.Door)
	return b
}

func encodeAccessResponse(r types.AccessResponse) []byte {
	var b []byte
	b = appendBool(b, accRespOK, r.OK)
	b = appendBool(b, accRespKnown, r.Known)
	b = appendBool(b, accRespGranted, r.Granted)
	b = appendString(b, accRespReason, r.Reason)
	b = appendString(b, accRespModuleID, r.ModuleID)
	b = appendString(b, accRespServerTime, r.ServerTime)
	if r.UnlockMs > 0 {
		b = appendUint(b, accRespUnlockMs, uint64(r.UnlockMs))
	}
	return b
}
