package httpapi_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// readFields decodes a flat message into field number -> raw value (varint
// as uint64, bytes as string).
func readFields(t *testing.T, b []byte) map[protowire.Number]any {
	t.Helper()
	out := map[protowire.Number]any{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			require.GreaterOrEqual(t, m, 0)
			out[num] = v
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			require.GreaterOrEqual(t, m, 0)
			out[num] = string(v)
			b = b[m:]
		default:
			t.Fatalf("unexpected wire type %d", typ)
		}
	}
	return out
}

func TestAccessRequest_Protobuf(t *testing.T) {
	env := newTestServer(t)

	var req []byte
	req = protowire.AppendTag(req, 1, protowire.BytesType)
	req = protowire.AppendString(req, "door-001")
	req = protowire.AppendTag(req, 2, protowire.BytesType)
	req = protowire.AppendString(req, "aabbccdd")
	req = protowire.AppendTag(req, 3, protowire.VarintType)
	req = protowire.AppendVarint(req, 1)
	// An unknown field from a newer reader is ignored.
	req = protowire.AppendTag(req, 99, protowire.Fixed32Type)
	req = protowire.AppendFixed32(req, 7)

	resp := env.post(t, "/v1/access_request", "application/x-protobuf", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	f := readFields(t, body)
	assert.Equal(t, uint64(1), f[1], "ok")
	assert.Equal(t, uint64(1), f[2], "known")
	assert.Equal(t, uint64(1), f[3], "granted")
	assert.Equal(t, "ok", f[4])
	assert.Equal(t, "door-001", f[5])
	assert.NotEmpty(t, f[6])
	assert.Equal(t, uint64(4000), f[7])
}

func TestAccessRequest_ProtobufDeniedOmitsUnlock(t *testing.T) {
	env := newTestServer(t)

	var req []byte
	req = protowire.AppendTag(req, 1, protowire.BytesType)
	req = protowire.AppendString(req, "door-001")
	req = protowire.AppendTag(req, 2, protowire.BytesType)
	req = protowire.AppendString(req, "00000000")

	resp := env.post(t, "/v1/access_request", "application/x-protobuf", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	f := readFields(t, body)
	assert.NotContains(t, f, protowire.Number(3), "false is omitted")
	assert.NotContains(t, f, protowire.Number(7))
	assert.Equal(t, "unknown_card", f[4])
}

func TestHeartbeat_ProtobufNegativeRSSI(t *testing.T) {
	env := newTestServer(t)

	var req []byte
	req = protowire.AppendTag(req, 1, protowire.BytesType)
	req = protowire.AppendString(req, "door-001")
	req = protowire.AppendTag(req, 5, protowire.VarintType)
	rssi := int64(-61)
	req = protowire.AppendVarint(req, uint64(rssi))
	req = protowire.AppendTag(req, 8, protowire.VarintType)
	req = protowire.AppendVarint(req, 12)

	resp := env.post(t, "/v1/heartbeat", "application/x-protobuf", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	f := readFields(t, body)
	assert.Equal(t, uint64(1), f[2], "known")
	assert.Equal(t, "door-001", f[3])
	assert.Equal(t, "front", f[5])
}

func TestProtobuf_Truncated(t *testing.T) {
	env := newTestServer(t)
	// Tag for field 1 (bytes) claiming 10 bytes with only 2 present.
	resp := env.post(t, "/v1/access_request", "application/x-protobuf", []byte{0x0a, 0x0a, 'd', 'o'})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProtobuf_WrongWireType(t *testing.T) {
	env := newTestServer(t)

	cases := map[string][]byte{
		// module_id sent as a varint instead of a string.
		"access_request": protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), 7),
		// door_closed sent as a string instead of a varint.
		"heartbeat": protowire.AppendString(protowire.AppendTag(
			protowire.AppendString(protowire.AppendTag(nil, 1, protowire.BytesType), "door-001"),
			4, protowire.BytesType), "yes"),
	}
	for route, body := range cases {
		t.Run(route, func(t *testing.T) {
			resp := env.post(t, "/v1/"+route, "application/x-protobuf", body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			got := decodeJSON[errorBody](t, resp.Body)
			assert.Equal(t, "bad_proto", got.Error)
		})
	}
}
