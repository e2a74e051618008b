package relay

import (
	"bytes"
	"io"
	"testing"

	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMessage_RoundTrip(t *testing.T) {
	peer := bytes.Repeat([]byte{0x42}, 32)

	t.Run("CONNECT", func(t *testing.T) {
		got, err := Unmarshal(NewConnect(peer, 600).Marshal())
		require.NoError(t, err)
		assert.Equal(t, TypeConnect, got.Type)
		assert.Equal(t, peer, got.Peer)
		assert.Equal(t, uint64(600), got.Duration)
	})

	t.Run("STATUS 带地址", func(t *testing.T) {
		m := NewStatus(StatusOK, "")
		m.TTL = 3600
		m.Addrs = []string{"/ip4/1.2.3.4/udp/8890/quic-v1", "/ip6/::1/udp/8890/quic-v1"}
		got, err := Unmarshal(m.Marshal())
		require.NoError(t, err)
		assert.Equal(t, StatusOK, got.Status)
		assert.Equal(t, uint64(3600), got.TTL)
		assert.Equal(t, m.Addrs, got.Addrs)
	})

	t.Run("STATUS 拒绝原因", func(t *testing.T) {
		got, err := Unmarshal(NewStatus(StatusRateLimited, "slow down").Marshal())
		require.NoError(t, err)
		assert.Equal(t, StatusRateLimited, got.Status)
		assert.Equal(t, "slow down", got.Reason)
	})
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	b := NewReserve(60).Marshal()
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 43, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, TypeReserve, got.Type)
	assert.Equal(t, uint64(60), got.TTL)
}

func TestUnmarshal_Errors(t *testing.T) {
	t.Run("版本错误", func(t *testing.T) {
		m := NewCancel()
		m.Version = 2
		_, err := Unmarshal(m.Marshal())
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("缺少版本", func(t *testing.T) {
		_, err := Unmarshal((&Message{Type: TypeCancel}).Marshal())
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("截断", func(t *testing.T) {
		b := NewConnect(bytes.Repeat([]byte{1}, 32), 10).Marshal()
		_, err := Unmarshal(b[:len(b)-3])
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("字段类型不符", func(t *testing.T) {
		b := protowire.AppendTag(nil, 1, protowire.BytesType)
		b = protowire.AppendString(b, "1")
		_, err := Unmarshal(b)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestFrame(t *testing.T) {
	t.Run("连续读取不越界", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, NewReserve(30)))
		require.NoError(t, WriteMessage(&buf, NewCancel()))
		buf.WriteString("raw payload")

		first, err := ReadMessage(&buf)
		require.NoError(t, err)
		assert.Equal(t, TypeReserve, first.Type)

		second, err := ReadMessage(&buf)
		require.NoError(t, err)
		assert.Equal(t, TypeCancel, second.Type)

		rest, err := io.ReadAll(&buf)
		require.NoError(t, err)
		assert.Equal(t, "raw payload", string(rest))
	})

	t.Run("超长帧在分配前拒绝", func(t *testing.T) {
		r := bytes.NewReader(varint.ToUvarint(MaxFrameSize + 1))
		_, err := ReadMessage(r)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("写入超长帧", func(t *testing.T) {
		m := NewStatus(StatusOK, string(bytes.Repeat([]byte{'x'}, MaxFrameSize)))
		assert.ErrorIs(t, WriteMessage(io.Discard, m), ErrFrameTooLarge)
	})

	t.Run("空流返回 EOF", func(t *testing.T) {
		_, err := ReadMessage(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("载荷不完整", func(t *testing.T) {
		b := append(varint.ToUvarint(10), 0x08)
		_, err := ReadMessage(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestStatusCode_String(t *testing.T) {
	assert.Equal(t, "NO_RESERVATION", StatusNoReservation.String())
	assert.Equal(t, "UNKNOWN(99)", StatusCode(99).String())
	assert.Equal(t, "CANCEL", TypeCancel.String())
}
