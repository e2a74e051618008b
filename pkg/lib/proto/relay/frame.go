package relay

import (
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// WriteMessage 写入一个带长度前缀的帧
//
// 长度前缀和载荷在一次 Write 中发出。
func WriteMessage(w io.Writer, m *Message) error {
	payload := m.Marshal()
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := append(varint.ToUvarint(uint64(len(payload))), payload...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage 读取一个帧并解码
//
// 长度前缀逐字节读取，不会越过帧边界，
// 之后同一个流上的字节（例如转发数据）保持不被消费。
func ReadMessage(r io.Reader) (*Message, error) {
	size, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		if errors.Is(err, varint.ErrOverflow) || errors.Is(err, varint.ErrNotMinimal) {
			return nil, fmt.Errorf("%w: length prefix: %v", ErrMalformed, err)
		}
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated payload", ErrMalformed)
		}
		return nil, err
	}
	return Unmarshal(payload)
}

// byteReader 无缓冲的 io.ByteReader 适配
type byteReader struct {
	r io.Reader
}

func (br byteReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(br.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
