package transport

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/mdp2021s129-bot/hdcomm/codec"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/protocol"
)

// chunkReader hands out one chunk per Read, then io.EOF.
type chunkReader struct {
	chunks [][]byte
	out    bytes.Buffer
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Write(p []byte) (int, error) {
	return r.out.Write(p)
}

func frame(t *testing.T, m message.Message) []byte {
	t.Helper()
	b, err := protocol.AppendFrame(nil, m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func expectMessage(t *testing.T, c *Conn, want message.Message) {
	t.Helper()
	got, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func expectEOF(t *testing.T, c *Conn) {
	t.Helper()
	_, err := c.ReadMessage()
	var ioErr *IOError
	if !errors.As(err, &ioErr) || !errors.Is(err, io.EOF) {
		t.Fatalf("expect *IOError wrapping EOF, got %v", err)
	}
	if IsRecoverable(err) {
		t.Fatal("EOF must not be recoverable")
	}
}

// 测试分片和粘包
func TestReadMessageSplitAndJoinedChunks(t *testing.T) {
	first := message.RPC{ID: 1, Payload: message.PingRep{TimeMs: 10}}
	second := message.Stream{Payload: message.Ahrs{Gyro: [3]int16{4, 5, 6}}}
	f1, f2 := frame(t, first), frame(t, second)

	r := &chunkReader{chunks: [][]byte{f1[:3], append(f1[3:], f2...)}}
	c := NewConn(r)

	expectMessage(t, c, first)
	expectMessage(t, c, second)
	expectEOF(t, c)
	expectEOF(t, c)
}

func TestReadMessageOverflowIsRecoverable(t *testing.T) {
	good := message.RPC{ID: 2, Payload: message.MoveRep{Status: message.MoveBusy}}
	garbage := bytes.Repeat([]byte{0xAA}, protocol.MaxEncodedLength+20)

	r := &chunkReader{chunks: [][]byte{garbage, frame(t, good)}}
	c := NewConn(r)

	_, err := c.ReadMessage()
	if !errors.Is(err, ErrFrameOverflow) || !IsRecoverable(err) {
		t.Fatalf("expect recoverable ErrFrameOverflow, got %v", err)
	}
	expectMessage(t, c, good)
	expectEOF(t, c)
}

// A run of line noise longer than any frame, split across reads, costs exactly
// one overflow and nothing after it.
func TestReadMessageOverflowAcrossReads(t *testing.T) {
	first := message.RPC{ID: 4, Payload: message.PingRep{TimeMs: 40}}
	second := message.RPC{ID: 5, Payload: message.PingRep{TimeMs: 50}}

	stream := frame(t, first)
	stream = append(stream, bytes.Repeat([]byte{0x5A}, 600)...)
	stream = append(stream, frame(t, second)...)

	r := &chunkReader{}
	for len(stream) > 0 {
		n := min(64, len(stream))
		r.chunks = append(r.chunks, stream[:n])
		stream = stream[n:]
	}
	c := NewConn(r)

	expectMessage(t, c, first)
	if _, err := c.ReadMessage(); !errors.Is(err, ErrFrameOverflow) {
		t.Fatalf("expect ErrFrameOverflow, got %v", err)
	}
	expectMessage(t, c, second)
	expectEOF(t, c)
}

func TestReadMessageDeserializationIsRecoverable(t *testing.T) {
	bad := []byte{0x02, 0x07, protocol.Delimiter} // class 0x07
	good := message.Stream{Payload: message.Ahrs{TimeMs: 1}}

	r := &chunkReader{chunks: [][]byte{append(bad, frame(t, good)...)}}
	c := NewConn(r)

	_, err := c.ReadMessage()
	if !errors.Is(err, ErrDeserialization) || !errors.Is(err, codec.ErrDeserialize) {
		t.Fatalf("expect ErrDeserialization wrapping the codec error, got %v", err)
	}
	if !IsRecoverable(err) {
		t.Fatal("deserialization errors must be recoverable")
	}
	expectMessage(t, c, good)
}

func TestReadMessageSkipsEmptyReads(t *testing.T) {
	m := message.RPC{ID: 3, Payload: message.PwmRep{}}
	r := &chunkReader{chunks: [][]byte{{}, {}, frame(t, m)}}

	expectMessage(t, NewConn(r), m)
}

func TestWriteMessage(t *testing.T) {
	m := message.RPC{ID: 0xBEEF, Payload: message.RawTeleOpReq{Throttle: 0.5, Steering: -0.25}}
	r := &chunkReader{}
	c := NewConn(r)

	if err := c.WriteMessage(m); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r.out.Bytes(), frame(t, m)) {
		t.Fatalf("unexpected bytes on the wire: % x", r.out.Bytes())
	}
}

type brokenWriter struct{ io.Reader }

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteMessageIOError(t *testing.T) {
	c := NewConn(brokenWriter{Reader: bytes.NewReader(nil)})

	err := c.WriteMessage(message.RPC{ID: 1, Payload: message.PingReq{}})
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "write" || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expect write IOError, got %v", err)
	}
}

func TestWriteMessageNilPayload(t *testing.T) {
	c := NewConn(&chunkReader{})
	if err := c.WriteMessage(message.RPC{ID: 1}); !errors.Is(err, codec.ErrUnknownPayload) {
		t.Fatalf("expect codec.ErrUnknownPayload, got %v", err)
	}
}
