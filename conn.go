package taskbag

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

const (
	// frames above this size are rejected on both ends
	defaultMaxFrameSize = 16 << 20
	frameHeaderSize     = 4
)

var (
	ErrConnClosed      = errors.New("connection has been closed")
	ErrMessageTooLarge = errors.New("message is too large")
)

// Conn exchanges length-prefixed frames over a stream connection. It is not
// safe for concurrent readers or concurrent writers.
type Conn struct {
	conn          net.Conn
	reader        *bufio.Reader
	closed        atomic.Bool
	readTimeout   time.Duration
	writeTimeout  time.Duration
	maxFrameSize  uint32
	remoteAddress string
}

type ConnOption func(*Conn) error

func ConnWithReadTimeout(timeout time.Duration) ConnOption {
	return func(c *Conn) error {
		if timeout < 0 {
			return fmt.Errorf("negative read timeout: %s", timeout)
		}
		c.readTimeout = timeout
		return nil
	}
}

func ConnWithWriteTimeout(timeout time.Duration) ConnOption {
	return func(c *Conn) error {
		if timeout < 0 {
			return fmt.Errorf("negative write timeout: %s", timeout)
		}
		c.writeTimeout = timeout
		return nil
	}
}

func ConnWithMaxFrameSize(size uint32) ConnOption {
	return func(c *Conn) error {
		if size == 0 {
			return errors.New("max frame size must be positive")
		}
		c.maxFrameSize = size
		return nil
	}
}

func newConn(c net.Conn, opts ...ConnOption) (*Conn, error) {
	conn := &Conn{
		conn:         c,
		reader:       bufio.NewReader(c),
		readTimeout:  30 * time.Second,
		writeTimeout: 10 * time.Second,
		maxFrameSize: defaultMaxFrameSize,
	}
	if addr := c.RemoteAddr(); addr != nil {
		conn.remoteAddress = addr.String()
	}
	for _, opt := range opts {
		if err := opt(conn); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

func (c *Conn) RemoteAddr() string { return c.remoteAddress }

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return ErrConnClosed
	}
	return c.conn.Close()
}

func (c *Conn) ReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	if err := c.conn.SetReadDeadline(deadline(c.readTimeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	var lenBuf [frameHeaderSize]byte
	if _, err := io.ReadFull(c.reader, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrConnClosed
		}
		return nil, fmt.Errorf("reading length: %w", err)
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > c.maxFrameSize {
		return nil, ErrMessageTooLarge
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	return buf, nil
}

func (c *Conn) WriteFrame(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if uint64(len(data)) > uint64(c.maxFrameSize) {
		return ErrMessageTooLarge
	}
	if err := c.conn.SetWriteDeadline(deadline(c.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}

	frame := make([]byte, frameHeaderSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[frameHeaderSize:], data)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// deadline turns a timeout into an absolute deadline. Zero disables it.
func deadline(timeout time.Duration) time.Time {
	if timeout == 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
