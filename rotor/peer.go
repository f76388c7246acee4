package rotor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/Rotor/rotor/crypto"
	"github.com/TheusHen/Rotor/rotor/protocol"
	"github.com/TheusHen/Rotor/rotor/transport/quic"
)

var (
	ErrNotListening = errors.New("rotor: peer is not listening")
	ErrLinkClosed   = errors.New("rotor: link closed")
)

const linkLinger = 2 * time.Second

// Peer accepts and dials links that carry sealed messages.
type Peer struct {
	log      *slog.Logger
	listener *quic.Listener
}

// NewPeer returns a peer that logs to log, or nowhere if log is nil.
func NewPeer(log *slog.Logger) *Peer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Peer{log: log}
}

func (p *Peer) Listen(addr string) error {
	ln, err := quic.Listen(addr)
	if err != nil {
		return err
	}
	p.listener = ln
	return nil
}

func (p *Peer) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

func (p *Peer) ListenAddr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.AddrString()
}

// Accept waits for a connection and for the remote side's first stream.
// The stream becomes visible once the dialer sends its first frame.
func (p *Peer) Accept(ctx context.Context) (*Link, error) {
	if p.listener == nil {
		return nil, ErrNotListening
	}
	conn, err := p.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return p.newLink(conn, stream), nil
}

func (p *Peer) Dial(ctx context.Context, addr string) (*Link, error) {
	conn, err := quic.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return p.newLink(conn, stream), nil
}

func (p *Peer) newLink(conn q.Connection, stream q.Stream) *Link {
	id := uuid.New()
	l := &Link{
		id:     id,
		conn:   conn,
		stream: stream,
		log:    p.log.With(slog.String("link", id.String()), slog.String("remote", conn.RemoteAddr().String())),
	}
	l.log.Debug("link established")
	return l
}

// Link is one bidirectional QUIC stream of DATA frames, ended by a CLOSE frame.
type Link struct {
	id     uuid.UUID
	conn   q.Connection
	stream q.Stream
	log    *slog.Logger

	mu           sync.Mutex
	closed       bool
	remoteClosed atomic.Bool
}

func (l *Link) ID() uuid.UUID { return l.id }

// Send writes msg as one DATA frame. It is safe for concurrent use.
func (l *Link) Send(msg crypto.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	return protocol.WriteFrame(l.stream, protocol.Frame{Type: protocol.MessageTypeData, Payload: msg.Encode()})
}

// Receive decodes DATA frames into out until the remote sends CLOSE, the
// stream ends or ctx is done. A clean end returns nil. Frames that do not
// decode as messages are logged and skipped.
func (l *Link) Receive(ctx context.Context, out chan<- crypto.Message) error {
	stop := context.AfterFunc(ctx, func() { l.stream.CancelRead(0) })
	defer stop()

	for {
		f, err := protocol.ReadFrame(l.stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case protocol.MessageTypeClose:
			l.log.Debug("remote closed link")
			l.remoteClosed.Store(true)
			return nil
		case protocol.MessageTypeData:
			msg, err := crypto.DecodeMessage(f.Payload)
			if err != nil {
				l.log.Warn("skipping undecodable message", slog.Any("err", err))
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			l.log.Warn("skipping unknown frame", slog.String("type", f.Type.String()))
		}
	}
}

// Close sends CLOSE and closes the connection. Unless the remote closed first,
// it waits briefly for the remote to hang up so queued frames are delivered.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	err := protocol.WriteFrame(l.stream, protocol.Frame{Type: protocol.MessageTypeClose})
	l.mu.Unlock()

	err = errors.Join(err, l.stream.Close())
	if !l.remoteClosed.Load() {
		select {
		case <-l.conn.Context().Done():
		case <-time.After(linkLinger):
		}
	}
	return errors.Join(err, l.conn.CloseWithError(0, "closed"))
}
