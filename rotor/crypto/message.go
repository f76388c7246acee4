package crypto

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrMessageTooShort     = errors.New("crypto: message too short")
	ErrDecompressionFailed = errors.New("crypto: decompression failed")
	ErrInvalidPayload      = errors.New("crypto: invalid payload flag")
)

const (
	// compressThreshold is the smallest payload worth trying LZ4 on.
	compressThreshold = 128

	payloadRaw byte = 0
	payloadLZ4 byte = 1
)

// Message is a payload sealed under exactly one session.
// Which session it belongs to is only learned by decapsulating it.
type Message struct {
	binding session.Fingerprint
	sealed  []byte
}

// Encode serializes the message as binding (16 bytes) || sealed.
func (m Message) Encode() []byte {
	out := make([]byte, session.FingerprintSize+len(m.sealed))
	copy(out, m.binding[:])
	copy(out[session.FingerprintSize:], m.sealed)
	return out
}

func DecodeMessage(data []byte) (Message, error) {
	if len(data) < session.FingerprintSize {
		return Message{}, ErrMessageTooShort
	}
	var m Message
	copy(m.binding[:], data[:session.FingerprintSize])
	m.sealed = append([]byte(nil), data[session.FingerprintSize:]...)
	return m, nil
}

// Encapsulate seals payload under s with a random 96-bit nonce. Senders that
// seal many messages under one session should keep a Processor instead.
func Encapsulate(s session.Session, payload []byte) (Message, error) {
	p, err := newOneShotProcessor(s)
	if err != nil {
		return Message{}, err
	}
	return p.Encapsulate(payload)
}

// BuildMessage binds an empty message to s.
func BuildMessage(s session.Session) (Message, error) {
	return Encapsulate(s, nil)
}

var compressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

// framePayload prefixes payload with a flag byte, compressing it with LZ4 when
// that makes it smaller.
func framePayload(payload []byte) []byte {
	if len(payload) >= compressThreshold {
		if compressed, ok := compress(payload); ok && len(compressed) < len(payload) {
			return append([]byte{payloadLZ4}, compressed...)
		}
	}
	out := make([]byte, 1+len(payload))
	out[0] = payloadRaw
	copy(out[1:], payload)
	return out
}

func unframePayload(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, ErrInvalidPayload
	}
	switch plain[0] {
	case payloadRaw:
		return plain[1:], nil
	case payloadLZ4:
		return decompress(plain[1:])
	default:
		return nil, ErrInvalidPayload
	}
}

func compress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func decompress(data []byte) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, ErrDecompressionFailed
	}
	return buf.Bytes(), nil
}
