package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec transforms values on their way into and out of a Store.
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// Identity stores values unchanged.
type Identity struct{}

// Name implements Codec.
func (Identity) Name() string { return "identity" }

// Encode implements Codec.
func (Identity) Encode(src []byte) ([]byte, error) { return src, nil }

// Decode implements Codec.
func (Identity) Decode(src []byte) ([]byte, error) { return src, nil }

// Zstd compresses values with zstandard. It is safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd builds a zstd codec.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// Name implements Codec.
func (z *Zstd) Name() string { return "zstd" }

// Encode implements Codec.
func (z *Zstd) Encode(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode implements Codec.
func (z *Zstd) Decode(src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases encoder and decoder resources.
func (z *Zstd) Close() error {
	z.dec.Close()
	if err := z.enc.Close(); err != nil {
		return fmt.Errorf("zstd encoder close: %w", err)
	}
	return nil
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return NewZstd()
	case "identity", "none":
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("unknown cache codec %q", name)
	}
}
