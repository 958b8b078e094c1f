package stream

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// RecordSize is the encoded size of a Stream record: an 8-byte
// discriminator followed by the persisted fields.
const RecordSize = 8 + 32 + 32 + 32 + 8 + 8 + 8 + 1

// Discriminator tags encoded stream records.
var Discriminator = discriminator("account:StreamState")

var ErrBadRecord = errors.New("stream: malformed record")

type record struct {
	Sender        [32]byte
	Recipient     [32]byte
	Mint          [32]byte
	StartTime     int64
	RatePerSecond uint64
	TotalDeposit  uint64
	Active        bool
}

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// MarshalBinary encodes the persisted fields of s in the fixed record
// layout. Derived bookkeeping (addresses, bumps) is not part of it.
func (s *Stream) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, RecordSize))
	buf.Write(Discriminator[:])

	rec := record{
		Sender:        s.Sender,
		Recipient:     s.Recipient,
		Mint:          s.Mint,
		StartTime:     s.StartTime,
		RatePerSecond: s.RatePerSecond,
		TotalDeposit:  s.TotalDeposit,
		Active:        s.Active,
	}
	if err := bin.NewBorshEncoder(buf).Encode(&rec); err != nil {
		return nil, fmt.Errorf("stream: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (s *Stream) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrBadRecord, len(data), RecordSize)
	}
	if !bytes.Equal(data[:8], Discriminator[:]) {
		return fmt.Errorf("%w: discriminator", ErrBadRecord)
	}

	var rec record
	if err := bin.NewBorshDecoder(data[8:]).Decode(&rec); err != nil {
		return fmt.Errorf("stream: decode: %w", err)
	}
	s.Sender = solana.PublicKeyFromBytes(rec.Sender[:])
	s.Recipient = solana.PublicKeyFromBytes(rec.Recipient[:])
	s.Mint = solana.PublicKeyFromBytes(rec.Mint[:])
	s.StartTime = rec.StartTime
	s.RatePerSecond = rec.RatePerSecond
	s.TotalDeposit = rec.TotalDeposit
	s.Active = rec.Active
	return nil
}
