// Package pda derives the deterministic addresses that key escrow records.
//
// A stream lives at derive("stream", sender, recipient) and its vault at
// derive("vault", stream). Because the address is a pure function of the
// pair, a second stream for the same pair collides with the first, and the
// seeds that produced an address double as the stream's release authority
// over its vault (see Signer).
package pda

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed prefixes.
const (
	SeedStream = "stream"
	SeedVault  = "vault"
)

// DefaultProgramID is the program namespace addresses are derived under
// when no other program id is configured.
var DefaultProgramID = solana.MustPublicKeyFromBase58("3TBgKSv7DAocvCn8q8njqC6B9f9BJc1VseUyQSvxKz1N")

// ErrSignerMismatch is returned when a signer's seeds do not derive the
// account they claim authority over.
var ErrSignerMismatch = errors.New("pda: signer seeds do not match authority")

// Address is a derived address together with the inputs that produced it.
type Address struct {
	Key  solana.PublicKey
	Bump uint8

	programID solana.PublicKey
	seeds     [][]byte
}

// Signer returns the delegated capability for this address: its seeds plus
// bump, which re-derive Key under the same program.
func (a Address) Signer() Signer {
	seeds := make([][]byte, 0, len(a.seeds)+1)
	seeds = append(seeds, a.seeds...)
	seeds = append(seeds, []byte{a.Bump})
	return Signer{ProgramID: a.programID, Seeds: seeds}
}

// Signer proves authority over a program-owned account without a private
// key. It is checked by re-deriving the address from Seeds.
type Signer struct {
	ProgramID solana.PublicKey
	Seeds     [][]byte
}

// Key re-derives the address this signer speaks for.
func (s Signer) Key() (solana.PublicKey, error) {
	if len(s.Seeds) == 0 {
		return solana.PublicKey{}, ErrSignerMismatch
	}
	key, err := solana.CreateProgramAddress(s.Seeds, s.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrSignerMismatch, err)
	}
	return key, nil
}

// Authorizes reports whether the signer speaks for authority.
func (s Signer) Authorizes(authority solana.PublicKey) error {
	key, err := s.Key()
	if err != nil {
		return err
	}
	if !key.Equals(authority) {
		return ErrSignerMismatch
	}
	return nil
}

// Deriver derives stream and vault addresses under one program id.
type Deriver struct {
	programID solana.PublicKey
}

// New returns a Deriver for the given program id.
func New(programID solana.PublicKey) Deriver {
	return Deriver{programID: programID}
}

// Default returns a Deriver for DefaultProgramID.
func Default() Deriver {
	return New(DefaultProgramID)
}

// ProgramID returns the namespace addresses are derived under.
func (d Deriver) ProgramID() solana.PublicKey { return d.programID }

// Stream derives the stream record address for an ordered (sender, recipient) pair.
func (d Deriver) Stream(sender, recipient solana.PublicKey) (Address, error) {
	return d.derive([]byte(SeedStream), sender.Bytes(), recipient.Bytes())
}

// Vault derives the custodial account address bound to a stream address.
func (d Deriver) Vault(stream solana.PublicKey) (Address, error) {
	return d.derive([]byte(SeedVault), stream.Bytes())
}

func (d Deriver) derive(seeds ...[]byte) (Address, error) {
	key, bump, err := solana.FindProgramAddress(seeds, d.programID)
	if err != nil {
		return Address{}, fmt.Errorf("pda: derive %q: %w", seeds[0], err)
	}
	return Address{
		Key:       key,
		Bump:      bump,
		programID: d.programID,
		seeds:     seeds,
	}, nil
}
