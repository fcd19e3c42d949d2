// Package solkey provides Solana public key validation and PDA derivation
// helpers for pump.fun accounts.
package solkey

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PumpFunProgram is the pump.fun bonding curve program ID.
const PumpFunProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// IsValidPubkey reports whether s decodes as a 32-byte base58 key.
func IsValidPubkey(s string) bool {
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// BondingCurveAddress derives the pump.fun bonding-curve PDA for a mint.
// Seeds: ["bonding-curve", mint]. Returns "" if the mint is not a valid key
// or no bump yields an off-curve point.
func BondingCurveAddress(mint string) string {
	mintBytes, err := base58.Decode(mint)
	if err != nil || len(mintBytes) != 32 {
		return ""
	}
	programBytes, err := base58.Decode(PumpFunProgram)
	if err != nil || len(programBytes) != 32 {
		return ""
	}

	seeds := [][]byte{
		[]byte("bonding-curve"),
		mintBytes,
	}
	return derivePDA(seeds, programBytes)
}

// derivePDA derives a Program Derived Address using the Solana algorithm:
// sha256(seeds || bump || programID || "ProgramDerivedAddress"), taking the
// highest bump whose hash is off the ed25519 curve.
func derivePDA(seeds [][]byte, programID []byte) string {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}

	return ""
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
