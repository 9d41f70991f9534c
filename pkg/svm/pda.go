package svm

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// pdaMarker is appended to every derivation input.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrInvalidSeeds          = errors.New("invalid seeds: derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// Curve parameters for ed25519: p = 2^255 - 19, d = -121665/121666 mod p.
var (
	curveP = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))
	curveD = func() *big.Int {
		d := new(big.Int).Mul(big.NewInt(-121665), new(big.Int).ModInverse(big.NewInt(121666), curveP))
		return d.Mod(d, curveP)
	}()
	legendreExp = new(big.Int).Rsh(new(big.Int).Sub(curveP, big.NewInt(1)), 1)
	bigOne      = big.NewInt(1)
)

// CreateProgramAddress derives a program address from seeds and a program ID.
// Returns ErrInvalidSeeds if the derived address is on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))
	if isOnCurve(addr[:]) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress finds a valid program address by iterating bump seeds
// from 255 down to 0. The first bump whose address is off the curve wins, so
// the result is deterministic for a given input.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	seedsWithBump := make([][]byte, len(seeds)+1)
	copy(seedsWithBump, seeds)
	bumpSeed := []byte{0}
	seedsWithBump[len(seeds)] = bumpSeed

	for bump := 255; bump >= 0; bump-- {
		bumpSeed[0] = uint8(bump)
		addr, err := CreateProgramAddress(seedsWithBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// FindProgramAddressCost is the compute cost of a FindProgramAddress call
// that settled on bump.
func FindProgramAddressCost(bump uint8) uint64 {
	return uint64(256-int(bump)) * CUFindProgramAddress
}

// isOnCurve reports whether point decompresses to a point on the ed25519
// curve -x^2 + y^2 = 1 + d*x^2*y^2.
//
// A compressed point stores y with the sign of x in the top bit. The point is
// valid when x^2 = (y^2 - 1) / (d*y^2 + 1) has a square root mod p.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}

	yBytes := make([]byte, 32)
	copy(yBytes, point)
	yBytes[31] &= 0x7F

	// little-endian to big.Int
	y := new(big.Int)
	for i := 31; i >= 0; i-- {
		y.Lsh(y, 8)
		y.Or(y, big.NewInt(int64(yBytes[i])))
	}
	if y.Cmp(curveP) >= 0 {
		return false
	}

	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, curveP)

	num := new(big.Int).Sub(y2, bigOne)
	num.Mod(num, curveP)

	den := new(big.Int).Mul(curveD, y2)
	den.Add(den, bigOne)
	den.Mod(den, curveP)

	denInv := new(big.Int).ModInverse(den, curveP)
	if denInv == nil {
		return false
	}
	x2 := new(big.Int).Mul(num, denInv)
	x2.Mod(x2, curveP)

	// Euler's criterion
	legendre := new(big.Int).Exp(x2, legendreExp, curveP)
	return legendre.Cmp(bigOne) == 0 || x2.Sign() == 0
}
