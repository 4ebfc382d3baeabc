package ore

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"
	gocache "github.com/patrickmn/go-cache"
)

// ProofSeed is the seed prefix of per-authority proof accounts.
var ProofSeed = []byte("proof")

var ErrNoViableBump = errors.New("unable to find a viable program address bump")

var pdaMarker = []byte("ProgramDerivedAddress")

// Proof addresses are derived once per authority for the lifetime of the
// process; derivation walks up to 256 bump candidates, so cache the result.
var proofAddressCache = gocache.New(gocache.NoExpiration, 0)

// FindProgramAddress derives the first off-curve address for the given seeds,
// walking the bump seed down from 255.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program[:])
		h.Write(pdaMarker)

		var candidate Pubkey
		copy(candidate[:], h.Sum(nil))
		if !isOnCurve(candidate) {
			return candidate, nil
		}
	}
	return Pubkey{}, ErrNoViableBump
}

// ProofAddress returns the proof account address for a mining authority.
func ProofAddress(authority Pubkey) (Pubkey, error) {
	key := authority.String()
	if v, ok := proofAddressCache.Get(key); ok {
		return v.(Pubkey), nil
	}
	addr, err := FindProgramAddress([][]byte{ProofSeed, authority[:]}, ProgramID)
	if err != nil {
		return Pubkey{}, err
	}
	proofAddressCache.Set(key, addr, gocache.NoExpiration)
	return addr, nil
}

func isOnCurve(p Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}
