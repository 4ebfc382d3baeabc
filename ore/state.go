package ore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Program constants. Bus and treasury addresses are program-derived and
// computed once at init.
var (
	ProgramID       = MustPubkey("oreV2ZymfyeXgNgBdqMkumTqqAprVqgBWQfoYkrtKWQ")
	SystemProgramID = MustPubkey("11111111111111111111111111111111")
	ClockSysvarID   = MustPubkey("SysvarC1ock11111111111111111111111111111111")
)

const (
	// BusCount is the number of bounded reward pools maintained by the program.
	BusCount = 8

	// EpochDuration is the fixed interval after which difficulty and bus
	// rewards reset, invalidating any in-flight solve.
	EpochDuration = 60 * time.Second

	// FeePerSigner is the base transaction fee charged per signature.
	FeePerSigner = 5000

	// TokenDecimals converts reward base units to display units.
	TokenDecimals = 9
)

var (
	TreasuryAddress Pubkey
	BusAddresses    [BusCount]Pubkey
)

func init() {
	TreasuryAddress, _ = FindProgramAddress([][]byte{[]byte("treasury")}, ProgramID)
	for i := range BusAddresses {
		BusAddresses[i], _ = FindProgramAddress([][]byte{[]byte("bus"), {byte(i)}}, ProgramID)
	}
}

var ErrAccountTooShort = errors.New("account data too short")

// Treasury is the program's global state account.
type Treasury struct {
	Difficulty          Hash
	LastResetAt         int64
	RewardRate          uint64
	TotalClaimedRewards uint64
}

// Bus is a bounded reward pool mine instructions draw from.
type Bus struct {
	ID      uint64
	Rewards uint64
}

// Proof is the per-authority mining account holding the current challenge and
// accumulated claimable reward.
type Proof struct {
	Authority        Pubkey
	Challenge        Hash
	ClaimableRewards uint64
	TotalHashes      uint64
}

// Clock mirrors the ledger clock sysvar.
type Clock struct {
	Slot          uint64
	UnixTimestamp int64
}

// Account records are prefixed with an 8-byte discriminator; fields are
// little-endian.

func DecodeTreasury(data []byte) (Treasury, error) {
	var t Treasury
	if len(data) < 8+32+8+8+8 {
		return t, fmt.Errorf("treasury: %w", ErrAccountTooShort)
	}
	data = data[8:]
	copy(t.Difficulty[:], data[:32])
	t.LastResetAt = int64(binary.LittleEndian.Uint64(data[32:40]))
	t.RewardRate = binary.LittleEndian.Uint64(data[40:48])
	t.TotalClaimedRewards = binary.LittleEndian.Uint64(data[48:56])
	return t, nil
}

func DecodeBus(data []byte) (Bus, error) {
	var b Bus
	if len(data) < 8+8+8 {
		return b, fmt.Errorf("bus: %w", ErrAccountTooShort)
	}
	data = data[8:]
	b.ID = binary.LittleEndian.Uint64(data[:8])
	b.Rewards = binary.LittleEndian.Uint64(data[8:16])
	return b, nil
}

func DecodeProof(data []byte) (Proof, error) {
	var p Proof
	if len(data) < 8+32+32+8+8 {
		return p, fmt.Errorf("proof: %w", ErrAccountTooShort)
	}
	data = data[8:]
	copy(p.Authority[:], data[:32])
	copy(p.Challenge[:], data[32:64])
	p.ClaimableRewards = binary.LittleEndian.Uint64(data[64:72])
	p.TotalHashes = binary.LittleEndian.Uint64(data[72:80])
	return p, nil
}

// DecodeClock parses the bincode-encoded clock sysvar. Layout: slot u64,
// epoch_start_timestamp i64, epoch u64, leader_schedule_epoch u64,
// unix_timestamp i64.
func DecodeClock(data []byte) (Clock, error) {
	var c Clock
	if len(data) < 40 {
		return c, fmt.Errorf("clock: %w", ErrAccountTooShort)
	}
	c.Slot = binary.LittleEndian.Uint64(data[:8])
	c.UnixTimestamp = int64(binary.LittleEndian.Uint64(data[32:40]))
	return c, nil
}

// UIAmount converts reward base units to a display amount.
func UIAmount(amount uint64) float64 {
	div := 1.0
	for i := 0; i < TokenDecimals; i++ {
		div *= 10
	}
	return float64(amount) / div
}
