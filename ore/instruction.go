package ore

import "encoding/binary"

// AccountMeta describes how an instruction touches an account.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Instruction tags of the ORE program.
const (
	tagMine  = 2
	tagClaim = 3
)

// Mine builds a proof-submission instruction drawing the reward from the
// given bus.
func Mine(authority Pubkey, bus Pubkey, proof Pubkey, hash Hash, nonce uint64) Instruction {
	data := make([]byte, 1+32+8)
	data[0] = tagMine
	copy(data[1:33], hash[:])
	binary.LittleEndian.PutUint64(data[33:], nonce)

	return Instruction{
		ProgramID: ProgramID,
		Accounts: []AccountMeta{
			{Pubkey: authority, IsSigner: true, IsWritable: true},
			{Pubkey: bus, IsWritable: true},
			{Pubkey: proof, IsWritable: true},
			{Pubkey: TreasuryAddress},
			{Pubkey: ClockSysvarID},
		},
		Data: data,
	}
}

// Claim moves claimable rewards from a proof account to a beneficiary.
func Claim(authority Pubkey, proof Pubkey, beneficiary Pubkey, amount uint64) Instruction {
	data := make([]byte, 1+8)
	data[0] = tagClaim
	binary.LittleEndian.PutUint64(data[1:], amount)

	return Instruction{
		ProgramID: ProgramID,
		Accounts: []AccountMeta{
			{Pubkey: authority, IsSigner: true, IsWritable: true},
			{Pubkey: proof, IsWritable: true},
			{Pubkey: beneficiary, IsWritable: true},
			{Pubkey: TreasuryAddress, IsWritable: true},
		},
		Data: data,
	}
}

// Transfer builds a system-program lamport transfer. Used for the relay
// bribe instruction.
func Transfer(from Pubkey, to Pubkey, lamports uint64) Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[:4], 2) // system program transfer tag
	binary.LittleEndian.PutUint64(data[4:], lamports)

	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}
