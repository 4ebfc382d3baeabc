package ore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

var (
	ErrMissingSigner  = errors.New("missing signer for required signature")
	ErrUnknownAccount = errors.New("instruction references account not in message")
)

// MessageHeader counts the signature requirements of a compiled message.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references message accounts by index.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// Message is the signed payload of a legacy transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []Pubkey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// Transaction is a legacy wire transaction: a compact array of signatures
// followed by the message they sign.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction compiles instructions into an unsigned transaction with the
// given fee payer. Account ordering follows the ledger convention: fee payer
// first, then remaining writable signers, readonly signers, writable
// non-signers and finally readonly non-signers.
func NewTransaction(instructions []Instruction, feePayer Pubkey) *Transaction {
	type accountFlags struct {
		signer   bool
		writable bool
	}
	flags := make(map[Pubkey]*accountFlags)
	order := make([]Pubkey, 0, 8)

	touch := func(key Pubkey, signer, writable bool) {
		f, ok := flags[key]
		if !ok {
			f = &accountFlags{}
			flags[key] = f
			order = append(order, key)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}

	touch(feePayer, true, true)
	for _, ix := range instructions {
		for _, acc := range ix.Accounts {
			touch(acc.Pubkey, acc.IsSigner, acc.IsWritable)
		}
		touch(ix.ProgramID, false, false)
	}

	var keys []Pubkey
	appendClass := func(signer, writable bool) {
		for _, key := range order {
			f := flags[key]
			if key != feePayer && f.signer == signer && f.writable == writable {
				keys = append(keys, key)
			}
		}
	}
	keys = append(keys, feePayer)
	appendClass(true, true)
	appendClass(true, false)
	appendClass(false, true)
	appendClass(false, false)

	index := make(map[Pubkey]uint8, len(keys))
	var header MessageHeader
	for i, key := range keys {
		index[key] = uint8(i)
		f := flags[key]
		if f.signer {
			header.NumRequiredSignatures++
			if !f.writable {
				header.NumReadonlySignedAccounts++
			}
		} else if !f.writable {
			header.NumReadonlyUnsignedAccounts++
		}
	}

	compiled := make([]CompiledInstruction, 0, len(instructions))
	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			AccountIndexes: make([]uint8, 0, len(ix.Accounts)),
			Data:           ix.Data,
		}
		for _, acc := range ix.Accounts {
			ci.AccountIndexes = append(ci.AccountIndexes, index[acc.Pubkey])
		}
		compiled = append(compiled, ci)
	}

	return &Transaction{
		Signatures: make([]Signature, header.NumRequiredSignatures),
		Message: Message{
			Header:       header,
			AccountKeys:  keys,
			Instructions: compiled,
		},
	}
}

// Sign sets the blockhash and fills the signature slots from the given
// keypairs. Every required signer must be present.
func (tx *Transaction) Sign(signers []*Keypair, blockhash Hash) error {
	tx.Message.RecentBlockhash = blockhash
	payload := tx.Message.Serialize()

	byKey := make(map[Pubkey]*Keypair, len(signers))
	for _, kp := range signers {
		byKey[kp.Pubkey()] = kp
	}

	for i := 0; i < int(tx.Message.Header.NumRequiredSignatures); i++ {
		key := tx.Message.AccountKeys[i]
		kp, ok := byKey[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
		tx.Signatures[i] = kp.Sign(payload)
	}
	return nil
}

// Serialize encodes the message in the legacy wire layout.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySignedAccounts)
	buf.WriteByte(m.Header.NumReadonlyUnsignedAccounts)

	writeShortVecLen(&buf, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		buf.Write(key[:])
	}
	buf.Write(m.RecentBlockhash[:])

	writeShortVecLen(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeShortVecLen(&buf, len(ix.AccountIndexes))
		for _, idx := range ix.AccountIndexes {
			buf.WriteByte(idx)
		}
		writeShortVecLen(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

// Serialize encodes the full transaction: signature compact array plus
// message.
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	writeShortVecLen(&buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf.Write(sig[:])
	}
	buf.Write(tx.Message.Serialize())
	return buf.Bytes()
}

// EncodeBase58 returns the wire transaction in the legacy binary (base58)
// encoding expected by the relay submission API.
func (tx *Transaction) EncodeBase58() string {
	return base58.Encode(tx.Serialize())
}

// writeShortVecLen writes a compact-u16 length prefix.
func writeShortVecLen(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// ShortVecLen decodes a compact-u16 length prefix, returning the value and
// the number of bytes consumed.
func ShortVecLen(data []byte) (int, int, error) {
	var value, shift uint
	for i := 0; i < len(data) && i < 3; i++ {
		value |= uint(data[i]&0x7f) << shift
		if data[i]&0x80 == 0 {
			return int(value), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("malformed compact-u16 length")
}
