package txservice

import (
	"crypto/ed25519"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

func newDecoder(data []byte) *bin.Decoder {
	return bin.NewBinDecoder(data)
}

// CreateUnsigned assembles a transaction whose first instruction advances
// the nonce account and whose second performs the transfer, with the
// "recent blockhash" field set to the nonce's durable value instead of a
// live chain blockhash (spec.md §4.I). It returns the serialized unsigned
// transaction.
func CreateUnsigned(req TransferRequest) ([]byte, error) {
	sender, err := solana.PublicKeyFromBase58(req.SenderPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: sender pubkey: %v", ErrMalformedRequest, err)
	}
	recipient, err := solana.PublicKeyFromBase58(req.RecipientPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient pubkey: %v", ErrMalformedRequest, err)
	}
	feePayer, err := solana.PublicKeyFromBase58(req.FeePayerPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: fee payer pubkey: %v", ErrMalformedRequest, err)
	}
	nonceAccount, err := solana.PublicKeyFromBase58(req.NonceEntry.NonceAccount)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce account pubkey: %v", ErrMalformedRequest, err)
	}
	nonceAuthority, err := solana.PublicKeyFromBase58(req.NonceEntry.Authority)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce authority pubkey: %v", ErrMalformedRequest, err)
	}
	durableValue, err := solana.HashFromBase58(req.NonceEntry.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce durable value: %v", ErrMalformedRequest, err)
	}

	advance := system.NewAdvanceNonceAccountInstruction(nonceAccount, solana.SysVarRecentBlockHashesPubkey, nonceAuthority).Build()
	transfer := system.NewTransferInstruction(req.LamportsAmount, sender, recipient).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{advance, transfer},
		durableValue,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: assemble transaction: %v", ErrMalformedRequest, err)
	}

	return tx.MarshalBinary()
}

// MessageToSign extracts the serialized message a signer signs over.
func MessageToSign(unsignedBytes []byte) ([]byte, error) {
	tx, err := solana.TransactionFromDecoder(newDecoder(unsignedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decode unsigned transaction: %v", ErrMalformedRequest, err)
	}
	return tx.Message.MarshalBinary()
}

// ApplySignature splices signature into the slot belonging to signerPubkey
// by locating that key's position in the transaction's required-signer
// list, producing signed_bytes.
func ApplySignature(unsignedBytes []byte, signerPubkey string, signature []byte) ([]byte, error) {
	if len(signature) != ed25519.SignatureSize {
		return nil, ErrInvalidSignatureLen
	}

	tx, err := solana.TransactionFromDecoder(newDecoder(unsignedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decode unsigned transaction: %v", ErrMalformedRequest, err)
	}

	signer, err := solana.PublicKeyFromBase58(signerPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: signer pubkey: %v", ErrMalformedRequest, err)
	}

	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	slot := -1
	for i := 0; i < numRequired && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(signer) {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, ErrSignerNotRequired
	}

	for len(tx.Signatures) < numRequired {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	var sig solana.Signature
	copy(sig[:], signature)
	tx.Signatures[slot] = sig

	return tx.MarshalBinary()
}

// NonceAccountFromTx extracts the nonce account that seals txBytes: the
// account referenced by its first instruction, the AdvanceNonceAccount
// instruction CreateUnsigned always places there. The engine uses this at
// submission time to know which cached entry to mark used.
func NonceAccountFromTx(txBytes []byte) (string, error) {
	tx, err := solana.TransactionFromDecoder(newDecoder(txBytes))
	if err != nil {
		return "", fmt.Errorf("%w: decode transaction: %v", ErrMalformedRequest, err)
	}
	if len(tx.Message.Instructions) == 0 {
		return "", fmt.Errorf("%w: transaction has no instructions", ErrMalformedRequest)
	}
	advance := tx.Message.Instructions[0]
	if len(advance.Accounts) == 0 {
		return "", fmt.Errorf("%w: advance-nonce instruction has no accounts", ErrMalformedRequest)
	}
	idx := advance.Accounts[0]
	if int(idx) >= len(tx.Message.AccountKeys) {
		return "", fmt.Errorf("%w: nonce account index out of range", ErrMalformedRequest)
	}
	return tx.Message.AccountKeys[idx].String(), nil
}

// VerifyAndSerialize checks every required signature against the message
// and, on success, returns the canonical serialized form ready for
// submission.
func VerifyAndSerialize(signedBytes []byte) ([]byte, error) {
	tx, err := solana.TransactionFromDecoder(newDecoder(signedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decode signed transaction: %v", ErrMalformedRequest, err)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: re-serialize message: %v", ErrMalformedRequest, err)
	}

	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < numRequired {
		return nil, ErrInvalidSignature
	}
	for i := 0; i < numRequired; i++ {
		pub := tx.Message.AccountKeys[i]
		sig := tx.Signatures[i]
		if !ed25519.Verify(pub.Bytes(), msg, sig[:]) {
			return nil, ErrInvalidSignature
		}
	}

	return tx.MarshalBinary()
}
