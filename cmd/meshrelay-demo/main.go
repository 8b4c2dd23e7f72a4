// Command meshrelay-demo exercises the relay engine end to end against an
// in-memory Solana double: queue a transaction, fragment it the way the BLE
// transport would, reassemble it on a simulated peer, build and sign a
// durable-nonce transfer, and submit it. It is not a CLI wrapper around the
// engine (spec.md excludes that) — it is a single fixed scenario a reader can
// run to see every component wired together.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/yourusername/meshrelay/internal/app"
	"github.com/yourusername/meshrelay/internal/relay"
	"github.com/yourusername/meshrelay/internal/rpcclient"
	"github.com/yourusername/meshrelay/internal/txservice"
)

func main() {
	fmt.Println("=== meshrelay demo ===")
	fmt.Println()

	storageDir, err := os.MkdirTemp("", "meshrelay-demo-")
	if err != nil {
		fmt.Printf("failed to create storage directory: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(storageDir)

	cfg := app.DefaultConfig()
	cfg.StorageDirectory = storageDir
	cfg.AutoSaveDebounceSeconds = 0

	client := rpcclient.NewMockSolanaClient()
	client.Signatures = []string{"DemoSubmittedSignature111"}

	fmt.Println("Step 1: Starting the relay engine...")
	engine, err := relay.NewEngine(cfg, client, nil)
	if err != nil {
		fmt.Printf("failed to start engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Shutdown()
	fmt.Printf("✓ engine started, storage at %s\n\n", storageDir)

	fmt.Println("Step 2: Queueing an already-signed transaction for relay...")
	payload := []byte("a fully-signed transaction payload produced off-chain")
	txID, err := engine.QueueTransaction(payload, relay.PriorityNormal)
	if err != nil {
		fmt.Printf("failed to queue transaction: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ queued, tx_id=%s\n\n", txID.String())

	fmt.Println("Step 3: Fragmenting the payload for the BLE transport...")
	frames, err := engine.Fragment(payload)
	if err != nil {
		fmt.Printf("failed to fragment payload: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ split into %d mesh envelope frame(s)\n\n", len(frames))

	fmt.Println("Step 4: Simulating a peer receiving and reassembling those frames...")
	reassembled, err := engine.Reassemble(frames)
	if err != nil {
		fmt.Printf("failed to reassemble frames: %v\n", err)
		os.Exit(1)
	}
	if string(reassembled) == string(payload) {
		fmt.Println("✓ reassembled payload matches the original exactly")
	} else {
		fmt.Println("✗ reassembled payload did not match")
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println("Step 5: Preparing a durable-nonce bundle for offline signing...")
	if err := engine.PrepareOfflineBundle(ctx, 2, "demo-payer-authority"); err != nil {
		fmt.Printf("failed to prepare nonce bundle: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ %d nonce account(s) cached for offline use\n\n", engine.CacheNonceAccounts())

	fmt.Println("Step 6: Building and signing a transfer using a cached nonce...")
	sender, err := solana.NewRandomPrivateKey()
	if err != nil {
		fmt.Printf("failed to generate sender keypair: %v\n", err)
		os.Exit(1)
	}
	recipient, err := solana.NewRandomPrivateKey()
	if err != nil {
		fmt.Printf("failed to generate recipient keypair: %v\n", err)
		os.Exit(1)
	}

	req := txservice.TransferRequest{
		SenderPubkey:    sender.PublicKey().String(),
		RecipientPubkey: recipient.PublicKey().String(),
		LamportsAmount:  25000,
		FeePayerPubkey:  sender.PublicKey().String(),
	}

	// CreateUnsigned seals the transfer with the bundle's own first unused
	// nonce entry, cached in step 5 — its used flag stays false until the
	// transaction actually submits.
	unsigned, err := engine.CreateUnsigned(req)
	if err != nil {
		fmt.Printf("failed to build the unsigned transaction: %v\n", err)
		os.Exit(1)
	}

	message, err := engine.MessageToSign(unsigned)
	if err != nil {
		fmt.Printf("failed to extract the signing message: %v\n", err)
		os.Exit(1)
	}

	signature, err := sender.Sign(message)
	if err != nil {
		fmt.Printf("failed to sign the message: %v\n", err)
		os.Exit(1)
	}

	signed, err := engine.ApplySignature(unsigned, sender.PublicKey().String(), signature[:])
	if err != nil {
		fmt.Printf("failed to apply the signature: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ transfer signed offline, no network round trip required")
	fmt.Println()

	fmt.Println("Step 7: Submitting the signed transaction once connectivity returns...")
	submittedSig, err := engine.SubmitOfflineTransaction(ctx, signed)
	if err != nil {
		fmt.Printf("failed to submit transaction: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ submitted, signature=%s\n\n", submittedSig)

	fmt.Println("Step 8: Reading back engine metrics and health...")
	snapshot := engine.Metrics()
	health := engine.HealthSnapshot()

	summary := map[string]interface{}{
		"metrics": snapshot,
		"health":  health,
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Printf("failed to encode summary: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
