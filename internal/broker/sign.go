package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
)

const confirmPollInterval = 2 * time.Second

var customErrCodeRe = regexp.MustCompile(`"Custom":\s*(\d+)`)

// signAndSend decodes the base64 transaction from the aggregator, signs it,
// optionally simulates, submits it, and waits for finalization. A simulation
// failure with the known false-negative code is resent once with preflight
// skipped.
func (c *Client) signAndSend(ctx context.Context, txB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return "", fmt.Errorf("broker: decode swap transaction: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", fmt.Errorf("broker: deserialize swap transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if c.signer.PublicKey().Equals(key) {
			return &c.signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("broker: sign transaction: %w", err)
	}

	skipPreflight := c.cfg.FastExec

	if !skipPreflight {
		if simErr := c.simulate(ctx, tx); simErr != nil {
			if !retrySkipPreflight(simErr) {
				return "", simErr
			}
			log.Warn().Msg("broker: simulation false negative, resending with preflight skipped")
			skipPreflight = true
		}
	}

	sig, err := c.submit(ctx, tx, skipPreflight)
	if err != nil {
		return "", err
	}
	return sig.String(), c.confirm(ctx, sig)
}

// simulate runs the transaction through the RPC simulator and converts
// program errors into typed results.
func (c *Client) simulate(ctx context.Context, tx *solana.Transaction) error {
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		if slippageError(err.Error()) {
			return ErrSlippageExceeded
		}
		return fmt.Errorf("broker: simulate transaction: %w", err)
	}
	if out.Value == nil || out.Value.Err == nil {
		return nil
	}

	errJSON, _ := json.Marshal(out.Value.Err)
	if slippageError(string(errJSON)) {
		return ErrSlippageExceeded
	}
	for _, line := range out.Value.Logs {
		if slippageError(line) {
			return ErrSlippageExceeded
		}
	}

	if m := customErrCodeRe.FindSubmatch(errJSON); m != nil {
		code, _ := strconv.Atoi(string(m[1]))
		return &SimulationError{Code: code, Logs: out.Value.Logs}
	}
	return fmt.Errorf("broker: simulation failed: %s", errJSON)
}

func (c *Client) submit(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		if slippageError(err.Error()) {
			return solana.Signature{}, ErrSlippageExceeded
		}
		return solana.Signature{}, fmt.Errorf("broker: send transaction: %w", err)
	}

	log.Info().Str("sig", sig.String()).Bool("skip_preflight", skipPreflight).
		Msg("broker: transaction submitted")
	return sig, nil
}

// confirm polls signature status until the transaction is finalized without
// error, or the confirm timeout elapses.
func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(c.cfg.ConfirmTimeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: %s after %s", ErrNotFinalized, sig, c.cfg.ConfirmTimeout)
			}

			out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil || len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}

			status := out.Value[0]
			if status.Err != nil {
				errJSON, _ := json.Marshal(status.Err)
				if slippageError(string(errJSON)) {
					return ErrSlippageExceeded
				}
				return fmt.Errorf("broker: transaction failed on chain: %s", errJSON)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				log.Info().Str("sig", sig.String()).Msg("broker: transaction finalized")
				return nil
			}
		}
	}
}
