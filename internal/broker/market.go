package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// slippageLadder is the escalation sequence for market orders, in bps.
var slippageLadder = []int{2000, 3000, 4000, 5000}

// catastrophicSlippageRatio rejects a sell whose quoted USD is below this
// fraction of its expected USD value.
const catastrophicSlippageRatio = 0.10

// Fill is the outcome of one market order. Err is set on failed fills; the
// trader decides whether to retry, back off, or force-close.
type Fill struct {
	Mint        string
	Side        string          // buy|sell
	Price       decimal.Decimal // USD per whole token
	Quantity    decimal.Decimal
	USD         decimal.Decimal
	TxSignature string
	SlippageBps int
	Success     bool
	Err         error
}

func failedFill(mint, side string, err error) Fill {
	return Fill{Mint: mint, Side: side, Err: err}
}

// MarketBuy swaps usdSize worth of the base asset into mint, escalating
// slippage through the ladder. Price impact above the buy cap aborts the
// whole order.
func (c *Client) MarketBuy(ctx context.Context, mint string, usdSize decimal.Decimal) Fill {
	if !validMint(mint) {
		return failedFill(mint, "buy", fmt.Errorf("%w: bad mint address", ErrInvalidInput))
	}
	if !usdSize.IsPositive() {
		return failedFill(mint, "buy", fmt.Errorf("%w: non-positive usd size", ErrInvalidInput))
	}

	solUSD := c.solPriceUSD(ctx)
	lamports := usdSize.Div(solUSD).Mul(decimal.NewFromInt(lamportsPerSOL)).IntPart()
	if lamports <= 0 {
		return failedFill(mint, "buy", fmt.Errorf("%w: usd size below one lamport", ErrInvalidInput))
	}

	var lastErr error
	for _, bps := range slippageLadder {
		quote, err := c.GetQuote(ctx, c.cfg.BaseMint, mint, uint64(lamports), bps)
		if err != nil {
			if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
				return failedFill(mint, "buy", err)
			}
			lastErr = err
			continue
		}

		if quote.PriceImpactPct > c.cfg.MaxBuyImpactPct {
			return failedFill(mint, "buy", fmt.Errorf("%w: %.2f%% > %.2f%%",
				ErrPriceImpactTooHigh, quote.PriceImpactPct, c.cfg.MaxBuyImpactPct))
		}

		qty := decimal.NewFromUint64(quote.OutAmount).
			Shift(int32(-c.tokenDecimals(ctx, mint)))
		if !qty.IsPositive() {
			lastErr = ErrNoRoute
			continue
		}

		if c.cfg.DryRun {
			return c.paperFill(mint, "buy", usdSize, qty, bps)
		}

		sig, err := c.executeSwap(ctx, quote)
		if err != nil {
			if errors.Is(err, ErrSlippageExceeded) {
				log.Warn().Str("mint", shortAddr(mint)).Int("slippage_bps", bps).
					Msg("broker: slippage exceeded, escalating")
				lastErr = err
				continue
			}
			return failedFill(mint, "buy", err)
		}

		c.recordFillMetric("buy", true)
		return Fill{
			Mint:        mint,
			Side:        "buy",
			Price:       usdSize.Div(qty),
			Quantity:    qty,
			USD:         usdSize,
			TxSignature: sig,
			SlippageBps: bps,
			Success:     true,
		}
	}

	if lastErr == nil {
		lastErr = ErrNoRoute
	}
	c.recordFillMetric("buy", false)
	return failedFill(mint, "buy", fmt.Errorf("broker: buy exhausted slippage ladder: %w", lastErr))
}

// MarketSell swaps qty whole tokens of mint back into the base asset. A
// quote whose USD value collapses below a tenth of the expected value is
// rejected as catastrophic slippage.
func (c *Client) MarketSell(ctx context.Context, mint string, qty decimal.Decimal) Fill {
	if !validMint(mint) {
		return failedFill(mint, "sell", fmt.Errorf("%w: bad mint address", ErrInvalidInput))
	}
	if !qty.IsPositive() {
		return failedFill(mint, "sell", fmt.Errorf("%w: non-positive quantity", ErrInvalidInput))
	}

	dec := c.tokenDecimals(ctx, mint)
	baseUnits := qty.Shift(int32(dec)).IntPart()
	if baseUnits <= 0 {
		return failedFill(mint, "sell", fmt.Errorf("%w: quantity below one base unit", ErrInvalidInput))
	}

	solUSD := c.solPriceUSD(ctx)

	expectedUSD := decimal.Zero
	if price, err := c.Price(ctx, mint); err == nil {
		expectedUSD = price.Mul(qty)
	}

	var lastErr error
	for _, bps := range slippageLadder {
		quote, err := c.GetQuote(ctx, mint, c.cfg.BaseMint, uint64(baseUnits), bps)
		if err != nil {
			if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
				return failedFill(mint, "sell", err)
			}
			lastErr = err
			continue
		}

		if quote.PriceImpactPct > c.cfg.MaxSellImpactPct {
			return failedFill(mint, "sell", fmt.Errorf("%w: %.2f%% > %.2f%%",
				ErrPriceImpactTooHigh, quote.PriceImpactPct, c.cfg.MaxSellImpactPct))
		}

		quoteUSD := decimal.NewFromUint64(quote.OutAmount).
			Shift(-9).Mul(solUSD)
		if expectedUSD.IsPositive() {
			floor := expectedUSD.Mul(decimal.NewFromFloat(catastrophicSlippageRatio))
			if quoteUSD.LessThan(floor) {
				return failedFill(mint, "sell", fmt.Errorf(
					"%w: quoted $%s for expected $%s", ErrSlippageExceeded,
					quoteUSD.StringFixed(2), expectedUSD.StringFixed(2)))
			}
		}

		if c.cfg.DryRun {
			return c.paperFill(mint, "sell", quoteUSD, qty, bps)
		}

		sig, err := c.executeSwap(ctx, quote)
		if err != nil {
			if errors.Is(err, ErrSlippageExceeded) {
				log.Warn().Str("mint", shortAddr(mint)).Int("slippage_bps", bps).
					Msg("broker: slippage exceeded, escalating")
				lastErr = err
				continue
			}
			return failedFill(mint, "sell", err)
		}

		c.recordFillMetric("sell", true)
		return Fill{
			Mint:        mint,
			Side:        "sell",
			Price:       quoteUSD.Div(qty),
			Quantity:    qty,
			USD:         quoteUSD,
			TxSignature: sig,
			SlippageBps: bps,
			Success:     true,
		}
	}

	if lastErr == nil {
		lastErr = ErrNoRoute
	}
	c.recordFillMetric("sell", false)
	return failedFill(mint, "sell", fmt.Errorf("broker: sell exhausted slippage ladder: %w", lastErr))
}

// executeSwap builds, signs, and lands the transaction for a quote.
func (c *Client) executeSwap(ctx context.Context, quote *Quote) (string, error) {
	txB64, err := c.GetSwapTx(ctx, quote)
	if err != nil {
		return "", err
	}
	return c.signAndSend(ctx, txB64)
}

func (c *Client) paperFill(mint, side string, usd, qty decimal.Decimal, bps int) Fill {
	fill := Fill{
		Mint:        mint,
		Side:        side,
		Quantity:    qty,
		USD:         usd,
		TxSignature: "paper-" + uuid.NewString(),
		SlippageBps: bps,
		Success:     true,
	}
	if qty.IsPositive() {
		fill.Price = usd.Div(qty)
	}
	log.Info().Str("mint", shortAddr(mint)).Str("side", side).
		Str("usd", usd.StringFixed(2)).Str("qty", qty.String()).
		Msg("broker: paper fill")
	c.recordFillMetric(side, true)
	return fill
}

func (c *Client) recordFillMetric(side string, success bool) {
	if c.metrics != nil {
		c.metrics.Fill(side, success)
	}
}
