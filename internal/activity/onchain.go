package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"copyfund/internal/client/solana"
	"copyfund/internal/models"
)

type chainReader interface {
	GetSignaturesForAddress(ctx context.Context, address, until string, limit int) ([]solana.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// OnChainDetector diffs a wallet's Solana history against the last seen
// signature. A trade's ratio is the share of the wallet's SOL balance it
// moved; SOL leaving the wallet is a buy, SOL arriving is a sell.
type OnChainDetector struct {
	Client chainReader
	Limit  int
}

func NewOnChainDetector(client *solana.Client, limit int) *OnChainDetector {
	return &OnChainDetector{Client: client, Limit: limit}
}

func (d *OnChainDetector) Name() string { return "onchain" }

func (d *OnChainDetector) Detect(ctx context.Context, wallet, since string) (Detection, error) {
	if d == nil || d.Client == nil {
		return Detection{}, fmt.Errorf("onchain detector has no client")
	}
	limit := d.Limit
	if limit <= 0 {
		limit = 25
	}
	sigs, err := d.Client.GetSignaturesForAddress(ctx, wallet, since, limit)
	if err != nil {
		return Detection{}, fmt.Errorf("signatures for %s: %w", wallet, err)
	}
	if len(sigs) == 0 {
		return Detection{Cursor: since}, nil
	}
	newest := sigs[0].Signature
	// First sighting only establishes the baseline; history is not replayed.
	if since == "" {
		return Detection{Cursor: newest}, nil
	}

	out := Detection{Cursor: newest}
	for i := len(sigs) - 1; i >= 0; i-- {
		info := sigs[i]
		if info.Failed() {
			continue
		}
		tx, err := d.Client.GetTransaction(ctx, info.Signature)
		if err != nil {
			return Detection{}, fmt.Errorf("transaction %s: %w", info.Signature, err)
		}
		trade, ok := tradeFromTransaction(wallet, info, tx)
		if ok {
			out.Trades = append(out.Trades, trade)
		}
	}
	return out, nil
}

func tradeFromTransaction(wallet string, info solana.SignatureInfo, tx *solana.Transaction) (Trade, bool) {
	pre, post, ok := tx.BalanceChange(wallet)
	if !ok || pre == 0 || pre == post {
		return Trade{}, false
	}
	direction := models.DirectionBuy
	moved := pre - post
	if post > pre {
		direction = models.DirectionSell
		moved = post - pre
	}
	ratio := decimal.NewFromInt(int64(moved)).Div(decimal.NewFromInt(int64(pre)))
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	at := time.Now().UTC()
	if info.BlockTime != nil {
		at = time.Unix(*info.BlockTime, 0).UTC()
	}
	return Trade{
		Wallet:    wallet,
		Signature: info.Signature,
		Direction: direction,
		Ratio:     ratio.Round(8),
		At:        at,
	}, true
}
