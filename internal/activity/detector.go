package activity

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one trader transaction worth replicating.
type Trade struct {
	Wallet    string
	Signature string
	Direction string
	// Ratio is the share of each investment's amount to replicate, in [0, 1].
	Ratio decimal.Decimal
	At    time.Time
}

// Detection is the result of one wallet check. Cursor is the newest
// signature seen and is persisted by the caller.
type Detection struct {
	Trades []Trade
	Cursor string
}

// Detector reports trading activity on a wallet since the last seen signature.
// An empty since means the wallet has never been checked.
type Detector interface {
	Name() string
	Detect(ctx context.Context, wallet, since string) (Detection, error)
}
