package service

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
	// ErrInvariant marks rows that violate the investment schedule invariant.
	ErrInvariant = errors.New("data invariant violated")
	// ErrNotDue and ErrFundInactive mean the item is no longer eligible; the
	// next cycle re-evaluates it.
	ErrNotDue       = errors.New("investment no longer due")
	ErrFundInactive = errors.New("fund not active")
	// ErrCursorMoved means another run already consumed the wallet activity.
	ErrCursorMoved = errors.New("wallet cursor moved")
)

// IsSkip reports errors that only mean "nothing to do for this item".
func IsSkip(err error) bool {
	return errors.Is(err, ErrNotDue) || errors.Is(err, ErrFundInactive) || errors.Is(err, ErrCursorMoved)
}

// IsTransient reports store errors worth retrying on the next tick.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08": // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "55P03", pgErr.Code == "57014": // lock not available, query canceled
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03": // admin shutdown, crash, cannot connect now
			return true
		}
	}
	return false
}
