package inventory

import "context"

// ChangeHandler receives committed ledger changes, typically to invalidate
// derived views.
type ChangeHandler interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
}
