package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

type SalesSummaryResponse struct {
	From         time.Time         `json:"from"`
	To           time.Time         `json:"to"`
	TotalOrders  int               `json:"total_orders"`
	GrossRevenue decimal.Decimal   `json:"gross_revenue"`
	ByStatus     []StatusBreakdown `json:"by_status"`
	TopProducts  []TopProduct      `json:"top_products"`
}

type PaymentBreakdownResponse struct {
	From           time.Time         `json:"from"`
	To             time.Time         `json:"to"`
	ByProvider     []MethodBreakdown `json:"by_provider"`
	RefundedAmount decimal.Decimal   `json:"refunded_amount"`
	RefundCount    int               `json:"refund_count"`
}
