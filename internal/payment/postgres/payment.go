package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
	paymentpkg "github.com/sokocart/sokocart/internal/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.Repository {
	return &PaymentRepository{
		db: db,
	}
}

// Transact runs fn in one database transaction with a repository bound to
// it, so locks taken by GetPaymentForUpdate hold until commit.
func (r *PaymentRepository) Transact(fn func(tx paymentpkg.Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&PaymentRepository{db: tx})
	})
}

func (r *PaymentRepository) CreatePayment(p *paymentmodel.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetPaymentByID(id string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetPaymentForUpdate(id string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetPaymentByProviderRef(ref string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.Where("provider_payment_id = ?", ref).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetActivePaymentForOrder(orderID int64) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.Where("order_id = ? AND status IN ?", orderID,
		[]string{paymentmodel.StatusPending, paymentmodel.StatusProcessing}).
		Order("created_at DESC").First(&p).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetPaymentsByOrderID(orderID int64) ([]*paymentmodel.Payment, error) {
	var payments []*paymentmodel.Payment
	err := r.db.Where("order_id = ?", orderID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) UpdatePayment(p *paymentmodel.Payment) error {
	return r.db.Save(p).Error
}

func (r *PaymentRepository) ListProcessingOlderThan(cutoff time.Time) ([]*paymentmodel.Payment, error) {
	var payments []*paymentmodel.Payment
	err := r.db.Where("status = ? AND updated_at < ?", paymentmodel.StatusProcessing, cutoff).
		Order("updated_at ASC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) CreateTransaction(t *paymentmodel.Transaction) error {
	return r.db.Create(t).Error
}

func (r *PaymentRepository) ListTransactions(paymentID string) ([]*paymentmodel.Transaction, error) {
	var txns []*paymentmodel.Transaction
	err := r.db.Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&txns).Error
	return txns, err
}

func (r *PaymentRepository) CreateRefund(refund *paymentmodel.Refund) error {
	return r.db.Create(refund).Error
}

func (r *PaymentRepository) UpdateRefund(refund *paymentmodel.Refund) error {
	return r.db.Save(refund).Error
}

func (r *PaymentRepository) SumCompletedRefunds(paymentID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.Model(&paymentmodel.Refund{}).
		Select("SUM(amount)").
		Where("payment_id = ? AND status = ?", paymentID, paymentmodel.RefundStatusCompleted).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *PaymentRepository) CreateMpesaTransaction(t *paymentmodel.MpesaTransaction) error {
	return r.db.Create(t).Error
}

func (r *PaymentRepository) UpdateMpesaTransaction(t *paymentmodel.MpesaTransaction) error {
	return r.db.Save(t).Error
}

func (r *PaymentRepository) GetMpesaByCheckoutID(checkoutRequestID string) (*paymentmodel.MpesaTransaction, error) {
	var t paymentmodel.MpesaTransaction
	err := r.db.Where("checkout_request_id = ?", checkoutRequestID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PaymentRepository) GetMpesaByPaymentID(paymentID string) (*paymentmodel.MpesaTransaction, error) {
	var t paymentmodel.MpesaTransaction
	err := r.db.Where("payment_id = ?", paymentID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PaymentRepository) SaveCallback(cb *paymentmodel.MpesaCallback) error {
	return r.db.Create(cb).Error
}

func (r *PaymentRepository) LinkCallback(callbackID, mpesaTransactionID int64) error {
	return r.db.Model(&paymentmodel.MpesaCallback{}).
		Where("id = ?", callbackID).
		UpdateColumn("transaction_id", mpesaTransactionID).Error
}

func (r *PaymentRepository) GetOrderByID(id int64) (*ordermodel.Order, error) {
	var o ordermodel.Order
	err := r.db.Where("id = ?", id).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PaymentRepository) UpdateOrderPayment(orderID int64, status, paymentStatus string, paidAt *time.Time) error {
	updates := map[string]interface{}{
		"status":         status,
		"payment_status": paymentStatus,
	}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	return r.db.Model(&ordermodel.Order{}).Where("id = ?", orderID).Updates(updates).Error
}

// ConfirmOrderPayment is a guarded update: the status predicate keeps a late
// settlement from reviving an order the buyer already cancelled.
func (r *PaymentRepository) ConfirmOrderPayment(orderID int64, paidAt time.Time) (bool, error) {
	res := r.db.Model(&ordermodel.Order{}).
		Where("id = ? AND status IN ?", orderID,
			[]string{ordermodel.StatusPending, ordermodel.StatusConfirmed}).
		Updates(map[string]interface{}{
			"status":         ordermodel.StatusConfirmed,
			"payment_status": ordermodel.PaymentStatusPaid,
			"paid_at":        paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
