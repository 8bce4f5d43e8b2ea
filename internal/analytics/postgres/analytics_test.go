package postgres

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	analyticspkg "github.com/sokocart/sokocart/internal/analytics"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
	productmodel "github.com/sokocart/sokocart/internal/core/datamodel/product"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAnalyticsRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AnalyticsRepository Suite")
}

var _ = Describe("AnalyticsRepository", func() {
	var (
		db   *gorm.DB
		repo analyticspkg.Repository

		from time.Time
		to   time.Time
	)

	addOrder := func(status, paymentStatus string, total int64, items ...ordermodel.OrderItem) *ordermodel.Order {
		o := &ordermodel.Order{
			UserID:        1,
			OrderNumber:   "ORD-" + status + "-" + decimal.NewFromInt(total).String(),
			Status:        status,
			PaymentStatus: paymentStatus,
			Currency:      "KES",
			Subtotal:      decimal.NewFromInt(total),
			ShippingCost:  decimal.Zero,
			TaxAmount:     decimal.Zero,
			Total:         decimal.NewFromInt(total),
			Items:         items,
		}
		Expect(db.Create(o).Error).To(Succeed())
		return o
	}

	BeforeEach(func() {
		var err error

		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())

		err = db.AutoMigrate(
			&ordermodel.Order{},
			&ordermodel.OrderItem{},
			&paymentmodel.Payment{},
			&paymentmodel.Refund{},
			&productmodel.Product{},
			&productmodel.ProductVariant{},
		)
		Expect(err).NotTo(HaveOccurred())

		repo = NewAnalyticsRepository(db)

		to = time.Now().Add(time.Hour)
		from = to.Add(-48 * time.Hour)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	Describe("OrdersByStatus", func() {
		It("should group counts and revenue by status inside the window", func() {
			addOrder(ordermodel.StatusConfirmed, ordermodel.PaymentStatusPaid, 1500)
			addOrder(ordermodel.StatusConfirmed, ordermodel.PaymentStatusPaid, 2500)
			addOrder(ordermodel.StatusCancelled, ordermodel.PaymentStatusPending, 900)

			rows, err := repo.OrdersByStatus(from, to)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))

			byStatus := map[string]analyticspkg.StatusBreakdown{}
			for _, row := range rows {
				byStatus[row.Status] = row
			}
			Expect(byStatus[ordermodel.StatusConfirmed].Orders).To(Equal(2))
			Expect(byStatus[ordermodel.StatusConfirmed].Revenue.Equal(decimal.NewFromInt(4000))).To(BeTrue())
			Expect(byStatus[ordermodel.StatusCancelled].Orders).To(Equal(1))
		})

		It("should exclude orders created outside the window", func() {
			old := addOrder(ordermodel.StatusConfirmed, ordermodel.PaymentStatusPaid, 1500)
			Expect(db.Model(old).UpdateColumn("created_at", to.Add(-30*24*time.Hour)).Error).To(Succeed())

			rows, err := repo.OrdersByStatus(from, to)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(BeEmpty())
		})
	})

	Describe("PaymentsByProvider", func() {
		addPayment := func(id, provider, status string, amount int64, processedAt *time.Time) {
			Expect(db.Create(&paymentmodel.Payment{
				ID:          id,
				OrderID:     1,
				Amount:      decimal.NewFromInt(amount),
				Currency:    "KES",
				Provider:    provider,
				Status:      status,
				ProcessedAt: processedAt,
			}).Error).To(Succeed())
		}

		It("should count only settled payments, grouped by rail", func() {
			now := time.Now()
			addPayment("pay-1", paymentmodel.ProviderMpesa, paymentmodel.StatusCompleted, 1000, &now)
			addPayment("pay-2", paymentmodel.ProviderMpesa, paymentmodel.StatusRefunded, 2000, &now)
			addPayment("pay-3", paymentmodel.ProviderCard, paymentmodel.StatusCompleted, 500, &now)
			addPayment("pay-4", paymentmodel.ProviderCard, paymentmodel.StatusFailed, 800, &now)
			addPayment("pay-5", paymentmodel.ProviderCard, paymentmodel.StatusPending, 300, nil)

			rows, err := repo.PaymentsByProvider(from, to)
			Expect(err).NotTo(HaveOccurred())

			byProvider := map[string]analyticspkg.MethodBreakdown{}
			for _, row := range rows {
				byProvider[row.Provider] = row
			}
			Expect(byProvider[paymentmodel.ProviderMpesa].Payments).To(Equal(2))
			Expect(byProvider[paymentmodel.ProviderMpesa].Volume.Equal(decimal.NewFromInt(3000))).To(BeTrue())
			Expect(byProvider[paymentmodel.ProviderCard].Payments).To(Equal(1))
			Expect(byProvider[paymentmodel.ProviderCard].Volume.Equal(decimal.NewFromInt(500))).To(BeTrue())
		})
	})

	Describe("TopProducts", func() {
		It("should rank paid units per product", func() {
			Expect(db.Create(&productmodel.Product{
				ID: 1, Name: "Mug", Slug: "mug",
				Price: decimal.NewFromInt(500), Currency: "KES", IsActive: true,
			}).Error).To(Succeed())
			Expect(db.Create(&productmodel.Product{
				ID: 2, Name: "Plate", Slug: "plate",
				Price: decimal.NewFromInt(800), Currency: "KES", IsActive: true,
			}).Error).To(Succeed())

			addOrder(ordermodel.StatusConfirmed, ordermodel.PaymentStatusPaid, 1800,
				ordermodel.OrderItem{ProductID: 1, Quantity: 2, Price: decimal.NewFromInt(500)},
				ordermodel.OrderItem{ProductID: 2, Quantity: 1, Price: decimal.NewFromInt(800)})
			addOrder(ordermodel.StatusConfirmed, ordermodel.PaymentStatusPaid, 1000,
				ordermodel.OrderItem{ProductID: 1, Quantity: 2, Price: decimal.NewFromInt(500)})
			// unpaid order must not count
			addOrder(ordermodel.StatusPending, ordermodel.PaymentStatusPending, 800,
				ordermodel.OrderItem{ProductID: 2, Quantity: 1, Price: decimal.NewFromInt(800)})

			rows, err := repo.TopProducts(from, to, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].ProductID).To(Equal(int64(1)))
			Expect(rows[0].Units).To(Equal(4))
			Expect(rows[0].Revenue.Equal(decimal.NewFromInt(2000))).To(BeTrue())
			Expect(rows[1].ProductID).To(Equal(int64(2)))
			Expect(rows[1].Units).To(Equal(1))
		})
	})

	Describe("RefundVolume", func() {
		It("should sum only completed refunds", func() {
			Expect(db.Create(&paymentmodel.Refund{
				ID: "ref-1", PaymentID: "pay-1",
				Amount: decimal.NewFromInt(400), Status: paymentmodel.RefundStatusCompleted,
			}).Error).To(Succeed())
			Expect(db.Create(&paymentmodel.Refund{
				ID: "ref-2", PaymentID: "pay-1",
				Amount: decimal.NewFromInt(300), Status: paymentmodel.RefundStatusPending,
			}).Error).To(Succeed())

			volume, count, err := repo.RefundVolume(from, to)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
			Expect(volume.Equal(decimal.NewFromInt(400))).To(BeTrue())
		})

		It("should return zero when there are no refunds", func() {
			volume, count, err := repo.RefundVolume(from, to)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(0))
			Expect(volume.IsZero()).To(BeTrue())
		})
	})
})
