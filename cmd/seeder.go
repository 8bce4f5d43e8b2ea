package cmd

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	productmodel "github.com/sokocart/sokocart/internal/core/datamodel/product"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample catalog and demo accounts for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB.DB}), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to open gorm session: %v", err)
		}

		if clearData {
			for _, table := range []string{
				"reviews", "order_items", "orders",
				"mpesa_callbacks", "mpesa_transactions", "transactions", "refunds", "payments",
				"product_variants", "products", "users",
			} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		seedUsers(db)
		seedCatalog(db)
	},
}

// seedUsers inserts demo accounts for the development identity service. The
// API itself never reads password hashes; tokens come from the issuer.
func seedUsers(db *gorm.DB) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)

	users := []struct {
		Email       string
		Name        string
		Permissions string
	}{
		{"buyer@sokocart.dev", "Demo Buyer", ""},
		{"staff@sokocart.dev", "Demo Staff", "staff"},
		{"admin@sokocart.dev", "Demo Admin", "admin"},
	}

	for _, u := range users {
		var exists int
		if err := db.Raw("SELECT 1 FROM users WHERE email = ?", u.Email).Row().Scan(&exists); err == nil {
			fmt.Printf("user %s already exists\n", u.Email)
			continue
		}
		err := db.Exec(
			"INSERT INTO users (email, name, password_hash, permissions, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, true, now(), now())",
			u.Email, u.Name, string(hash), u.Permissions).Error
		if err != nil {
			log.Fatalf("failed to insert user %s: %v", u.Email, err)
		}
		fmt.Println("Seeded user:", u.Email)
	}
}

func seedCatalog(db *gorm.DB) {
	kes := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

	products := []productmodel.Product{
		{
			Name: "Kitenge Tote Bag", Slug: "kitenge-tote-bag",
			Description: "Handmade tote in bold kitenge print.",
			Price:       kes(1800), Currency: "KES", IsActive: true,
			Variants: []productmodel.ProductVariant{
				{SKU: "KTB-STD", Name: "Standard", StockQuantity: 40},
				{SKU: "KTB-LRG", Name: "Large", StockQuantity: 15},
			},
		},
		{
			Name: "Kenyan AA Coffee 500g", Slug: "kenyan-aa-coffee-500g",
			Description: "Medium roast whole beans from Nyeri.",
			Price:       kes(950), Currency: "KES", IsActive: true,
			Variants: []productmodel.ProductVariant{
				{SKU: "KAC-WB", Name: "Whole Bean", StockQuantity: 120},
				{SKU: "KAC-GR", Name: "Ground", StockQuantity: 80},
			},
		},
		{
			Name: "Maasai Shuka Blanket", Slug: "maasai-shuka-blanket",
			Description: "Traditional red check shuka, 2m x 1.5m.",
			Price:       kes(1200), Currency: "KES", IsActive: true,
			Variants: []productmodel.ProductVariant{
				{SKU: "MSB-RED", Name: "Red", StockQuantity: 60},
				{SKU: "MSB-BLU", Name: "Blue", StockQuantity: 35},
			},
		},
		{
			Name: "Soapstone Chess Set", Slug: "soapstone-chess-set",
			Description: "Hand carved Kisii soapstone chess set.",
			Price:       kes(5400), Currency: "KES", IsActive: true,
			Variants: []productmodel.ProductVariant{
				{SKU: "SCS-STD", Name: "Standard", StockQuantity: 8},
			},
		},
	}

	for i := range products {
		p := &products[i]
		var exists int
		if err := db.Raw("SELECT 1 FROM products WHERE slug = ?", p.Slug).Row().Scan(&exists); err == nil {
			fmt.Printf("product %s already exists\n", p.Slug)
			continue
		}
		if err := db.Create(p).Error; err != nil {
			log.Fatalf("failed to insert product %s: %v", p.Slug, err)
		}
		fmt.Printf("Seeded product: %s (%d variants)\n", p.Name, len(p.Variants))
	}

	fmt.Println("Catalog seeded successfully")
}
