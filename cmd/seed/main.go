// Seed the database with demo data for local development: the demo shop,
// its sales pipeline stages, and a set of stocked products. Safe to re-run.
package main

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vieroc/vieroc-backend/internal/config"
	"github.com/vieroc/vieroc-backend/internal/database"
)

type seedProduct struct {
	Name        string
	SKU         string
	Price       float64
	Stock       int
	Specs       map[string]interface{}
	Description string
}

var demoProducts = []seedProduct{
	{"Áo thun basic Vieroc", "VIEROC-TSHIRT-BASIC", 199000, 42,
		map[string]interface{}{"chat_lieu": "cotton", "form": "regular"},
		"Áo thun basic mềm, dễ phối đồ."},
	{"Áo sơ mi công sở Vieroc", "VIEROC-SHIRT-OFFICE", 349000, 18,
		map[string]interface{}{"chat_lieu": "poly-cotton", "form": "slim"},
		"Sơ mi lịch sự, phù hợp đi làm."},
	{"Áo hoodie Vieroc", "VIEROC-HOODIE", 499000, 12,
		map[string]interface{}{"chat_lieu": "ni", "mu": true},
		"Hoodie ấm, phù hợp thời tiết mát lạnh."},
	{"Quần jean slim Vieroc", "VIEROC-JEANS-SLIM", 599000, 25,
		map[string]interface{}{"chat_lieu": "jean", "form": "slim"},
		"Quần jean ôm dáng, dễ phối với áo thun."},
	{"Áo polo Vieroc", "VIEROC-POLO", 299000, 30,
		map[string]interface{}{"chat_lieu": "pique", "form": "regular"},
		"Áo polo thể thao, thoáng mát."},
	{"Giày sneaker Vieroc", "VIEROC-SNEAKER", 799000, 15,
		map[string]interface{}{"size": "39-45", "chat_lieu": "da tổng hợp"},
		"Giày sneaker phong cách, phù hợp đi chơi."},
	{"Áo khoác bomber Vieroc", "VIEROC-BOMBER", 699000, 10,
		map[string]interface{}{"chat_lieu": "polyester", "mu": false},
		"Áo khoác bomber trẻ trung, chống gió."},
	{"Quần short thể thao Vieroc", "VIEROC-SHORTS", 249000, 35,
		map[string]interface{}{"chat_lieu": "nylon", "form": "loose"},
		"Quần short thoáng khí, lý tưởng cho thể thao."},
	{"Túi xách canvas Vieroc", "VIEROC-BAG", 399000, 20,
		map[string]interface{}{"kich_thuoc": "30x40cm", "chat_lieu": "canvas"},
		"Túi xách tiện dụng, nhiều ngăn."},
	{"Mũ lưỡi trai Vieroc", "VIEROC-CAP", 149000, 50,
		map[string]interface{}{"chat_lieu": "cotton", "mau": "đen/trắng"},
		"Mũ lưỡi trai basic, dễ phối đồ."},
	{"Áo len cardigan Vieroc", "VIEROC-CARDIGAN", 449000, 22,
		map[string]interface{}{"chat_lieu": "len", "form": "oversize"},
		"Cardigan ấm áp, phù hợp mùa thu đông."},
	{"Quần jogger Vieroc", "VIEROC-JOGGER", 349000, 28,
		map[string]interface{}{"chat_lieu": "cotton blend", "form": "tapered"},
		"Quần jogger thoải mái, phong cách streetwear."},
	{"Giày boots Vieroc", "VIEROC-BOOTS", 899000, 8,
		map[string]interface{}{"size": "40-46", "chat_lieu": "da thật"},
		"Giày boots cổ cao, bền bỉ."},
	{"Áo blazer Vieroc", "VIEROC-BLAZER", 799000, 14,
		map[string]interface{}{"chat_lieu": "wool blend", "form": "fitted"},
		"Blazer lịch sự, phù hợp công sở."},
	{"Vớ thể thao Vieroc", "VIEROC-SOCKS", 99000, 60,
		map[string]interface{}{"chat_lieu": "cotton", "size": "universal"},
		"Vớ thoáng khí, chống hôi chân."},
}

var pipelineStages = []struct {
	Name        string
	Order       int
	Description string
}{
	{"greeting", 1, "Chào hỏi và bắt đầu tư vấn"},
	{"need_discovery", 2, "Khai thác nhu cầu"},
	{"solution_matching", 3, "Gợi ý giải pháp / sản phẩm"},
	{"price_discussion", 4, "Trao đổi giá và ưu đãi"},
	{"objection_handling", 5, "Xử lý băn khoăn"},
	{"closing", 6, "Chốt đơn"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	shopID, err := uuid.Parse(cfg.Catalog.DemoShopID)
	if err != nil {
		log.Fatal("Invalid demo shop id:", err)
	}

	if err := seedShop(db.DB, shopID, cfg.Catalog.DemoShopName); err != nil {
		log.Fatal("Failed to seed shop:", err)
	}
	if err := seedPipeline(db.DB, shopID); err != nil {
		log.Fatal("Failed to seed sales pipeline:", err)
	}
	if err := seedProducts(db.DB, shopID); err != nil {
		log.Fatal("Failed to seed products:", err)
	}

	log.Printf("Seeded demo data for shop %s", cfg.Catalog.DemoShopName)
}

func seedShop(db *sqlx.DB, shopID uuid.UUID, name string) error {
	botConfig, _ := json.Marshal(map[string]interface{}{
		"company_name": name,
		"currency":     "VND",
		"language":     "vi",
	})

	_, err := db.Exec(`
		INSERT INTO shops (id, name, bot_config)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		shopID, name, botConfig)
	return err
}

func seedPipeline(db *sqlx.DB, shopID uuid.UUID) error {
	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM sales_pipelines WHERE shop_id = $1`, shopID); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, stage := range pipelineStages {
		_, err := db.Exec(`
			INSERT INTO sales_pipelines (shop_id, stage_name, step_order, description)
			VALUES ($1, $2, $3, $4)`,
			shopID, stage.Name, stage.Order, stage.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedProducts(db *sqlx.DB, shopID uuid.UUID) error {
	// Re-seedable: replace this shop's products wholesale.
	if _, err := db.Exec(`DELETE FROM products WHERE shop_id = $1`, shopID); err != nil {
		return err
	}

	for _, p := range demoProducts {
		specs, _ := json.Marshal(p.Specs)
		_, err := db.Exec(`
			INSERT INTO products (shop_id, name, sku, price, stock_quantity, specs, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			shopID, p.Name, p.SKU, p.Price, p.Stock, specs, p.Description)
		if err != nil {
			return err
		}
	}
	return nil
}
