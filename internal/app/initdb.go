package app

import (
	"context"
	"strings"
	"time"

	"github.com/pdvbar/comandas/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (a *Application) checkSettings() {
	schemasData, err := loadConfigSchemas()
	if err != nil {
		zap.L().Error("failed to load config schemas from JSON", zap.Error(err))
		return
	}

	// Iterate over all configuration definitions, checking and initializing missing entries
	for sortid, schema := range schemasData.Schemas {
		// Parse key: "category.name" -> category, name
		parts := strings.SplitN(schema.Key, ".", 2)
		if len(parts) != 2 {
			zap.L().Warn("invalid config key format", zap.String("key", schema.Key))
			continue
		}

		category := parts[0]
		name := parts[1]

		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", category, name).
			Count(&count)

		if count == 0 {
			value := schema.Default
			// the file config seeds the first value of the service charge
			if schema.Key == "pos.ServiceChargeRate" {
				value = decimal.NewFromFloat(a.appConfig.Pos.ServiceChargeRate).String()
			}
			a.gormDB.Create(&domain.SysConfig{
				ID:     0,
				Sort:   sortid,
				Type:   category,
				Name:   name,
				Value:  value,
				Remark: schema.Description,
			})
			zap.L().Info("initialized config",
				zap.String("key", schema.Key),
				zap.String("default", value))
		}
	}
}

type demoProduct struct {
	product domain.Product
	stock   int64
}

var demoCatalog = []demoProduct{
	{domain.Product{ID: "cerveja-long-neck", Name: "Cerveja Long Neck", SellingPrice: decimal.RequireFromString("10.00"), MinStockLevel: 24, Category: "Cervejas"}, 120},
	{domain.Product{ID: "cerveja-600", Name: "Cerveja 600ml", SellingPrice: decimal.RequireFromString("16.00"), MinStockLevel: 12, Category: "Cervejas"}, 60},
	{domain.Product{ID: "chopp-300", Name: "Chopp 300ml", SellingPrice: decimal.RequireFromString("9.50"), MinStockLevel: 30, Category: "Cervejas"}, 200},
	{domain.Product{ID: "caipirinha", Name: "Caipirinha de Limao", SellingPrice: decimal.RequireFromString("18.00"), MinStockLevel: 10, Category: "Drinks"}, 40},
	{domain.Product{ID: "agua-mineral", Name: "Agua Mineral 500ml", SellingPrice: decimal.RequireFromString("5.00"), MinStockLevel: 12, Category: "Sem alcool"}, 48},
	{domain.Product{ID: "refrigerante-lata", Name: "Refrigerante Lata", SellingPrice: decimal.RequireFromString("6.50"), MinStockLevel: 12, Category: "Sem alcool"}, 48},
	{domain.Product{ID: "porcao-fritas", Name: "Porcao de Fritas", SellingPrice: decimal.RequireFromString("32.00"), MinStockLevel: 5, Category: "Porcoes"}, 20},
	{domain.Product{ID: "calabresa-acebolada", Name: "Calabresa Acebolada", SellingPrice: decimal.RequireFromString("38.00"), MinStockLevel: 3, Category: "Porcoes"}, 15},
	{domain.Product{ID: "limao-kg", Name: "Limao Tahiti", SellingPrice: decimal.RequireFromString("8.00"), UnitOfMeasure: "KG", MinStockLevel: 2, Category: "Insumos"}, 6},
}

// checkDemoCatalog inserts the demo products that are missing and gives them
// an opening stock through the ledger.
func (a *Application) checkDemoCatalog() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, d := range demoCatalog {
		p := d.product
		var count int64
		a.gormDB.Model(&domain.Product{}).Where("id = ?", p.ID).Count(&count)
		if count > 0 {
			continue
		}
		if p.UnitOfMeasure == "" {
			p.UnitOfMeasure = domain.UnitDefault
		}
		if err := a.gormDB.Create(&p).Error; err != nil {
			zap.L().Error("failed to create demo product", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		if _, err := a.backend.Stock().Restock(ctx, p.ID, d.stock); err != nil {
			zap.L().Error("failed to stock demo product", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		zap.L().Info("initialized demo product", zap.String("id", p.ID), zap.Int64("stock", d.stock))
	}
}
