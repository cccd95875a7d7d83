package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	// Catalog
	&Product{},
	&StockEntry{},
	&StockMovement{},
	// Comanda
	&Tab{},
	&LineItem{},
}
