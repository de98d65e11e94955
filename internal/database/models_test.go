package database

import (
	"encoding/json"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Generation{}, &PaymentReceipt{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestGenerationLifecycle(t *testing.T) {
	db := newTestDB(t)

	snapshot, err := json.Marshal(map[string]any{"id": "egcard1", "published": true})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	generation := Generation{
		CardID:        "egcard1",
		VisitorName:   "Alice",
		Address:       "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Snapshot:      datatypes.JSON(snapshot),
		Status:        GenerationPending,
		CorrelationID: "corr-1",
	}
	if err := db.Create(&generation).Error; err != nil {
		t.Fatalf("create generation: %v", err)
	}

	update := map[string]any{
		"object_key": "generated-cards/egcard1/abc.png",
		"status":     GenerationCompleted,
	}
	if err := db.Model(&generation).Updates(update).Error; err != nil {
		t.Fatalf("update generation: %v", err)
	}

	var loaded Generation
	if err := db.First(&loaded, generation.ID).Error; err != nil {
		t.Fatalf("load generation: %v", err)
	}
	if loaded.Status != GenerationCompleted || loaded.ObjectKey == "" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.VisitorName != "Alice" || loaded.CardID != "egcard1" {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestPaymentReceiptQueryByAddress(t *testing.T) {
	db := newTestDB(t)

	receipts := []PaymentReceipt{
		{Address: "0xAbC", CardID: "egcard1", AmountMilli: 50, Status: "paid"},
		{Address: "0xAbC", CardID: "egcard2", AmountMilli: 50, Status: "paid"},
		{Address: "0xDeF", CardID: "egcard1", AmountMilli: 50, Status: "paid"},
	}
	for i := range receipts {
		if err := db.Create(&receipts[i]).Error; err != nil {
			t.Fatalf("create receipt: %v", err)
		}
	}

	var count int64
	if err := db.Model(&PaymentReceipt{}).Where("address = ?", "0xAbC").Count(&count).Error; err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}
