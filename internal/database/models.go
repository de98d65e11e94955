package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Generation 生成状态常量。
const (
	GenerationPending   = "pending"
	GenerationCompleted = "completed"
	GenerationFailed    = "failed"
)

// Generation 表示一次访客付费生成的记录。Snapshot 保存入队时刻的
// 卡片 JSON 快照，渲染始终以 Card Store 的最新值为准，快照仅用于审计。
type Generation struct {
	gorm.Model
	CardID        string         `gorm:"size:64;index"`
	VisitorName   string         `gorm:"size:64"`
	Address       string         `gorm:"size:64;index"`
	Snapshot      datatypes.JSON `gorm:"type:jsonb"`
	ObjectKey     string         `gorm:"size:512"`
	Status        string         `gorm:"size:32"`
	CorrelationID string         `gorm:"size:64;index"`
	ErrorMessage  string         `gorm:"size:512"`
}

// PaymentReceipt 表示一次（模拟）支付的回执。不做任何结算逻辑。
type PaymentReceipt struct {
	gorm.Model
	Address       string `gorm:"size:64;index"`
	CardID        string `gorm:"size:64;index"`
	AmountMilli   int
	Status        string `gorm:"size:32"`
	CorrelationID string `gorm:"size:64"`
}
