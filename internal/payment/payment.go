package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"egcards/internal/database"
)

// Request 描述一次支付请求。
type Request struct {
	Address       string
	CardID        string
	CorrelationID string
}

// Receipt 是支付成功的回执。
type Receipt struct {
	Address     string
	CardID      string
	AmountMilli int
	PaidAt      time.Time
}

// Processor 是支付能力的外部协作者接口。
type Processor interface {
	AttemptPayment(ctx context.Context, req Request) (Receipt, error)
}

// SimulatedProcessor 模拟链上支付：固定延迟后恒定成功，并落一条回执。
// 不做任何结算逻辑。
type SimulatedProcessor struct {
	db          *gorm.DB
	amountMilli int
	delay       time.Duration
	logger      *slog.Logger
}

// NewSimulatedProcessor 构造模拟支付处理器。db 允许为 nil（不落回执）。
func NewSimulatedProcessor(db *gorm.DB, amountMilli int, delay time.Duration, logger *slog.Logger) *SimulatedProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedProcessor{
		db:          db,
		amountMilli: amountMilli,
		delay:       delay,
		logger:      logger,
	}
}

// AttemptPayment 等待固定延迟后返回成功回执。ctx 取消视为支付失败，
// 调用方可重试（单次尝试，不自动重试）。
func (p *SimulatedProcessor) AttemptPayment(ctx context.Context, req Request) (Receipt, error) {
	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Receipt{}, fmt.Errorf("payment aborted: %w", ctx.Err())
	case <-timer.C:
	}

	receipt := Receipt{
		Address:     req.Address,
		CardID:      req.CardID,
		AmountMilli: p.amountMilli,
		PaidAt:      time.Now(),
	}

	if p.db != nil {
		row := database.PaymentReceipt{
			Address:       req.Address,
			CardID:        req.CardID,
			AmountMilli:   p.amountMilli,
			Status:        "paid",
			CorrelationID: req.CorrelationID,
		}
		if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
			// 回执只是审计记录，落库失败不吞掉已经"成功"的支付。
			p.logger.Error("record payment receipt failed", slog.Any("error", err))
		}
	}

	p.logger.Info("simulated payment succeeded",
		slog.String("address", req.Address),
		slog.String("card_id", req.CardID),
		slog.Int("amount_milli", p.amountMilli),
	)
	return receipt, nil
}
