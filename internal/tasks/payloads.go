package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeCardGenerate = "card:generate"
)

// CardGeneratePayload 描述生成个性化卡片所需的最小信息。
// 卡片内容不随任务传递：Worker 始终以 Card Store 的最新值为准。
type CardGeneratePayload struct {
	GenerationID  uint   `json:"generation_id"`
	CardID        string `json:"card_id"`
	VisitorName   string `json:"visitor_name"`
	CorrelationID string `json:"correlation_id"`
}

// NewCardGenerateTask 构造一个新的卡片生成任务。
func NewCardGenerateTask(generationID uint, cardID, visitorName, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CardGeneratePayload{
		GenerationID:  generationID,
		CardID:        cardID,
		VisitorName:   visitorName,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCardGenerate, payload), nil
}
