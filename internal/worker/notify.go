package worker

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type CardGenerationNotifyMessage struct {
	Status        string `json:"status"`
	CardID        string `json:"card_id"`
	GenerationID  uint   `json:"generation_id"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
	DownloadURL   string `json:"download_url,omitempty"`
}
