package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复错误（访客可重试，例如卡片已被撤下）
// - 5xxx：系统错误（渲染/存储失败，需要中断流程）
const (
	OK            = 0
	CardNotFound  = 4004
	RenderFailure = 5001
	SystemError   = 5000
)
