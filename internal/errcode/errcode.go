package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：调用方错误或前置条件不满足，修改状态后可重试
// - 5xxx：系统错误（分析引擎失败可由调用方重试）
const (
	OK                = 0
	InvalidRequest    = 4000
	InvalidSlot       = 4001
	InvalidFileRef    = 4002
	ApplicationLocked = 4003
	Incomplete        = 4004
	NotReady          = 4005
	NotSubmitted      = 4006
	InProgress        = 4007
	InvalidTransition = 4008
	AlreadyClaimed    = 4009
	InvalidDecision   = 4010
	InvalidPosting    = 4011
	Unauthorized      = 4012
	Forbidden         = 4030
	NotFound          = 4040
	Infected          = 4220
	RateLimited       = 4290
	SystemError       = 5000
	EngineFailure     = 5020
	Timeout           = 5040
)
