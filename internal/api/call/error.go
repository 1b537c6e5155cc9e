package call

import "VoicedeskGolang/pkg/response"

var (
	ErrCallBusy               = response.NewError(409, "another turn is already being processed for this call")
	ErrCallNotFound           = response.NewError(404, "call not found")
	ErrInvalidRequest         = response.NewError(400, "invalid request")
	ErrMemoryStoreUnavailable = response.NewError(503, "conversation state is temporarily unavailable, please hold")
	ErrSummaryWriteFailed     = response.NewError(500, "failed to persist call summary")
	ErrTraceNotFound          = response.NewError(404, "no trace available for this call")
)
