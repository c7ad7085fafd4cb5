package errors

// Error codes for the propagation contracts. Keep stable; used across adapters, pipeline and plugin.
const (
	ErrCodeClassNotFound       = "asynctrace.class_not_found"
	ErrCodeHookNotFound        = "asynctrace.hook_not_found"
	ErrCodeBuilderSealed       = "asynctrace.builder_sealed"
	ErrCodeLoopClosed          = "asynctrace.loop_closed"
	ErrCodeRemoteRequired      = "asynctrace.remote_required"
	ErrCodeNotConnected        = "asynctrace.not_connected"
	ErrCodeChannelClosed       = "asynctrace.channel_closed"
	ErrCodeDialFailed          = "asynctrace.dial_failed"
	ErrCodeSendFailed          = "asynctrace.send_failed"
	ErrCodeSerializationFailed = "asynctrace.serialization_failed"
	ErrCodeNotAcknowledged     = "asynctrace.not_acknowledged"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	// ErrClassNotFound and ErrHookNotFound are the HookInstallationFailure kinds:
	// the instrumentation catalog lacks a declared target.
	ErrClassNotFound       = Code(ErrCodeClassNotFound)
	ErrHookNotFound        = Code(ErrCodeHookNotFound)
	ErrBuilderSealed       = Code(ErrCodeBuilderSealed)
	ErrLoopClosed          = Code(ErrCodeLoopClosed)
	ErrRemoteRequired      = Code(ErrCodeRemoteRequired)
	ErrNotConnected        = Code(ErrCodeNotConnected)
	ErrChannelClosed       = Code(ErrCodeChannelClosed)
	ErrDialFailed          = Code(ErrCodeDialFailed)
	ErrSendFailed          = Code(ErrCodeSendFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrNotAcknowledged     = Code(ErrCodeNotAcknowledged)
)
