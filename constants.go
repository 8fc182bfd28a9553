package sqpoll

import "github.com/ehrlich-b/go-sqpoll/internal/constants"

// Re-export constants for public API
const (
	DefaultRings         = constants.DefaultRings
	DefaultBuffers       = constants.DefaultBuffers
	DefaultEntries       = constants.DefaultEntries
	DefaultBlockSize     = constants.DefaultBlockSize
	DefaultMinIOs        = constants.DefaultMinIOs
	DefaultFileSize      = constants.DefaultFileSize
	DefaultFileName      = constants.DefaultFileName
	DefaultFill          = constants.DefaultFill
	DefaultSQThreadIdle  = constants.DefaultSQThreadIdle
	DefaultWaitTimeout   = constants.DefaultWaitTimeout
	DefaultSubmitRetries = constants.DefaultSubmitRetries
)
