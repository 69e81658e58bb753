package constants

// Queue processing defaults
const (
	DefaultQueueTickIntervalSec = 5
	DefaultSendCooldownSec      = 30
	DefaultLockStaleAfterSec    = 180
	DefaultDispatchTimeoutSec   = 60
	DefaultQuarantineHours      = 24
)

// Conversation defaults
const (
	DefaultOwnerTimezone     = "Asia/Jerusalem"
	DefaultStatusFont        = 0
	DefaultStatusColor       = "#25D366"
	ScheduleDayChoices       = 8
	NotifyWindowHours        = 24
	StatusExpiryHours        = 24
	DefaultAuthCacheTTLSec   = 30
	DefaultAuthCacheSweepSec = 60
	MaxButtonOptions         = 3
)

// Timeouts and server defaults
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultEventReconnectSec     = 5
	ServerErrorChannelSize       = 1
)

// Database defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
)

// Encryption settings
const (
	EncryptionSalt       = "statusflow-db-v1"
	EncryptionLookupSalt = "statusflow-lookup-v1"
)
