package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/constants"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/security"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway API base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Gateway.APIBaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Gateway.BotSession == "" {
		c.Gateway.BotSession = "default"
	}
	if c.Gateway.ReconnectSec <= 0 {
		c.Gateway.ReconnectSec = constants.DefaultEventReconnectSec
	}

	if c.Queue.TickIntervalSec <= 0 {
		c.Queue.TickIntervalSec = constants.DefaultQueueTickIntervalSec
	}
	if c.Queue.SendCooldownSec <= 0 {
		c.Queue.SendCooldownSec = constants.DefaultSendCooldownSec
	}
	if c.Queue.LockStaleAfterSec <= 0 {
		c.Queue.LockStaleAfterSec = constants.DefaultLockStaleAfterSec
	}
	if c.Queue.DispatchTimeoutSec <= 0 {
		c.Queue.DispatchTimeoutSec = constants.DefaultDispatchTimeoutSec
	}
	if c.Queue.QuarantineHours <= 0 {
		c.Queue.QuarantineHours = constants.DefaultQuarantineHours
	}
	// A hung dispatch must fail before the lease can be declared stale,
	// otherwise two workers could both believe they hold the lock.
	if c.Queue.DispatchTimeoutSec >= c.Queue.LockStaleAfterSec {
		return models.ConfigError{Message: "dispatch timeout must be shorter than lock stale threshold"}
	}

	if c.Schedule.OwnerTimezone == "" {
		c.Schedule.OwnerTimezone = constants.DefaultOwnerTimezone
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("GATEWAY_API_URL"); url != "" {
		c.Gateway.APIBaseURL = url
	}
	if url := os.Getenv("GATEWAY_EVENTS_URL"); url != "" {
		c.Gateway.EventsURL = url
	}

	// SECURITY: secrets should come from the environment, not the file
	if key := os.Getenv("GATEWAY_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if secret := os.Getenv("STATUSFLOW_WEBHOOK_SECRET"); secret != "" {
		c.Server.WebhookSecret = secret
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if tz := os.Getenv("OWNER_TIMEZONE"); tz != "" {
		c.Schedule.OwnerTimezone = tz
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
