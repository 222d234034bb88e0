package config

const (
	defaultStateDir                 = "~/.local/share/devplay"
	defaultLogDir                   = "~/.local/share/devplay/logs"
	defaultRegistryBaseURL          = "http://127.0.0.1:8080"
	defaultRegistryRequestTimeout   = 10
	defaultReconcileSchedule        = "@every 5m"
	defaultTickIntervalMillis       = 1000
	defaultTotalTicks               = 240
	defaultClearHistoryDelayMillis  = 300
	defaultNotifyRequestTimeout     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultPreserveProgressOnPause  = false
	defaultNotificationsCompletions = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Registry: Registry{
			BaseURL:           defaultRegistryBaseURL,
			RequestTimeout:    defaultRegistryRequestTimeout,
			ReconcileSchedule: defaultReconcileSchedule,
		},
		Queue: Queue{
			TickIntervalMillis:      defaultTickIntervalMillis,
			TotalTicks:              defaultTotalTicks,
			ClearHistoryDelayMillis: defaultClearHistoryDelayMillis,
			PreserveProgressOnPause: defaultPreserveProgressOnPause,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completions:    defaultNotificationsCompletions,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
