package config

import (
	"fmt"
	"os"
)

var defaultTOML = fmt.Sprintf(`# wise-magpie configuration

[quota]
# Quota window duration in hours
window_hours = %d
# Reserve this fraction of quota for interactive use
safety_margin = %g

[quota.limits]
# Estimated messages per window, per model tier
opus = %d
sonnet = %d
haiku = %d

[budget]
# Maximum USD per autonomous task
max_task_usd = %g
# Maximum USD per day for autonomous execution
max_daily_usd = %g

[activity]
# Minutes of inactivity before considered idle
idle_threshold_minutes = %d
# Stop starting new tasks this many minutes before predicted return
return_buffer_minutes = %d

[daemon]
# Seconds between daemon poll cycles
poll_interval = %d
# Minutes between upstream quota syncs (0 disables)
auto_sync_interval_minutes = %d

[assistant]
# Model tier for autonomous tasks (opus/sonnet/haiku or a full model id)
model = "sonnet"
# Pick the model per task from its difficulty
auto_select_model = true
# Additional Assistant CLI flags
extra_flags = []

[auto_tasks]
# Generate routine maintenance tasks automatically
enabled = false
work_dir = "."
`,
	DefaultWindowHours,
	DefaultSafetyMargin,
	45, 225, 500,
	DefaultMaxTaskUSD,
	DefaultMaxDailyUSD,
	DefaultIdleThresholdMinutes,
	DefaultReturnBufferMinutes,
	DefaultPollIntervalSeconds,
	DefaultAutoSyncMinutes,
)

// Init writes the default config file. It refuses to overwrite an existing
// file unless force is set.
func Init(force bool) (string, error) {
	path, err := Path(ConfigFileName)
	if err != nil {
		return "", err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.WriteFile(path, []byte(defaultTOML), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
