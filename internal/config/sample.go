package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/renameio/v2"
)

// Sample is the commented starter config written by `gy config init`.
const Sample = `# grabyard configuration

# Chat platform to connect to: discord or slack.
platform: discord

discord:
  token_env: DISCORD_BOT_TOKEN
  # Register the slash command in one guild only (faster while testing).
  guild_id: ""
  command: grab

slack:
  app_token_env: SLACK_APP_TOKEN
  bot_token_env: SLACK_BOT_TOKEN
  command: /grab

origin:
  # Queried in order; the first well-formed answer wins.
  mirrors:
    - https://api.example.com/
  timeout: 5s
  rounds: 1

probe:
  timeout: 3s

pending:
  capacity: 100
  max_age: 2m
  auto_delay: 10s
  sweep: "@every 5s"

limits:
  # Submissions per second per user; 0 disables the throttle.
  submit_rps: 0.2
  submit_burst: 3

history:
  # sqlite, mysql or none
  driver: sqlite
  path: grabyard.db
  retention: 720h
  prune: "@daily"

status:
  enabled: true
  addr: ":8080"

telemetry:
  # OTLP/HTTP collector, e.g. localhost:4318. Empty disables tracing.
  otlp_endpoint: ""
  insecure: true
  service_name: grabyard
  sample_ratio: 1

logging:
  level: info
  # json, console or auto
  format: auto
  # stdout, stderr or file
  output: stdout
  file: ""
`

// ErrExists is returned by WriteSample when the target exists and force is
// not set.
var ErrExists = errors.New("config: file already exists")

// WriteSample writes Sample to path atomically. An existing file is only
// replaced when force is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer pf.Cleanup()

	if _, err := pf.WriteString(Sample); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}
