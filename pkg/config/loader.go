package config

import (
	"errors"
	"os"

	"github.com/kkyr/fig"
)

const EnvPrefix = "CONFAB"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix CONFAB_.
// Params from the config should be in uppercase separated with _.
// A missing file is not an error, the defaults and env vars apply.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.confab")
		}
	}
	err := fig.Load(config, fig.File("confab.yaml"), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		return LoadConfigEnv(config)
	}
	return err
}

func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}
