// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/biosig-go/internal/errors"
)

const appDirName = "biosig"

// GetDefaultConfigPaths returns the configuration search paths for the current OS.
// The first entry is where a default config is created when none exists.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(homeDir, "AppData", "Roaming", appDirName),
			exeDir,
		}, nil
	default:
		return []string{
			filepath.Join(homeDir, ".config", appDirName),
			"/etc/" + appDirName,
			exeDir,
		}, nil
	}
}

// SessionDirectory returns <directory>/<sequence>/<subject> for recordings
func (r *RecordingSettings) SessionDirectory() string {
	return filepath.Join(r.Directory, r.Sequence, r.Subject)
}
