package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/conf"
)

// RawSuffix ends every segment file name
const RawSuffix = "_raw.wav"

// runDigits is the zero padded width of the run number in base names
const runDigits = 3

// SegmentPath returns the path of segment n of the chain starting at base.
// Segment 0 is base itself, segment n replaces the suffix with "-<n>_raw.wav".
func SegmentPath(base string, n int) string {
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, RawSuffix), n, RawSuffix)
}

// BaseName returns the first segment file name of run number run on day t
func BaseName(t time.Time, run int) string {
	return fmt.Sprintf("%04d_%02d_%02d_EEG_%0*d%s", t.Year(), int(t.Month()), t.Day(), runDigits, run, RawSuffix)
}

// NextBasePath returns the first segment path for a new recording in dir.
// The run number follows the highest one already present for day t, so an
// earlier recording is never overwritten.
func NextBasePath(dir string, t time.Time) (string, error) {
	pattern := regexp.MustCompile(fmt.Sprintf(`^%04d_%02d_%02d_EEG_(\d+)(?:-\d+)?%s$`,
		t.Year(), int(t.Month()), t.Day(), regexp.QuoteMeta(RawSuffix)))

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("scanning recording directory: %w", err)
	}

	highest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		if run, err := strconv.Atoi(m[1]); err == nil && run > highest {
			highest = run
		}
	}
	return filepath.Join(dir, BaseName(t, highest+1)), nil
}

// PathResolver returns the acquisition.PathFunc placing recordings under the
// session directory of settings. Dates are taken in loc, or local time when
// loc is nil.
func PathResolver(settings *conf.RecordingSettings, loc *time.Location) acquisition.PathFunc {
	if loc == nil {
		loc = time.Local
	}
	dir := settings.SessionDirectory()
	return func(desc *acquisition.Descriptor) (string, error) {
		t := time.Now()
		if desc != nil && !desc.StartTime.IsZero() {
			t = desc.StartTime
		}
		return NextBasePath(dir, t.In(loc))
	}
}
