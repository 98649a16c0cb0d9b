// Package recorder persists raw sample blocks into chains of linked WAV
// segments. Every segment carries the measurement header in its INFO chunk
// and every segment except the last names its successor.
package recorder

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/events"
	"github.com/tphakala/biosig-go/internal/logger"
)

const componentRecorder = "recorder"

// DefaultCalibration stores 1 nV steps when raw samples are in µV
const DefaultCalibration = 0.001

// State is the recorder lifecycle phase
type State int

const (
	StateClosed State = iota
	StateOpen
	StateRotating
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateRotating:
		return "rotating"
	default:
		return "unknown"
	}
}

// ErrNotOpen is returned by WriteBlock and Rotate on a closed recorder
var ErrNotOpen = errors.Newf("recorder is not open").
	Component(componentRecorder).
	Category(errors.CategoryRecording).
	Build()

// Options configures a Recorder
type Options struct {
	Calibration float64 // raw units per stored integer step
	MinFreeMB   int     // refuse to open a segment below this much free space, 0 disables
	Logger      logger.Logger
}

// Recorder writes one segment chain at a time. It implements
// acquisition.Recorder.
type Recorder struct {
	opts Options
	log  logger.Logger

	mu        sync.Mutex
	state     State
	desc      *acquisition.Descriptor
	base      string
	rotations int
	cur       *segmentWriter

	// freeSpace is replaced in tests
	freeSpace func(dir string) (uint64, error)
}

// GetLogger returns the recorder package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("recorder")
}

// New creates a closed recorder
func New(opts Options) *Recorder {
	if opts.Calibration <= 0 {
		opts.Calibration = DefaultCalibration
	}
	if opts.Logger == nil {
		opts.Logger = GetLogger()
	}
	return &Recorder{
		opts:      opts,
		log:       opts.Logger,
		freeSpace: diskFree,
	}
}

func diskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Open starts a new chain with its first segment at path
func (r *Recorder) Open(path string, desc *acquisition.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateClosed {
		return errors.Newf("recorder already open at %s", r.cur.path).
			Component(componentRecorder).
			Category(errors.CategoryState).
			Build()
	}

	seg, err := r.openSegment(path, newHeader(desc, 0, r.opts.Calibration))
	if err != nil {
		return err
	}

	r.desc = desc
	r.base = path
	r.rotations = 0
	r.cur = seg
	r.state = StateOpen

	r.log.Info("recording opened",
		logger.String("path", path),
		logger.String("measurement_id", desc.MeasurementID.String()),
		logger.Int("channels", desc.ChannelCount),
		logger.Int("sample_rate", desc.SampleRate))
	return nil
}

// WriteBlock appends the raw block to the current segment
func (r *Recorder) WriteBlock(block *acquisition.SampleBlock) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateOpen {
		return 0, ErrNotOpen
	}
	n, err := r.cur.write(block)
	if err != nil {
		return 0, errors.New(err).
			Component(componentRecorder).
			Category(errors.CategoryRecording).
			Context("operation", "write_block").
			Context("path", r.cur.path).
			Build()
	}
	return n, nil
}

// Rotate links the current segment to its successor, finalizes it and opens
// the successor. On failure the recorder is closed.
func (r *Recorder) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateOpen {
		return ErrNotOpen
	}
	r.state = StateRotating

	number := r.rotations + 1
	nextPath := SegmentPath(r.base, number)
	link := &Link{
		File:          filepath.Base(nextPath),
		Number:        number,
		MeasurementID: r.desc.MeasurementID.String(),
	}

	outgoing := r.cur
	if err := r.finishSegment(outgoing, link); err != nil {
		r.reset()
		return err
	}

	seg, err := r.openSegment(nextPath, newHeader(r.desc, number, r.opts.Calibration))
	if err != nil {
		r.reset()
		return err
	}

	r.rotations = number
	r.cur = seg
	r.state = StateOpen
	r.log.Debug("segment rotated",
		logger.String("from", outgoing.path),
		logger.String("to", nextPath),
		logger.Int64("samples", outgoing.header.Samples))
	return nil
}

// Close finalizes the current segment without a link. Closing a closed
// recorder does nothing.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		return nil
	}
	seg := r.cur
	err := r.finishSegment(seg, nil)
	r.reset()
	if err != nil {
		return err
	}
	r.log.Info("recording closed",
		logger.String("path", seg.path),
		logger.Int("segments", seg.header.Number+1))
	return nil
}

// IsOpen reports whether a segment is being written
func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateOpen
}

// CurrentPath returns the segment being written, empty when closed
func (r *Recorder) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return ""
	}
	return r.cur.path
}

// State returns the current lifecycle phase
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) reset() {
	r.state = StateClosed
	r.cur = nil
	r.desc = nil
	r.base = ""
	r.rotations = 0
}

// openSegment checks free space and creates the segment file
func (r *Recorder) openSegment(path string, header Header) (*segmentWriter, error) {
	if err := r.checkFreeSpace(filepath.Dir(path)); err != nil {
		return nil, err
	}
	seg, err := createSegment(path, header)
	if err != nil {
		return nil, errors.New(err).
			Component(componentRecorder).
			Category(errors.CategoryRecording).
			Context("operation", "open_segment").
			Context("path", path).
			Build()
	}
	return seg, nil
}

// finishSegment finalizes seg and announces it on the event bus
func (r *Recorder) finishSegment(seg *segmentWriter, next *Link) error {
	if err := seg.finish(next); err != nil {
		return errors.New(err).
			Component(componentRecorder).
			Category(errors.CategoryRecording).
			Context("operation", "finish_segment").
			Context("path", seg.path).
			Build()
	}

	ev := events.SegmentEvent{
		MeasurementID: seg.header.MeasurementID,
		Path:          seg.path,
		Number:        seg.header.Number,
		Samples:       seg.header.Samples,
		Duration:      seg.header.Duration(),
		OpenedAt:      seg.openedAt,
		ClosedAt:      time.Now(),
	}
	if next != nil {
		ev.Next = next.File
	}
	events.TryPublish(ev)
	return nil
}

// checkFreeSpace refuses new segments on a nearly full disk. The directory
// may not exist yet, so the nearest existing parent is measured.
func (r *Recorder) checkFreeSpace(dir string) error {
	if r.opts.MinFreeMB <= 0 {
		return nil
	}
	probe := existingParent(dir)
	free, err := r.freeSpace(probe)
	if err != nil {
		r.log.Debug("free space check skipped", logger.String("path", probe), logger.Error(err))
		return nil
	}
	required := uint64(r.opts.MinFreeMB) * 1024 * 1024
	if free < required {
		return errors.Newf("insufficient free space: %d MB available, %d MB required", free/(1024*1024), r.opts.MinFreeMB).
			Component(componentRecorder).
			Category(errors.CategoryDiskUsage).
			Context("operation", "check_free_space").
			Context("path", probe).
			Build()
	}
	return nil
}

func existingParent(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
