// Package export converts recorded segment chains into EDF files.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
	"github.com/tphakala/biosig-go/internal/recorder"
)

const (
	componentExport = "export"

	// MaxRecordBytes is the EDF data record size limit
	MaxRecordBytes = 61440

	recordDuration     = time.Second
	digitalMin         = -32768
	digitalMax         = 32767
	physicalDimension  = "uV"
	DefaultPhysicalMin = -3200.0
	DefaultPhysicalMax = 3200.0

	// Fixed EDF header field widths
	idFieldWidth    = 80
	labelFieldWidth = 16
)

// GetLogger returns the export package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("export")
}

// Options controls the EDF header
type Options struct {
	PhysicalMin float64 // µV mapped to the lowest digital value
	PhysicalMax float64 // µV mapped to the highest digital value
	PatientID   string  // defaults to "X X X X", the EDF+ anonymous patient
	Log         logger.Logger
}

// OptionsFromSettings returns export options from the configuration
func OptionsFromSettings(settings *conf.ExportSettings) Options {
	return Options{PhysicalMin: settings.PhysicalMin, PhysicalMax: settings.PhysicalMax}
}

// Result summarizes a finished export
type Result struct {
	Path     string
	Segments int
	Records  int
	Samples  int64 // sample columns taken from the chain
	Padding  int   // zero columns appended to complete the last record
	Clipped  int64 // samples outside the physical range
}

// ChainToEDF concatenates the chain starting at first into one EDF file at
// out. Each data record holds one second, rate samples per signal.
func ChainToEDF(first, out string, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = GetLogger()
	}
	if opts.PhysicalMin == 0 && opts.PhysicalMax == 0 {
		opts.PhysicalMin, opts.PhysicalMax = DefaultPhysicalMin, DefaultPhysicalMax
	}
	if opts.PhysicalMin >= opts.PhysicalMax {
		return nil, validationError(fmt.Sprintf("physical minimum %g must be below maximum %g", opts.PhysicalMin, opts.PhysicalMax))
	}

	chain, err := recorder.ReadChain(first)
	if err != nil {
		return nil, err
	}
	head := chain[0].Header
	for _, entry := range chain[1:] {
		if entry.Header.SampleRate != head.SampleRate || entry.Header.Channels != head.Channels {
			return nil, validationError(fmt.Sprintf("segment %s changes format to %d channels at %d Hz",
				entry.Path, entry.Header.Channels, entry.Header.SampleRate))
		}
	}
	if err := CheckRecordSize(head.Channels, head.SampleRate); err != nil {
		return nil, err
	}

	f, err := os.Create(out) //nolint:gosec // G304: output path chosen by the operator
	if err != nil {
		return nil, fileError(err, "create", out)
	}
	success := false
	defer func() {
		_ = f.Close()
		if !success {
			_ = os.Remove(out)
		}
	}()

	w, err := edf.Create(f, header(head, opts))
	if err != nil {
		return nil, fileError(err, "write_header", out)
	}

	result := &Result{Path: out, Segments: len(chain)}
	rate := head.SampleRate
	pending := make([][]float64, head.Channels)

	flush := func(final bool) error {
		for len(pending[0]) >= rate || (final && len(pending[0]) > 0) {
			record := make([][]float64, head.Channels)
			for ch := range pending {
				n := min(rate, len(pending[ch]))
				row := make([]float64, rate)
				for i, v := range pending[ch][:n] {
					row[i] = clamp(v, opts.PhysicalMin, opts.PhysicalMax, &result.Clipped)
				}
				if ch == 0 {
					result.Padding += rate - n
				}
				record[ch] = row
				pending[ch] = pending[ch][n:]
			}
			if err := w.WriteRecord(record); err != nil {
				return err
			}
			result.Records++
		}
		return nil
	}

	for _, entry := range chain {
		seg, err := recorder.ReadSegment(entry.Path)
		if err != nil {
			return nil, err
		}
		for ch := range pending {
			pending[ch] = append(pending[ch], seg.Data[ch]...)
		}
		result.Samples += int64(len(seg.Data[0]))
		if err := flush(false); err != nil {
			return nil, fileError(err, "write_record", out)
		}
	}
	if err := flush(true); err != nil {
		return nil, fileError(err, "write_record", out)
	}
	if err := w.Close(); err != nil {
		return nil, fileError(err, "finalize_header", out)
	}
	if err := f.Sync(); err != nil {
		return nil, fileError(err, "sync", out)
	}
	success = true

	log.Info("chain exported to EDF",
		logger.String("first", filepath.Base(first)),
		logger.String("output", out),
		logger.Int("segments", result.Segments),
		logger.Int("records", result.Records),
		logger.Int64("clipped", result.Clipped),
		logger.Float64("physical_min", opts.PhysicalMin),
		logger.Float64("physical_max", opts.PhysicalMax))
	return result, nil
}

// CheckRecordSize rejects formats whose one second record exceeds the EDF
// record size limit.
func CheckRecordSize(channels, rate int) error {
	if bytes := channels * rate * 2; bytes > MaxRecordBytes {
		return validationError(fmt.Sprintf("%d channels at %d Hz need %d byte records, EDF allows %d",
			channels, rate, bytes, MaxRecordBytes))
	}
	return nil
}

func header(h *recorder.Header, opts Options) edf.Header {
	patient := opts.PatientID
	if patient == "" {
		patient = "X X X X"
	}
	prefilter := fmt.Sprintf("HP:%gHz LP:%gHz", h.HighPass, h.LowPass)

	signals := make([]edf.SignalHeader, h.Channels)
	for ch := range signals {
		label := fmt.Sprintf("EEG %03d", ch)
		if ch < len(h.Labels) {
			label = h.Labels[ch]
		}
		signals[ch] = edf.SignalHeader{
			Label:             fit(label, labelFieldWidth),
			TransducerType:    fit(strings.Join(h.DeviceIDs, ","), idFieldWidth),
			PhysicalDimension: physicalDimension,
			PhysicalMin:       opts.PhysicalMin,
			PhysicalMax:       opts.PhysicalMax,
			DigitalMin:        digitalMin,
			DigitalMax:        digitalMax,
			Prefiltering:      fit(prefilter, idFieldWidth),
			SamplesPerRecord:  h.SampleRate,
		}
	}

	return edf.Header{
		Version:            edf.Version0,
		PatientID:          fit(patient, idFieldWidth),
		RecordingID:        fit(fmt.Sprintf("Startdate %s %s %s", h.StartTime.Format("02-Jan-2006"), h.MeasurementID, recorder.Software), idFieldWidth),
		StartTime:          h.StartTime,
		DataRecordDuration: recordDuration,
		SignalCount:        h.Channels,
		Signals:            signals,
	}
}

// fit truncates s to the field width, the EDF header is fixed width ASCII
func fit(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return s
}

func clamp(v, lo, hi float64, clipped *int64) float64 {
	switch {
	case v < lo:
		*clipped++
		return lo
	case v > hi:
		*clipped++
		return hi
	default:
		return v
	}
}

func validationError(msg string) error {
	return errors.Newf("%s", msg).
		Component(componentExport).
		Category(errors.CategoryValidation).
		Build()
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component(componentExport).
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}
