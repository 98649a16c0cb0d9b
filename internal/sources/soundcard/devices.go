package soundcard

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

// DeviceInfo describes one capture device
type DeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
}

// platformBackends returns the capture backend for the current OS, nil lets
// miniaudio pick
func platformBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(platformBackends(), malgo.ContextConfig{}, func(message string) {
		GetLogger().Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentSoundcard).
			Category(errors.CategoryDevice).
			Context("operation", "init_context").
			Build()
	}
	return ctx, nil
}

func releaseContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// ListDevices returns the capture devices of the platform backend
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer releaseContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component(componentSoundcard).
			Category(errors.CategoryDevice).
			Context("operation", "list_devices").
			Build()
	}
	return describeDevices(infos), nil
}

func describeDevices(infos []malgo.DeviceInfo) []DeviceInfo {
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodeDeviceID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault != 0,
		})
	}
	return devices
}

// decodeDeviceID turns the hex encoded backend id into text. ALSA ids such
// as "hw:1,0" decode to readable strings; others are returned as hex.
func decodeDeviceID(hexID string) string {
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	id := strings.TrimRight(string(raw), "\x00")
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return hexID
		}
	}
	return id
}

// selectDevice returns the index of the first device matching one of wanted
// by id, name or name substring. An empty wanted list or "default" selects
// the system default device, reported as -1.
func selectDevice(devices []DeviceInfo, wanted []string) (int, error) {
	if len(wanted) == 0 {
		return -1, nil
	}
	for _, w := range wanted {
		if w == "" || strings.EqualFold(w, "default") {
			return -1, nil
		}
		for _, d := range devices {
			if d.ID == w || strings.EqualFold(d.Name, w) {
				return d.Index, nil
			}
		}
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), strings.ToLower(w)) {
				return d.Index, nil
			}
		}
	}
	return 0, errors.Newf("no capture device matches %v", wanted).
		Component(componentSoundcard).
		Category(errors.CategoryDevice).
		Context("operation", "select_device").
		Build()
}
