package soundcard

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/biosig-go/internal/acquisition"
)

func TestDecodeSample(t *testing.T) {
	f32 := make([]byte, 4)
	binary.LittleEndian.PutUint32(f32, math.Float32bits(-0.25))

	tests := []struct {
		name   string
		format malgo.FormatType
		in     []byte
		want   float64
	}{
		{"s16 positive half", malgo.FormatS16, []byte{0x00, 0x40}, 0.5},
		{"s16 negative full", malgo.FormatS16, []byte{0x00, 0x80}, -1},
		{"s24 positive quarter", malgo.FormatS24, []byte{0x00, 0x00, 0x20}, 0.25},
		{"s24 minus one step", malgo.FormatS24, []byte{0xff, 0xff, 0xff}, -1.0 / (1 << 23)},
		{"s32 negative half", malgo.FormatS32, []byte{0x00, 0x00, 0x00, 0xc0}, -0.5},
		{"f32 passthrough", malgo.FormatF32, f32, -0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, decodeSample(tt.in, tt.format), 1e-12)
		})
	}
}

func TestBytesPerSampleRejectsU8(t *testing.T) {
	_, err := bytesPerSample(malgo.FormatU8)
	require.Error(t, err)

	n, err := bytesPerSample(malgo.FormatS32)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDeinterleave(t *testing.T) {
	// Two channels, three frames of S32: channel 0 counts up, channel 1 is negated
	frames := make([]byte, 0, 24)
	for i := range 3 {
		for _, v := range []int32{int32(i+1) << 28, -(int32(i+1) << 28)} {
			frames = binary.LittleEndian.AppendUint32(frames, uint32(v))
		}
	}

	block := acquisition.NewSampleBlock(2, 3)
	require.NoError(t, deinterleave(frames, malgo.FormatS32, block, 1000))

	for i := range 3 {
		want := float64(i+1) / 8 * 1000
		assert.InDelta(t, want, block.At(0, i), 1e-9)
		assert.InDelta(t, -want, block.At(1, i), 1e-9)
	}
}

func TestDeinterleaveLengthMismatch(t *testing.T) {
	block := acquisition.NewSampleBlock(2, 3)
	require.Error(t, deinterleave(make([]byte, 10), malgo.FormatS32, block, 1))
}

func TestDecodeDeviceID(t *testing.T) {
	assert.Equal(t, "hw:1,0", decodeDeviceID("68773a312c3000"))
	assert.Equal(t, "0001ff", decodeDeviceID("0001ff"))
	assert.Equal(t, "zz", decodeDeviceID("zz"))
}

func TestSelectDevice(t *testing.T) {
	devices := []DeviceInfo{
		{Index: 0, Name: "HDA Intel PCH", ID: "hw:0,0"},
		{Index: 1, Name: "g.USBamp ADC", ID: "hw:1,0"},
		{Index: 2, Name: "USB Audio CODEC", ID: "hw:2,0"},
	}

	tests := []struct {
		name    string
		wanted  []string
		want    int
		wantErr bool
	}{
		{"system default", nil, -1, false},
		{"explicit default", []string{"default"}, -1, false},
		{"by id", []string{"hw:2,0"}, 2, false},
		{"by exact name", []string{"g.usbamp adc"}, 1, false},
		{"by substring", []string{"codec"}, 2, false},
		{"first match wins", []string{"missing", "intel"}, 0, false},
		{"no match", []string{"UB-2015.05.16"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectDevice(devices, tt.wanted)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
