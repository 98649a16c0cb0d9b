package soundcard

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/biosig-go/internal/acquisition"
)

// bytesPerSample returns the frame width of one sample in format
func bytesPerSample(format malgo.FormatType) (int, error) {
	switch format {
	case malgo.FormatS16:
		return 2, nil
	case malgo.FormatS24:
		return 3, nil
	case malgo.FormatS32, malgo.FormatF32:
		return 4, nil
	default:
		return 0, fmt.Errorf("unsupported sample format %d", format)
	}
}

// decodeSample returns the sample at the start of b normalized to [-1, 1)
func decodeSample(b []byte, format malgo.FormatType) float64 {
	switch format {
	case malgo.FormatS16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / (1 << 15)
	case malgo.FormatS24:
		v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		return float64(v) / (1 << 23)
	case malgo.FormatS32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31)
	case malgo.FormatF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return 0
	}
}

// deinterleave converts interleaved frames into the rows of block. Full scale
// maps to fullScale, in the unit the pipeline expects from the amplifier (µV).
func deinterleave(frames []byte, format malgo.FormatType, block *acquisition.SampleBlock, fullScale float64) error {
	width, err := bytesPerSample(format)
	if err != nil {
		return err
	}
	frameBytes := width * block.Channels
	if len(frames) != frameBytes*block.Samples {
		return fmt.Errorf("got %d bytes, block needs %d", len(frames), frameBytes*block.Samples)
	}

	for col := range block.Samples {
		frame := frames[col*frameBytes:]
		for ch := range block.Channels {
			block.Set(ch, col, decodeSample(frame[ch*width:], format)*fullScale)
		}
	}
	return nil
}
