package capture

import (
	"fmt"
	"strconv"

	"github.com/loykin/camrelay/internal/preflight"
)

// Strategy selects how the capture device is addressed.
type Strategy int

const (
	ByName Strategy = iota
	ByIndex
)

func (s Strategy) String() string {
	if s == ByIndex {
		return "by-index"
	}
	return "by-name"
}

// Encoding holds the fixed encoder parameters.
type Encoding struct {
	FrameRate int
	VideoSize string
	Codec     string
	Preset    string
	Tune      string
	PixFmt    string
	GOP       int
}

// DefaultEncoding is 720p30 H.264 tuned for latency.
func DefaultEncoding() Encoding {
	return Encoding{
		FrameRate: 30,
		VideoSize: "1280x720",
		Codec:     "libx264",
		Preset:    "ultrafast",
		Tune:      "zerolatency",
		PixFmt:    "yuv420p",
		GOP:       30,
	}
}

func (e Encoding) withDefaults() Encoding {
	d := DefaultEncoding()
	if e.FrameRate <= 0 {
		e.FrameRate = d.FrameRate
	}
	if e.VideoSize == "" {
		e.VideoSize = d.VideoSize
	}
	if e.Codec == "" {
		e.Codec = d.Codec
	}
	if e.Preset == "" {
		e.Preset = d.Preset
	}
	if e.Tune == "" {
		e.Tune = d.Tune
	}
	if e.PixFmt == "" {
		e.PixFmt = d.PixFmt
	}
	if e.GOP <= 0 {
		e.GOP = d.GOP
	}
	return e
}

// InputArgs returns the device selection arguments ending in the -i input.
func InputArgs(api preflight.CaptureAPI, s Strategy, name string, index int) []string {
	idx := strconv.Itoa(index)
	switch api {
	case preflight.V4L2:
		if s == ByIndex {
			return []string{"-i", "/dev/video" + idx}
		}
		return []string{"-i", name}
	case preflight.DShow:
		if s == ByIndex {
			return []string{"-video_device_number", idx, "-i", "video=" + name}
		}
		return []string{"-i", "video=" + name}
	default:
		if s == ByIndex {
			return []string{"-i", idx + ":none"}
		}
		return []string{"-i", name + ":none"}
	}
}

// Args builds the full encoder argument list for strategy s.
func (c Config) Args(s Strategy) []string {
	api := c.API
	if api == "" {
		api = preflight.DefaultCaptureAPI()
	}
	enc := c.Encoding.withDefaults()
	args := []string{
		"-f", string(api),
		"-framerate", strconv.Itoa(enc.FrameRate),
		"-video_size", enc.VideoSize,
	}
	args = append(args, InputArgs(api, s, c.DeviceName, c.DeviceIndex)...)
	args = append(args,
		"-c:v", enc.Codec,
		"-preset", enc.Preset,
		"-tune", enc.Tune,
		"-pix_fmt", enc.PixFmt,
		"-g", strconv.Itoa(enc.GOP),
		"-f", "rtsp",
		"-rtsp_transport", "tcp",
		c.PublishURL(),
	)
	return args
}

// PublishURL is where the encoder publishes the stream.
func (c Config) PublishURL() string {
	return fmt.Sprintf("rtsp://localhost:%d%s", c.Port, c.StreamPath)
}
