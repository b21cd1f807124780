package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func fakeEncoder(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder scripts require /bin/sh")
	}
	p := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCheckEncoderOK(t *testing.T) {
	enc := fakeEncoder(t, `[ "$1" = "-version" ] && echo "ffmpeg version 6.0" && exit 0; exit 1`)
	if err := (Checker{Encoder: enc}).CheckEncoder(context.Background()); err != nil {
		t.Fatalf("CheckEncoder: %v", err)
	}
}

func TestCheckEncoderMissing(t *testing.T) {
	c := Checker{Encoder: filepath.Join(t.TempDir(), "no-ffmpeg")}
	err := c.CheckEncoder(context.Background())
	if !errors.Is(err, ErrEncoderMissing) {
		t.Fatalf("expected ErrEncoderMissing, got %v", err)
	}
	if !strings.Contains(err.Error(), InstallHint()) {
		t.Fatalf("error lacks install hint: %v", err)
	}
}

func TestCheckEncoderNonZeroExit(t *testing.T) {
	enc := fakeEncoder(t, "exit 127")
	err := (Checker{Encoder: enc}).CheckEncoder(context.Background())
	var me *EncoderMissingError
	if !errors.As(err, &me) || me.Encoder != enc {
		t.Fatalf("expected EncoderMissingError, got %v", err)
	}
}

func TestListDevicesReturnsOutputDespiteExitCode(t *testing.T) {
	enc := fakeEncoder(t, `echo "args: $*" >&2
echo '[AVFoundation indev @ 0x1] [0] FaceTime HD Camera' >&2
exit 1`)
	out, err := (Checker{Encoder: enc, API: AVFoundation}).ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if !strings.Contains(out, "FaceTime HD Camera") {
		t.Fatalf("output missing device: %q", out)
	}
	if !strings.Contains(out, "-f avfoundation -list_devices true -i") {
		t.Fatalf("unexpected invocation: %q", out)
	}
}

func TestListDevicesSilentFailure(t *testing.T) {
	enc := fakeEncoder(t, "exit 1")
	if _, err := (Checker{Encoder: enc, API: V4L2}).ListDevices(context.Background()); err == nil {
		t.Fatalf("expected error when listing produced no output")
	}
}

func TestListArgs(t *testing.T) {
	tests := []struct {
		api  CaptureAPI
		want string
	}{
		{AVFoundation, "-f avfoundation -list_devices true -i "},
		{DShow, "-f dshow -list_devices true -i dummy"},
		{V4L2, "-sources v4l2"},
	}
	for _, tt := range tests {
		if got := strings.Join(ListArgs(tt.api), " "); got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.api, got, tt.want)
		}
	}
}

func TestParseCaptureAPI(t *testing.T) {
	if api, err := ParseCaptureAPI(""); err != nil || api != DefaultCaptureAPI() {
		t.Fatalf("empty: %v %v", api, err)
	}
	if api, err := ParseCaptureAPI(" V4L2 "); err != nil || api != V4L2 {
		t.Fatalf("v4l2: %v %v", api, err)
	}
	if _, err := ParseCaptureAPI("gdigrab"); err == nil {
		t.Fatalf("expected error for unknown api")
	}
}
