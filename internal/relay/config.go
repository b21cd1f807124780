package relay

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loykin/camrelay/internal/fileutil"
)

// PathConfig is one publish path entry of the relay configuration.
type PathConfig struct {
	Source         string `yaml:"source"`
	SourceProtocol string `yaml:"sourceProtocol"`
	PublishUser    string `yaml:"publishUser"`
	PublishPass    string `yaml:"publishPass"`
	ReadUser       string `yaml:"readUser"`
	ReadPass       string `yaml:"readPass"`
}

// File is the subset of the mediamtx configuration camrelay writes.
type File struct {
	Paths         map[string]PathConfig `yaml:"paths"`
	RTSPAddress   string                `yaml:"rtspAddress"`
	Protocols     []string              `yaml:"protocols,flow"`
	RTSPTransport string                `yaml:"rtspTransport"`
	ReadTimeout   string                `yaml:"readTimeout"`
	WriteTimeout  string                `yaml:"writeTimeout"`
}

// PublishName strips the leading slash of a stream path: "/webcam" -> "webcam".
func PublishName(streamPath string) string {
	return strings.TrimPrefix(streamPath, "/")
}

// NewFile builds the relay configuration for one TCP-only publish path.
func NewFile(port int, streamPath string) File {
	return File{
		Paths: map[string]PathConfig{
			PublishName(streamPath): {
				Source:         "publisher",
				SourceProtocol: "tcp",
			},
		},
		RTSPAddress:   ":" + strconv.Itoa(port),
		Protocols:     []string{"tcp"},
		RTSPTransport: "tcp",
		ReadTimeout:   "30s",
		WriteTimeout:  "30s",
	}
}

// Render returns the YAML document for port and streamPath.
func Render(port int, streamPath string) ([]byte, error) {
	if PublishName(streamPath) == "" {
		return nil, fmt.Errorf("invalid stream path %q", streamPath)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(NewFile(port, streamPath)); err != nil {
		return nil, fmt.Errorf("encode relay config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteConfig renders the configuration and atomically replaces path with it.
func WriteConfig(path string, port int, streamPath string) error {
	b, err := Render(port, streamPath)
	if err != nil {
		return err
	}
	return fileutil.WriteBytes(path, b, 0o644)
}
