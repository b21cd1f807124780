package detector

import (
	"net"
	"time"
)

const defaultDialTimeout = 250 * time.Millisecond

// TCPDetector reports alive once something accepts connections on Addr.
type TCPDetector struct {
	Addr    string
	Timeout time.Duration
}

func (d TCPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", d.Addr, timeout)
	if err != nil {
		return false, err
	}
	_ = conn.Close()
	return true, nil
}

func (d TCPDetector) Describe() string { return "tcp:" + d.Addr }
