package can

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	goserial "github.com/tarm/serial"
)

// serialCandidates lists serial device names worth probing on this host.
func serialCandidates() []string {
	if runtime.GOOS == "windows" {
		out := make([]string, 0, 64)
		for i := 1; i <= 64; i++ {
			out = append(out, fmt.Sprintf("COM%d", i))
		}
		return out
	}

	candidates := make([]string, 0, 32)
	for _, pat := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/cu.*"} {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				candidates = append(candidates, m)
			}
		}
	}
	return candidates
}

// AutoDetectPort scans serial ports for one that answers a system-status
// request with a status frame. Returns "" when nothing responds.
func AutoDetectPort(baud int) string {
	for _, name := range serialCandidates() {
		if TestPort(name, baud) {
			return name
		}
	}
	return ""
}

// TestPort tries to open the port, issue a status request and read a status
// frame back within a short window.
func TestPort(name string, baud int) bool {
	if baud <= 0 {
		baud = defaultBaud
	}
	cfg := &goserial.Config{Name: name, Baud: baud, Parity: goserial.ParityNone, Size: 8, StopBits: goserial.Stop1, ReadTimeout: slcanReadTimeout}
	sp, err := goserial.OpenPort(cfg)
	if err != nil {
		return false
	}
	defer func() { _ = sp.Close() }()

	_, _ = sp.Write([]byte("O\r"))
	if _, err := sp.Write(marshalFrame(NewFrame(IDRequestStatus, nil))); err != nil {
		return false
	}

	deadline := time.Now().Add(time.Second)
	buf := make([]byte, 256)
	var acc []byte
	for time.Now().Before(deadline) {
		n, err := sp.Read(buf)
		if err != nil {
			continue
		}
		acc = append(acc, buf[:n]...)
		for {
			idx := indexByte(acc, '\r')
			if idx < 0 {
				break
			}
			rec := acc[:idx]
			acc = acc[idx+1:]
			if f, ok := unmarshalFrame(rec); ok && f.ID == IDSystemStatus {
				return true
			}
		}
	}
	return false
}
