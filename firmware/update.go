package firmware

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/stopwatch"

	"github.com/shubhamavl/suspensionpcb-can-go/can"
	"github.com/shubhamavl/suspensionpcb-can-go/logging"
)

// ChunkSize is the number of image bytes carried per CAN frame.
const ChunkSize = 8

// interChunkDelay paces the transfer so the bootloader's receive buffer
// keeps up.
const interChunkDelay = 2 * time.Millisecond

// FrameSender is the slice of the protocol service the transfer needs.
type FrameSender interface {
	SendFrame(f can.Frame) error
	RequestEnterBootloader() bool
}

// Progress reports per-chunk transfer state to the caller.
type Progress struct {
	Percentage  float64
	ChunksSent  int
	TotalChunks int
	Elapsed     time.Duration
}

// Session describes the live (or last) transfer. At most one session is
// ever active.
type Session struct {
	FilePath    string
	TotalChunks int
	ChunksSent  int
	Percentage  float64
	Cancelled   bool
}

// Service segments a firmware binary into protocol-sized chunks and
// transmits them with progress reporting and cancellation. "Transfer
// complete" and "bootloader verified" are distinct milestones: the latter
// arrives asynchronously via boot-status frames, which this service decodes
// but does not drive.
type Service struct {
	sender FrameSender
	logger logging.Logger

	active atomic.Bool
	cancel atomic.Pointer[context.CancelFunc]

	mu      sync.Mutex
	session Session

	lastBoot atomic.Pointer[BootStatusInfo]
}

// NewService wires a transfer service to its frame sender.
func NewService(sender FrameSender, logger logging.Logger) *Service {
	if logger == nil {
		logger = &logging.NullLogger{}
	}
	s := &Service{sender: sender, logger: logger}
	s.lastBoot.Store(&BootStatusInfo{Status: BootIdle})
	return s
}

// HandleBootFrame decodes and records a bootloader status frame. Wire it to
// the protocol service's boot-status subscription.
func (s *Service) HandleBootFrame(f can.Frame) {
	info, ok := DecodeBootStatus(f)
	if !ok {
		s.logger.Debugf("firmware: ignoring malformed boot-status frame len=%d", f.Length)
		return
	}
	s.lastBoot.Store(&info)
	s.logger.Debugf("firmware: boot status %s detail=%d", info.Status, info.Detail)
}

// LastBootStatus returns the most recent device-reported bootloader state.
func (s *Service) LastBootStatus() BootStatusInfo {
	return *s.lastBoot.Load()
}

// CurrentSession returns a copy of the live or most recent session, and
// whether a transfer is running right now.
func (s *Service) CurrentSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.active.Load()
}

// Cancel aborts the live transfer, if any, between chunks.
func (s *Service) Cancel() {
	if c := s.cancel.Load(); c != nil {
		(*c)()
	}
}

// UpdateFirmware transmits the binary at filePath chunk by chunk. It
// returns true only once the full byte sequence has been sent. A request
// while a session is active is rejected, not interleaved.
func (s *Service) UpdateFirmware(ctx context.Context, filePath string, progress func(Progress)) (bool, error) {
	if !s.active.CompareAndSwap(false, true) {
		return false, fmt.Errorf("a firmware transfer is already in progress")
	}
	defer s.active.Store(false)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return false, fmt.Errorf("read firmware image: %w", err)
	}
	if len(data) == 0 {
		return false, fmt.Errorf("firmware image %s is empty", filePath)
	}
	return s.transfer(ctx, filePath, data, progress)
}

// UpdateFirmwareBytes is UpdateFirmware for an in-memory image (uploaded
// via the control server).
func (s *Service) UpdateFirmwareBytes(ctx context.Context, name string, data []byte, progress func(Progress)) (bool, error) {
	if !s.active.CompareAndSwap(false, true) {
		return false, fmt.Errorf("a firmware transfer is already in progress")
	}
	defer s.active.Store(false)

	if len(data) == 0 {
		return false, fmt.Errorf("firmware image %s is empty", name)
	}
	return s.transfer(ctx, name, data, progress)
}

func (s *Service) transfer(ctx context.Context, name string, data []byte, progress func(Progress)) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel.Store(&cancel)
	defer s.cancel.Store(nil)

	totalChunks := (len(data) + ChunkSize - 1) / ChunkSize
	s.setSession(Session{FilePath: name, TotalChunks: totalChunks})

	if !s.sender.RequestEnterBootloader() {
		return false, fmt.Errorf("could not request bootloader entry")
	}

	// Header frame announces the image size so the bootloader can verify
	// chunk accounting on its end.
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))
	if err := s.sender.SendFrame(can.NewFrame(can.IDFirmwareHeader, hdr[:])); err != nil {
		return false, fmt.Errorf("send transfer header: %w", err)
	}

	sw := stopwatch.Start(0)
	s.logger.Infof("firmware: transferring %s (%d bytes, %d chunks)", name, len(data), totalChunks)

	sent := 0
	for off := 0; off < len(data); off += ChunkSize {
		select {
		case <-ctx.Done():
			s.markCancelled()
			s.logger.Warnf("firmware: transfer cancelled after %d/%d chunks", sent, totalChunks)
			return false, ctx.Err()
		default:
		}

		end := off + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := s.sender.SendFrame(can.NewFrame(can.IDFirmwareChunk, data[off:end])); err != nil {
			return false, fmt.Errorf("send chunk %d/%d: %w", sent+1, totalChunks, err)
		}
		sent++

		pct := float64(sent) / float64(totalChunks) * 100
		s.setSession(Session{FilePath: name, TotalChunks: totalChunks, ChunksSent: sent, Percentage: pct})
		if progress != nil {
			progress(Progress{
				Percentage:  pct,
				ChunksSent:  sent,
				TotalChunks: totalChunks,
				Elapsed:     sw.ElapsedTime(),
			})
		}
		time.Sleep(interChunkDelay)
	}

	s.logger.Infof("firmware: transfer complete (%d chunks in %v); awaiting bootloader verification", sent, sw.ElapsedTime())
	return true, nil
}

func (s *Service) setSession(sess Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

func (s *Service) markCancelled() {
	s.mu.Lock()
	s.session.Cancelled = true
	s.mu.Unlock()
}
