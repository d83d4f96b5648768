package server

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/shubhamavl/suspensionpcb-can-go/calib"
	"github.com/shubhamavl/suspensionpcb-can-go/can"
	"github.com/shubhamavl/suspensionpcb-can-go/firmware"
	"github.com/shubhamavl/suspensionpcb-can-go/logging"
	"github.com/shubhamavl/suspensionpcb-can-go/models"
	"github.com/shubhamavl/suspensionpcb-can-go/protocol"
	"github.com/shubhamavl/suspensionpcb-can-go/tare"
	"github.com/shubhamavl/suspensionpcb-can-go/weight"
)

const liveBroadcastInterval = 250 * time.Millisecond

// Options configures a Server.
type Options struct {
	// DataDir holds the calibration and tare files.
	DataDir string
	Logger  logging.Logger
}

// Server is the HTTP + WebSocket control surface over the core pipeline.
type Server struct {
	mux    *http.ServeMux
	logger logging.Logger

	store    *ImageStore
	calStore *calib.Store
	tares    *tare.Manager
	tarePath string

	proc *weight.Processor

	mu      sync.Mutex
	dev     *deviceSession
	adcMode models.ADCMode

	// One long-running operation (capture or flash) at a time
	opCancel context.CancelFunc
	opKind   string

	wsLive    *WSHub
	wsCapture *WSHub
	wsFlash   *WSHub

	done chan struct{}
}

// New builds a server, loads persisted calibrations and tare baselines, and
// starts the processing loop plus the live broadcaster.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &logging.NullLogger{}
	}

	calStore, err := calib.NewStore(opts.DataDir)
	if err != nil {
		return nil, err
	}

	tares := tare.NewManager()
	tarePath := filepath.Join(opts.DataDir, "tare.json")
	if err := tares.LoadFromFile(tarePath); err != nil {
		logger.Warnf("server: loading tare file: %v", err)
	}

	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		store:     NewImageStore(),
		calStore:  calStore,
		tares:     tares,
		tarePath:  tarePath,
		proc:      weight.NewProcessor(logger),
		wsLive:    NewWSHub(logger),
		wsCapture: NewWSHub(logger),
		wsFlash:   NewWSHub(logger),
		done:      make(chan struct{}),
	}

	s.proc.SetTareManager(tares)
	for _, side := range []models.Side{models.SideLeft, models.SideRight} {
		for _, mode := range []models.ADCMode{models.ADCInternal, models.ADCADS1115} {
			c, err := calStore.Load(side, mode)
			if err != nil {
				logger.Warnf("server: loading calibration %s/%s: %v", side, mode, err)
				continue
			}
			s.proc.SetCalibration(side, mode, c)
		}
	}
	if err := s.proc.Start(); err != nil {
		return nil, err
	}
	go s.liveBroadcaster()

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/adapters", s.handleAdapters)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)

	s.mux.HandleFunc("/api/stream/start", s.handleStreamStart)
	s.mux.HandleFunc("/api/stream/stop", s.handleStreamStop)
	s.mux.HandleFunc("/api/adc/mode", s.handleADCMode)
	s.mux.HandleFunc("/api/timeout", s.handleTimeout)
	s.mux.HandleFunc("/api/filter", s.handleFilter)

	s.mux.HandleFunc("/api/tare", s.handleTare)
	s.mux.HandleFunc("/api/tare/reset", s.handleTareReset)

	s.mux.HandleFunc("/api/calibration/capture", s.handleCaptureStart)
	s.mux.HandleFunc("/api/calibration/fit", s.handleFit)
	s.mux.HandleFunc("/api/calibration/get", s.handleCalibrationGet)
	s.mux.HandleFunc("/api/calibration/delete", s.handleCalibrationDelete)

	s.mux.HandleFunc("/api/firmware/upload", s.handleFirmwareUpload)
	s.mux.HandleFunc("/api/firmware/start", s.handleFlashStart)
	s.mux.HandleFunc("/api/op/stop", s.handleStopOp)

	// WS
	s.mux.HandleFunc("/ws/live", s.handleWSLive)
	s.mux.HandleFunc("/ws/capture", s.handleWSCapture)
	s.mux.HandleFunc("/ws/flash", s.handleWSFlash)

	return s, nil
}

func (s *Server) Handler() http.Handler { return s.mux }

// Close stops the broadcaster, the processor and any live session.
func (s *Server) Close() {
	close(s.done)
	s.mu.Lock()
	s.cancelLocked()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()
	if dev != nil {
		dev.proto.Disconnect()
	}
	s.proc.Stop()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	options := can.NewSLCAN(s.logger).AvailableOptions()
	options = append(options, "sim")
	s.writeJSON(w, 200, map[string][]string{"channels": options})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	if s.dev != nil {
		s.dev.proto.Disconnect()
		s.dev = nil
	}

	dev, cfg, err := buildSession(req, s.logger)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}

	// Fast path: telemetry goes straight into the processor queue.
	dev.proto.SetRawDataHandler(func(e protocol.RawDataEvent) {
		s.proc.EnqueueRawData(e.Side, float64(e.RawADC))
	})
	dev.proto.SetStatusHandler(s.onStatus)
	dev.proto.SetTimeoutHandler(s.onTimeout)

	if ok, msg := dev.proto.Connect(cfg); !ok {
		s.writeJSON(w, 400, APIError{Error: msg})
		return
	}
	dev.proto.RequestSystemStatus()

	s.dev = dev
	s.writeJSON(w, 200, ConnectResponse{Connected: true, Channel: dev.channel})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.cancelLocked()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()
	if dev != nil {
		dev.proto.Disconnect()
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

// onStatus tracks the device-wide ADC mode so tare/calibration lookups
// match the samples being produced.
func (s *Server) onStatus(e protocol.StatusEvent) {
	s.mu.Lock()
	changed := s.adcMode != e.ADCMode
	s.adcMode = e.ADCMode
	s.mu.Unlock()
	if changed {
		s.proc.SetADCMode(models.SideLeft, e.ADCMode)
		s.proc.SetADCMode(models.SideRight, e.ADCMode)
		s.proc.ResetFilters()
	}
	s.wsLive.Broadcast(WSMessage{Type: "status", Data: map[string]interface{}{
		"status":     e.Status,
		"errorFlags": e.ErrorFlags,
		"adcMode":    e.ADCMode.String(),
	}})
}

// onTimeout applies the remediation policy: stop streams and tell clients.
func (s *Server) onTimeout() {
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()
	if dev != nil {
		dev.proto.StopAllStreams()
	}
	s.wsLive.Broadcast(WSMessage{Type: "dataTimeout"})
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req StreamStartRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, ok := models.ParseSide(req.Side)
	if !ok {
		s.writeJSON(w, 400, APIError{Error: "invalid side"})
		return
	}
	dev := s.session()
	if dev == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	rate := can.RateCode(req.Rate)
	if rate == 0 {
		rate = can.Rate100Hz
	}
	started := false
	if side == models.SideLeft {
		started = dev.proto.StartLeftStream(rate)
	} else {
		started = dev.proto.StartRightStream(rate)
	}
	if !started {
		s.writeJSON(w, 500, APIError{Error: "stream start failed"})
		return
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	dev := s.session()
	if dev == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	if !dev.proto.StopAllStreams() {
		s.writeJSON(w, 500, APIError{Error: "stream stop failed"})
		return
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleADCMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ADCModeRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	mode, ok := models.ParseADCMode(req.Mode)
	if !ok {
		s.writeJSON(w, 400, APIError{Error: "invalid adc mode"})
		return
	}
	dev := s.session()
	if dev == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	sent := false
	if mode == models.ADCInternal {
		sent = dev.proto.SwitchToInternalADC()
	} else {
		sent = dev.proto.SwitchToADS1115()
	}
	if !sent {
		s.writeJSON(w, 500, APIError{Error: "mode switch failed"})
		return
	}
	// Confirmation arrives via a system-status event.
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req TimeoutRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if req.TimeoutMs <= 0 {
		s.writeJSON(w, 400, APIError{Error: "timeoutMs must be > 0"})
		return
	}
	dev := s.session()
	if dev == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	dev.proto.SetTimeout(time.Duration(req.TimeoutMs) * time.Millisecond)
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req FilterRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	ft := weight.FilterType(req.Type)
	switch ft {
	case weight.FilterNone, weight.FilterEMA, weight.FilterSMA:
	default:
		s.writeJSON(w, 400, APIError{Error: "invalid filter type"})
		return
	}
	s.proc.ConfigureFilter(weight.FilterConfig{
		Type:       ft,
		Alpha:      req.Alpha,
		WindowSize: req.WindowSize,
		Enabled:    req.Enabled,
	})
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleTare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req TareRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, ok := models.ParseSide(req.Side)
	if !ok {
		s.writeJSON(w, 400, APIError{Error: "invalid side"})
		return
	}

	snap := s.proc.LatestLeft()
	if side == models.SideRight {
		snap = s.proc.LatestRight()
	}
	s.mu.Lock()
	mode := s.adcMode
	s.mu.Unlock()

	s.tares.Tare(side, snap.CalibratedKg, mode)
	s.proc.ResetFilters()
	if err := s.tares.SaveToFile(s.tarePath); err != nil {
		s.logger.Warnf("server: persist tare: %v", err)
	}
	s.writeJSON(w, 200, map[string]interface{}{
		"ok":         true,
		"baselineKg": snap.CalibratedKg,
		"mode":       mode.String(),
	})
}

func (s *Server) handleTareReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req TareResetRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, ok1 := models.ParseSide(req.Side)
	mode, ok2 := models.ParseADCMode(req.Mode)
	if !ok1 || !ok2 {
		s.writeJSON(w, 400, APIError{Error: "invalid side or mode"})
		return
	}
	s.tares.Reset(side, mode)
	s.proc.ResetFilters()
	if err := s.tares.SaveToFile(s.tarePath); err != nil {
		s.logger.Warnf("server: persist tare: %v", err)
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req CaptureRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, ok := models.ParseSide(req.Side)
	if !ok {
		s.writeJSON(w, 400, APIError{Error: "invalid side"})
		return
	}

	s.mu.Lock()
	if s.dev == nil {
		s.mu.Unlock()
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	s.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.opCancel = cancel
	s.opKind = "capture"
	s.mu.Unlock()

	latest := s.proc.LatestLeft
	if side == models.SideRight {
		latest = s.proc.LatestRight
	}

	go func() {
		res, err := calib.CaptureAveragedADC(ctx, calib.CaptureOptions{
			SampleCount:      req.SampleCount,
			Duration:         time.Duration(req.DurationMs) * time.Millisecond,
			UseMedian:        req.UseMedian,
			RemoveOutliers:   req.RemoveOutliers,
			OutlierThreshold: req.OutlierThreshold,
			MaxStdDev:        req.MaxStdDev,
		}, func() float64 {
			return latest().RawADC
		}, func(current, total int) {
			s.wsCapture.Broadcast(WSMessage{Type: "progress", Data: map[string]int{
				"current": current,
				"total":   total,
			}})
		})
		if err != nil {
			s.wsCapture.Broadcast(WSMessage{Type: "error", Data: map[string]string{"error": err.Error()}})
			if res.SampleCount == 0 {
				return
			}
			// fall through: a cancelled capture still reports its partial result
		}
		s.wsCapture.Broadcast(WSMessage{Type: "done", Data: map[string]interface{}{
			"averagedValue":     res.AveragedValue,
			"mean":              res.Mean,
			"median":            res.Median,
			"standardDeviation": res.StandardDeviation,
			"sampleCount":       res.SampleCount,
			"outliersRemoved":   res.OutliersRemoved,
			"isStable":          res.IsStable,
		}})
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req FitRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, ok1 := models.ParseSide(req.Side)
	mode, ok2 := models.ParseADCMode(req.Mode)
	if !ok1 || !ok2 {
		s.writeJSON(w, 400, APIError{Error: "invalid side or mode"})
		return
	}
	fitMode := calib.FitLinear
	if req.FitMode == string(calib.FitPiecewise) {
		fitMode = calib.FitPiecewise
	}

	c, err := calib.FitMultiplePoints(side, mode, fitMode, req.Points)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if req.Persist {
		if err := s.calStore.Save(c); err != nil {
			s.writeJSON(w, 500, APIError{Error: err.Error()})
			return
		}
	}
	s.proc.SetCalibration(side, mode, c)
	s.proc.ResetFilters()
	s.writeJSON(w, 200, c)
}

func (s *Server) handleCalibrationGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	side, ok1 := models.ParseSide(r.URL.Query().Get("side"))
	mode, ok2 := models.ParseADCMode(r.URL.Query().Get("mode"))
	if !ok1 || !ok2 {
		s.writeJSON(w, 400, APIError{Error: "invalid side or mode"})
		return
	}
	c, err := s.calStore.Load(side, mode)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, c)
}

func (s *Server) handleCalibrationDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req CalibrationQuery
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, ok1 := models.ParseSide(req.Side)
	mode, ok2 := models.ParseADCMode(req.Mode)
	if !ok1 || !ok2 {
		s.writeJSON(w, 400, APIError{Error: "invalid side or mode"})
		return
	}
	if err := s.calStore.Delete(side, mode); err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.proc.SetCalibration(side, mode, calib.NewInvalid(side, mode))
	s.proc.ResetFilters()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleFirmwareUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	f, hdr, err := fileFromMultipart(r, "file")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 8<<20))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if len(raw) == 0 {
		s.writeJSON(w, 400, APIError{Error: "empty firmware image"})
		return
	}
	rec := s.store.Put(filepath.Base(hdr.Filename), raw)
	s.writeJSON(w, 200, UploadResponse{ImageID: rec.ID, Name: rec.Name, Size: len(rec.Data)})
}

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		return nil, nil, err
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	return f, hdr, nil
}

func (s *Server) handleFlashStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req FlashStartRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, ok := s.store.Get(req.ImageID)
	if !ok {
		s.writeJSON(w, 404, APIError{Error: "imageId not found (upload the firmware image first)"})
		return
	}

	s.mu.Lock()
	dev := s.dev
	if dev == nil {
		s.mu.Unlock()
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	s.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.opCancel = cancel
	s.opKind = "flash"
	s.mu.Unlock()

	go func() {
		ok, err := dev.fw.UpdateFirmwareBytes(ctx, rec.Name, rec.Data, func(p firmware.Progress) {
			s.wsFlash.Broadcast(WSMessage{Type: "progress", Data: map[string]interface{}{
				"percentage":  p.Percentage,
				"chunksSent":  p.ChunksSent,
				"totalChunks": p.TotalChunks,
				"elapsedMs":   p.Elapsed.Milliseconds(),
			}})
		})
		if err != nil {
			s.wsFlash.Broadcast(WSMessage{Type: "error", Data: map[string]string{"error": err.Error()}})
			return
		}
		if ok {
			s.wsFlash.Broadcast(WSMessage{Type: "done", Data: map[string]interface{}{
				"bootStatus": dev.fw.LastBootStatus().Status.String(),
			}})
		}
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleStopOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) cancelLocked() {
	if s.opCancel != nil {
		s.opCancel()
		s.opCancel = nil
		s.opKind = ""
	}
}

func (s *Server) session() *deviceSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// liveBroadcaster pushes both snapshots to live clients at a fixed cadence.
func (s *Server) liveBroadcaster() {
	t := time.NewTicker(liveBroadcastInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if s.session() == nil {
				continue
			}
			left := s.proc.LatestLeft()
			right := s.proc.LatestRight()
			s.wsLive.Broadcast(WSMessage{Type: "snapshot", Data: LiveSnapshot{
				Left:  toDTO(left),
				Right: toDTO(right),
			}})
		}
	}
}

func toDTO(snap weight.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		RawADC:       snap.RawADC,
		CalibratedKg: snap.CalibratedKg,
		TaredKg:      snap.TaredKg,
		Timestamp:    snap.Timestamp,
	}
}
