package server

import (
	"time"

	"github.com/shubhamavl/suspensionpcb-can-go/calib"
)

type APIError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

type ConnectRequest struct {
	// Channel is a serial device path, or "sim" for the simulator; empty
	// triggers auto-detection.
	Channel string `json:"channel"`
	Baud    int    `json:"baud"`
	Bitrate int    `json:"bitrate"`
}

type ConnectResponse struct {
	Connected bool   `json:"connected"`
	Channel   string `json:"channel"`
}

type StreamStartRequest struct {
	Side string `json:"side"`
	Rate byte   `json:"rate"`
}

type ADCModeRequest struct {
	Mode string `json:"mode"`
}

type TimeoutRequest struct {
	TimeoutMs int `json:"timeoutMs"`
}

type FilterRequest struct {
	Type       string  `json:"type"`
	Alpha      float64 `json:"alpha"`
	WindowSize int     `json:"windowSize"`
	Enabled    bool    `json:"enabled"`
}

type TareRequest struct {
	Side string `json:"side"`
}

type TareResetRequest struct {
	Side string `json:"side"`
	Mode string `json:"mode"`
}

type CaptureRequest struct {
	Side             string  `json:"side"`
	SampleCount      int     `json:"sampleCount"`
	DurationMs       int     `json:"durationMs"`
	UseMedian        bool    `json:"useMedian"`
	RemoveOutliers   bool    `json:"removeOutliers"`
	OutlierThreshold float64 `json:"outlierThreshold"`
	MaxStdDev        float64 `json:"maxStdDev"`
}

type FitRequest struct {
	Side    string        `json:"side"`
	Mode    string        `json:"mode"`
	FitMode string        `json:"fitMode"`
	Points  []calib.Point `json:"points"`
	Persist bool          `json:"persist"`
}

type CalibrationQuery struct {
	Side string `json:"side"`
	Mode string `json:"mode"`
}

type UploadResponse struct {
	ImageID string `json:"imageId"`
	Name    string `json:"name"`
	Size    int    `json:"size"`
}

type FlashStartRequest struct {
	ImageID string `json:"imageId"`
}

type SnapshotDTO struct {
	RawADC       float64   `json:"rawAdc"`
	CalibratedKg float64   `json:"calibratedKg"`
	TaredKg      float64   `json:"taredKg"`
	Timestamp    time.Time `json:"timestamp"`
}

type LiveSnapshot struct {
	Left  SnapshotDTO `json:"left"`
	Right SnapshotDTO `json:"right"`
}
