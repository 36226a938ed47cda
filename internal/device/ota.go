package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// OTAState is the firmware updater's phase.
type OTAState int

const (
	OTANone OTAState = iota
	OTAInProgress
	OTASuccess
	OTAFailed
)

func (s OTAState) String() string {
	switch s {
	case OTANone:
		return "none"
	case OTAInProgress:
		return "in_progress"
	case OTASuccess:
		return "success"
	case OTAFailed:
		return "failed"
	default:
		return fmt.Sprintf("ota(%d)", int(s))
	}
}

// OTAStatus is one updater report.
type OTAStatus struct {
	State   OTAState
	Percent int
}

// Active reports whether the updater owns the device.
func (s OTAStatus) Active() bool {
	return s.State != OTANone
}

// OTAStatusFile reads the status the external updater writes as
// {"state":"in_progress","percent":40}. A missing file means no update.
type OTAStatusFile struct {
	Path string
}

type otaReport struct {
	State   string `json:"state"`
	Percent int    `json:"percent"`
}

// Status returns the current report; unreadable reports count as no update.
func (f OTAStatusFile) Status() OTAStatus {
	status, _ := f.Read()
	return status
}

// Read parses the status file.
func (f OTAStatusFile) Read() (OTAStatus, error) {
	if f.Path == "" {
		return OTAStatus{}, nil
	}
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return OTAStatus{}, nil
	}
	if err != nil {
		return OTAStatus{}, fmt.Errorf("read ota status: %w", err)
	}

	var report otaReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return OTAStatus{}, fmt.Errorf("decode ota status: %w", err)
	}
	status := OTAStatus{Percent: min(max(report.Percent, 0), 100)}
	switch report.State {
	case "", "none":
		status.State = OTANone
	case "in_progress":
		status.State = OTAInProgress
	case "success":
		status.State = OTASuccess
	case "failed":
		status.State = OTAFailed
	default:
		return OTAStatus{}, fmt.Errorf("unknown ota state %q", report.State)
	}
	return status, nil
}
