package cloud

import (
	_ "embed"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"github.com/rbright/chatterbox/internal/pipeline"
)

//go:embed frame.schema.json
var frameSchema []byte

const (
	frameHello       = "hello"
	frameUploadStart = "upload_start"
	frameUploadEnd   = "upload_end"
	frameTTS         = "tts"
	frameCancel      = "cancel"
	frameWakeup      = "wakeup"

	frameASR    = "asr"
	frameAnswer = "answer"
	frameAudio  = "audio"
	frameError  = "error"
	frameFinish = "finish"

	// vadCloud asks the cloud to run its own end-of-speech detection.
	vadCloud = 2
)

// outbound is a device-to-cloud control frame.
type outbound struct {
	Type          string `json:"type"`
	RequestID     string `json:"request_id,omitempty"`
	DialogID      string `json:"dialog_id,omitempty"`
	Text          string `json:"text,omitempty"`
	ProductionID  string `json:"production_id,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	UploadFormat  string `json:"upload_format,omitempty"`
	SpeakerFormat string `json:"speaker_format,omitempty"`
	VADType       int    `json:"vad_type,omitempty"`
}

// inbound is a cloud-to-device control frame. Audio payloads usually follow
// as binary frames; Data carries inline audio when the cloud sends it.
type inbound struct {
	Type     string  `json:"type"`
	Hashcode int64   `json:"hashcode"`
	VolumeDB float64 `json:"tts_volume_db"`
	Text     string  `json:"text"`
	Finish   bool    `json:"finish"`
	Status   string  `json:"status"`
	Format   string  `json:"format"`
	Data     []byte  `json:"data"`
	Code     int     `json:"code"`
	Message  string  `json:"message"`
}

func compileFrameSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(frameSchema)
	if err != nil {
		return nil, fmt.Errorf("compile frame schema: %w", err)
	}
	return schema, nil
}

func validateFrame(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

func parseAudioStatus(s string) (pipeline.DownloadStatus, error) {
	switch s {
	case "start":
		return pipeline.DownloadStart, nil
	case "processing":
		return pipeline.DownloadProcessing, nil
	case "end":
		return pipeline.DownloadEnd, nil
	default:
		return 0, fmt.Errorf("unknown audio status %q", s)
	}
}
