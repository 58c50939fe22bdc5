// Package executor is the seam between the billing layer and the image
// model. The handler only needs Execute, where the pixels are produced is
// the implementation's concern (see executor/remote).
package executor

import (
	"context"
	"errors"
	"time"
)

// TargetSize is one of the fixed output canvases a user can pick.
type TargetSize struct {
	Key         string `json:"key"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	AspectRatio string `json:"aspectRatio"`
}

// TargetSizes are the canvases offered, keyed by "<width>x<height>".
var TargetSizes = map[string]TargetSize{
	"1024x1024": {Key: "1024x1024", Width: 1024, Height: 1024, AspectRatio: "1:1"},
	"1080x1920": {Key: "1080x1920", Width: 1080, Height: 1920, AspectRatio: "9:16"},
	"1024x1792": {Key: "1024x1792", Width: 1024, Height: 1792, AspectRatio: "9:16"},
	"1792x1024": {Key: "1792x1024", Width: 1792, Height: 1024, AspectRatio: "16:9"},
}

// LookupTargetSize returns the canvas for key.
func LookupTargetSize(key string) (TargetSize, bool) {
	ts, ok := TargetSizes[key]
	return ts, ok
}

// ExpandRequest asks for ImageData to be outpainted to TargetSize.
// ImageData is base64, optionally as a data: URL.
type ExpandRequest struct {
	ImageData  string     `json:"imageData"`
	MimeType   string     `json:"mimeType"`
	TargetSize TargetSize `json:"targetSize"`
}

// ExpandResult is the finished image as a data: URL.
type ExpandResult struct {
	ImageData string        `json:"imageData"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Model     string        `json:"modelName,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ErrBusy is returned when no execution slot frees up before the request's
// context ends.
var ErrBusy = errors.New("executor: all execution slots are busy")

// Executor runs one image expansion synchronously.
type Executor interface {
	Execute(ctx context.Context, req ExpandRequest) (*ExpandResult, error)
}
