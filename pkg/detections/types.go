// Package detections holds the output of a video object detection run, and
// maps playback time onto the nearest detected frame.
package detections

import (
	"fmt"
	"math"
)

// Box is an object that the remote model found in a frame.
// Coordinates are in the frame's intrinsic pixel space (see Frame.ImgW, Frame.ImgH).
type Box struct {
	XYXY  [4]float64 `json:"xyxy"`  // [X1,Y1,X2,Y2]
	Conf  float64    `json:"conf"`  // Confidence of detection (0..1)
	Cls   int        `json:"cls"`   // Class index of the model
	Label string     `json:"label"` // eg "puck", "person"
}

// Valid returns nil if the corners are finite and min <= max on both axes.
func (b *Box) Valid() error {
	for _, v := range b.XYXY {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("box %v has a non-finite coordinate", b.XYXY)
		}
	}
	if b.XYXY[0] > b.XYXY[2] || b.XYXY[1] > b.XYXY[3] {
		return fmt.Errorf("box %v is inverted", b.XYXY)
	}
	return nil
}

// Caption is the text that we draw above the box, eg "puck 87%"
func (b *Box) Caption() string {
	return fmt.Sprintf("%v %d%%", b.Label, int(math.Round(b.Conf*100)))
}

// Frame is the detection result for a single sampled frame of the original video.
type Frame struct {
	I     int   `json:"i"`     // Original frame index. Sparse, because the model only runs every N frames.
	ImgW  int   `json:"img_w"` // Width of the image that the model saw
	ImgH  int   `json:"img_h"` // Height of the image that the model saw
	Boxes []Box `json:"boxes"` // Objects detected in this frame
}

// Set is the response of the remote inference call.
// SYNC-PREDICT-VIDEO-RESPONSE
type Set struct {
	FPS            float64 `json:"fps"`             // Frame rate of the original video, as seen by the detector
	TotalFrames    int     `json:"total_frames"`    // Number of frames in the original video
	SampledEveryN  int     `json:"sampled_every_n"` // Sampling stride
	ReturnedFrames int     `json:"returned_frames"` // Number of frames in Frames
	Frames         []Frame `json:"frames"`          // Ascending by I, no duplicates
}

// Header is a Set without its frames
type Header struct {
	FPS            float64 `json:"fps"`
	TotalFrames    int     `json:"total_frames"`
	SampledEveryN  int     `json:"sampled_every_n"`
	ReturnedFrames int     `json:"returned_frames"`
}
