package setdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/icevision/overlay/pkg/detections"
)

type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// DetectionSet is the cached response of one inference call.
// The key is (Hash, Conf, EveryN, MaxFrames).
type DetectionSet struct {
	BaseModel
	Hash       string                         `json:"hash"`       // SHA256 of the video file
	Source     string                         `json:"source"`     // Path of the video when it was first seen
	Conf       float64                        `json:"conf"`       // Confidence threshold of the request
	EveryN     int                            `json:"everyN"`     // Sampling interval of the request
	MaxFrames  int                            `json:"maxFrames"`  // Frame limit of the request
	Created    dbh.IntTime                    `json:"created"`    // When the inference call completed
	Frames     int                            `json:"frames"`     // Number of frames in Detections
	Detections *dbh.JSONField[detections.Set] `json:"detections"` // Response of the inference call
}
