package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/inference"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	defaults := inference.DefaultOptions()
	parser := argparse.NewParser("predict", "Run the remote detector on a video, and save the detection set")
	input := parser.String("i", "input", &argparse.Options{Help: "Input video file", Required: true})
	output := parser.File("o", "output", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0664, &argparse.Options{Help: "Output detections JSON file", Required: true})
	baseURL := parser.String("", "url", &argparse.Options{Help: "Base URL of the detection service", Default: "http://localhost:8000"})
	conf := parser.Float("", "conf", &argparse.Options{Help: "Minimum confidence of detections", Default: defaults.Conf})
	everyN := parser.Int("", "everyn", &argparse.Options{Help: "Run the detector on every N-th frame", Default: defaults.EveryN})
	maxFrames := parser.Int("", "maxframes", &argparse.Options{Help: "Maximum number of frames to return", Default: defaults.MaxFrames})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	opts := inference.Options{
		Conf:      *conf,
		EveryN:    *everyN,
		MaxFrames: *maxFrames,
	}

	f, err := os.Open(*input)
	check(err)
	defer f.Close()

	client := inference.NewClient(logger, *baseURL)
	set, err := client.Predict(context.Background(), f, filepath.Base(*input), opts)
	check(err)

	// Refuse to write something that the overlay can't load
	index, err := detections.NewIndex(set)
	check(err)
	first, last := index.Span()
	logger.Infof("%v detection frames, from frame %v to %v, at %v fps", index.Len(), first, last, index.FPS())

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(set)
	check(err)
}
