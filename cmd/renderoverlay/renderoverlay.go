package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/geometry"
	"github.com/icevision/overlay/pkg/media"
	"github.com/icevision/overlay/pkg/overlay"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/image/font"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// fakeClock only moves when we tell it to, so that every rendered frame lands on an exact time
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func main() {
	parser := argparse.NewParser("renderoverlay", "Render a detection overlay into a sequence of transparent PNG files")
	detFile := parser.String("d", "detections", &argparse.Options{Help: "Detections JSON file", Required: true})
	outDir := parser.String("o", "output", &argparse.Options{Help: "Output directory for PNG frames", Required: true})
	videoFile := parser.String("v", "video", &argparse.Options{Help: "Video that the detections belong to (for its dimensions and duration)", Default: ""})
	width := parser.Float("", "width", &argparse.Options{Help: "Width of the rendered box in CSS pixels (default is the natural width of the video)", Default: 0.0})
	height := parser.Float("", "height", &argparse.Options{Help: "Height of the rendered box in CSS pixels (default is the natural height of the video)", Default: 0.0})
	dpr := parser.Float("", "dpr", &argparse.Options{Help: "Device pixel ratio", Default: 1.0})
	rate := parser.Float("", "rate", &argparse.Options{Help: "Output frames per second (default is the frame rate of the detections)", Default: 0.0})
	startTime := parser.Float("", "start", &argparse.Options{Help: "Start time in seconds", Default: 0.0})
	endTime := parser.Float("", "end", &argparse.Options{Help: "End time in seconds (default is the end of the video)", Default: 0.0})
	lineWidth := parser.Float("", "linewidth", &argparse.Options{Help: "Box outline width in CSS pixels", Default: overlay.DefaultStyle().LineWidth})
	fontFile := parser.String("", "font", &argparse.Options{Help: "TrueType font for labels", Default: ""})
	composite := parser.String("", "composite", &argparse.Options{Help: "Also burn the overlay into a copy of the video, written to this file (requires -v and ffmpeg)", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	index, err := detections.LoadFile(*detFile)
	check(err)
	if index.Len() == 0 {
		check(overlay.ErrNoDetections)
	}

	var meta *media.Metadata
	if *videoFile != "" {
		meta, err = media.Probe(*videoFile)
		check(err)
		if meta.FPSMismatch(index.FPS()) {
			logger.Warnf("Detections were made at %.3f fps, but the video plays at %.3f fps. Boxes will drift.", index.FPS(), meta.FPS)
		}
	} else {
		meta = media.MetadataFromDetections(index)
	}

	layout := geometry.Layout{
		Box:        geometry.Size{Width: *width, Height: *height},
		PixelRatio: *dpr,
	}
	if layout.Box.Width == 0 && layout.Box.Height == 0 {
		layout.Box = geometry.Size{Width: float64(meta.Width), Height: float64(meta.Height)}
	}
	if *rate <= 0 {
		*rate = index.FPS()
	}
	if *endTime <= 0 || (meta.Duration > 0 && *endTime > meta.Duration) {
		*endTime = meta.Duration
	}
	if *endTime <= *startTime {
		logger.Errorf("Nothing to render: start %.3f is not before end %.3f", *startTime, *endTime)
		os.Exit(1)
	}

	var face font.Face
	if *fontFile != "" {
		face, err = overlay.LoadFace(*fontFile, overlay.DefaultFontSize)
	} else {
		face, err = overlay.DefaultFace(overlay.DefaultFontSize)
	}
	check(err)
	check(os.MkdirAll(*outDir, 0755))

	epoch := time.Unix(0, 0)
	clock := &fakeClock{now: epoch}
	player := media.NewPlayerWithClock(clock.Now)
	player.SetSource(*videoFile)
	player.SetLayout(layout)
	player.Load(*meta)

	style := overlay.DefaultStyle()
	style.LineWidth = *lineWidth
	canvas := overlay.NewGGCanvas(face)
	refresh := overlay.NewManualRefresh()
	frames := make(chan *overlay.FrameInfo)
	loop := overlay.NewLoop(logger, index, player, canvas, refresh, overlay.LoopOptions{
		Style: style,
		OnFrame: func(info *overlay.FrameInfo) {
			frames <- info
		},
	})
	check(loop.Start())
	defer loop.Stop()

	player.Seek(*startTime)
	player.Play()

	nFrames := int(math.Ceil((*endTime - *startTime) * *rate))
	pattern := filepath.Join(*outDir, "overlay_%05d.png")
	logger.Infof("Rendering %v frames at %.3f fps, %.0f x %.0f at dpr %v", nFrames, *rate, layout.Box.Width, layout.Box.Height, *dpr)
	start := time.Now()
	nObjects := 0
	for i := 0; i < nFrames; i++ {
		if refresh.Tick() != 1 {
			check(fmt.Errorf("Render loop is not running"))
		}
		info := <-frames
		nObjects += info.Objects
		if info.Skip != overlay.SkipNone {
			logger.Warnf("Frame %v (%.3f seconds) skipped: %v", i, info.Time, info.Skip)
		}
		f, err := os.Create(fmt.Sprintf(pattern, i))
		check(err)
		check(canvas.EncodePNG(f))
		check(f.Close())
		clock.now = epoch.Add(time.Duration(float64(i+1) * float64(time.Second) / *rate))
	}
	logger.Infof("Rendered %v frames with %v objects in %.1f seconds", nFrames, nObjects, time.Since(start).Seconds())

	if *composite != "" {
		if *videoFile == "" {
			logger.Errorf("--composite requires a video (-v)")
			os.Exit(1)
		}
		video := ffmpeg.Input(*videoFile, ffmpeg.KwArgs{"ss": *startTime, "t": *endTime - *startTime})
		over := ffmpeg.Input(pattern, ffmpeg.KwArgs{"framerate": *rate}).
			Filter("scale", ffmpeg.Args{fmt.Sprintf("%v:%v", meta.Width, meta.Height)})
		err := ffmpeg.Filter([]*ffmpeg.Stream{video, over}, "overlay", ffmpeg.Args{"0:0"}).
			Output(*composite, ffmpeg.KwArgs{"c:v": "libx264", "pix_fmt": "yuv420p"}).
			OverWriteOutput().
			Run()
		check(err)
		logger.Infof("Wrote %v", *composite)
	}
}
