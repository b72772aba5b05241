package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/server"
)

func main() {
	parser := argparse.NewParser("overlayserver", "Preview detection overlays on top of a playing video")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "Listen address, eg :8090 (overrides the config file)", Default: ""})
	inferenceURL := parser.String("", "inference", &argparse.Options{Help: "Base URL of the detection service (overrides the config file)", Default: ""})
	videoRoot := parser.String("", "videos", &argparse.Options{Help: "Directory that video sources are relative to (overrides the config file)", Default: ""})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload the viewer from server/static instead of embedding it into the binary", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg := server.DefaultConfig()
	if *configFile != "" {
		loaded, err := server.LoadConfig(*configFile)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *inferenceURL != "" {
		cfg.InferenceURL = *inferenceURL
	}
	if *videoRoot != "" {
		cfg.VideoRoot = *videoRoot
	}
	if *hotReloadWWW {
		cfg.HotReloadWWW = true
	}

	logger.Infof("Detection cache: %v", cfg.DB.LogSafeDescription())
	srv, err := server.NewServer(logger, &cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	err = srv.ListenHTTP(cfg.Listen)
	if !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		os.Exit(1)
	}
	<-srv.ShutdownComplete
}
