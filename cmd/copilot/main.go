// Command copilot is the process entry point for the silent copilot: it
// parses configuration, dials the remote generative-model service, wires
// the capture/segmentation/dispatch pipeline, and runs until a shutdown
// signal arrives. Grounded on main() in the teacher's cmd/assistant/main.go
// (config parsing up front, signal.Notify for SIGINT/SIGTERM, a cancelable
// context, a WaitGroup-backed graceful shutdown with a timeout fallback),
// with the teacher's LLM/STT/TTS/playback construction replaced by
// pipeline.New and the websocket sink.
package main

import (
	"context"
	"errors"
	"image"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agalue/silent-copilot/internal/config"
	"github.com/agalue/silent-copilot/internal/logging"
	"github.com/agalue/silent-copilot/internal/pipeline"
	"github.com/agalue/silent-copilot/internal/wire"
)

// errNoFrameSource is returned by the placeholder FrameSource below; see
// its doc comment.
var errNoFrameSource = errors.New("copilot: no screen capture driver wired")

// shutdownGrace bounds how long Run's goroutines get to wind down after
// cancellation before main forces exit.
const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		logging.Default().Fatal("failed to parse configuration", "err", err)
	}
	logging.SetVerbose(cfg.Verbose)
	log := logging.Default()

	if _, err := url.Parse(cfg.RemoteURL); err != nil || cfg.RemoteURL == "" {
		log.Fatal("remote-url is required and must be a valid websocket URL", "remote-url", cfg.RemoteURL)
	}

	log.Info("dialing remote service", "url", cfg.RemoteURL)
	conn, _, err := websocket.DefaultDialer.Dial(cfg.RemoteURL, nil)
	if err != nil {
		log.Fatal("failed to dial remote service", "err", err)
	}
	sink := wire.NewWebsocketSink(conn)
	defer sink.Close()

	p, err := pipeline.New(cfg, screenFrameSource, sink)
	if err != nil {
		log.Fatal("failed to construct pipeline", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() {
		runDone <- p.Run(ctx)
	}()

	log.Info("silent copilot running", "audio-source", cfg.AudioSource.String(), "record", cfg.Record)

	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
		p.Stop()
		cancel()
	case err := <-runDone:
		if err != nil {
			log.Error("pipeline exited", "err", err)
		}
		return
	}

	select {
	case <-runDone:
		log.Info("shutdown complete")
	case <-time.After(shutdownGrace):
		log.Warn("shutdown timeout, forcing exit")
	}
}

// screenFrameSource is the screen.FrameSource boundary the pipeline polls
// for video turns. Screen capture itself is an OS-level capture driver,
// out of scope for this repository (spec.md §1); a real deployment
// supplies its own FrameSource (e.g. backed by a platform screenshot
// library) at this call site. Until wired to one, it reports no frame
// available rather than fabricating image data.
func screenFrameSource() (image.Image, error) {
	return nil, errNoFrameSource
}
