// hotlapd runs the instant-replay core as a daemon: it keeps the last N
// seconds of the desktop encoded in memory and commits them to an MP4
// file on SIGUSR1 (or on the configured hotkey, when a UI owns one).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hotlap/internal/config"
	"hotlap/internal/muxer"
	"hotlap/internal/ramestimate"
	"hotlap/internal/supervisor"
)

var (
	flagConfig = flag.String("config", "", "Path to hotlap.yaml (searched in . if empty)")
	flagStats  = flag.Bool("stats", false, "Log buffer status every 5 seconds")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err = config.FromFlags(cfg, flag.NewFlagSet("hotlapd", flag.ExitOnError), flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	if !cfg.ReplayEnabled {
		log.Fatal("replay_enabled is off; nothing to do")
	}

	saveDir := ensureSaveDir(cfg.SavePath)

	s := supervisor.New(newCaptureAdapter, newEncoderBackend, newAudioSources, muxer.NewFMP4Muxer())
	s.Init()

	if err := s.Start(cfg); err != nil {
		log.Fatalf("start: %v", err)
	}
	log.Printf("capturing: %ds buffer @ %d fps, %s quality (est. %.0f MB)",
		cfg.ReplayDurationSeconds, cfg.ReplayFPS, cfg.Quality,
		ramestimate.EstimateMB(cfg.Quality, 1920, 1080, cfg.ReplayFPS, float64(cfg.ReplayDurationSeconds)))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	var statusTick <-chan time.Time
	if *flagStats {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		statusTick = t.C
	}

	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGUSR1 {
				path := filepath.Join(saveDir, fmt.Sprintf("replay-%s.mp4", time.Now().Format("20060102-150405")))
				if err := s.Save(path); err != nil {
					log.Printf("save: %v", err)
				} else {
					log.Printf("saved %s", path)
				}
				continue
			}
			log.Printf("received %v, shutting down", sig)
			if err := s.Shutdown(); err != nil {
				log.Printf("shutdown: %v", err)
			}
			return
		case <-statusTick:
			log.Print(s.Status())
		}
	}
}

// ensureSaveDir verifies the configured output directory is writable,
// falling back to the working directory if it is not.
func ensureSaveDir(dir string) string {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("save_path %q not usable (%v), falling back to .", dir, err)
		return "."
	}
	probe := filepath.Join(dir, ".hotlap-probe")
	f, err := os.Create(probe)
	if err != nil {
		log.Printf("save_path %q not writable (%v), falling back to .", dir, err)
		return "."
	}
	f.Close()
	os.Remove(probe)
	return dir
}
