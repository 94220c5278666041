package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"novaplayer/api"
	"novaplayer/config"
	"novaplayer/handlers"
	"novaplayer/internal/database"
	"novaplayer/services/monitor"
	"novaplayer/services/playback"
	"novaplayer/services/subtitles"
	"novaplayer/services/transcode"
)

func main() {
	configFlag := flag.String("config", "", "path to settings.json (default: cache/player.json or NOVAPLAYER_CONFIG)")
	pathFlag := flag.String("path", "", "media path on the backend to play")
	startFlag := flag.Float64("start", -1, "start offset in seconds (default: saved resume position)")
	dvFlag := flag.Bool("dv", false, "content carries Dolby Vision")
	dvProfileFlag := flag.String("dv-profile", "", "Dolby Vision profile string (e.g. dvhe.08.06)")
	hdrFlag := flag.Bool("hdr", false, "content carries HDR10")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("NOVAPLAYER_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("cache", "player.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if settings.Server.BaseURL == "" {
		log.Fatalf("server.baseUrl is not configured in %s", configPath)
	}

	// A stable client id lets the backend apply per-client filtering and
	// rate limiting; generate one on first run.
	if settings.Client.ID == "" {
		settings.Client.ID = uuid.NewString()
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated client id: %v", err)
		}
		log.Printf("Generated client id: %s", settings.Client.ID)
	}

	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open player database: %v", err)
	}
	defer db.Close()

	client := transcode.NewClient(settings.Server.BaseURL, settings.Server.Token, settings.Client.ID)

	times := playback.NewTimeModel(settings.Playback.BufferPaddingSeconds)
	recovery := playback.NewRecoveryPolicy(settings.Playback.MaxFatalRetries, playback.IsRecoverableStreamError)
	subtitleLoader := subtitles.NewLoader(client)

	var controller *playback.Controller
	controller = playback.NewController(client, playback.LogPlayer{}, times, recovery, playback.Callbacks{
		OnSessionCreated: func(s playback.Session) {
			log.Printf("session %s created (playlist %s)", s.ID, s.PlaylistURL)
		},
		OnOffsetCorrection: func(offset float64) {
			log.Printf("playback offset corrected to %.3fs", offset)
		},
		OnFatalError: func(reason string) {
			log.Printf("playback failed: %s", reason)
		},
		OnPlaybackEnded: func() {
			log.Printf("playback ended")
		},
		OnSubtitleTrackChanged: func(index int) {
			sess := controller.CurrentSession()
			if sess == nil || index < 0 {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if _, err := subtitleLoader.Fetch(ctx, sess.ID, index); err != nil {
					log.Printf("subtitle track %d fetch failed: %v", index, err)
				}
			}()
		},
	})

	healthMonitor := monitor.New(client, controller,
		time.Duration(settings.Playback.KeepaliveIntervalSeconds)*time.Second)

	debouncer := playback.NewSeekDebouncer(
		time.Duration(settings.Playback.SeekDebounceMillis)*time.Millisecond,
		func(target float64) bool {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			return controller.Seek(ctx, target)
		})

	// Local control API for the embedding UI
	controlHandler := handlers.NewControlHandler(controller, debouncer)
	server := &http.Server{
		Addr:    settings.Control.Bind,
		Handler: api.NewRouter(controlHandler),
	}
	go func() {
		log.Printf("control API listening on %s", settings.Control.Bind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("control API server error: %v", err)
		}
	}()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	healthMonitor.Start(rootCtx)

	if *pathFlag != "" {
		controller.SetSource(playback.SourceConfig{
			Path:      *pathFlag,
			HasDV:     *dvFlag,
			DVProfile: *dvProfileFlag,
			HasHDR:    *hdrFlag,
			ForceAAC:  settings.Playback.ForceAAC,
		})

		start := *startFlag
		if start < 0 {
			start = 0
			if pos, err := db.Position(*pathFlag); err != nil {
				log.Printf("failed to load resume position: %v", err)
			} else if pos != nil {
				start = pos.Position
				log.Printf("resuming %q at %.3fs", *pathFlag, start)
			}
		}

		ctx, cancel := context.WithTimeout(rootCtx, 120*time.Second)
		sess := controller.CreateSession(ctx, start, playback.CreateOptions{})
		cancel()
		if sess == nil {
			log.Printf("initial session creation failed: %s", controller.LastError())
		}
	}

	fmt.Println("novaplayer running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down")
	healthMonitor.Stop()
	debouncer.Cancel()

	// Persist the resume point before exit
	if src := controller.Source(); src.Path != "" {
		if err := db.SavePosition(src.Path, controller.CurrentTime(), controller.Duration()); err != nil {
			log.Printf("failed to save resume position: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("control API shutdown error: %v", err)
	}
}
