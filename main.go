/*
 * File Organizer
 * Copyright (C) 2025 Your Organization
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published
 * by the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/your-org/fileorganizer/internal/api"
	"github.com/your-org/fileorganizer/internal/classifier"
	"github.com/your-org/fileorganizer/internal/config"
	"github.com/your-org/fileorganizer/internal/filebrowser"
	"github.com/your-org/fileorganizer/internal/filewatcher"
	"github.com/your-org/fileorganizer/internal/logging"
	"github.com/your-org/fileorganizer/internal/logrotation"
	"github.com/your-org/fileorganizer/internal/organizer"
	"github.com/your-org/fileorganizer/internal/websocket"
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func main() {
	var (
		configPath       = flag.String("config", "", "Path to configuration file")
		watchPath        = flag.String("path", "", "Directory to organize (overrides config)")
		logLevel         = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
		statusAddr       = flag.String("status-addr", "", "Serve the status API on this address, e.g. 127.0.0.1:8089")
		exportExtensions = flag.String("export-extensions", "", "Write the extension table as INI to this file and exit")
	)
	flag.Parse()

	// Determine config path
	actualConfigPath := *configPath
	if actualConfigPath == "" {
		defaultPath := filepath.Join(config.DataDir(), "organizer-config.json")
		if fileExists(defaultPath) {
			actualConfigPath = defaultPath
		}
	}

	cfg, err := config.Load(actualConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *watchPath != "" {
		cfg.WatchPath = *watchPath
	}
	if abs, err := filepath.Abs(cfg.WatchPath); err == nil {
		cfg.WatchPath = abs
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	currentLevel := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil && *logLevel != "" {
		currentLevel = lvl
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(currentLevel)

	// Console plus rotating JSON file
	rotatingWriter, err := logrotation.NewRotatingWriter(cfg.LogFilePath, logrotation.Options{
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create rotating log writer: %v\n", err)
		os.Exit(1)
	}
	defer rotatingWriter.Close()

	// The logger passes everything; the global level does the filtering so the
	// status API can change it at runtime
	logger := logging.New(logging.Options{File: rotatingWriter, Level: zerolog.TraceLevel})
	logger.Debug().
		Str("logFile", cfg.LogFilePath).
		Str("logLevel", currentLevel.String()).
		Str("instanceId", cfg.InstanceID).
		Str("config", actualConfigPath).
		Msg("Configuration loaded")

	table := classifier.DefaultTable()
	if cfg.ExtensionsFile != "" {
		table, err = classifier.ImportINI(cfg.ExtensionsFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.ExtensionsFile).Msg("Failed to load extension table")
		}
		logger.Info().Str("path", cfg.ExtensionsFile).Msg("Loaded extension table")
	}

	if *exportExtensions != "" {
		if err := classifier.ExportINI(table, *exportExtensions); err != nil {
			logger.Fatal().Err(err).Msg("Failed to export extension table")
		}
		logger.Info().Str("path", *exportExtensions).Msgf("Extension table written to %s", *exportExtensions)
		return
	}

	// Live activity stream, served alongside the status API
	var hub *websocket.Hub
	ctrlCfg := organizer.Config{
		Root:  cfg.WatchPath,
		Table: table,
	}
	if cfg.StatusAddr != "" {
		hub = websocket.NewHub(cfg.InstanceID, logger)
		ctrlCfg.Notifier = hub
	}
	controller := organizer.NewController(ctrlCfg, logger)

	watchOpts := filewatcher.Options{
		Path:          cfg.WatchPath,
		Ignored:       cfg.Ignored,
		IgnoreInitial: cfg.IgnoreInitial,
	}
	if cfg.StabilityThresholdMs > 0 {
		watchOpts.AwaitWriteFinish = &filewatcher.AwaitWriteFinish{
			StabilityThreshold: cfg.StabilityThreshold(),
			PollInterval:       cfg.PollInterval(),
		}
	}
	watcher, err := filewatcher.New(logger, watchOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create file watcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.StatusAddr != "" {
		mux := http.NewServeMux()
		filebrowser.New(cfg.WatchPath, table, logger).RegisterHandlers(mux)
		hub.RegisterHandlers(mux)
		apiServer := api.NewServer(controller, cfg.InstanceID, cfg.LogFilePath, logger)
		go func() {
			if err := apiServer.ListenAndServe(ctx, cfg.StatusAddr, mux); err != nil {
				logger.Error().Err(err).Msg("Status API server failed")
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Shutting down organizer")
		cancel()
	}()

	runErr := controller.Run(ctx, watcher)
	watcher.Stop()
	if hub != nil {
		hub.Close()
	}
	if runErr != nil {
		rotatingWriter.Close()
		os.Exit(1)
	}
}
