package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/disknet-io/disknet/pkg/command"
	"github.com/disknet-io/disknet/pkg/common"
	"github.com/disknet-io/disknet/pkg/shell"
	"github.com/disknet-io/disknet/pkg/storage"
	"github.com/disknet-io/disknet/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const hostName = "vm1"

func main() {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config := configManager.GetConfig()

	if config.DebugMode {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02T15:04:05",
		}).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := os.MkdirAll(config.Node.ImageDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", config.Node.ImageDir).Msg("failed to create image directory")
	}

	imagePath := filepath.Join(config.Node.ImageDir, hostName+"_disk.img")
	mountPath := filepath.Join(config.Node.MountRoot, hostName+"_disk")

	node := storage.NewNode(config.Node.CapacityBytes, mountPath, imagePath, command.NewLocalExecutor())

	ctx := context.Background()
	if err := node.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start virtual device")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info().Msg("shutting down")
		if err := node.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("failed to stop virtual device")
		}
		os.Exit(0)
	}()

	if err := shell.New(hostName, node, os.Stdin, os.Stdout).Run(ctx); err != nil {
		log.Error().Err(err).Msg("shell exited with error")
	}

	if node.Running() {
		if err := node.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("failed to stop virtual device")
		}
	}
}
