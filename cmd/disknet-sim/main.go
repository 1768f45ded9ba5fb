package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/disknet-io/disknet/pkg/common"
	"github.com/disknet-io/disknet/pkg/network"
	"github.com/disknet-io/disknet/pkg/storage"
	"github.com/disknet-io/disknet/pkg/transfer"
	"github.com/disknet-io/disknet/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var hostNames = []string{"vm1", "vm2"}

// disknet-sim wires two emulated hosts together with a direct link, gives
// each a persistent virtual disk, and runs a timed file transfer between
// them. Must run as root: it creates network namespaces and loop mounts.
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

	topo, err := network.NewTopology(config.Network)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create topology")
	}
	defer topo.Teardown()

	ctx := context.Background()

	hosts := make([]*network.Host, 0, len(hostNames))
	for _, name := range hostNames {
		host, err := topo.AddHost(name)
		if err != nil {
			log.Fatal().Err(err).Str("host", name).Msg("failed to create host")
		}
		hosts = append(hosts, host)
	}

	if err := topo.AddLink(ctx, hosts[0], hosts[1]); err != nil {
		log.Fatal().Err(err).Msg("failed to link hosts")
	}

	nodes := common.NewSafeMap[*storage.Node]()
	defer func() {
		nodes.Range(func(name string, node *storage.Node) bool {
			if node.Running() {
				if err := node.Stop(ctx); err != nil {
					log.Error().Err(err).Str("host", name).Msg("failed to stop virtual device")
				}
			}
			return true
		})
	}()

	for _, host := range hosts {
		imagePath := filepath.Join(config.Node.ImageDir, host.Name+"_disk.img")
		mountPath := filepath.Join(config.Node.MountRoot, host.Name+"_disk")

		node := storage.NewNode(config.Node.CapacityBytes, mountPath, imagePath, host.Executor())
		if err := node.Start(ctx); err != nil {
			log.Error().Err(err).Str("host", host.Name).Msg("failed to start virtual device")
			return
		}
		nodes.Set(host.Name, node)
	}

	srcNode, _ := nodes.Get(hosts[0].Name)
	dstNode, _ := nodes.Get(hosts[1].Name)

	result, err := transfer.Run(ctx, hosts[0], hosts[1],
		srcNode.MountPath(), dstNode.MountPath(),
		config.Transfer.Port, config.Transfer.FileSizeMB)
	if err != nil {
		log.Error().Err(err).Msg("file transfer failed")
		return
	}

	log.Info().
		Int("size_mb", result.FileSizeMB).
		Dur("duration", result.Duration).
		Float64("throughput_mbps", result.ThroughputMbps).
		Int("link_mbps", config.Network.LinkBandwidthMbps).
		Msg("simulation complete")
}
