package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/disknet-io/disknet/pkg/network"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	transferFileName   = "transfer_test.dat"
	serverReadyTimeout = 10 * time.Second
	serverPollInterval = 100 * time.Millisecond
)

// Result describes one timed transfer between two hosts.
type Result struct {
	FileSizeMB     int
	Duration       time.Duration
	ThroughputMbps float64
}

// Run copies a synthesized file from src to dst over HTTP and measures the
// wall-clock duration. The sending side serves its disk directory with a
// throwaway web server; the receiving side drives the download. This is a
// demonstration scenario built entirely on the executor capability; the
// storage core is not involved beyond the disks holding the file.
func Run(ctx context.Context, src, dst *network.Host, srcDisk, dstDisk string, port, fileSizeMB int) (*Result, error) {
	srcPath := fmt.Sprintf("%s/%s", srcDisk, transferFileName)
	dstPath := fmt.Sprintf("%s/received_%s", dstDisk, transferFileName)
	url := fmt.Sprintf("http://%s:%d/%s", src.Addr, port, transferFileName)

	log.Info().Str("src", src.Name).Str("dst", dst.Name).Int("size_mb", fileSizeMB).Msg("starting file transfer")
	startTime := time.Now()

	res, err := src.Executor().Run(ctx, fmt.Sprintf("truncate -s %dM %q", fileSizeMB, srcPath))
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, errors.Errorf("unable to create transfer file on %s: %s", src.Name, res.Stderr)
	}

	// The server blocks until killed, so it runs in the background while
	// readiness is polled from the receiving side.
	go func() {
		serveCmd := fmt.Sprintf("python3 -m http.server %d --directory %q", port, srcDisk)
		if _, err := src.Executor().Run(ctx, serveCmd); err != nil {
			log.Error().Err(err).Str("host", src.Name).Msg("web server exited with error")
		}
	}()
	defer stopServer(src)

	if err := waitForServer(ctx, dst, url); err != nil {
		return nil, err
	}

	res, err = dst.Executor().Run(ctx, fmt.Sprintf("wget -q %s -O %q", url, dstPath))
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, errors.Errorf("file transfer to %s failed: %s", dst.Name, res.Stderr)
	}

	res, err = dst.Executor().Run(ctx, fmt.Sprintf("test -f %q", dstPath))
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, errors.Errorf("transferred file not found at %s", dstPath)
	}

	duration := time.Since(startTime)
	result := &Result{
		FileSizeMB:     fileSizeMB,
		Duration:       duration,
		ThroughputMbps: throughputMbps(fileSizeMB, duration),
	}

	log.Info().
		Dur("duration", result.Duration).
		Float64("throughput_mbps", result.ThroughputMbps).
		Msg("file transfer complete")
	return result, nil
}

// waitForServer polls the URL from the receiving host until the server
// answers or the timeout elapses.
func waitForServer(ctx context.Context, dst *network.Host, url string) error {
	ticker := time.NewTicker(serverPollInterval)
	defer ticker.Stop()
	timeout := time.After(serverReadyTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.Errorf("web server at %s did not become ready", url)
		case <-ticker.C:
			res, err := dst.Executor().Run(ctx, fmt.Sprintf("wget -q --spider %s", url))
			if err != nil {
				return err
			}
			if res.Ok() {
				return nil
			}
		}
	}
}

func stopServer(src *network.Host) {
	// Cleanup runs even when the transfer context is already cancelled.
	if _, err := src.Executor().Run(context.Background(), "pkill -f http.server"); err != nil {
		log.Error().Err(err).Str("host", src.Name).Msg("failed to stop web server")
	}
}

// throughputMbps converts a MiB file size and wall-clock duration into
// megabits per second (decimal, to compare against link rates).
func throughputMbps(fileSizeMB int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	fileSizeBits := float64(fileSizeMB) * 1024 * 1024 * 8
	return fileSizeBits / d.Seconds() / 1e6
}
