package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/disknet-io/disknet/pkg/command"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// LoopDevice manages a fixed-size ext4 disk image attached via a loop
// mount. Every operation goes through the owning node's command executor so
// it runs on the host that holds the disk, which may be a separate emulated
// machine.
type LoopDevice struct {
	imagePath string
	executor  command.Executor
}

func NewLoopDevice(imagePath string, executor command.Executor) *LoopDevice {
	return &LoopDevice{
		imagePath: imagePath,
		executor:  executor,
	}
}

// Exists reports whether the backing image file is already present.
func (d *LoopDevice) Exists(ctx context.Context) (bool, error) {
	res, err := d.executor.Run(ctx, fmt.Sprintf("test -f %q", d.imagePath))
	if err != nil {
		return false, err
	}

	return res.Ok(), nil
}

// Provision allocates a sparse backing image of exactly sizeBytes.
func (d *LoopDevice) Provision(ctx context.Context, sizeBytes int64) error {
	res, err := d.executor.Run(ctx, fmt.Sprintf("truncate -s %d %q", sizeBytes, d.imagePath))
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("unable to allocate disk image %s: %s", d.imagePath, strings.TrimSpace(res.Stderr))
	}

	return nil
}

func (d *LoopDevice) Format(ctx context.Context) error {
	log.Info().Str("image", d.imagePath).Msg("formatting disk image with ext4")

	res, err := d.executor.Run(ctx, fmt.Sprintf("mkfs.ext4 -F %q", d.imagePath))
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("unable to format disk image %s: %s", d.imagePath, strings.TrimSpace(res.Stderr))
	}

	return nil
}

func (d *LoopDevice) Mount(ctx context.Context, mountPath string) error {
	for _, cmd := range []string{
		fmt.Sprintf("mkdir -p %q", mountPath),
		fmt.Sprintf("mount -o loop %q %q", d.imagePath, mountPath),
		fmt.Sprintf("chmod 777 %q", mountPath),
	} {
		res, err := d.executor.Run(ctx, cmd)
		if err != nil {
			return err
		}
		if !res.Ok() {
			return fmt.Errorf("unable to mount %s at %s: %s", d.imagePath, mountPath, strings.TrimSpace(res.Stderr))
		}
	}

	return nil
}

// Mounted verifies that the image is attached at mountPath. Local executors
// can answer from statfs directly; anything else asks the owning host.
func (d *LoopDevice) Mounted(ctx context.Context, mountPath string) (bool, error) {
	if _, ok := d.executor.(*command.LocalExecutor); ok {
		return isExt4Mount(mountPath), nil
	}

	res, err := d.executor.Run(ctx, fmt.Sprintf("mountpoint -q %q", mountPath))
	if err != nil {
		return false, err
	}

	return res.Ok(), nil
}

// Unmount detaches the image lazily so a busy mount never blocks stop, then
// removes the empty mount directory. Image data is untouched.
func (d *LoopDevice) Unmount(ctx context.Context, mountPath string) error {
	res, err := d.executor.Run(ctx, fmt.Sprintf("umount -l %q", mountPath))
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("unable to unmount %s: %s", mountPath, strings.TrimSpace(res.Stderr))
	}

	if _, err := d.executor.Run(ctx, fmt.Sprintf("rmdir %q", mountPath)); err != nil {
		return err
	}

	return nil
}

func isExt4Mount(mountPath string) bool {
	var statfs unix.Statfs_t
	if err := unix.Statfs(mountPath, &statfs); err != nil {
		return false
	}

	return statfs.Type == unix.EXT4_SUPER_MAGIC
}
