package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/disknet-io/disknet/pkg/command"
	"github.com/disknet-io/disknet/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const rootPath = "/"

// Node emulates a standalone storage device for one host. The device is a
// loop-mounted ext4 image; Node tracks an in-memory index of the mounted
// contents along with quota accounting and the current virtual working
// directory.
//
// The index is a cache. It is rebuilt in full when the node starts and
// updated incrementally by Node's own mutations; writes made to the mount
// point by anything else are not observed until the next start.
//
// All exported methods serialize on one mutex. Concurrent use of a single
// node is supported only in the sense that calls queue up; one node must
// ever be live against a given image/mount pair at a time.
type Node struct {
	mu sync.Mutex

	capacityBytes int64
	usedBytes     int64
	imagePath     string
	mountPath     string
	running       bool
	cwd           string

	index    map[string]types.Entry
	device   *LoopDevice
	executor command.Executor
}

func NewNode(capacityBytes int64, mountPath, imagePath string, executor command.Executor) *Node {
	return &Node{
		capacityBytes: capacityBytes,
		imagePath:     imagePath,
		mountPath:     mountPath,
		cwd:           rootPath,
		index:         make(map[string]types.Entry),
		device:        NewLoopDevice(imagePath, executor),
		executor:      executor,
	}
}

// Start attaches the backing image and rebuilds the metadata index. A
// missing image is allocated at full capacity and formatted; an existing
// one is reused as-is, so data persists across start/stop cycles. Any
// failure leaves the node stopped and startable again.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return &types.ErrAlreadyRunning{}
	}

	exists, err := n.device.Exists(ctx)
	if err != nil {
		return n.mountFailure(err)
	}

	if !exists {
		log.Info().Str("host", n.executor.Host()).Str("image", n.imagePath).Msg("disk image not found, creating new disk")
		if err := n.device.Provision(ctx, n.capacityBytes); err != nil {
			return n.mountFailure(err)
		}
		if err := n.device.Format(ctx); err != nil {
			return n.mountFailure(err)
		}
	} else {
		log.Info().Str("image", n.imagePath).Msg("found existing disk image")
	}

	if err := n.device.Mount(ctx, n.mountPath); err != nil {
		return n.mountFailure(err)
	}

	mounted, err := n.device.Mounted(ctx, n.mountPath)
	if err != nil {
		return n.mountFailure(err)
	}
	if !mounted {
		return &types.MountFailureError{MountPath: n.mountPath, Detail: "mount verification failed"}
	}

	n.running = true
	if err := n.rescan(ctx); err != nil {
		n.running = false
		if uerr := n.device.Unmount(ctx, n.mountPath); uerr != nil {
			log.Error().Err(uerr).Str("mount", n.mountPath).Msg("failed to unmount after rescan failure")
		}
		return n.mountFailure(err)
	}

	log.Info().Str("host", n.executor.Host()).Str("mount", n.mountPath).Msg("virtual device started with persistent disk")
	return nil
}

// Stop detaches the device and drops the in-memory index. Data remains in
// the backing image for the next start.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return &types.ErrNotRunning{}
	}

	log.Info().Str("mount", n.mountPath).Msg("unmounting persistent disk")
	if err := n.device.Unmount(ctx, n.mountPath); err != nil {
		return errors.Wrap(err, "unable to unmount virtual disk")
	}

	n.running = false
	n.usedBytes = 0
	n.index = make(map[string]types.Entry)

	log.Info().Str("image", n.imagePath).Msg("virtual device stopped, data remains in image")
	return nil
}

// rescan rebuilds the index and usage total from the mounted filesystem.
// Caller holds n.mu.
func (n *Node) rescan(ctx context.Context) error {
	log.Info().Str("mount", n.mountPath).Msg("rescanning filesystem for metadata")

	n.index = make(map[string]types.Entry)
	n.usedBytes = 0

	res, err := n.executor.Run(ctx, fmt.Sprintf("find %q -mindepth 1", n.mountPath))
	if err != nil {
		return err
	}

	output := strings.TrimSpace(res.Stdout)
	if output == "" {
		log.Info().Msg("disk is empty")
		return nil
	}

	for _, fullPath := range strings.Split(output, "\n") {
		fullPath = strings.TrimSpace(fullPath)
		if fullPath == "" {
			continue
		}

		statRes, err := n.executor.Run(ctx, fmt.Sprintf("stat -c '%%s %%F' %q", fullPath))
		if err != nil {
			return err
		}
		if !statRes.Ok() {
			continue
		}

		fields := strings.SplitN(strings.TrimSpace(statRes.Stdout), " ", 2)
		if len(fields) != 2 {
			continue
		}

		sizeBytes, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		isFolder := strings.Contains(strings.ToLower(fields[1]), "directory")

		key := strings.TrimPrefix(strings.TrimPrefix(fullPath, n.mountPath), "/")
		if key == "" || key == "." {
			continue
		}

		if isFolder {
			n.index[key] = types.NewFolderEntry(key)
		} else {
			n.index[key] = types.NewFileEntry(key, sizeBytes, "")
			n.usedBytes += sizeBytes
		}
	}

	log.Info().Int("entries", len(n.index)).Int64("used_bytes", n.usedBytes).Msg("rescan complete")
	return nil
}

// Resolve maps a user-supplied path onto a virtual absolute path. Paths
// starting with "/" or "~" are absolute ("~" maps to the root); anything
// else is joined with the current directory. The result is normalized
// lexically without consulting the index or the real filesystem.
func (n *Node) Resolve(p string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.resolve(p)
}

func (n *Node) resolve(p string) string {
	if p == "" {
		return n.cwd
	}

	var abs string
	switch {
	case strings.HasPrefix(p, rootPath):
		abs = p
	case strings.HasPrefix(p, "~"):
		abs = strings.Replace(p, "~", rootPath, 1)
	default:
		abs = path.Join(n.cwd, p)
	}

	return path.Clean(abs)
}

// ChangeDirectory moves the current virtual directory. The root is always
// valid; any other target must be an indexed folder. On failure the current
// directory is unchanged, and the (unchanged) directory is returned
// alongside the error.
func (n *Node) ChangeDirectory(p string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	target := n.resolve(p)
	if target == rootPath {
		n.cwd = rootPath
		return n.cwd, nil
	}

	key := strings.TrimPrefix(target, rootPath)
	entry, ok := n.index[key]
	if !ok || !entry.IsFolder {
		return n.cwd, &types.NotADirectoryError{Path: p}
	}

	n.cwd = target
	return n.cwd, nil
}

// CreateFile allocates a file of exactly sizeBytes on the device and
// indexes it. An existing entry under the same key is overwritten with a
// warning rather than rejected. The content string is kept as metadata only
// so the on-disk size stays exact.
func (n *Node) CreateFile(ctx context.Context, key string, sizeBytes int64, content string) (*types.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil, &types.ErrNotRunning{}
	}

	// Checked against the raw requested size, before any overwrite credit.
	// Overwriting a large file with a smaller one can still be rejected
	// when the disk is nearly full.
	if n.usedBytes+sizeBytes > n.capacityBytes {
		return nil, &types.InsufficientStorageError{
			RequestedBytes: sizeBytes,
			AvailableBytes: n.capacityBytes - n.usedBytes,
		}
	}

	var originalSize int64
	if existing, ok := n.index[key]; ok {
		log.Warn().Str("key", key).Msg("file already exists, overwriting")
		originalSize = existing.SizeBytes
	}

	if err := n.checkParent(key); err != nil {
		return nil, err
	}

	entry := types.NewFileEntry(key, sizeBytes, content)

	res, err := n.executor.Run(ctx, fmt.Sprintf("truncate -s %d %q", sizeBytes, entry.AbsolutePath(n.mountPath)))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create file %s", key)
	}
	if !res.Ok() {
		return nil, errors.Errorf("unable to create file %s: %s", key, strings.TrimSpace(res.Stderr))
	}

	n.usedBytes = n.usedBytes - originalSize + sizeBytes
	n.index[key] = entry

	log.Info().Str("key", key).Int64("size_bytes", sizeBytes).Msg("created virtual file")
	return &entry, nil
}

// CreateFolder creates a directory on the device and indexes it. Unlike
// files, an existing entry under the same key is an error. Folders never
// count against the quota.
func (n *Node) CreateFolder(ctx context.Context, key string) (*types.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil, &types.ErrNotRunning{}
	}

	if _, ok := n.index[key]; ok {
		return nil, &types.AlreadyExistsError{Key: key}
	}

	if err := n.checkParent(key); err != nil {
		return nil, err
	}

	entry := types.NewFolderEntry(key)

	res, err := n.executor.Run(ctx, fmt.Sprintf("mkdir -p %q", entry.AbsolutePath(n.mountPath)))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create folder %s", key)
	}
	if !res.Ok() {
		return nil, errors.Errorf("unable to create folder %s: %s", key, strings.TrimSpace(res.Stderr))
	}

	n.index[key] = entry

	log.Info().Str("key", key).Msg("created virtual folder")
	return &entry, nil
}

// checkParent enforces that every entry's parent directory is itself an
// indexed folder; the implicit root needs no entry. Caller holds n.mu.
func (n *Node) checkParent(key string) error {
	parent := path.Dir(key)
	if parent == "." {
		return nil
	}

	entry, ok := n.index[parent]
	if !ok || !entry.IsFolder {
		return &types.NoSuchParentError{Key: key}
	}

	return nil
}

// ListContents renders the entries directly under the current directory,
// one line per entry, folders marked distinctly from files. It reads only
// the index and never touches the disk.
func (n *Node) ListContents() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return "", &types.ErrNotRunning{}
	}

	target := strings.TrimPrefix(n.cwd, rootPath)

	keys := make([]string, 0, len(n.index))
	for key := range n.index {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := []string{}
	for _, key := range keys {
		dir := path.Dir(key)
		if dir == "." {
			dir = ""
		}
		if dir != target {
			continue
		}

		entry := n.index[key]
		base := path.Base(key)
		if entry.IsFolder {
			lines = append(lines, fmt.Sprintf("d ---        %s/", base))
		} else {
			lines = append(lines, fmt.Sprintf("- %-10s %s", fmt.Sprintf("%dB", entry.SizeBytes), base))
		}
	}

	return strings.Join(lines, "\n"), nil
}

func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

func (n *Node) CurrentDirectory() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cwd
}

func (n *Node) UsedBytes() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.usedBytes
}

func (n *Node) CapacityBytes() int64 {
	return n.capacityBytes
}

func (n *Node) MountPath() string {
	return n.mountPath
}

func (n *Node) mountFailure(err error) error {
	return &types.MountFailureError{MountPath: n.mountPath, Detail: err.Error()}
}
