package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/disknet-io/disknet/pkg/command"
	"github.com/google/shlex"
)

// fakeExecutor emulates the handful of shell commands the node issues
// against an in-memory disk, so lifecycle tests behave like a real loop
// device, including data persisting across unmount/remount cycles.
type fakeExecutor struct {
	host string

	images  map[string]*fakeImage // image path -> backing image
	mounts  map[string]*fakeImage // mount path -> attached image
	history []string

	failMountVerify bool
}

type fakeImage struct {
	sizeBytes int64
	formatted bool
	files     map[string]fakeFile // relative key -> metadata
}

type fakeFile struct {
	sizeBytes int64
	isDir     bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		host:   "vm1",
		images: map[string]*fakeImage{},
		mounts: map[string]*fakeImage{},
	}
}

func (f *fakeExecutor) Host() string {
	return f.host
}

func (f *fakeExecutor) Run(_ context.Context, cmd string) (*command.Result, error) {
	f.history = append(f.history, cmd)

	args, err := shlex.Split(cmd)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	switch args[0] {
	case "test": // test -f <path>
		if _, ok := f.images[args[2]]; ok {
			return &command.Result{}, nil
		}
		return &command.Result{ExitCode: 1}, nil

	case "truncate": // truncate -s <size> <path>
		size, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return &command.Result{ExitCode: 1, Stderr: "invalid size"}, nil
		}
		target := args[3]
		if img, key, ok := f.mountedPath(target); ok {
			img.files[key] = fakeFile{sizeBytes: size}
			return &command.Result{}, nil
		}
		img, ok := f.images[target]
		if !ok {
			img = &fakeImage{files: map[string]fakeFile{}}
			f.images[target] = img
		}
		img.sizeBytes = size
		return &command.Result{}, nil

	case "mkfs.ext4": // mkfs.ext4 -F <image>
		img, ok := f.images[args[2]]
		if !ok {
			return &command.Result{ExitCode: 1, Stderr: "no such file"}, nil
		}
		img.formatted = true
		img.files = map[string]fakeFile{}
		return &command.Result{}, nil

	case "mkdir": // mkdir -p <path>
		if img, key, ok := f.mountedPath(args[2]); ok {
			img.files[key] = fakeFile{isDir: true}
		}
		return &command.Result{}, nil

	case "mount": // mount -o loop <image> <mount>
		img, ok := f.images[args[3]]
		if !ok || !img.formatted {
			return &command.Result{ExitCode: 32, Stderr: "wrong fs type"}, nil
		}
		f.mounts[args[4]] = img
		return &command.Result{}, nil

	case "chmod":
		return &command.Result{}, nil

	case "mountpoint": // mountpoint -q <path>
		if f.failMountVerify {
			return &command.Result{ExitCode: 1}, nil
		}
		if _, ok := f.mounts[args[2]]; ok {
			return &command.Result{}, nil
		}
		return &command.Result{ExitCode: 1}, nil

	case "find": // find <mount> -mindepth 1
		img, ok := f.mounts[args[1]]
		if !ok {
			return &command.Result{ExitCode: 1, Stderr: "no such directory"}, nil
		}
		keys := make([]string, 0, len(img.files))
		for key := range img.files {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, key := range keys {
			lines = append(lines, args[1]+"/"+key)
		}
		out := strings.Join(lines, "\n")
		if out != "" {
			out += "\n"
		}
		return &command.Result{Stdout: out}, nil

	case "stat": // stat -c '%s %F' <path>
		img, key, ok := f.mountedPath(args[3])
		if !ok {
			return &command.Result{ExitCode: 1, Stderr: "no such file"}, nil
		}
		file, exists := img.files[key]
		if !exists {
			return &command.Result{ExitCode: 1, Stderr: "no such file"}, nil
		}
		kind := "regular file"
		if file.isDir {
			kind = "directory"
		}
		return &command.Result{Stdout: fmt.Sprintf("%d %s\n", file.sizeBytes, kind)}, nil

	case "umount": // umount -l <path>
		delete(f.mounts, args[2])
		return &command.Result{}, nil

	case "rmdir":
		return &command.Result{}, nil
	}

	return nil, fmt.Errorf("fake executor: unhandled command %q", cmd)
}

func (f *fakeExecutor) mountedPath(p string) (*fakeImage, string, bool) {
	for mountPath, img := range f.mounts {
		if strings.HasPrefix(p, mountPath+"/") {
			return img, strings.TrimPrefix(p, mountPath+"/"), true
		}
	}
	return nil, "", false
}
