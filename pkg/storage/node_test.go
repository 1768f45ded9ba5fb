package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/disknet-io/disknet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCapacity  = int64(100)
	testMountPath = "/mnt/vm1_disk"
	testImagePath = "/srv/assets/vm1_disk.img"
)

func newTestNode() (*Node, *fakeExecutor) {
	fake := newFakeExecutor()
	return NewNode(testCapacity, testMountPath, testImagePath, fake), fake
}

func startTestNode(t *testing.T) (*Node, *fakeExecutor) {
	t.Helper()
	node, fake := newTestNode()
	require.NoError(t, node.Start(context.Background()))
	return node, fake
}

// assertCapacityInvariant checks that usedBytes always equals the sum of
// file sizes in the index.
func assertCapacityInvariant(t *testing.T, n *Node) {
	t.Helper()

	var total int64
	for _, e := range n.index {
		if !e.IsFolder {
			total += e.SizeBytes
		}
	}
	assert.Equal(t, total, n.usedBytes)
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	node, fake := newTestNode()

	require.NoError(t, node.Start(ctx))
	assert.True(t, node.Running())
	assert.True(t, fake.images[testImagePath].formatted)

	err := node.Start(ctx)
	assert.IsType(t, &types.ErrAlreadyRunning{}, err)

	require.NoError(t, node.Stop(ctx))
	assert.False(t, node.Running())
	assert.Zero(t, node.UsedBytes())
	assert.Empty(t, node.index)

	err = node.Stop(ctx)
	assert.IsType(t, &types.ErrNotRunning{}, err)
}

func TestStartReusesExistingImage(t *testing.T) {
	ctx := context.Background()
	node, fake := newTestNode()

	require.NoError(t, node.Start(ctx))
	require.NoError(t, node.Stop(ctx))
	formatCount := 0
	for _, cmd := range fake.history {
		if cmd == `mkfs.ext4 -F "/srv/assets/vm1_disk.img"` {
			formatCount++
		}
	}
	require.Equal(t, 1, formatCount)

	// A second start must reuse the image rather than reformat it.
	require.NoError(t, node.Start(ctx))
	formatCount = 0
	for _, cmd := range fake.history {
		if cmd == `mkfs.ext4 -F "/srv/assets/vm1_disk.img"` {
			formatCount++
		}
	}
	assert.Equal(t, 1, formatCount)
}

func TestStartFailsWhenMountVerificationFails(t *testing.T) {
	ctx := context.Background()
	node, fake := newTestNode()
	fake.failMountVerify = true

	err := node.Start(ctx)
	assert.IsType(t, &types.MountFailureError{}, err)
	assert.False(t, node.Running())

	// The node stays usable for a retry.
	fake.failMountVerify = false
	assert.NoError(t, node.Start(ctx))
	assert.True(t, node.Running())
}

func TestRescanEmptyDiskIsValid(t *testing.T) {
	node, _ := startTestNode(t)

	assert.Empty(t, node.index)
	assert.Zero(t, node.UsedBytes())
}

func TestCreateFileQuotaBoundary(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFile(ctx, "a.bin", 60, "")
	require.NoError(t, err)

	// Exactly filling the remaining headroom succeeds.
	_, err = node.CreateFile(ctx, "b.bin", 40, "")
	require.NoError(t, err)
	assert.Equal(t, testCapacity, node.UsedBytes())
	assertCapacityInvariant(t, node)

	// One byte over fails.
	_, err = node.CreateFile(ctx, "c.bin", 1, "")
	require.IsType(t, &types.InsufficientStorageError{}, err)
	assert.Equal(t, int64(0), err.(*types.InsufficientStorageError).AvailableBytes)
	assertCapacityInvariant(t, node)
}

func TestCreateFileOverwriteAdjustsUsage(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFile(ctx, "data.bin", 30, "")
	require.NoError(t, err)

	_, err = node.CreateFile(ctx, "data.bin", 50, "")
	require.NoError(t, err)

	assert.Equal(t, int64(50), node.UsedBytes())
	assert.Len(t, node.index, 1)
	assertCapacityInvariant(t, node)
}

// The quota check runs against the raw requested size before the old
// entry's size is credited back, so an overwrite that would shrink usage
// can still be rejected on a nearly full disk.
func TestQuotaCheckIgnoresOverwriteCredit(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFile(ctx, "data.bin", 80, "")
	require.NoError(t, err)

	_, err = node.CreateFile(ctx, "data.bin", 30, "")
	assert.IsType(t, &types.InsufficientStorageError{}, err)
	assert.Equal(t, int64(80), node.UsedBytes())

	_, err = node.CreateFile(ctx, "data.bin", 20, "")
	require.NoError(t, err)
	assert.Equal(t, int64(20), node.UsedBytes())
	assertCapacityInvariant(t, node)
}

func TestParentMustExist(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFile(ctx, "a/b.txt", 10, "")
	assert.IsType(t, &types.NoSuchParentError{}, err)
	assertCapacityInvariant(t, node)

	_, err = node.CreateFolder(ctx, "x/y")
	assert.IsType(t, &types.NoSuchParentError{}, err)

	_, err = node.CreateFolder(ctx, "a")
	require.NoError(t, err)

	_, err = node.CreateFile(ctx, "a/b.txt", 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), node.UsedBytes())
	assertCapacityInvariant(t, node)
}

func TestCreateFolderCollisions(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFolder(ctx, "docs")
	require.NoError(t, err)

	_, err = node.CreateFolder(ctx, "docs")
	assert.IsType(t, &types.AlreadyExistsError{}, err)

	_, err = node.CreateFile(ctx, "b.txt", 3, "")
	require.NoError(t, err)

	// Folder creation collides with files too.
	_, err = node.CreateFolder(ctx, "b.txt")
	assert.IsType(t, &types.AlreadyExistsError{}, err)
	assertCapacityInvariant(t, node)
}

func TestFoldersDoNotCountAgainstQuota(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFolder(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, node.UsedBytes())
	assertCapacityInvariant(t, node)
}

func TestOperationsRequireRunningDevice(t *testing.T) {
	ctx := context.Background()
	node, _ := newTestNode()

	_, err := node.CreateFile(ctx, "a.txt", 1, "")
	assert.IsType(t, &types.ErrNotRunning{}, err)

	_, err = node.CreateFolder(ctx, "docs")
	assert.IsType(t, &types.ErrNotRunning{}, err)

	_, err = node.ListContents()
	assert.IsType(t, &types.ErrNotRunning{}, err)
}

func TestResolve(t *testing.T) {
	node, _ := newTestNode()
	node.cwd = "/x/y"

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "empty resolves to cwd", path: "", want: "/x/y"},
		{name: "dot resolves to cwd", path: ".", want: "/x/y"},
		{name: "parent", path: "..", want: "/x"},
		{name: "absolute ignores cwd", path: "/abs/path", want: "/abs/path"},
		{name: "home shortcut is root", path: "~", want: "/"},
		{name: "home relative", path: "~/docs", want: "/docs"},
		{name: "relative join", path: "z/w", want: "/x/y/z/w"},
		{name: "relative with dotdot", path: "z/../w", want: "/x/y/w"},
		{name: "climb past root stops at root", path: "../../..", want: "/"},
		{name: "redundant separators collapse", path: "/a//b/", want: "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, node.Resolve(tt.path))
		})
	}
}

func TestChangeDirectory(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFolder(ctx, "docs")
	require.NoError(t, err)
	_, err = node.CreateFile(ctx, "b.txt", 3, "")
	require.NoError(t, err)

	cwd, err := node.ChangeDirectory("docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs", cwd)

	cwd, err = node.ChangeDirectory("..")
	require.NoError(t, err)
	assert.Equal(t, "/", cwd)

	// A missing target fails and leaves the current directory alone.
	cwd, err = node.ChangeDirectory("missing")
	assert.IsType(t, &types.NotADirectoryError{}, err)
	assert.Equal(t, "/", cwd)
	assert.Equal(t, "/", node.CurrentDirectory())

	// So does a file.
	_, err = node.ChangeDirectory("b.txt")
	assert.IsType(t, &types.NotADirectoryError{}, err)
	assert.Equal(t, "/", node.CurrentDirectory())

	// The root is always a valid target, even on an empty index.
	cwd, err = node.ChangeDirectory("/")
	require.NoError(t, err)
	assert.Equal(t, "/", cwd)
}

func TestListingScope(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFolder(ctx, "docs")
	require.NoError(t, err)
	_, err = node.CreateFile(ctx, "docs/a.txt", 5, "")
	require.NoError(t, err)
	_, err = node.CreateFile(ctx, "b.txt", 3, "")
	require.NoError(t, err)

	out, err := node.ListContents()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"- 3B         b.txt",
		"d ---        docs/",
	}, splitLines(out))

	_, err = node.ChangeDirectory("docs")
	require.NoError(t, err)

	out, err = node.ListContents()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"- 5B         a.txt",
	}, splitLines(out))
}

func TestListingEmptyDirectory(t *testing.T) {
	node, _ := startTestNode(t)

	out, err := node.ListContents()
	require.NoError(t, err)
	assert.Empty(t, out)
}

// Stopping and starting against the same backing image must reproduce the
// index, because the image persists and the rescan recovers it.
func TestRestartRecoversIndex(t *testing.T) {
	ctx := context.Background()
	node, _ := startTestNode(t)

	_, err := node.CreateFolder(ctx, "docs")
	require.NoError(t, err)
	_, err = node.CreateFile(ctx, "docs/a.txt", 5, "")
	require.NoError(t, err)
	_, err = node.CreateFile(ctx, "b.txt", 3, "")
	require.NoError(t, err)

	snapshot := make(map[string]types.Entry, len(node.index))
	for key, entry := range node.index {
		snapshot[key] = entry
	}
	usedBefore := node.UsedBytes()

	require.NoError(t, node.Stop(ctx))
	assert.Empty(t, node.index)

	require.NoError(t, node.Start(ctx))
	assert.Equal(t, snapshot, node.index)
	assert.Equal(t, usedBefore, node.UsedBytes())
	assertCapacityInvariant(t, node)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
