package types

import (
	"fmt"
	"path"
)

// Entry is one file or folder tracked on a storage node's virtual disk.
// Key is the entry's path relative to the mount root, with no leading
// separator; it identifies the entry in the node's index. The root itself
// is never an entry.
type Entry struct {
	Key       string
	SizeBytes int64
	IsFolder  bool

	// Content is a human-readable placeholder for a file's payload. It is
	// metadata only and is never written to the real disk.
	Content string
}

func NewFileEntry(key string, sizeBytes int64, content string) Entry {
	if content == "" {
		content = fmt.Sprintf("Content of %s (%d bytes)", path.Base(key), sizeBytes)
	}

	return Entry{Key: key, SizeBytes: sizeBytes, Content: content}
}

func NewFolderEntry(key string) Entry {
	return Entry{Key: key, IsFolder: true}
}

// AbsolutePath returns the entry's location on the mounted device.
func (e Entry) AbsolutePath(mountPath string) string {
	return path.Join(mountPath, e.Key)
}
