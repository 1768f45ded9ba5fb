package types

import "fmt"

type ErrAlreadyRunning struct{}

func (e *ErrAlreadyRunning) Error() string {
	return "virtual device already running"
}

type ErrNotRunning struct{}

func (e *ErrNotRunning) Error() string {
	return "virtual device is not running"
}

// MountFailureError aborts a start attempt; the node stays stopped and can
// be started again.
type MountFailureError struct {
	MountPath string
	Detail    string
}

func (e *MountFailureError) Error() string {
	return fmt.Sprintf("failed to mount virtual disk at %s: %s", e.MountPath, e.Detail)
}

type InsufficientStorageError struct {
	RequestedBytes int64
	AvailableBytes int64
}

func (e *InsufficientStorageError) Error() string {
	return fmt.Sprintf("insufficient storage: %d bytes requested, %d bytes available", e.RequestedBytes, e.AvailableBytes)
}

type NoSuchParentError struct {
	Key string
}

func (e *NoSuchParentError) Error() string {
	return fmt.Sprintf("cannot create '%s': no such file or directory", e.Key)
}

type AlreadyExistsError struct {
	Key string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("cannot create directory '%s': file exists", e.Key)
}

type NotADirectoryError struct {
	Path string
}

func (e *NotADirectoryError) Error() string {
	return fmt.Sprintf("no such file or directory: %s", e.Path)
}
