package storage

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DiskManager is the system's only collaborator for durable storage: a
// single backing file where page p occupies bytes [p*PageSize,
// (p+1)*PageSize). There is no header and no checksum at this layer — a
// higher layer may add those inside the page payload.
//
// Read and Write take buffer-in/buffer-out ownership of the *Frame they're
// given: the frame is the caller's until the call returns, at which point
// it's handed back filled (Read) or flushed (Write). Concurrent calls on
// different frames are safe; *os.File's ReadAt/WriteAt serialize internally
// per the offset they're given, so no additional locking is needed here —
// the "one in-flight I/O per page" guarantee in §5 comes from the page's
// own write lock being held for the duration of the call, not from anything
// in this type.
type DiskManager struct {
	file *os.File

	totalReads  atomic.Int64
	totalWrites atomic.Int64
}

// NewDiskManager opens (and optionally creates) the backing file at path.
// It tries O_DIRECT first, the way a production buffer pool wants to bypass
// the page cache and own its own frames outright, and falls back to a
// buffered open when the filesystem doesn't support it (tmpfs and several
// CI/container setups reject O_DIRECT outright) — the same fallback shape
// pkg/storage/mmap_disk_manager.go uses when a fast path isn't available.
func NewDiskManager(path string, createIfMissing bool) (*DiskManager, error) {
	flags := unix.O_RDWR
	if createIfMissing {
		flags |= unix.O_CREAT
	}

	fd, err := unix.Open(path, flags|unix.O_DIRECT, 0o644)
	if err != nil {
		fd, err = unix.Open(path, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to open backing file %q: %w", path, err)
		}
		log.Printf("storage: O_DIRECT unavailable for %q, falling back to buffered I/O", path)
	}

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("storage: failed to wrap file descriptor for %q", path)
	}
	return &DiskManager{file: f}, nil
}

// Read issues a positional read of exactly PageSize bytes from pid's offset
// into frame. Reading entirely past EOF yields an all-zero frame (a
// newly-extended page) rather than an error; a read that straddles EOF —
// some but not all of the page exists — is ErrShortIO, since that can only
// mean the file was corrupted or truncated mid-page.
func (dm *DiskManager) Read(pid PageID, frame *Frame) error {
	offset := int64(pid) * PageSize
	n, err := dm.file.ReadAt(frame.Data(), offset)

	switch {
	case n == PageSize:
		dm.totalReads.Add(1)
		return nil
	case n == 0 && errors.Is(err, io.EOF):
		frame.zero()
		dm.totalReads.Add(1)
		return nil
	case err != nil && !errors.Is(err, io.EOF):
		return fmt.Errorf("storage: read page %d: %w: %w", pid, ErrShortIO, err)
	default:
		return fmt.Errorf("storage: read page %d: %w (%d/%d bytes)", pid, ErrShortIO, n, PageSize)
	}
}

// Write issues a positional write of exactly PageSize bytes from frame to
// pid's offset, extending the file if necessary. Short writes are errors.
func (dm *DiskManager) Write(pid PageID, frame *Frame) error {
	offset := int64(pid) * PageSize
	n, err := dm.file.WriteAt(frame.Data(), offset)
	if err != nil {
		return fmt.Errorf("storage: write page %d: %w: %w", pid, ErrShortIO, err)
	}
	if n != PageSize {
		return fmt.Errorf("storage: write page %d: %w (%d/%d bytes)", pid, ErrShortIO, n, PageSize)
	}
	dm.totalWrites.Add(1)
	return nil
}

// Remove is a logical delete: reserved for integration with a free-space
// manager, which is out of scope for this layer (§1). It is a no-op here.
func (dm *DiskManager) Remove(pid PageID) error {
	return nil
}

// Sync flushes the backing file to stable storage.
func (dm *DiskManager) Sync() error {
	return dm.file.Sync()
}

// Close syncs and closes the backing file.
func (dm *DiskManager) Close() error {
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("storage: sync on close: %w", err)
	}
	return dm.file.Close()
}

// Stats returns cumulative I/O counters.
func (dm *DiskManager) Stats() map[string]any {
	return map[string]any{
		"total_reads":  dm.totalReads.Load(),
		"total_writes": dm.totalWrites.Load(),
	}
}
