// Package shm provides the shared-memory regions the plugin bridge
// transport maps between the engine process and its worker child: a
// named, resizable mmap'd file plus the contiguous float pool the RT
// audio cycle reads and writes.
//
// The region is backed by a file under the OS temp/shm directory,
// syscall.Mmap'd MAP_SHARED so both processes observe the same bytes.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// NamePrefix matches the shared-memory file naming convention:
// carla-bridge_<role>_<6-char-suffix>.
const NamePrefix = "carla-bridge"

// Role identifies one of the four shared-memory regions a bridged
// plugin owns.
type Role string

const (
	RoleAudioPool   Role = "shm"
	RoleRTClient    Role = "shm_rt"
	RoleNonRTClient Role = "shm_non-rt"
	RoleNonRTServer Role = "shm_rts"
)

// NewSuffix returns a fresh 6-character random suffix for a region
// family: the first six characters of a new random UUID.
func NewSuffix() string {
	return uuid.New().String()[:6]
}

// FileName returns the external file name for a region, e.g.
// "carla-bridge_shm_rt_a1b2c3".
func FileName(role Role, suffix string) string {
	return fmt.Sprintf("%s_%s_%s", NamePrefix, role, suffix)
}

// Region is a resizable memory-mapped shared-memory segment.
type Region struct {
	role  Role
	path  string
	file  *os.File
	bytes []byte
}

// shmDir returns the directory used to back shared-memory regions.
// /dev/shm is used when present (tmpfs-backed POSIX shared memory);
// otherwise the OS temp dir is used so the engine still runs on
// platforms without /dev/shm.
func shmDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Create allocates a new region of size bytes under a random suffix and
// maps it MAP_SHARED so a worker child that inherits or re-opens the
// same path observes identical memory.
func Create(role Role, suffix string, size int) (*Region, error) {
	if size <= 0 {
		size = 1
	}
	path := filepath.Join(shmDir(), FileName(role, suffix))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &Region{role: role, path: path, file: f, bytes: data}, nil
}

// Open maps an existing region created by the parent process, for use
// from the bridge worker side.
func Open(role Role, suffix string, size int) (*Region, error) {
	path := filepath.Join(shmDir(), FileName(role, suffix))
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Region{role: role, path: path, file: f, bytes: data}, nil
}

// Bytes returns the mapped region.
func (r *Region) Bytes() []byte { return r.bytes }

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Resize unmaps and remaps the region at a new size, preserving the
// leading min(old,new) bytes. Callers (AudioPool.Resize) are
// responsible for the invariant that no wait between engine and worker
// straddles the resize.
func (r *Region) Resize(newSize int) error {
	if newSize <= 0 {
		newSize = 1
	}
	if err := syscall.Munmap(r.bytes); err != nil {
		return fmt.Errorf("shm: munmap during resize: %w", err)
	}
	if err := r.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("shm: truncate during resize: %w", err)
	}
	data, err := syscall.Mmap(int(r.file.Fd()), 0, newSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: remap during resize: %w", err)
	}
	r.bytes = data
	return nil
}

// Close unmaps and removes the backing file. Only the creating side
// should remove the file; the worker side should close without
// removing since Close always removes — callers that only opened an
// existing region should instead unmap directly when they don't own the
// file's lifetime.
func (r *Region) Close() error {
	err := syscall.Munmap(r.bytes)
	r.file.Close()
	os.Remove(r.path)
	return err
}

// Unmap releases the mapping without removing the backing file, for the
// worker side which doesn't own the region's lifetime.
func (r *Region) Unmap() error {
	err := syscall.Munmap(r.bytes)
	r.file.Close()
	return err
}
