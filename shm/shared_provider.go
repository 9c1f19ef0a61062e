package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SharedMemoryProvider maps a zone over a shared backing file so agent
// and worker processes can attach it at independent base addresses. The
// owning process creates the zone; everyone else attaches to whatever
// size the owner chose.
type SharedMemoryProvider struct {
	region
	path string
}

// DefaultSharedMemoryPath returns the default zone backing-file path.
func DefaultSharedMemoryPath() string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return "/dev/shm/cp_zone"
	}
	return filepath.Join(os.TempDir(), "cp_zone")
}

// CreateSharedMemory creates (or resets) the zone backing file at path
// and maps it. size must be page-aligned and within the zone bounds. A
// freshly created zone is all-zero, which is also the header's initial
// state: lock free, no active generation, no agents.
func CreateSharedMemory(path string, size uint32) (*SharedMemoryProvider, error) {
	if size%AlignmentPage != 0 {
		return nil, fmt.Errorf("shm: zone size %d is not page-aligned", size)
	}
	if size < ZoneSizeMin || size > ZoneSizeMax {
		return nil, fmt.Errorf("shm: zone size %d outside [%d, %d]", size, ZoneSizeMin, ZoneSizeMax)
	}

	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create zone: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("shm: size zone: %w", err)
	}
	return mapZone(f, size, path)
}

// AttachSharedMemory maps a zone some other process already created. The
// file's own size is authoritative; attaching never resizes, and a file
// whose size falls outside the zone bounds is rejected as not being a
// zone at all.
func AttachSharedMemory(path string) (*SharedMemoryProvider, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: attach zone: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: attach zone: %w", err)
	}
	if info.Size() < ZoneSizeMin || info.Size() > ZoneSizeMax {
		return nil, fmt.Errorf("shm: %s has size %d, not a zone", path, info.Size())
	}
	return mapZone(f, uint32(info.Size()), path)
}

// mapZone establishes the shared mapping. The file descriptor is closed
// by the callers once the mapping exists; the mapping itself outlives it.
func mapZone(f *os.File, size uint32, path string) (*SharedMemoryProvider, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: map zone: %w", err)
	}
	return &SharedMemoryProvider{region: region{data: data}, path: path}, nil
}

// Path returns the zone's backing-file path.
func (s *SharedMemoryProvider) Path() string { return s.path }

// Close unmaps the zone. The backing file is left in place for other
// processes still attached to it; removing it is the zone owner's
// decision, not the mapping's.
func (s *SharedMemoryProvider) Close() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return unix.Munmap(data)
}
