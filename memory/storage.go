// Package memory provides the byte-addressable devices of the simulator.
package memory

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrOutOfRange is returned when an access falls outside the capacity of a
// storage.
var ErrOutOfRange = errors.New("address beyond the storage capacity")

// A Storage is a fixed-capacity byte array that can only be accessed through
// bounds-checked reads and writes.
//
// The same device type backs the RAM, the swap area and the TLB of a process.
// A storage is created zeroed and its content lives as long as the storage
// does.
type Storage struct {
	sync.RWMutex
	capacity uint64
	data     []byte
}

// NewStorage creates a zeroed storage object with the specified capacity.
func NewStorage(capacity uint64) *Storage {
	storage := new(Storage)

	storage.capacity = capacity
	storage.data = make([]byte, capacity)

	return storage
}

// Capacity returns the number of bytes the storage holds.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) mustBeInRange(address, length uint64) error {
	if address >= s.capacity || length > s.capacity-address {
		return fmt.Errorf("access 0x%x+%d of a %d-byte storage: %w",
			address, length, s.capacity, ErrOutOfRange)
	}

	return nil
}

// ReadByteAt returns the byte at the given address.
func (s *Storage) ReadByteAt(address uint64) (byte, error) {
	s.RLock()
	defer s.RUnlock()

	if err := s.mustBeInRange(address, 1); err != nil {
		return 0, err
	}

	return s.data[address], nil
}

// WriteByteAt sets the byte at the given address.
func (s *Storage) WriteByteAt(address uint64, data byte) error {
	s.Lock()
	defer s.Unlock()

	if err := s.mustBeInRange(address, 1); err != nil {
		return err
	}

	s.data[address] = data

	return nil
}

// Read copies len bytes starting from address. Either the whole range is
// read or an error is returned.
func (s *Storage) Read(address uint64, len uint64) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	if err := s.mustBeInRange(address, len); err != nil {
		return nil, err
	}

	res := make([]byte, len)
	copy(res, s.data[address:address+len])

	return res, nil
}

// Write stores data starting from address. Nothing is written if any byte
// would fall outside the storage.
func (s *Storage) Write(address uint64, data []byte) error {
	s.Lock()
	defer s.Unlock()

	if err := s.mustBeInRange(address, uint64(len(data))); err != nil {
		return err
	}

	copy(s.data[address:], data)

	return nil
}

// Zero clears len bytes starting from address.
func (s *Storage) Zero(address uint64, len uint64) error {
	s.Lock()
	defer s.Unlock()

	if err := s.mustBeInRange(address, len); err != nil {
		return err
	}

	clear(s.data[address : address+len])

	return nil
}

// Dump prints every non-zero byte of the storage, one per line.
func (s *Storage) Dump(w io.Writer) error {
	s.RLock()
	defer s.RUnlock()

	for addr, b := range s.data {
		if b == 0 {
			continue
		}

		_, err := fmt.Fprintf(w, "BYTE %08x: %d\n", addr, b)
		if err != nil {
			return err
		}
	}

	return nil
}
