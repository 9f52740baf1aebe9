package layout

import (
	"encoding/binary"
	"os"
	"strings"
	"sync"
)

// Endian selects the byte order a descriptor encodes and decodes multibyte
// values with.
type Endian uint8

const (
	// LittleEndian packs the least significant byte first.
	LittleEndian Endian = iota
	// BigEndian packs the most significant byte first (network byte order).
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

func (e Endian) byteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// HostEndian probes the host's in-memory representation of a known word and
// reports the matching Endian value.
func HostEndian() Endian {
	buf := make([]byte, 2)
	binary.NativeEndian.PutUint16(buf, 1)
	if buf[0] == 1 {
		return LittleEndian
	}
	return BigEndian
}

var (
	defaultEndianMu sync.RWMutex
	defaultEndian   = resolveInitialDefaultEndian()
)

// resolveInitialDefaultEndian seeds the process-wide default: an explicit
// LAYOUTKIT_DEFAULT_ENDIAN environment variable wins, otherwise the default
// is the host's own byte order.
func resolveInitialDefaultEndian() Endian {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LAYOUTKIT_DEFAULT_ENDIAN"))) {
	case "big", "be", "network":
		return BigEndian
	case "little", "le":
		return LittleEndian
	default:
		return HostEndian()
	}
}

// DefaultEndian returns the process-wide default endian used whenever a
// pack/unpack call supplies no endian override and no descriptor in the
// tree carries a fixed one.
func DefaultEndian() Endian {
	defaultEndianMu.RLock()
	defer defaultEndianMu.RUnlock()
	return defaultEndian
}

// SetDefaultEndian replaces the process-wide default endian atomically.
func SetDefaultEndian(e Endian) {
	defaultEndianMu.Lock()
	defer defaultEndianMu.Unlock()
	defaultEndian = e
}
