package keydata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	stHeaderSize = 12
	stXorSeed    = 0xFFFEA4C8
	stBodySkip   = 512
)

// ParseST decodes a .st container and parses the lua script inside it.
//
// Layout: 12-byte header of three little-endian uint32s (xorkey, size,
// verify), payload XOR'd with a single byte derived from the header key,
// then zlib-compressed; the first 512 bytes of the inflated data are junk.
func ParseST(buf []byte) (LuaResult, error) {
	if len(buf) < stHeaderSize {
		return LuaResult{}, fmt.Errorf(".st file too small: %d bytes (need at least %d for header)", len(buf), stHeaderSize)
	}

	keyRaw := binary.LittleEndian.Uint32(buf[0:4])
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	xorKey := byte((keyRaw ^ stXorSeed) & 0xFF)

	if stHeaderSize+size > len(buf) {
		return LuaResult{}, fmt.Errorf(".st data size (%d) exceeds buffer length (%d)", size, len(buf)-stHeaderSize)
	}

	decrypted := make([]byte, size)
	for i, b := range buf[stHeaderSize : stHeaderSize+size] {
		decrypted[i] = b ^ xorKey
	}

	zr, err := zlib.NewReader(bytes.NewReader(decrypted))
	if err != nil {
		return LuaResult{}, fmt.Errorf("inflate .st data: %w", err)
	}
	defer zr.Close()

	inflated, err := io.ReadAll(zr)
	if err != nil {
		return LuaResult{}, fmt.Errorf("inflate .st data: %w", err)
	}

	if len(inflated) <= stBodySkip {
		return LuaResult{}, fmt.Errorf(".st decompressed data too small: %d bytes (need >%d)", len(inflated), stBodySkip)
	}

	return ParseLua(string(inflated[stBodySkip:])), nil
}
