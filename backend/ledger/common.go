package ledger

import (
	"encoding/binary"
	"fmt"
)

const (
	pathPurpose      = 44
	pathCoinType     = 474
	pathConsensusKey = 5

	pathLength   = 5
	hardenedBit  = 0x80000000
	maxAPDUBytes = 255
)

// getConsensusPath returns the derivation path of the given consensus key.
func getConsensusPath(number uint32) []uint32 {
	return []uint32{pathPurpose, pathCoinType, pathConsensusKey, 0, number}
}

// getBip44bytes serializes a derivation path, hardening every component.
func getBip44bytes(path []uint32) ([]byte, error) {
	if len(path) != pathLength {
		return nil, fmt.Errorf("path should contain %d elements", pathLength)
	}

	raw := make([]byte, 0, 4*pathLength)
	for _, component := range path {
		raw = binary.LittleEndian.AppendUint32(raw, component|hardenedBit)
	}
	return raw, nil
}

// prepareChunks splits a signing request into the path chunk followed by message chunks of at
// most chunkSize bytes.
func prepareChunks(pathBytes, message []byte, chunkSize int) ([][]byte, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("message cannot be empty")
	}

	chunks := make([][]byte, 0, 1+(len(message)+chunkSize-1)/chunkSize)
	chunks = append(chunks, pathBytes)
	for len(message) > 0 {
		n := min(chunkSize, len(message))
		chunks = append(chunks, message[:n])
		message = message[n:]
	}
	return chunks, nil
}

// chunkDescriptor returns the P1 descriptor of the chunk at the given index.
func chunkDescriptor(idx, count int) byte {
	switch idx {
	case 0:
		return payloadChunkInit
	case count - 1:
		return payloadChunkLast
	default:
		return payloadChunkAdd
	}
}

// newAPDU builds a command for the validator app.
func newAPDU(ins, p1 byte, payload []byte) ([]byte, error) {
	if len(payload) > maxAPDUBytes {
		return nil, fmt.Errorf("ledger: payload too large (%d bytes)", len(payload))
	}

	apdu := make([]byte, 0, 5+len(payload))
	apdu = append(apdu, claConsumer, ins, p1, 0, byte(len(payload)))
	return append(apdu, payload...), nil
}
