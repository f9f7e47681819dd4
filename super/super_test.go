package super

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sb := Super{
		Birthdate:       1234567890,
		Flags:           0x1,
		BlockBits:       12,
		VolumeBlocks:    1 << 20,
		InodeTableRoot:  block.Block(64),
		OrphanTableRoot: block.Block(65),
		FreeBlocks:      900000,
		NextAllocHint:   block.Block(66),
		AtomDictSize:    128,
		FreeAtomHead:    block.Block(0),
		AtomGeneration:  3,
		LogChainHead:    block.Block(200),
		LogBlockCount:   40,
	}
	got, err := Decode(Encode(sb))
	require.NoError(t, err)
	require.Equal(t, sb, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := make([]byte, Size)
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestReadWriteRoundTripsThroughDevice(t *testing.T) {
	dev := device.NewMemDevice(12)
	sb := Super{Birthdate: 1, BlockBits: 12, VolumeBlocks: 1000}
	require.NoError(t, Write(dev, sb))

	got, err := Read(dev)
	require.NoError(t, err)
	require.Equal(t, sb, got)
}
