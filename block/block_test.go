package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservedInodeNumbers(t *testing.T) {
	require.True(t, InumBitmap.Reserved())
	require.True(t, InumVersion.Reserved())
	require.True(t, InumAtomTable.Reserved())
	require.True(t, InumRootDir.Reserved())
	require.True(t, InumVolumeMap.Reserved())
	require.True(t, InumLogMap.Reserved())
	require.True(t, InumInvalid.Reserved())
	require.False(t, InumFirstUser.Reserved())
	require.False(t, Inum(65).Reserved())
}

func TestBlockValidRespectsBitWidth(t *testing.T) {
	require.True(t, Block(0).Valid())
	require.True(t, Block(1<<MaxBlocksBits-1).Valid())
	require.False(t, Block(1<<MaxBlocksBits).Valid())
}
