// tux3fsck opens a volume, replays its log chain, and reports recovered
// state: the number of blocks stashed for derollup, tentative and
// surviving orphans, and the superblock it would mount with. The
// reconciled free-space bitmap itself is not reported.
package main

import (
	"flag"
	"os"

	"github.com/bits-and-blooms/bitset"

	"github.com/tux3fs/tux3/device"
	tuxlog "github.com/tux3fs/tux3/log"
	"github.com/tux3fs/tux3/orphan"
	"github.com/tux3fs/tux3/super"
	"github.com/tux3fs/tux3/wal"
)

var (
	devicePath  = flag.String("device", "", "Path to the volume's backing file")
	otablePath  = flag.String("otable", "", "Path to the orphan table's on-disk store")
	fixFlag     = flag.Bool("fix", false, "Persist the reconciled superblock back to the device")
	versionFlag = flag.Uint("version", 0, "Mounted version to gate orphan replay against")
)

func main() {
	flag.Parse()
	if *devicePath == "" || *otablePath == "" {
		tuxlog.Crit("both -device and -otable are required")
	}

	dev, err := device.OpenFile(*devicePath, 0)
	if err != nil {
		tuxlog.Crit("open device", "path", *devicePath, "err", err)
	}
	defer dev.Close()

	sb, err := super.Read(dev)
	if err != nil {
		tuxlog.Crit("read superblock", "err", err)
	}
	dev.SetBits(sb.BlockBits)
	tuxlog.Info("superblock", "blockbits", sb.BlockBits, "volumeblocks", sb.VolumeBlocks,
		"logchainhead", sb.LogChainHead, "logblockcount", sb.LogBlockCount)

	tr, err := orphan.Open(*otablePath)
	if err != nil {
		tuxlog.Crit("open otable", "err", err)
	}
	defer tr.Close()

	bitmap := bitset.New(uint(sb.VolumeBlocks))
	blockSize := 1 << sb.BlockBits
	res, err := wal.Replay(dev, blockSize, sb.LogChainHead, int(sb.LogBlockCount), nil, bitmap, uint32(*versionFlag))
	if err != nil {
		tuxlog.Crit("replay log chain", "err", err)
	}

	tuxlog.Info("replay complete", "derollup_blocks", len(res.Derollup),
		"tentative_orphans", len(res.Orphans.Tentative()), "deferred_dels", len(res.Orphans.Deferred()))

	res.Orphans.Apply(tr)
	surviving, err := tr.Surviving()
	if err != nil {
		tuxlog.Crit("compute surviving orphans", "err", err)
	}
	tuxlog.Info("orphan reconciliation", "surviving", len(surviving))

	if res.FreeBlocksOK {
		sb.FreeBlocks = res.FreeBlocks
	}

	if *fixFlag {
		if err := super.Write(dev, sb); err != nil {
			tuxlog.Crit("write superblock", "err", err)
		}
		if err := dev.Sync(); err != nil {
			tuxlog.Crit("sync device", "err", err)
		}
		tuxlog.Info("superblock written back")
	}

	os.Exit(0)
}
