package vfs

import "fmt"

// BlockSize is the allocation unit sizes are reported in.
const BlockSize = 256

// MaxTrack is the highest track number of an extended 40 track disk.
const MaxTrack = 40

// SectorsPerTrack returns the number of sectors of a 1541 zone bit recorded
// track, or 0 for a track outside 1..MaxTrack.
func SectorsPerTrack(track int) int {
	switch {
	case track < 1 || track > MaxTrack:
		return 0
	case track <= 17:
		return 21
	case track <= 24:
		return 19
	case track <= 30:
		return 18
	default:
		return 17
	}
}

// SectorOffset returns the byte offset of (track, sector) in a linear
// sector dump of a disk.
func SectorOffset(track, sector int) (int64, error) {
	spt := SectorsPerTrack(track)
	if spt == 0 {
		return 0, fmt.Errorf("illegal track %d", track)
	}
	if sector < 0 || sector >= spt {
		return 0, fmt.Errorf("illegal sector %d on track %d", sector, track)
	}
	n := 0
	for t := 1; t < track; t++ {
		n += SectorsPerTrack(t)
	}
	return int64(n+sector) * BlockSize, nil
}

// Blocks converts a byte size into blocks, rounding up.
func Blocks(size int64) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + BlockSize - 1) / BlockSize)
}
