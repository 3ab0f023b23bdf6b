//go:build !linux && !darwin && !freebsd

package protocols

func diskFree(string) (uint64, error) {
	return 0, ErrFreeUnsupported
}
