package dlcmanager

import (
	"errors"
	"syscall"
)

// ErrorOrigin classifies where an emitted error signal originated (§6).
type ErrorOrigin int

const (
	OriginFileIO ErrorOrigin = iota
	OriginInitTimeout
	OriginDownload
	OriginCodec
)

func (o ErrorOrigin) String() string {
	switch o {
	case OriginFileIO:
		return "FileIO"
	case OriginInitTimeout:
		return "InitTimeout"
	case OriginDownload:
		return "Download"
	case OriginCodec:
		return "Codec"
	default:
		return "Unknown"
	}
}

// ErrorInfo is the payload of the error signal.
type ErrorInfo struct {
	Origin ErrorOrigin
	Code   int32
	Detail string
}

// externalHandleExhaustionErrnos is the set of OS errors that latch the
// fatal state quickly by incrementing errorCounter by maxSameErrorCounter
// instead of by one (§7).
var externalHandleExhaustionErrnos = map[syscall.Errno]bool{
	syscall.ENAMETOOLONG: true,
	syscall.ENOSPC:       true,
	syscall.ENODEV:       true,
	syscall.EROFS:        true,
	syscall.ENFILE:       true,
	syscall.EMFILE:       true,
}

// isExternalHandleExhaustion reports whether err wraps one of the
// external-handle-exhaustion errno values.
func isExternalHandleExhaustion(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return externalHandleExhaustionErrnos[errno]
	}
	return false
}

// maxSameErrorCounter is the multiplier external-handle-exhaustion errors
// apply to errorCounter, and also the threshold errorCounter must reach
// to trip the fatal stop (§4.5, §7).
const maxSameErrorCounter = 8
