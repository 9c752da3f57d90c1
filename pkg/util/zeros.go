package util

import ( //Dark magic to make simple things fast...
	"unsafe"
)

//IsZeros confirms the provided byte slice contains only zeros by returning true
func IsZeros(block []byte) bool {
	var remainingStart int

	if alignedCount := len(block) / 8; alignedCount > 0 {
		longs := unsafe.Slice((*uint64)(unsafe.Pointer(&block[0])), alignedCount)
		for _, long := range longs {
			if long != 0 {
				return false
			}
		}
		remainingStart = alignedCount * 8
	}

	for _, char := range block[remainingStart:] {
		if char != 0 {
			return false
		}
	}

	return true
}

//ZeroFill ensures the provided byte slice contains only zeros
func ZeroFill(block []byte) {
	if len(block) < 1 {
		return
	}

	block[0] = 0
	for i := 1; i < len(block); i <<= 1 {
		copy(block[i:], block[:i])
	}
}

//Fill sets every byte of the provided slice to val
func Fill(block []byte, val byte) {
	if len(block) < 1 {
		return
	}

	block[0] = val
	for i := 1; i < len(block); i <<= 1 {
		copy(block[i:], block[:i])
	}
}
