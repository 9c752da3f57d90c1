package emubd

//BlockDevice is the contract a flash filesystem drives a block device through
type BlockDevice interface {
	//Read fills buf[:size] from block starting at off
	Read(block, off, size uint32, buf []byte) error
	//Prog writes buf[:size] to block starting at off
	Prog(block, off, size uint32, buf []byte) error
	//Erase returns size bytes starting at block to the erased state
	Erase(block, off, size uint32) error
	//Sync persists any state held in memory
	Sync() error
	//Info reports the device geometry
	Info() Geometry
}

var _ BlockDevice = (*Device)(nil)
