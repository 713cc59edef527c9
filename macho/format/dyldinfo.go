package format

// DyldInfoCmd is the decoded form of LC_DYLD_INFO[_ONLY]: five offset/size
// pairs into __LINKEDIT for the opcode-based rebase, bind, weak-bind,
// lazy-bind and export-trie streams that predate chained fixups.
type DyldInfoCmd struct {
	RebaseOff    uint32
	RebaseSize   uint32
	BindOff      uint32
	BindSize     uint32
	WeakBindOff  uint32
	WeakBindSize uint32
	LazyBindOff  uint32
	LazyBindSize uint32
	ExportOff    uint32
	ExportSize   uint32
}
