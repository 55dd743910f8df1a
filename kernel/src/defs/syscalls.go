package defs

// Syscall numbers. Stable ABI: passed in the architectural syscall-number
// register, arguments in six registers, result in the return register.
const (
	SysGetBoundingBox   = 0
	SysExit             = 3
	SysSpawn            = 4
	SysReadKey          = 5
	SysYield            = 6
	SysMmap             = 7
	SysMunmap           = 8
	SysChannelCreate    = 9
	SysChannelSend      = 10
	SysChannelRecv      = 11
	SysChannelClose     = 12
	SysTransferDisplay  = 13
	SysGetModule        = 14
	SysGetDisplayInfo   = 15
	SysDebugLog         = 16
	SysWaitpid          = 17
	SysRegisterService  = 18
	SysLookupService    = 19
	SysReadMouse        = 20
	SysShutdown         = 21
	SysCreateSharedBuf  = 22
	SysMapSharedBuf     = 23
	SysDestroySharedBuf = 24

	// SysUnknown is the all-ones return value produced when the dispatch
	// table has no entry for the requested number.
	SysUnknown uint64 = ^uint64(0)
)

// DebugLog tags (syscall #16's "tag" argument). Tag 0 is the ordinary
// free-form log line; the rest are debug-only extensions the original
// implementation's test harness relied on.
const (
	DebugLogLine     = 0
	DebugLogProfile  = 1 // dump a kstat profile snapshot
	DebugLogDiskScan = 2 // counts a disk-scan request in kstat; no disk is read
)
