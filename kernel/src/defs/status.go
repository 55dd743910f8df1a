package defs

// The three ABI-visible status spaces. Each is a distinct uint64 enum
// so a caller can never confuse a status from one layer with another
// merely because the numeric value matches.

//go:generate go tool stringer -type=IpcStatus,SvcStatus,GfxStatus -output=status_string.go

// IpcStatus is returned by the IPC syscalls (ChannelCreate/Send/Recv/Close).
type IpcStatus uint64

const (
	IpcOk IpcStatus = iota
	IpcInvalidEndpoint
	IpcWrongDirection
	IpcPeerClosed
	IpcChannelFull
	IpcInvalidArgs
	IpcMessageTooLarge
)

// SvcStatus is returned by RegisterService/LookupService.
type SvcStatus uint64

const (
	SvcOk SvcStatus = iota
	SvcNotFound
	SvcAlreadyRegistered
	SvcInvalidArgs
)

// GfxStatus is returned by the display syscalls.
type GfxStatus uint64

const (
	GfxOk GfxStatus = iota
	GfxOutOfBounds
	GfxInvalidInput
	GfxPermissionDenied
)
