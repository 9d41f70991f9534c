package types

// Native program addresses.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// NativeLoaderAddr owns the accounts of built-in programs.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// DefaultVotingProgramAddr is the address the voting program is
	// registered under when no other id is configured.
	DefaultVotingProgramAddr = MustPubkeyFromBase58("Ba11otVoting1111111111111111111111111111111")
)

// Sysvar addresses.
var (
	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
)

// IsSysvar returns true if the given address is a sysvar.
func IsSysvar(addr Pubkey) bool {
	return addr == SysvarClockAddr || addr == SysvarRentAddr
}
