package format

// PMD (pointer metadata) carries the arm64e authentication fields attached
// to a signed fixup target: which key to sign/verify with, whether the
// signature diversifies on the pointer's own storage address, and an
// optional 16-bit diversity constant. Per design note "PMD as plain data",
// this struct carries no signing logic of its own — fixup.Signer is the
// pluggable strategy that turns a PMD plus a raw target into a signed
// pointer or back.
type PMD struct {
	Auth      bool
	Key       uint8
	AddrDiv   bool
	Diversity uint16
}

func (p PMD) KeyName() string {
	if !p.Auth {
		return ""
	}
	return KeyName(p.Key)
}
