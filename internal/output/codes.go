// Package output provides structured errors and exit-code mapping for the CLI.
package output

// Exit codes for the sn3 binary.
const (
	ExitOK       = 0 // Success
	ExitUsage    = 1 // Invalid arguments or missing prerequisite
	ExitNotFound = 2 // Token not present in the keychain
	ExitAttest   = 3 // All attestation providers failed
	ExitRejected = 4 // Vendor explicitly rejected the credentials
	ExitProbe    = 5 // Probe failed even after full regeneration
	ExitNetwork  = 6 // Connection/DNS/timeout error
	ExitProtocol = 7 // Vendor returned a malformed or unexpected response
)

// Error codes.
const (
	CodeUsage           = "usage"
	CodeNotFound        = "not_found"
	CodeAttestation     = "attestation"
	CodeAttestExhausted = "attestation_exhausted"
	CodeProtocol        = "protocol"
	CodeAuthRejected    = "auth_rejected"
	CodeProbeFailed     = "probe_failed"
	CodeNetwork         = "network"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAttestation, CodeAttestExhausted:
		return ExitAttest
	case CodeAuthRejected:
		return ExitRejected
	case CodeProbeFailed:
		return ExitProbe
	case CodeNetwork:
		return ExitNetwork
	case CodeProtocol:
		return ExitProtocol
	default:
		return ExitProtocol
	}
}
