package nodescan

import (
	"errors"
	"regexp"
)

// ErrInvalidPubkey is returned when a vote account address is not base58.
var ErrInvalidPubkey = errors.New("invalid vote pubkey")

var votePubkeyPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidateVotePubkey reports whether s looks like a base58 Solana address.
func ValidateVotePubkey(s string) bool {
	return votePubkeyPattern.MatchString(s)
}

// TruncatePubkey shortens a pubkey to its first and last four characters.
func TruncatePubkey(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func placeholderName(votePubkey string) string {
	return "Validator " + TruncatePubkey(votePubkey)
}
