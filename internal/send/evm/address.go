// Package evm implements send pipeline collaborators for EVM-compatible chains
package evm

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var hexAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// AddressService validates EVM addresses, including the EIP-55 checksum of
// mixed-case input
type AddressService struct {
	own []common.Address
}

// NewAddressService creates an address service for a wallet owning own
func NewAddressService(own ...string) *AddressService {
	s := &AddressService{}
	for _, a := range own {
		if common.IsHexAddress(a) {
			s.own = append(s.own, common.HexToAddress(a))
		}
	}
	return s
}

// IsValid implements interfaces.AddressService
func (s *AddressService) IsValid(address string) bool {
	if !hexAddressPattern.MatchString(address) {
		return false
	}

	// all lowercase or all uppercase carries no checksum
	hexPart := address[2:]
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return true
	}
	return common.HexToAddress(address).Hex() == address
}

// Canonical returns the checksummed spelling
func (s *AddressService) Canonical(address string) string {
	return common.HexToAddress(address).Hex()
}

// OwnAddresses implements interfaces.AddressService
func (s *AddressService) OwnAddresses() []string {
	out := make([]string, 0, len(s.own))
	for _, a := range s.own {
		out = append(out, a.Hex())
	}
	return out
}
