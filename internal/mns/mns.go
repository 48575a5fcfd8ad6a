// Package mns implements the name-service adapter (spec.md §6): resolving
// on-chain account identities to the principal and policy records the
// storage façade and gateway need.
package mns

import "github.com/agoracyber/dimsp-go/internal/types"

// Service is the name-service adapter contract. All four lookups are
// read-only and side-effect free.
type Service interface {
	MNSByUNSID(unsID uint64) (types.MNSAccount, bool)
	MNSByPubKey(pk types.PubKey) (types.MNSAccount, bool)
	SPByUNSID(unsID uint64) (types.SPRSAccount, bool)
	SPsSubscribedBy(account types.MNSAccount) ([]types.SPRSAccount, bool)
}
