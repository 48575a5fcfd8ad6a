package types

import "time"

// AccountType classifies how an MNS account receives messages.
type AccountType uint8

const (
	AccountUnicast AccountType = iota
	AccountMulticast
	AccountServiceProvider
)

func (t AccountType) String() string {
	switch t {
	case AccountUnicast:
		return "unicast"
	case AccountMulticast:
		return "multicast"
	case AccountServiceProvider:
		return "service-provider"
	default:
		return "unknown"
	}
}

// MNSAccount is the mail-name-service principal behind a connection: it
// carries the receiving inbox's identity, its public key, and the quota
// and lease policy the storage façade enforces against it.
type MNSAccount struct {
	UNSID       uint64
	UserName    string
	PubKey      PubKey
	AccountType AccountType
	Quota       uint64
	Lease       time.Duration
}

// ClientID is the per-connection device identifier derived from this
// account's public key (see PubKey.ClientID). Two connections
// authenticating with the same key share a read cursor; different keys
// under the same UNSID do not.
func (a MNSAccount) ClientID() Hash32 {
	return a.PubKey.ClientID()
}

// SPRSAccount is a service-provider registry entry: the endpoint and
// public key of a service provider hub, as resolved by the name-service
// adapter's sp_by_uns_id / sps_subscribed_by methods.
type SPRSAccount struct {
	UNSID    uint64
	Endpoint string
	PubKey   PubKey
}
