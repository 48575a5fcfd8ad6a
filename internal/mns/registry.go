package mns

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agoracyber/dimsp-go/internal/config"
	"github.com/agoracyber/dimsp-go/internal/types"
	"gopkg.in/yaml.v3"
)

// Registry is a YAML-file-backed Service, loaded once at startup the way
// the teacher's config.LoadServerConfig loads its StorageInfo map: read,
// unmarshal, validate, index. Supplement from
// original_source/types/src/mns.rs and spss.rs: besides the account and
// service-provider tables, the file also records each account's
// subscribed service providers, so sps_subscribed_by returns real data.
type Registry struct {
	byUNSID       map[uint64]types.MNSAccount
	byClientID    map[types.Hash32]types.MNSAccount
	spByUNSID     map[uint64]types.SPRSAccount
	subscriptions map[uint64][]types.SPRSAccount
}

type registryFile struct {
	Accounts          []accountEntry `yaml:"accounts"`
	ServiceProviders  []spEntry      `yaml:"service_providers"`
}

type pubKeyEntry struct {
	Variant string `yaml:"variant"`
	KeyHex  string `yaml:"key_hex"`
}

func (e pubKeyEntry) decode() (types.PubKey, error) {
	variant, err := parseVariant(e.Variant)
	if err != nil {
		return types.PubKey{}, err
	}
	key, err := hex.DecodeString(e.KeyHex)
	if err != nil {
		return types.PubKey{}, fmt.Errorf("mns: decoding key_hex: %w", err)
	}
	pk := types.PubKey{Variant: variant, Key: key}
	if err := pk.Validate(); err != nil {
		return types.PubKey{}, err
	}
	return pk, nil
}

func parseVariant(s string) (types.PubKeyVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rsa-1024":
		return types.PubKeyRSA1024, nil
	case "rsa-2048":
		return types.PubKeyRSA2048, nil
	case "rsa-4096":
		return types.PubKeyRSA4096, nil
	case "ed25519":
		return types.PubKeyEd25519, nil
	case "ecdsa-secp256k1":
		return types.PubKeyECDSASecp256k1, nil
	default:
		return 0, fmt.Errorf("mns: unknown pub_key variant %q", s)
	}
}

type accountEntry struct {
	UNSID         uint64      `yaml:"uns_id"`
	UserName      string      `yaml:"user_name"`
	AccountType   string      `yaml:"account_type"` // unicast|multicast|service-provider
	Quota         string      `yaml:"quota"`
	Lease         time.Duration `yaml:"lease"`
	PubKey        pubKeyEntry `yaml:"pub_key"`
	SubscribedSPs []uint64    `yaml:"subscribed_sps"`
}

type spEntry struct {
	UNSID    uint64      `yaml:"uns_id"`
	Endpoint string      `yaml:"endpoint"`
	PubKey   pubKeyEntry `yaml:"pub_key"`
}

func parseAccountType(s string) types.AccountType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multicast":
		return types.AccountMulticast
	case "service-provider":
		return types.AccountServiceProvider
	default:
		return types.AccountUnicast
	}
}

// LoadRegistry reads and indexes path as a Registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mns: reading registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("mns: parsing registry: %w", err)
	}

	r := &Registry{
		byUNSID:       make(map[uint64]types.MNSAccount),
		byClientID:    make(map[types.Hash32]types.MNSAccount),
		spByUNSID:     make(map[uint64]types.SPRSAccount),
		subscriptions: make(map[uint64][]types.SPRSAccount),
	}

	for _, e := range file.ServiceProviders {
		pk, err := e.PubKey.decode()
		if err != nil {
			return nil, fmt.Errorf("mns: service_providers[uns_id=%d]: %w", e.UNSID, err)
		}
		r.spByUNSID[e.UNSID] = types.SPRSAccount{UNSID: e.UNSID, Endpoint: e.Endpoint, PubKey: pk}
	}

	for _, e := range file.Accounts {
		pk, err := e.PubKey.decode()
		if err != nil {
			return nil, fmt.Errorf("mns: accounts[uns_id=%d]: %w", e.UNSID, err)
		}
		quota, err := parseQuota(e.Quota)
		if err != nil {
			return nil, fmt.Errorf("mns: accounts[uns_id=%d].quota: %w", e.UNSID, err)
		}
		account := types.MNSAccount{
			UNSID:       e.UNSID,
			UserName:    e.UserName,
			PubKey:      pk,
			AccountType: parseAccountType(e.AccountType),
			Quota:       quota,
			Lease:       e.Lease,
		}
		r.byUNSID[account.UNSID] = account
		r.byClientID[account.ClientID()] = account

		for _, spID := range e.SubscribedSPs {
			sp, ok := r.spByUNSID[spID]
			if !ok {
				return nil, fmt.Errorf("mns: accounts[uns_id=%d] subscribes to unknown sp %d", e.UNSID, spID)
			}
			r.subscriptions[account.UNSID] = append(r.subscriptions[account.UNSID], sp)
		}
	}

	return r, nil
}

func parseQuota(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("quota is required")
	}
	n, err := config.ParseByteSize(s)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r *Registry) MNSByUNSID(unsID uint64) (types.MNSAccount, bool) {
	a, ok := r.byUNSID[unsID]
	return a, ok
}

func (r *Registry) MNSByPubKey(pk types.PubKey) (types.MNSAccount, bool) {
	a, ok := r.byClientID[pk.ClientID()]
	return a, ok
}

func (r *Registry) SPByUNSID(unsID uint64) (types.SPRSAccount, bool) {
	sp, ok := r.spByUNSID[unsID]
	return sp, ok
}

func (r *Registry) SPsSubscribedBy(account types.MNSAccount) ([]types.SPRSAccount, bool) {
	sps, ok := r.subscriptions[account.UNSID]
	return sps, ok
}
