package types

import "fmt"

// PubKeyVariant tags the public-key scheme carried by an MNS account.
// Byte sizes follow the original dimsp-rs reference implementation's
// types/src/pubkey.rs, which the distilled spec left unspecified.
type PubKeyVariant uint8

const (
	PubKeyRSA1024 PubKeyVariant = iota
	PubKeyRSA2048
	PubKeyRSA4096
	PubKeyEd25519
	PubKeyECDSASecp256k1
)

// KeySize returns the fixed buffer length for a PubKeyVariant, or 0 for an
// unrecognized variant.
func (v PubKeyVariant) KeySize() int {
	switch v {
	case PubKeyRSA1024:
		return 128
	case PubKeyRSA2048:
		return 256
	case PubKeyRSA4096:
		return 512
	case PubKeyEd25519:
		return 32
	case PubKeyECDSASecp256k1:
		return 33 // compressed point
	default:
		return 0
	}
}

func (v PubKeyVariant) String() string {
	switch v {
	case PubKeyRSA1024:
		return "rsa-1024"
	case PubKeyRSA2048:
		return "rsa-2048"
	case PubKeyRSA4096:
		return "rsa-4096"
	case PubKeyEd25519:
		return "ed25519"
	case PubKeyECDSASecp256k1:
		return "ecdsa-secp256k1"
	default:
		return fmt.Sprintf("pubkey-variant(%d)", uint8(v))
	}
}

// PubKey is a tagged public key: a variant discriminant plus a
// fixed-length byte buffer whose length is dictated by the variant.
type PubKey struct {
	Variant PubKeyVariant
	Key     []byte
}

// Validate checks that Key's length matches the variant's fixed size.
func (p PubKey) Validate() error {
	size := p.Variant.KeySize()
	if size == 0 {
		return fmt.Errorf("types: unknown pubkey variant %d", p.Variant)
	}
	if len(p.Key) != size {
		return fmt.Errorf("types: pubkey variant %s requires %d bytes, got %d", p.Variant, size, len(p.Key))
	}
	return nil
}

// ClientID derives the content-addressed device/client identifier for
// this public key, per spec.md §3 ("client_id: content-addressed
// identifier of the caller's device/public key"). The timeline store uses
// this value to key per-device read cursors.
func (p PubKey) ClientID() Hash32 {
	buf := make([]byte, 0, len(p.Key)+1)
	buf = append(buf, byte(p.Variant))
	buf = append(buf, p.Key...)
	return Keccak256(buf)
}
