package core

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/multiformats/go-multibase"
)

// DIDMethod is the single DID method this mesh recognizes. Any DID whose
// second segment differs is rejected at the trust boundary.
const DIDMethod = "agoramesh"

// DID is an opaque textual identity of the shape
// "did:agoramesh:<chain>:<identifier>".
type DID string

// Parse validates the structural shape of a DID: four colon-separated
// segments, the first literal "did", the second equal to DIDMethod. It does
// not resolve the DID or check that the identifier exists.
func (d DID) Parse() (chain, identifier string, err error) {
	parts := strings.Split(string(d), ":")
	if len(parts) != 4 {
		return "", "", ValidationErrorf("did %q: expected 4 colon-separated segments, got %d", d, len(parts))
	}
	if parts[0] != "did" {
		return "", "", ValidationErrorf("did %q: first segment must be \"did\"", d)
	}
	if parts[1] != DIDMethod {
		return "", "", ValidationErrorf("did %q: unrecognized method %q", d, parts[1])
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", ValidationErrorf("did %q: chain and identifier segments must be non-empty", d)
	}
	return parts[2], parts[3], nil
}

// Valid reports whether d parses as a structurally correct DID.
func (d DID) Valid() bool {
	_, _, err := d.Parse()
	return err == nil
}

// String satisfies fmt.Stringer.
func (d DID) String() string { return string(d) }

// KeyType distinguishes the two verification-method key encodings this
// mesh understands.
type KeyType string

const (
	// KeyTypeEd25519Multibase is a multibase-encoded Ed25519 public key.
	KeyTypeEd25519Multibase KeyType = "Ed25519VerificationKey2020"
	// KeyTypeSecp256k1CAIP10 is a blockchain account expressed as a
	// CAIP-10 identifier (e.g. "eip155:1:0xabc...").
	KeyTypeSecp256k1CAIP10 KeyType = "EcdsaSecp256k1RecoveryMethod2020"
)

// VerificationMethod is a single public key bound to a DID document.
type VerificationMethod struct {
	ID         string  `json:"id"`
	Type       KeyType `json:"type"`
	Controller DID     `json:"controller"`

	// PublicKeyMultibase holds the multibase-encoded Ed25519 key when
	// Type == KeyTypeEd25519Multibase.
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
	// BlockchainAccountID holds a CAIP-10 identifier
	// ("namespace:reference:account") when Type == KeyTypeSecp256k1CAIP10.
	BlockchainAccountID string `json:"blockchainAccountId,omitempty"`
}

// ServiceEndpoint is a service exposed by the owning DID.
type ServiceEndpoint struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// DocumentMetadata carries optional chain/registry context for a document.
type DocumentMetadata struct {
	ChainID               string     `json:"chainId,omitempty"`
	Created               *time.Time `json:"created,omitempty"`
	Updated               *time.Time `json:"updated,omitempty"`
	TrustRegistryContract string     `json:"trustRegistryContract,omitempty"`
}

// Document is a signed-at-rest DID document.
type Document struct {
	ID                  DID                  `json:"id"`
	VerificationMethod  []VerificationMethod `json:"verificationMethod,omitempty"`
	Service             []ServiceEndpoint    `json:"service,omitempty"`
	Metadata            *DocumentMetadata    `json:"metadata,omitempty"`
}

// Validate checks the DID validity of the document and that every
// verification method and service endpoint is correctly scoped to it: a
// verification method's id must be a fragment of the owning DID and its
// controller must equal that DID; likewise for service endpoints.
func (doc *Document) Validate() error {
	if !doc.ID.Valid() {
		return ValidationErrorf("document did %q does not parse", doc.ID)
	}
	prefix := string(doc.ID) + "#"
	for _, vm := range doc.VerificationMethod {
		if !strings.HasPrefix(vm.ID, prefix) {
			return ValidationErrorf("verification method id %q is not a fragment of %q", vm.ID, doc.ID)
		}
		if vm.Controller != doc.ID {
			return ValidationErrorf("verification method %q controller %q != document did %q", vm.ID, vm.Controller, doc.ID)
		}
		switch vm.Type {
		case KeyTypeEd25519Multibase:
			if vm.PublicKeyMultibase == "" {
				return ValidationErrorf("verification method %q missing publicKeyMultibase", vm.ID)
			}
			if _, _, err := multibase.Decode(vm.PublicKeyMultibase); err != nil {
				return ValidationErrorf("verification method %q has invalid multibase key: %v", vm.ID, err)
			}
		case KeyTypeSecp256k1CAIP10:
			if err := validateCAIP10(vm.BlockchainAccountID); err != nil {
				return ValidationErrorf("verification method %q: %v", vm.ID, err)
			}
		default:
			return ValidationErrorf("verification method %q has unknown type %q", vm.ID, vm.Type)
		}
	}
	for _, svc := range doc.Service {
		if !strings.HasPrefix(svc.ID, prefix) {
			return ValidationErrorf("service id %q is not a fragment of %q", svc.ID, doc.ID)
		}
	}
	return nil
}

// validateCAIP10 checks the "namespace:reference:account" shape used by
// blockchain-account verification methods and, for the eip155 namespace,
// that account parses as an Ethereum-style hex address.
func validateCAIP10(id string) error {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		return ValidationErrorf("blockchainAccountId %q: expected CAIP-10 namespace:reference:account", id)
	}
	namespace, _, account := parts[0], parts[1], parts[2]
	if namespace == "" || account == "" {
		return ValidationErrorf("blockchainAccountId %q: empty namespace or account", id)
	}
	if namespace == "eip155" && !common.IsHexAddress(account) {
		return ValidationErrorf("blockchainAccountId %q: account is not a valid hex address", id)
	}
	return nil
}
