package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeShares

	// System sub-types
	SubTypeSystemVault

	// External sub-types
	SubTypeExternalFunding
	SubTypeExternalIssuance
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	// AssetBase is the staked liquidity token held in wallets and the vault.
	AssetBase AssetID = 1
	// AssetShare is the claim-share token minted against the vault.
	AssetShare AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"LQT":  AssetBase,
		"xLQT": AssetShare,
	}
	idToAsset = map[AssetID]string{
		AssetBase:  "LQT",
		AssetShare: "xLQT",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system/external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewWalletKey returns the base-asset wallet account for a user.
func NewWalletKey(userID uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  AssetBase,
	}
}

// NewShareKey returns the share-holding account for a user.
func NewShareKey(userID uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeShares,
		AssetID:  AssetShare,
	}
}

// NewVaultKey returns the singleton vault account.
func NewVaultKey() AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: SubTypeSystemVault,
		AssetID: AssetBase,
	}
}

// NewFundingKey returns the external boundary account for deposits and
// withdrawals. Its balance goes negative as funds enter the system.
func NewFundingKey() AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalFunding,
		AssetID: AssetBase,
	}
}

// NewIssuanceKey returns the mint/burn contra account for shares.
// Share supply equals the negation of this account's balance.
func NewIssuanceKey() AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalIssuance,
		AssetID: AssetShare,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath. Used when restoring
// balances from a snapshot, where keys travel as path strings.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		subType, err := parseSubType(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset %s", path, parts[3])
		}
		return AccountKey{
			Scope:    AccountScopeUser,
			EntityID: uid,
			SubType:  subType,
			AssetID:  assetID,
		}, nil

	case len(parts) == 3 && (parts[0] == "system" || parts[0] == "external"):
		scope := AccountScopeSystem
		if parts[0] == "external" {
			scope = AccountScopeExternal
		}
		subType, err := parseSubType(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset %s", path, parts[2])
		}
		return AccountKey{
			Scope:   scope,
			SubType: subType,
			AssetID: assetID,
		}, nil
	}

	return AccountKey{}, fmt.Errorf("parse account path %q: unrecognized format", path)
}

func parseSubType(name string) (AccountSubType, error) {
	switch name {
	case "wallet":
		return SubTypeWallet, nil
	case "shares":
		return SubTypeShares, nil
	case "vault":
		return SubTypeSystemVault, nil
	case "funding":
		return SubTypeExternalFunding, nil
	case "issuance":
		return SubTypeExternalIssuance, nil
	default:
		return 0, fmt.Errorf("unknown account sub-type %q", name)
	}
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeShares:
		return "shares"
	case SubTypeSystemVault:
		return "vault"
	case SubTypeExternalFunding:
		return "funding"
	case SubTypeExternalIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}
