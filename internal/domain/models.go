// Package domain defines the records kept in the vault and the shapes that
// cross its boundary: plaintext Safes and Purchases, the sealed envelopes that
// are actually persisted, price cache rows, and export snapshots.
package domain

// Metals recognised by valuation and the price providers.
const (
	MetalGold   = "Gold"
	MetalSilver = "Silver"
)

// Built-in purchase types. Any other non-empty type is accepted as custom.
const (
	TypeCoin    = "Coin"
	TypeBar     = "Bar"
	TypeJewelry = "Jewelry"
)

// DefaultSafeName is the name of the safe created when a vault has none.
const DefaultSafeName = "Default"

// Safe is a named container of purchases.
type Safe struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// Purchase is a single precious-metal holding.
type Purchase struct {
	ID           string  `json:"id"`
	SafeID       string  `json:"safeId"`
	Name         string  `json:"name"`
	Metal        string  `json:"metal,omitempty"`
	Date         string  `json:"date"`
	Type         string  `json:"type"`
	Weight       float64 `json:"weight"`
	BuyPrice     float64 `json:"buyPrice"`
	Currency     string  `json:"currency"`
	Notes        string  `json:"notes,omitempty"`
	Link         string  `json:"link,omitempty"`
	ImageDataURL string  `json:"imageDataUrl,omitempty"`
}

// MetalOrDefault returns the purchase metal, treating an unset metal as gold.
func (p *Purchase) MetalOrDefault() string {
	if p.Metal == "" {
		return MetalGold
	}
	return p.Metal
}

// IsGift reports whether the purchase was acquired at no cost.
func (p *Purchase) IsGift() bool {
	return p.BuyPrice == 0
}

// PurchaseInput carries the user-editable fields of a new purchase.
type PurchaseInput struct {
	SafeID       string
	Name         string
	Metal        string
	Date         string
	Type         string
	Weight       float64
	BuyPrice     float64
	Currency     string
	Notes        string
	Link         string
	ImageDataURL string
}

// ToPurchase builds a purchase with the given id from the input fields.
func (in PurchaseInput) ToPurchase(id string) Purchase {
	return Purchase{
		ID:           id,
		SafeID:       in.SafeID,
		Name:         in.Name,
		Metal:        in.Metal,
		Date:         in.Date,
		Type:         in.Type,
		Weight:       in.Weight,
		BuyPrice:     in.BuyPrice,
		Currency:     in.Currency,
		Notes:        in.Notes,
		Link:         in.Link,
		ImageDataURL: in.ImageDataURL,
	}
}

// SealedEnvelope is the at-rest form of a Safe or Purchase. SafeID is only set
// for purchases and is kept in the clear so the store can index by safe.
type SealedEnvelope struct {
	ID         string `json:"id"`
	SafeID     string `json:"safeId,omitempty"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// PriceCacheEntry is an unencrypted cache row for market data.
type PriceCacheEntry struct {
	ID        string  `json:"id"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
	Source    string  `json:"source"`
	Data      string  `json:"data,omitempty"`
}

// Snapshot is the plaintext export/import document.
type Snapshot struct {
	Safes     []Safe     `json:"safes"`
	Purchases []Purchase `json:"purchases"`
}

// Filter narrows a purchase listing.
type Filter struct {
	Search       string   `json:"search"`
	Type         string   `json:"type"`
	SearchTokens []string `json:"search_tokens"`
}
