package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrValidationFailed is the sentinel matched by every ValidationError.
var ErrValidationFailed = errors.New("validation failed")

// MaxNameLength bounds safe and purchase names.
const MaxNameLength = 200

// DateLayout is the fixed-width ISO date used for purchase dates.
const DateLayout = "2006-01-02"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidationError describes the first field that failed a domain constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidationFailed) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateID checks that id is a canonical 36-character UUID.
func ValidateID(field, id string) error {
	if len(id) != 36 {
		return invalid(field, "must be a UUID")
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalid(field, "must be a UUID")
	}
	return nil
}

// ValidateName checks a user supplied display name.
func ValidateName(field, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return invalid(field, "must not be empty")
	}
	if len(trimmed) > MaxNameLength {
		return invalid(field, "must be at most %d characters", MaxNameLength)
	}
	return nil
}

// Validate checks the safe against domain constraints.
func (s *Safe) Validate() error {
	if err := ValidateID("id", s.ID); err != nil {
		return err
	}
	return ValidateName("name", s.Name)
}

// Validate checks the purchase against domain constraints. The safe reference
// is only checked for shape here; existence is the caller's concern.
func (p *Purchase) Validate() error {
	if err := ValidateID("id", p.ID); err != nil {
		return err
	}
	if err := ValidateID("safeId", p.SafeID); err != nil {
		return err
	}
	if err := ValidateName("name", p.Name); err != nil {
		return err
	}
	if p.Metal != "" && p.Metal != MetalGold && p.Metal != MetalSilver {
		return invalid("metal", "must be %q or %q", MetalGold, MetalSilver)
	}
	if _, err := time.Parse(DateLayout, p.Date); err != nil {
		return invalid("date", "must be an ISO date (YYYY-MM-DD)")
	}
	if strings.TrimSpace(p.Type) == "" {
		return invalid("type", "must not be empty")
	}
	if math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) || p.Weight <= 0 {
		return invalid("weight", "must be a positive number of grams")
	}
	if math.IsNaN(p.BuyPrice) || math.IsInf(p.BuyPrice, 0) || p.BuyPrice < 0 {
		return invalid("buyPrice", "must be zero or a positive amount")
	}
	if !currencyPattern.MatchString(p.Currency) {
		return invalid("currency", "must be a three-letter ISO code")
	}
	if p.Link != "" {
		u, err := url.ParseRequestURI(p.Link)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("link", "must be an absolute URL")
		}
	}
	if p.ImageDataURL != "" && !strings.HasPrefix(p.ImageDataURL, "data:image/") {
		return invalid("imageDataUrl", "must be an image data URL")
	}
	return nil
}

// Validate checks every record and the references between them. The first
// violation is returned; nothing is coerced.
func (s *Snapshot) Validate() error {
	safeIDs := make(map[string]struct{}, len(s.Safes))
	for i := range s.Safes {
		if err := s.Safes[i].Validate(); err != nil {
			return prefixField(err, fmt.Sprintf("safes[%d]", i))
		}
		if _, dup := safeIDs[s.Safes[i].ID]; dup {
			return invalid(fmt.Sprintf("safes[%d].id", i), "duplicate id %s", s.Safes[i].ID)
		}
		safeIDs[s.Safes[i].ID] = struct{}{}
	}

	purchaseIDs := make(map[string]struct{}, len(s.Purchases))
	for i := range s.Purchases {
		p := &s.Purchases[i]
		if err := p.Validate(); err != nil {
			return prefixField(err, fmt.Sprintf("purchases[%d]", i))
		}
		if _, dup := purchaseIDs[p.ID]; dup {
			return invalid(fmt.Sprintf("purchases[%d].id", i), "duplicate id %s", p.ID)
		}
		purchaseIDs[p.ID] = struct{}{}
		if _, ok := safeIDs[p.SafeID]; !ok {
			return invalid(fmt.Sprintf("purchases[%d].safeId", i), "references unknown safe %s", p.SafeID)
		}
	}
	return nil
}

func prefixField(err error, prefix string) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: prefix + "." + ve.Field, Reason: ve.Reason}
	}
	return err
}

// The wire types use pointers so a missing required field can be told apart
// from a zero value.
type wireSafe struct {
	ID        *string `json:"id"`
	Name      *string `json:"name"`
	IsDefault *bool   `json:"isDefault"`
}

type wirePurchase struct {
	ID           *string  `json:"id"`
	SafeID       *string  `json:"safeId"`
	Name         *string  `json:"name"`
	Metal        *string  `json:"metal"`
	Date         *string  `json:"date"`
	Type         *string  `json:"type"`
	Weight       *float64 `json:"weight"`
	BuyPrice     *float64 `json:"buyPrice"`
	Currency     *string  `json:"currency"`
	Notes        *string  `json:"notes"`
	Link         *string  `json:"link"`
	ImageDataURL *string  `json:"imageDataUrl"`
}

type wireSnapshot struct {
	Safes     *[]wireSafe     `json:"safes"`
	Purchases *[]wirePurchase `json:"purchases"`
}

// ParseSnapshot strictly decodes an export document. Unknown fields, wrong
// types, missing required fields and trailing data are all rejected, and the
// decoded snapshot is validated before it is returned.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var wire wireSnapshot
	if err := dec.Decode(&wire); err != nil {
		return nil, invalid("", "malformed document: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid("", "unexpected data after document")
	}
	if wire.Safes == nil {
		return nil, invalid("safes", "is required")
	}
	if wire.Purchases == nil {
		return nil, invalid("purchases", "is required")
	}

	snap := &Snapshot{
		Safes:     make([]Safe, 0, len(*wire.Safes)),
		Purchases: make([]Purchase, 0, len(*wire.Purchases)),
	}

	for i, ws := range *wire.Safes {
		field := fmt.Sprintf("safes[%d]", i)
		if ws.ID == nil {
			return nil, invalid(field+".id", "is required")
		}
		if ws.Name == nil {
			return nil, invalid(field+".name", "is required")
		}
		safe := Safe{ID: *ws.ID, Name: *ws.Name}
		if ws.IsDefault != nil {
			safe.IsDefault = *ws.IsDefault
		}
		snap.Safes = append(snap.Safes, safe)
	}

	for i, wp := range *wire.Purchases {
		field := fmt.Sprintf("purchases[%d]", i)
		required := []struct {
			name    string
			present bool
		}{
			{"id", wp.ID != nil},
			{"safeId", wp.SafeID != nil},
			{"name", wp.Name != nil},
			{"date", wp.Date != nil},
			{"type", wp.Type != nil},
			{"weight", wp.Weight != nil},
			{"buyPrice", wp.BuyPrice != nil},
			{"currency", wp.Currency != nil},
		}
		for _, r := range required {
			if !r.present {
				return nil, invalid(field+"."+r.name, "is required")
			}
		}

		p := Purchase{
			ID:       *wp.ID,
			SafeID:   *wp.SafeID,
			Name:     *wp.Name,
			Date:     *wp.Date,
			Type:     *wp.Type,
			Weight:   *wp.Weight,
			BuyPrice: *wp.BuyPrice,
			Currency: *wp.Currency,
		}
		if wp.Metal != nil {
			p.Metal = *wp.Metal
		}
		if wp.Notes != nil {
			p.Notes = *wp.Notes
		}
		if wp.Link != nil {
			p.Link = *wp.Link
		}
		if wp.ImageDataURL != nil {
			p.ImageDataURL = *wp.ImageDataURL
		}
		snap.Purchases = append(snap.Purchases, p)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}
