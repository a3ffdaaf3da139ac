// Package quotes keeps the quotations issued to customers.
package quotes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
	"labdesk.org/internal/maintenance"
)

// Quote is a price offered for a lab service. Prices are in minor units.
type Quote struct {
	ID         string           `json:"id"`
	Customer   string           `json:"customer"`
	Service    string           `json:"service"`
	PriceCents int64            `json:"price_cents"`
	Currency   string           `json:"currency"`
	Date       maintenance.Date `json:"date"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Store persists quotations.
type Store interface {
	InsertQuote(ctx context.Context, q Quote) error
	// ListQuotes orders newest date first, then id descending.
	ListQuotes(ctx context.Context) ([]Quote, error)
}

// Service adds and lists quotations.
type Service struct {
	store Store
}

// NewService builds a Service.
func NewService(store Store) *Service { return &Service{store: store} }

// Add records a quotation.
func (s *Service) Add(ctx context.Context, customer, service string, priceCents int64, currency string, date maintenance.Date, now time.Time) (Quote, error) {
	customer = strings.TrimSpace(customer)
	service = strings.TrimSpace(service)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case customer == "":
		return Quote{}, fmt.Errorf("%w: customer is required", apperrors.ErrInvalidInput)
	case service == "":
		return Quote{}, fmt.Errorf("%w: service is required", apperrors.ErrInvalidInput)
	case priceCents < 0:
		return Quote{}, fmt.Errorf("%w: price must not be negative", apperrors.ErrInvalidInput)
	case len(currency) != 3:
		return Quote{}, fmt.Errorf("%w: currency must be a 3-letter code", apperrors.ErrInvalidInput)
	case date.IsZero():
		return Quote{}, fmt.Errorf("%w: date is required", apperrors.ErrInvalidInput)
	}
	q := Quote{
		ID:         ids.NewAt(now),
		Customer:   customer,
		Service:    service,
		PriceCents: priceCents,
		Currency:   currency,
		Date:       date,
		CreatedAt:  now.UTC(),
	}
	if err := s.store.InsertQuote(ctx, q); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// List returns all quotations, newest first.
func (s *Service) List(ctx context.Context) ([]Quote, error) {
	return s.store.ListQuotes(ctx)
}

// ParsePrice converts "1234.50" into 123450 minor units.
func ParsePrice(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: price is required", apperrors.ErrInvalidInput)
	}
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("%w: price must have at most two decimals", apperrors.ErrInvalidInput)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var units int64
	for _, part := range []string{whole, frac} {
		if part == "" {
			return 0, fmt.Errorf("%w: malformed price %q", apperrors.ErrInvalidInput, raw)
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("%w: malformed price %q", apperrors.ErrInvalidInput, raw)
			}
			units = units*10 + int64(r-'0')
		}
	}
	return units, nil
}
