package sqlstore

import (
	"context"

	"labdesk.org/internal/quotes"
)

var _ quotes.Store = (*Store)(nil)

func (s *Store) InsertQuote(ctx context.Context, q quotes.Quote) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into quotations (id, customer, service, price_cents, currency, quote_date, created_at)
		values (?, ?, ?, ?, ?, ?, ?)
	`), q.ID, q.Customer, q.Service, q.PriceCents, q.Currency, q.Date, formatTS(q.CreatedAt))
	return mapErr(err)
}

func (s *Store) ListQuotes(ctx context.Context) ([]quotes.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, customer, service, price_cents, currency, quote_date, created_at
		from quotations
		order by quote_date desc, id desc
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []quotes.Quote
	for rows.Next() {
		var (
			q       quotes.Quote
			created string
		)
		if err := rows.Scan(&q.ID, &q.Customer, &q.Service, &q.PriceCents, &q.Currency, &q.Date, &created); err != nil {
			return nil, mapErr(err)
		}
		if q.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, mapErr(rows.Err())
}
