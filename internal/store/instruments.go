package store

import (
	"context"
	"database/sql"
	"fmt"

	"payment-service/internal/models"

	"github.com/lib/pq"
)

// GetInstrument retrieves one mirrored instrument.
func (s *Store) GetInstrument(ctx context.Context, customerID, instrumentID string) (*models.PaymentInstrument, error) {
	var inst models.PaymentInstrument
	err := s.db.GetContext(ctx, &inst,
		"SELECT * FROM payment_instruments WHERE customer_id = $1 AND instrument_id = $2",
		customerID, instrumentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstrumentsByCustomer retrieves all mirrored instruments for a customer.
func (s *Store) ListInstrumentsByCustomer(ctx context.Context, customerID string) ([]models.PaymentInstrument, error) {
	var instruments []models.PaymentInstrument
	err := s.db.SelectContext(ctx, &instruments,
		"SELECT * FROM payment_instruments WHERE customer_id = $1 ORDER BY created_at", customerID)
	return instruments, err
}

// InsertInstrument mirrors a newly bound instrument. An instrument_id already
// present for the customer is left untouched.
func (s *Store) InsertInstrument(ctx context.Context, inst *models.PaymentInstrument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_instruments (instrument_id, customer_id, brand, last4, expiry_month, expiry_year, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id, instrument_id) DO NOTHING`,
		inst.InstrumentID, inst.CustomerID, inst.Brand, inst.Last4, inst.ExpiryMonth, inst.ExpiryYear, inst.IsDefault)
	return err
}

// ReplaceCustomerInstruments reconciles the mirror against a full remote
// fetch: rows absent from the fetched set are removed, new ones inserted.
// The remote list is authoritative; no merge.
func (s *Store) ReplaceCustomerInstruments(ctx context.Context, customerID string, instruments []models.PaymentInstrument) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(instruments) == 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM payment_instruments WHERE customer_id = $1", customerID); err != nil {
			return fmt.Errorf("failed to clear instrument mirror: %w", err)
		}
		return tx.Commit()
	}

	ids := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		ids = append(ids, inst.InstrumentID)
	}

	query := "DELETE FROM payment_instruments WHERE customer_id = $1 AND instrument_id <> ALL($2)"
	if _, err := tx.ExecContext(ctx, query, customerID, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to prune instrument mirror: %w", err)
	}

	for _, inst := range instruments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payment_instruments (instrument_id, customer_id, brand, last4, expiry_month, expiry_year, is_default)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (customer_id, instrument_id)
			DO UPDATE SET brand = EXCLUDED.brand, last4 = EXCLUDED.last4,
			              expiry_month = EXCLUDED.expiry_month, expiry_year = EXCLUDED.expiry_year,
			              is_default = EXCLUDED.is_default`,
			inst.InstrumentID, customerID, inst.Brand, inst.Last4, inst.ExpiryMonth, inst.ExpiryYear, inst.IsDefault)
		if err != nil {
			return fmt.Errorf("failed to mirror instrument %s: %w", inst.InstrumentID, err)
		}
	}

	return tx.Commit()
}

// DeleteInstrument removes one instrument from the local mirror.
func (s *Store) DeleteInstrument(ctx context.Context, customerID, instrumentID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM payment_instruments WHERE customer_id = $1 AND instrument_id = $2",
		customerID, instrumentID)
	return err
}
