package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BusinessService manages the tenancy tree: businesses and the
// locations under them. Every other table hangs off a location.
type BusinessService interface {
	CreateBusiness(ctx context.Context, name string) (*Business, error)
	GetBusiness(ctx context.Context, businessID int64) (*Business, error)
	ListBusinesses(ctx context.Context) ([]Business, error)
	CreateLocation(ctx context.Context, businessID int64, name, timezone string) (*Location, error)
	GetLocation(ctx context.Context, locationID int64) (*Location, error)
	ListLocations(ctx context.Context, businessID int64) ([]Location, error)
}

type businessService struct {
	pool *pgxpool.Pool
}

func NewBusinessService(pool *pgxpool.Pool) BusinessService {
	return &businessService{pool: pool}
}

func (s *businessService) CreateBusiness(ctx context.Context, name string) (*Business, error) {
	if name == "" {
		return nil, ErrValidation("business name is required")
	}
	b := &Business{Name: name}
	err := s.pool.QueryRow(ctx,
		"INSERT INTO businesses (name) VALUES ($1) RETURNING id, created_at",
		b.Name).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create business: %w", err)
	}
	return b, nil
}

func (s *businessService) GetBusiness(ctx context.Context, businessID int64) (*Business, error) {
	var b Business
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, created_at FROM businesses WHERE id = $1",
		businessID).Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("business", businessID)
		}
		return nil, fmt.Errorf("failed to fetch business %d: %w", businessID, err)
	}
	return &b, nil
}

func (s *businessService) ListBusinesses(ctx context.Context) ([]Business, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, created_at FROM businesses ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	defer rows.Close()

	var list []Business
	for rows.Next() {
		var b Business
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func (s *businessService) CreateLocation(ctx context.Context, businessID int64, name, timezone string) (*Location, error) {
	if name == "" {
		return nil, ErrValidation("location name is required")
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, ErrValidation("unknown timezone %q", timezone)
	}
	if _, err := s.GetBusiness(ctx, businessID); err != nil {
		return nil, err
	}

	l := &Location{BusinessID: businessID, Name: name, Timezone: timezone}
	err := s.pool.QueryRow(ctx,
		"INSERT INTO locations (business_id, name, timezone) VALUES ($1, $2, $3) RETURNING id, created_at",
		l.BusinessID, l.Name, l.Timezone).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "business %d already has a location named %q", businessID, name)
		}
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	return l, nil
}

func (s *businessService) GetLocation(ctx context.Context, locationID int64) (*Location, error) {
	var l Location
	err := s.pool.QueryRow(ctx,
		"SELECT id, business_id, name, timezone, created_at FROM locations WHERE id = $1",
		locationID).Scan(&l.ID, &l.BusinessID, &l.Name, &l.Timezone, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("location", locationID)
		}
		return nil, fmt.Errorf("failed to fetch location %d: %w", locationID, err)
	}
	return &l, nil
}

func (s *businessService) ListLocations(ctx context.Context, businessID int64) ([]Location, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, business_id, name, timezone, created_at FROM locations WHERE business_id = $1 ORDER BY name",
		businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var list []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.BusinessID, &l.Name, &l.Timezone, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		list = append(list, l)
	}
	return list, rows.Err()
}
