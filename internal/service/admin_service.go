package service

import (
	"context"

	"github.com/google/uuid"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/repository"
)

// AdminService serves the read-only queries of the staff surface.
type AdminService struct {
	restaurants  repository.RestaurantRepository
	tables       repository.TableRepository
	reservations repository.ReservationRepository
	lifecycle    *ReservationService
}

func NewAdminService(repos repository.Repositories, lifecycle *ReservationService) *AdminService {
	return &AdminService{
		restaurants:  repos.Restaurants,
		tables:       repos.Tables,
		reservations: repos.Reservations,
		lifecycle:    lifecycle,
	}
}

// Restaurant returns the deployment's restaurant.
func (s *AdminService) Restaurant(ctx context.Context) (*db.Restaurant, error) {
	return s.restaurants.First(ctx)
}

func (s *AdminService) ListTables(ctx context.Context) ([]db.Table, error) {
	r, err := s.restaurants.First(ctx)
	if err != nil {
		return nil, err
	}
	return s.tables.ListByCapacity(ctx, r.ID)
}

func (s *AdminService) ListReservations(ctx context.Context, filter entities.ReservationFilter) ([]entities.ReservationView, error) {
	if filter.Status != "" {
		if _, err := db.ParseStatus(filter.Status); err != nil {
			return nil, apperrors.ErrBadRequest(err.Error())
		}
	}
	list, err := s.reservations.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]entities.ReservationView, 0, len(list))
	for _, r := range list {
		v, err := s.lifecycle.View(ctx, r)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *AdminService) GetReservation(ctx context.Context, id uuid.UUID) (*entities.ReservationView, error) {
	r, err := s.reservations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := s.lifecycle.View(ctx, *r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
