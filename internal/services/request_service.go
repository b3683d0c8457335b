package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"liblend/internal/models"
	"liblend/internal/repositories"
)

// CreateRequestInput is the payload for a cross-site loan registration
// request (also used to request buying a title).
type CreateRequestInput struct {
	TitleKey    string
	Title       string
	Author      string
	Publisher   string
	CoverURL    string
	Site        string
	RequestedBy uuid.UUID
}

// RequestService owns the LoanRequest lifecycle: pending on creation,
// decided exactly once by staff, never hard-deleted.
type RequestService interface {
	Create(in CreateRequestInput) (*models.LoanRequest, error)
	Approve(id, staffID uuid.UUID) (*models.LoanRequest, error)
	Reject(id, staffID uuid.UUID) (*models.LoanRequest, error)
	ListBySite(site string, status models.RequestStatus) ([]models.LoanRequest, error)
	ListByUser(userID uuid.UUID) ([]models.LoanRequest, error)
}

type requestService struct {
	db       *gorm.DB
	reqRepo  repositories.LoanRequestRepository
	observer TransitionObserver
}

func NewRequestService(db *gorm.DB, reqRepo repositories.LoanRequestRepository, observer TransitionObserver) RequestService {
	if observer == nil {
		observer = noopObserver{}
	}
	return &requestService{db: db, reqRepo: reqRepo, observer: observer}
}

func (s *requestService) Create(in CreateRequestInput) (*models.LoanRequest, error) {
	req := &models.LoanRequest{
		TitleKey:    in.TitleKey,
		Title:       in.Title,
		Author:      in.Author,
		Publisher:   in.Publisher,
		CoverURL:    in.CoverURL,
		Site:        in.Site,
		Status:      models.RequestStatusPending,
		RequestedBy: in.RequestedBy,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.reqRepo.Create(nil, req); err != nil {
		log.Printf("[ERROR] CreateRequest: failed to create request for %q at %s: %v", in.Title, in.Site, err)
		return nil, err
	}
	log.Printf("[INFO] CreateRequest: %q requested at %s by %s (id=%s)", req.Title, req.Site, req.RequestedBy, req.ID)
	s.observer.OnRequestTransition(nil, req)
	return req, nil
}

func (s *requestService) Approve(id, staffID uuid.UUID) (*models.LoanRequest, error) {
	return s.decide(id, staffID, models.RequestStatusApproved)
}

func (s *requestService) Reject(id, staffID uuid.UUID) (*models.LoanRequest, error) {
	return s.decide(id, staffID, models.RequestStatusRejected)
}

// decide conditionally moves the request out of PENDING. Losing the race
// to another staff member surfaces as the request already being decided.
func (s *requestService) decide(id, staffID uuid.UUID, to models.RequestStatus) (*models.LoanRequest, error) {
	before, err := s.reqRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return nil, err
	}
	if before.Status != models.RequestStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrRequestDecided, id, before.Status)
	}

	rows, err := s.reqRepo.Decide(nil, id, to, staffID, time.Now().UTC())
	if err != nil {
		log.Printf("[ERROR] decide: failed to mark request %s %s: %v", id, to, err)
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRequestDecided, id)
	}

	after, err := s.reqRepo.GetByID(nil, id)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] decide: request %s %s by %s", id, to, staffID)
	s.observer.OnRequestTransition(before, after)
	return after, nil
}

func (s *requestService) ListBySite(site string, status models.RequestStatus) ([]models.LoanRequest, error) {
	return s.reqRepo.ListBySite(nil, site, status)
}

func (s *requestService) ListByUser(userID uuid.UUID) ([]models.LoanRequest, error) {
	return s.reqRepo.ListByUser(nil, userID)
}
