package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"liblend/internal/config"
	"liblend/internal/labels"
	"liblend/internal/models"
	"liblend/internal/repositories"
)

// ─── Loan Policy Constants ────────────────────────────────────────────────────

const (
	// LoanPeriodDays is how long a copy may be kept before it counts as overdue.
	LoanPeriodDays = 7

	// MaxActiveLoans is the per-user concurrent-loan cap across all sites.
	MaxActiveLoans = 5
)

// conditionalWriteAttempts bounds the read-validate-write loop: the first
// attempt plus one automatic retry after a lost race.
const conditionalWriteAttempts = 2

// ─── Service Interface ────────────────────────────────────────────────────────

// RegisterCopyInput is the staff registration payload for a new physical copy.
type RegisterCopyInput struct {
	Category      string
	Site          string
	Sequence      string
	TitleKey      string
	Title         string
	Author        string
	Publisher     string
	CoverURL      string
	ShelfLocation string
	RegisteredBy  uuid.UUID
}

// RentalService owns the per-copy status lifecycle and the cross-copy
// borrowing policy evaluated in front of it.
type RentalService interface {
	RegisterCopy(in RegisterCopyInput) (*models.Copy, error)
	Relabel(label, newCategory, newSequence string, staffID uuid.UUID) (*models.Copy, error)

	RequestLoan(label string, userID uuid.UUID) (*models.Copy, error)
	ApproveLoan(label string, userID uuid.UUID) (*models.Copy, error)
	CancelRequest(label string, userID uuid.UUID) (*models.Copy, error)
	ReturnCopy(label string, actorID uuid.UUID) (*models.Copy, error)
	DeleteCopy(label string, staffID uuid.UUID) error

	GetCopy(label string) (*models.Copy, error)
	ListCopies(site string) ([]models.Copy, error)
	GroupedCatalog(site string) ([]labels.TitleGroup, error)
	ListUserLoans(userID uuid.UUID) ([]models.Copy, error)
}

type rentalService struct {
	db       *gorm.DB
	sites    config.Sites
	userRepo repositories.UserRepository
	copyRepo repositories.CopyRepository
	observer TransitionObserver
}

// NewRentalService wires the state machine. A nil observer disables
// transition notifications.
func NewRentalService(
	db *gorm.DB,
	sites config.Sites,
	userRepo repositories.UserRepository,
	copyRepo repositories.CopyRepository,
	observer TransitionObserver,
) RentalService {
	if observer == nil {
		observer = noopObserver{}
	}
	return &rentalService{
		db:       db,
		sites:    sites,
		userRepo: userRepo,
		copyRepo: copyRepo,
		observer: observer,
	}
}

// ─── Registration ─────────────────────────────────────────────────────────────

// RegisterCopy allocates the label and creates the copy in AVAILABLE state.
// Label uniqueness is enforced by the primary key; a collision surfaces as
// ErrDuplicateLabel.
func (s *rentalService) RegisterCopy(in RegisterCopyInput) (*models.Copy, error) {
	label, err := labels.Allocate(s.sites, in.Category, in.Site, in.Sequence)
	if err != nil {
		return nil, err
	}
	code, _ := s.sites.CodeFor(in.Site)

	now := time.Now().UTC()
	copy := &models.Copy{
		LabelNumber:   label,
		Category:      strings.TrimSpace(in.Category),
		Site:          in.Site,
		SiteCode:      code,
		TitleKey:      in.TitleKey,
		Title:         in.Title,
		Author:        in.Author,
		Publisher:     in.Publisher,
		CoverURL:      in.CoverURL,
		ShelfLocation: in.ShelfLocation,
		Status:        models.CopyStatusAvailable,
		RegisteredBy:  in.RegisteredBy,
		RegisteredAt:  now,
	}
	if err := s.copyRepo.Create(nil, copy); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLabel, label)
		}
		log.Printf("[ERROR] RegisterCopy: failed to create copy %s: %v", label, err)
		return nil, err
	}
	log.Printf("[INFO] RegisterCopy: registered %q as %s at %s", copy.Title, label, in.Site)
	s.observer.OnCopyTransition(nil, copy)
	return copy, nil
}

// Relabel moves a copy to a new identity: the new row is written with all
// fields copied, then the old row is removed, in one transaction. The label
// is the document key, so identity never mutates in place. Only an
// AVAILABLE copy may be relabeled.
func (s *rentalService) Relabel(label, newCategory, newSequence string, staffID uuid.UUID) (*models.Copy, error) {
	old, err := s.getLive(label)
	if err != nil {
		return nil, err
	}
	if old.Status != models.CopyStatusAvailable {
		return nil, fmt.Errorf("%w: %s is %s", ErrCopyInUse, label, old.Status)
	}

	newLabel, err := labels.Allocate(s.sites, newCategory, old.Site, newSequence)
	if err != nil {
		return nil, err
	}
	if newLabel == old.LabelNumber {
		return old, nil
	}

	renamed := *old
	renamed.LabelNumber = newLabel
	renamed.Category = strings.TrimSpace(newCategory)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.copyRepo.Create(tx, &renamed); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateLabel, newLabel)
			}
			return err
		}
		return s.copyRepo.DeleteRow(tx, old.LabelNumber)
	})
	if err != nil {
		log.Printf("[ERROR] Relabel: %s -> %s failed: %v", label, newLabel, err)
		return nil, err
	}
	log.Printf("[INFO] Relabel: %s renamed to %s by %s", label, newLabel, staffID)
	return &renamed, nil
}

// ─── State Machine Operations ─────────────────────────────────────────────────

// RequestLoan moves an AVAILABLE copy to REQUESTED for the given user,
// after the borrowing policy guard passes.
func (s *rentalService) RequestLoan(label string, userID uuid.UUID) (*models.Copy, error) {
	if _, err := s.userRepo.GetByID(nil, userID); err != nil {
		return nil, s.classifyUserErr(err)
	}

	return s.transition(label, func(copy *models.Copy) (models.CopyStatus, *uuid.UUID, map[string]interface{}, error) {
		if err := s.checkBorrowingPolicy(userID, copy); err != nil {
			return "", nil, nil, err
		}
		if copy.Status != models.CopyStatusAvailable {
			return "", nil, nil, fmt.Errorf("%w: %s is %s", ErrCopyUnavailable, label, copy.Status)
		}
		now := time.Now().UTC()
		return models.CopyStatusAvailable, nil, map[string]interface{}{
			"status":       models.CopyStatusRequested,
			"requested_by": userID,
			"requested_at": now,
			"updated_at":   now,
		}, nil
	})
}

// ApproveLoan rents the copy to the user: a direct borrow from AVAILABLE,
// or a staff approval of the user's own pending request. The borrowing
// policy guard runs first.
func (s *rentalService) ApproveLoan(label string, userID uuid.UUID) (*models.Copy, error) {
	if _, err := s.userRepo.GetByID(nil, userID); err != nil {
		return nil, s.classifyUserErr(err)
	}

	return s.transition(label, func(copy *models.Copy) (models.CopyStatus, *uuid.UUID, map[string]interface{}, error) {
		if err := s.checkBorrowingPolicy(userID, copy); err != nil {
			return "", nil, nil, err
		}

		var expectHolder *uuid.UUID
		switch copy.Status {
		case models.CopyStatusAvailable:
			// direct loan, no request step
		case models.CopyStatusRequested:
			if copy.RequestedBy == nil || *copy.RequestedBy != userID {
				return "", nil, nil, fmt.Errorf("%w: %s is requested by another user", ErrCopyUnavailable, label)
			}
			expectHolder = &userID
		default:
			return "", nil, nil, fmt.Errorf("%w: %s is %s", ErrCopyUnavailable, label, copy.Status)
		}

		now := time.Now().UTC()
		due := now.AddDate(0, 0, LoanPeriodDays)
		return copy.Status, expectHolder, map[string]interface{}{
			"status":             models.CopyStatusRented,
			"rented_by":          userID,
			"rented_at":          now,
			"expected_return_at": due,
			"requested_by":       nil,
			"requested_at":       nil,
			"updated_at":         now,
		}, nil
	})
}

// CancelRequest undoes the user's own pending request, restoring the copy
// to AVAILABLE with request fields cleared.
func (s *rentalService) CancelRequest(label string, userID uuid.UUID) (*models.Copy, error) {
	return s.transition(label, func(copy *models.Copy) (models.CopyStatus, *uuid.UUID, map[string]interface{}, error) {
		if copy.Status != models.CopyStatusRequested || copy.RequestedBy == nil || *copy.RequestedBy != userID {
			return "", nil, nil, fmt.Errorf("%w: %s", ErrNotOwner, label)
		}
		return models.CopyStatusRequested, &userID, map[string]interface{}{
			"status":       models.CopyStatusAvailable,
			"requested_by": nil,
			"requested_at": nil,
			"updated_at":   time.Now().UTC(),
		}, nil
	})
}

// ReturnCopy ends the loan, stamping returnedAt. An overdue copy is still
// RENTED and comes back through here like any other. A successful return
// triggers return-watch consumption via the observer.
func (s *rentalService) ReturnCopy(label string, actorID uuid.UUID) (*models.Copy, error) {
	copy, err := s.transition(label, func(copy *models.Copy) (models.CopyStatus, *uuid.UUID, map[string]interface{}, error) {
		if copy.Status != models.CopyStatusRented {
			return "", nil, nil, fmt.Errorf("%w: %s is %s", ErrNotRented, label, copy.Status)
		}
		now := time.Now().UTC()
		return models.CopyStatusRented, nil, map[string]interface{}{
			"status":             models.CopyStatusAvailable,
			"rented_by":          nil,
			"rented_at":          nil,
			"expected_return_at": nil,
			"returned_at":        now,
			"updated_at":         now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] ReturnCopy: %s returned (processed by %s)", label, actorID)
	return copy, nil
}

// DeleteCopy retires an AVAILABLE copy. Deletion while rented or requested
// is forbidden.
func (s *rentalService) DeleteCopy(label string, staffID uuid.UUID) error {
	_, err := s.transition(label, func(copy *models.Copy) (models.CopyStatus, *uuid.UUID, map[string]interface{}, error) {
		if copy.Status != models.CopyStatusAvailable {
			return "", nil, nil, fmt.Errorf("%w: %s is %s", ErrCopyInUse, label, copy.Status)
		}
		return models.CopyStatusAvailable, nil, map[string]interface{}{
			"status":     models.CopyStatusDeleted,
			"updated_at": time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] DeleteCopy: %s retired by %s", label, staffID)
	return nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

func (s *rentalService) GetCopy(label string) (*models.Copy, error) {
	return s.getLive(label)
}

func (s *rentalService) ListCopies(site string) ([]models.Copy, error) {
	return s.copyRepo.List(nil, site)
}

func (s *rentalService) GroupedCatalog(site string) ([]labels.TitleGroup, error) {
	copies, err := s.copyRepo.List(nil, site)
	if err != nil {
		return nil, err
	}
	return labels.GroupByTitle(copies), nil
}

func (s *rentalService) ListUserLoans(userID uuid.UUID) ([]models.Copy, error) {
	return s.copyRepo.ListActiveByUser(nil, userID)
}

// ─── Internals ────────────────────────────────────────────────────────────────

// plan inspects the freshly read copy and either rejects the operation or
// yields the conditional-write precondition (expected status and holder)
// and the field updates to apply.
type plan func(copy *models.Copy) (expect models.CopyStatus, expectHolder *uuid.UUID, updates map[string]interface{}, err error)

// transition runs the read-validate-conditional-write sequence for one
// copy. A write that matches zero rows means the state moved between read
// and write; the sequence is retried once from a fresh read, and a second
// lost race surfaces as ErrConflict.
func (s *rentalService) transition(label string, p plan) (*models.Copy, error) {
	for attempt := 1; attempt <= conditionalWriteAttempts; attempt++ {
		before, err := s.getLive(label)
		if err != nil {
			return nil, err
		}

		expect, expectHolder, updates, err := p(before)
		if err != nil {
			return nil, err
		}

		rows, err := s.copyRepo.TransitionStatus(nil, label, expect, expectHolder, updates)
		if err != nil {
			log.Printf("[ERROR] transition: conditional write on %s failed: %v", label, err)
			return nil, err
		}
		if rows == 0 {
			log.Printf("[WARN] transition: lost race on %s (attempt %d), re-reading", label, attempt)
			continue
		}

		after, err := s.copyRepo.GetByLabel(nil, label)
		if err != nil {
			// The transition landed; fall back to the planned state so
			// the caller and the observer still see it.
			log.Printf("[WARN] transition: re-read of %s failed after write, using planned state: %v", label, err)
			after = projectUpdates(before, updates)
		}
		s.observer.OnCopyTransition(before, after)
		return after, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, label)
}

// projectUpdates applies a plan's column updates to a snapshot of the copy,
// reconstructing the post-write state when it cannot be read back.
func projectUpdates(before *models.Copy, updates map[string]interface{}) *models.Copy {
	after := *before
	for column, value := range updates {
		switch column {
		case "status":
			after.Status = value.(models.CopyStatus)
		case "rented_by":
			after.RentedBy = asUUIDPtr(value)
		case "rented_at":
			after.RentedAt = asTimePtr(value)
		case "expected_return_at":
			after.ExpectedReturnAt = asTimePtr(value)
		case "requested_by":
			after.RequestedBy = asUUIDPtr(value)
		case "requested_at":
			after.RequestedAt = asTimePtr(value)
		case "returned_at":
			after.ReturnedAt = asTimePtr(value)
		case "updated_at":
			if t := asTimePtr(value); t != nil {
				after.UpdatedAt = *t
			}
		}
	}
	return &after
}

func asUUIDPtr(value interface{}) *uuid.UUID {
	if value == nil {
		return nil
	}
	id := value.(uuid.UUID)
	return &id
}

func asTimePtr(value interface{}) *time.Time {
	if value == nil {
		return nil
	}
	t := value.(time.Time)
	return &t
}

// checkBorrowingPolicy enforces the cross-copy invariants before a request
// or approval: no second copy of a held title, and the concurrent-loan cap.
// These run over a separate read and are not covered by the per-copy
// conditional write; the narrow race this leaves open is accepted.
func (s *rentalService) checkBorrowingPolicy(userID uuid.UUID, target *models.Copy) error {
	active, err := s.copyRepo.ListActiveByUser(nil, userID)
	if err != nil {
		log.Printf("[ERROR] checkBorrowingPolicy: failed to load active loans for %s: %v", userID, err)
		return err
	}

	for _, held := range active {
		if held.TitleKey == target.TitleKey {
			return fmt.Errorf("%w: %q is already held as %s", ErrDuplicateTitle, held.Title, held.LabelNumber)
		}
	}

	if len(active) >= MaxActiveLoans {
		due := earliestReturn(active)
		if due != nil {
			days := daysUntil(*due, time.Now().UTC())
			if days < 0 {
				days = 0
			}
			return fmt.Errorf("%w: %d of %d loans in use, next slot frees in %d day(s)",
				ErrLoanLimitReached, len(active), MaxActiveLoans, days)
		}
		return fmt.Errorf("%w: %d of %d loans in use", ErrLoanLimitReached, len(active), MaxActiveLoans)
	}
	return nil
}

func earliestReturn(copies []models.Copy) *time.Time {
	var earliest *time.Time
	for i := range copies {
		due := copies[i].ExpectedReturnAt
		if due == nil {
			continue
		}
		if earliest == nil || due.Before(*earliest) {
			earliest = due
		}
	}
	return earliest
}

// getLive loads a copy, treating both a missing row and a retired copy as
// not found.
func (s *rentalService) getLive(label string) (*models.Copy, error) {
	copy, err := s.copyRepo.GetByLabel(nil, label)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCopyNotFound, label)
		}
		return nil, err
	}
	if copy.Status == models.CopyStatusDeleted {
		return nil, fmt.Errorf("%w: %s", ErrCopyNotFound, label)
	}
	return copy, nil
}

func (s *rentalService) classifyUserErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

// isUniqueViolation checks for a unique-constraint error from either
// backend. PostgreSQL reports code 23505; SQLite names the constraint.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "UNIQUE constraint")
}
