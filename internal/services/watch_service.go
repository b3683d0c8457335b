package services

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"liblend/internal/models"
	"liblend/internal/repositories"
)

// WatchService manages return watches: a user's request to be told once
// when a copy of a title becomes available again at a site. Consumption is
// driven by the dispatcher observing the return transition.
type WatchService interface {
	Subscribe(userID uuid.UUID, titleKey, title, site string) (*models.ReturnWatch, error)
	ListActive(userID uuid.UUID, site string) ([]models.ReturnWatch, error)
}

type watchService struct {
	db        *gorm.DB
	watchRepo repositories.ReturnWatchRepository
}

func NewWatchService(db *gorm.DB, watchRepo repositories.ReturnWatchRepository) WatchService {
	return &watchService{db: db, watchRepo: watchRepo}
}

func (s *watchService) Subscribe(userID uuid.UUID, titleKey, title, site string) (*models.ReturnWatch, error) {
	active, err := s.watchRepo.HasActive(nil, userID, titleKey, site)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %q at %s", ErrDuplicateWatch, title, site)
	}

	watch := &models.ReturnWatch{
		UserID:    userID,
		TitleKey:  titleKey,
		Title:     title,
		Site:      site,
		Notified:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.watchRepo.Create(nil, watch); err != nil {
		log.Printf("[ERROR] Subscribe: failed to create watch for %s / %s: %v", userID, titleKey, err)
		return nil, err
	}
	log.Printf("[INFO] Subscribe: %s watching %q at %s", userID, title, site)
	return watch, nil
}

func (s *watchService) ListActive(userID uuid.UUID, site string) ([]models.ReturnWatch, error) {
	return s.watchRepo.ListActiveByUser(nil, userID, site)
}
