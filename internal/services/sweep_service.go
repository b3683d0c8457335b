package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"liblend/internal/models"
	"liblend/internal/repositories"
)

// SweepService is the daily reminder batch: due-soon and overdue
// notifications, at most once per copy per type per calendar day, followed
// by expired-notification purge. The sweep has no overlap protection; it is
// idempotent within a day thanks to the de-duplication check, so an
// interrupted run simply completes on the next schedule.
type SweepService interface {
	RunSweep() error
}

type sweepService struct {
	db        *gorm.DB
	copyRepo  repositories.CopyRepository
	notifRepo repositories.NotificationRepository
	notifier  NotificationService
}

func NewSweepService(
	db *gorm.DB,
	copyRepo repositories.CopyRepository,
	notifRepo repositories.NotificationRepository,
	notifier NotificationService,
) SweepService {
	return &sweepService{
		db:        db,
		copyRepo:  copyRepo,
		notifRepo: notifRepo,
		notifier:  notifier,
	}
}

// RunSweep scans every rented copy once. A single copy's failure is logged
// and skipped rather than aborting the run.
func (s *sweepService) RunSweep() error {
	now := time.Now().UTC()
	log.Printf("[INFO] RunSweep: starting reminder sweep")

	rented, err := s.copyRepo.ListRented(nil)
	if err != nil {
		log.Printf("[ERROR] RunSweep: failed to list rented copies: %v", err)
		return err
	}

	var sent, skipped int
	for i := range rented {
		n, err := s.sweepCopy(&rented[i], now)
		if err != nil {
			log.Printf("[ERROR] RunSweep: copy %s failed, continuing: %v", rented[i].LabelNumber, err)
			skipped++
			continue
		}
		sent += n
	}

	purged, err := s.notifRepo.DeleteExpired(nil, now)
	if err != nil {
		log.Printf("[ERROR] RunSweep: failed to purge expired notifications: %v", err)
		return err
	}

	log.Printf("[INFO] RunSweep: done, %d copies scanned, %d notification(s) sent, %d copy failure(s), %d expired purged",
		len(rented), sent, skipped, purged)
	return nil
}

func (s *sweepService) sweepCopy(copy *models.Copy, now time.Time) (int, error) {
	if copy.RentedBy == nil || copy.ExpectedReturnAt == nil {
		log.Printf("[WARN] sweepCopy: %s is RENTED but missing holder or due date, skipping", copy.LabelNumber)
		return 0, nil
	}

	days := daysUntil(*copy.ExpectedReturnAt, now)
	sent := 0

	switch {
	case days == 1:
		title := "Return due tomorrow"
		message := fmt.Sprintf("%q (%s) is due back tomorrow.", copy.Title, copy.LabelNumber)
		n, err := s.dispatchOncePerDay(copy, models.NotificationDueSoon, RecipientUser(*copy.RentedBy), title, message, now)
		if err != nil {
			return sent, err
		}
		sent += n

	case days < 0:
		overdueDays := -days
		title := "Loan overdue"
		message := fmt.Sprintf("%q (%s) is %d day(s) overdue.", copy.Title, copy.LabelNumber, overdueDays)
		n, err := s.dispatchOncePerDay(copy, models.NotificationOverdueUser, RecipientUser(*copy.RentedBy), title, message, now)
		if err != nil {
			return sent, err
		}
		sent += n

		staffMessage := fmt.Sprintf("%q (%s) is %d day(s) overdue at %s.", copy.Title, copy.LabelNumber, overdueDays, copy.Site)
		n, err = s.dispatchOncePerDay(copy, models.NotificationOverdueStaff, RecipientSiteStaff(copy.Site), title, staffMessage, now)
		if err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

// dispatchOncePerDay applies the sweep's de-duplication key: the (copy,
// type, calendar day) tuple. The most recent matching notification decides
// whether today's reminder already went out.
func (s *sweepService) dispatchOncePerDay(copy *models.Copy, t models.NotificationType, rcpt Recipient, title, message string, now time.Time) (int, error) {
	latest, err := s.notifRepo.LatestByCopyAndType(nil, copy.LabelNumber, t)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	if latest != nil && sameCalendarDay(latest.CreatedAt, now) {
		return 0, nil
	}

	if err := s.notifier.Dispatch(rcpt, t, title, message, Ref{CopyLabel: copy.LabelNumber, Site: copy.Site}); err != nil {
		return 0, err
	}
	return 1, nil
}

// ─── Date Helpers ─────────────────────────────────────────────────────────────

// daysUntil is the calendar-day distance from now to target, both truncated
// to midnight UTC. Tomorrow is 1, today is 0, yesterday is -1.
func daysUntil(target, now time.Time) int {
	targetMidnight := target.UTC().Truncate(24 * time.Hour)
	nowMidnight := now.UTC().Truncate(24 * time.Hour)
	return int(targetMidnight.Sub(nowMidnight).Hours() / 24)
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
