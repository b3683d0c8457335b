package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"liblend/internal/config"
	"liblend/internal/mailer"
	"liblend/internal/models"
	"liblend/internal/repositories"
)

const (
	// NotificationTTLDays is how long a notification record lives before
	// the sweep purges it.
	NotificationTTLDays = 30

	defaultPageSize = 20
	maxPageSize     = 100
)

// Recipient selects who a notification goes to: a single user, or every
// staff member assigned to a site.
type Recipient struct {
	userID *uuid.UUID
	site   string
}

func RecipientUser(id uuid.UUID) Recipient { return Recipient{userID: &id} }

func RecipientSiteStaff(site string) Recipient { return Recipient{site: site} }

// Ref carries the optional copy/site reference stored on a notification.
// The copy label doubles as the sweep's de-duplication key.
type Ref struct {
	CopyLabel string
	Site      string
}

// NotificationService is the dispatch engine plus the recipient-facing
// notification operations.
type NotificationService interface {
	TransitionObserver

	Dispatch(rcpt Recipient, t models.NotificationType, title, message string, ref Ref) error

	List(recipientID uuid.UUID, limit, offset int) ([]models.Notification, error)
	UnreadCount(recipientID uuid.UUID) (int64, error)
	MarkRead(recipientID, notificationID uuid.UUID) error
	MarkAllRead(recipientID uuid.UUID) error
	Delete(recipientID, notificationID uuid.UUID) error
}

type notificationService struct {
	db        *gorm.DB
	sites     config.Sites
	userRepo  repositories.UserRepository
	notifRepo repositories.NotificationRepository
	watchRepo repositories.ReturnWatchRepository
	mail      mailer.Mailer
}

func NewNotificationService(
	db *gorm.DB,
	sites config.Sites,
	userRepo repositories.UserRepository,
	notifRepo repositories.NotificationRepository,
	watchRepo repositories.ReturnWatchRepository,
	mail mailer.Mailer,
) NotificationService {
	return &notificationService{
		db:        db,
		sites:     sites,
		userRepo:  userRepo,
		notifRepo: notifRepo,
		watchRepo: watchRepo,
		mail:      mail,
	}
}

// ─── Dispatch ─────────────────────────────────────────────────────────────────

// Dispatch writes one notification per resolved recipient and echoes each
// over the e-mail channel for recipients who opted in. The write is the
// durable part; mail is fire-and-forget.
func (s *notificationService) Dispatch(rcpt Recipient, t models.NotificationType, title, message string, ref Ref) error {
	recipients := s.resolve(rcpt)
	if len(recipients) == 0 {
		log.Printf("[WARN] Dispatch: no recipients resolved for type=%s site=%q", t, rcpt.site)
		return nil
	}

	now := time.Now().UTC()
	for _, recipientID := range recipients {
		n := &models.Notification{
			RecipientID: recipientID,
			Type:        t,
			Title:       title,
			Message:     message,
			CopyLabel:   ref.CopyLabel,
			Site:        ref.Site,
			CreatedAt:   now,
			ExpiresAt:   now.AddDate(0, 0, NotificationTTLDays),
		}
		if err := s.notifRepo.Create(nil, n); err != nil {
			log.Printf("[ERROR] Dispatch: failed to write %s notification for %s: %v", t, recipientID, err)
			return err
		}
		s.maybeEmail(recipientID, t, title, message)
	}
	log.Printf("[INFO] Dispatch: %s notification sent to %d recipient(s)", t, len(recipients))
	return nil
}

func (s *notificationService) resolve(rcpt Recipient) []uuid.UUID {
	if rcpt.userID != nil {
		return []uuid.UUID{*rcpt.userID}
	}
	staff := s.sites.StaffFor(rcpt.site)
	ids := make([]uuid.UUID, 0, len(staff))
	for _, ref := range staff {
		ids = append(ids, ref.UserID)
	}
	return ids
}

// maybeEmail renders and sends the e-mail echo in the background when the
// recipient opted in. Failures are logged and swallowed.
func (s *notificationService) maybeEmail(recipientID uuid.UUID, t models.NotificationType, title, message string) {
	user, err := s.userRepo.GetByID(nil, recipientID)
	if err != nil {
		log.Printf("[WARN] Dispatch: cannot load recipient %s for e-mail echo: %v", recipientID, err)
		return
	}
	if !user.EmailOptIn || user.Email == "" {
		return
	}

	subject, body := renderEmail(t, title, message)
	address := user.Email
	go func() {
		if err := s.mail.Send(address, subject, body); err != nil {
			log.Printf("[WARN] Dispatch: e-mail echo to %s failed: %v", address, err)
		}
	}()
}

var emailSubjects = map[models.NotificationType]string{
	models.NotificationRegistrationRequested: "New registration request",
	models.NotificationLoanRequested:         "New loan request",
	models.NotificationRegistrationApproved:  "Your request was approved",
	models.NotificationDueSoon:               "A loan is due tomorrow",
	models.NotificationOverdueUser:           "You have an overdue loan",
	models.NotificationOverdueStaff:          "Overdue loan at your site",
	models.NotificationCopyAvailable:         "A watched title is available",
}

func renderEmail(t models.NotificationType, title, message string) (subject, body string) {
	subject, ok := emailSubjects[t]
	if !ok {
		subject = title
	}
	body = fmt.Sprintf("%s\n\n%s\n", title, message)
	return "[Library] " + subject, body
}

// ─── Event Triggers ───────────────────────────────────────────────────────────

// OnCopyTransition turns observed copy transitions into notifications:
// a copy entering REQUESTED alerts the owning site's staff, and a copy
// returning to AVAILABLE consumes any matching return watches. Failures are
// logged only; the transition has already landed.
func (s *notificationService) OnCopyTransition(before, after *models.Copy) {
	if after == nil {
		return
	}

	if after.Status == models.CopyStatusRequested && (before == nil || before.Status != models.CopyStatusRequested) {
		title := "Loan requested"
		message := fmt.Sprintf("%q (%s) has a pending loan request.", after.Title, after.LabelNumber)
		err := s.Dispatch(RecipientSiteStaff(after.Site), models.NotificationLoanRequested, title, message,
			Ref{CopyLabel: after.LabelNumber, Site: after.Site})
		if err != nil {
			log.Printf("[ERROR] OnCopyTransition: loan_requested dispatch failed for %s: %v", after.LabelNumber, err)
		}
	}

	if after.Status == models.CopyStatusAvailable && before != nil && before.Status == models.CopyStatusRented {
		s.consumeWatches(after)
	}
}

// consumeWatches notifies every unexpired watch matching the returned
// copy's title and marks them consumed.
func (s *notificationService) consumeWatches(copy *models.Copy) {
	watches, err := s.watchRepo.ListActiveByTitle(nil, copy.TitleKey, copy.Site)
	if err != nil {
		log.Printf("[ERROR] consumeWatches: failed to query watches for %s at %s: %v", copy.TitleKey, copy.Site, err)
		return
	}
	if len(watches) == 0 {
		return
	}

	consumed := make([]uuid.UUID, 0, len(watches))
	for _, w := range watches {
		title := "Copy available"
		message := fmt.Sprintf("%q is available again at %s (label %s).", copy.Title, copy.Site, copy.LabelNumber)
		err := s.Dispatch(RecipientUser(w.UserID), models.NotificationCopyAvailable, title, message,
			Ref{CopyLabel: copy.LabelNumber, Site: copy.Site})
		if err != nil {
			log.Printf("[ERROR] consumeWatches: dispatch to %s failed: %v", w.UserID, err)
			continue
		}
		consumed = append(consumed, w.ID)
	}
	if err := s.watchRepo.MarkNotified(nil, consumed); err != nil {
		log.Printf("[ERROR] consumeWatches: failed to mark %d watch(es) consumed: %v", len(consumed), err)
	}
}

// OnRequestTransition alerts site staff about new loan requests and the
// requester about an approval.
func (s *notificationService) OnRequestTransition(before, after *models.LoanRequest) {
	if after == nil {
		return
	}

	if before == nil && after.Status == models.RequestStatusPending {
		title := "Registration requested"
		message := fmt.Sprintf("%q was requested for %s.", after.Title, after.Site)
		err := s.Dispatch(RecipientSiteStaff(after.Site), models.NotificationRegistrationRequested, title, message,
			Ref{Site: after.Site})
		if err != nil {
			log.Printf("[ERROR] OnRequestTransition: registration_requested dispatch failed for %s: %v", after.ID, err)
		}
		return
	}

	if before != nil && before.Status == models.RequestStatusPending && after.Status == models.RequestStatusApproved {
		title := "Request approved"
		message := fmt.Sprintf("Your request for %q at %s was approved.", after.Title, after.Site)
		err := s.Dispatch(RecipientUser(after.RequestedBy), models.NotificationRegistrationApproved, title, message,
			Ref{Site: after.Site})
		if err != nil {
			log.Printf("[ERROR] OnRequestTransition: registration_approved dispatch failed for %s: %v", after.ID, err)
		}
	}
}

// ─── Recipient Operations ─────────────────────────────────────────────────────

func (s *notificationService) List(recipientID uuid.UUID, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.notifRepo.ListByRecipient(nil, recipientID, limit, offset)
}

func (s *notificationService) UnreadCount(recipientID uuid.UUID) (int64, error) {
	return s.notifRepo.UnreadCount(nil, recipientID)
}

func (s *notificationService) MarkRead(recipientID, notificationID uuid.UUID) error {
	err := s.notifRepo.MarkRead(nil, notificationID, recipientID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

func (s *notificationService) MarkAllRead(recipientID uuid.UUID) error {
	return s.notifRepo.MarkAllRead(nil, recipientID)
}

func (s *notificationService) Delete(recipientID, notificationID uuid.UUID) error {
	err := s.notifRepo.Delete(nil, notificationID, recipientID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	return err
}
