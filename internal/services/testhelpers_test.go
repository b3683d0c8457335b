package services

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"liblend/internal/config"
	"liblend/internal/models"
	"liblend/internal/repositories"
)

// stubMailer records sends so tests can assert on the e-mail echo without
// a real SMTP relay.
type stubMailer struct {
	mu   sync.Mutex
	fail bool
	sent []sentMail
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *stubMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unreachable")
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *stubMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *stubMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type testEnv struct {
	db    *gorm.DB
	sites config.Sites
	mail  *stubMailer

	copyRepo  repositories.CopyRepository
	notifRepo repositories.NotificationRepository
	watchRepo repositories.ReturnWatchRepository

	rentals  RentalService
	requests RequestService
	notifs   NotificationService
	watches  WatchService
	sweep    SweepService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "liblend.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Copy{},
		&models.LoanRequest{},
		&models.Notification{},
		&models.ReturnWatch{},
	))

	env := &testEnv{
		db: db,
		sites: config.Sites{
			Codes: map[string]string{"Gangnam": "1", "Yongsan": "2"},
			Staff: map[string][]config.StaffRef{},
		},
		mail:      &stubMailer{},
		copyRepo:  repositories.NewCopyRepository(db),
		notifRepo: repositories.NewNotificationRepository(db),
		watchRepo: repositories.NewReturnWatchRepository(db),
	}

	userRepo := repositories.NewUserRepository(db)
	requestRepo := repositories.NewLoanRequestRepository(db)

	env.notifs = NewNotificationService(db, env.sites, userRepo, env.notifRepo, env.watchRepo, env.mail)
	env.rentals = NewRentalService(db, env.sites, userRepo, env.copyRepo, env.notifs)
	env.requests = NewRequestService(db, requestRepo, env.notifs)
	env.watches = NewWatchService(db, env.watchRepo)
	env.sweep = NewSweepService(db, env.copyRepo, env.notifRepo, env.notifs)
	return env
}

func (e *testEnv) addUser(t *testing.T, name, site string, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{Name: name, Email: name + "@example.com", Role: role, Site: site}
	require.NoError(t, e.db.Create(user).Error)
	if role == models.UserRoleStaff || role == models.UserRoleLead {
		e.sites.Staff[site] = append(e.sites.Staff[site], config.StaffRef{UserID: user.ID, Role: role})
	}
	return user
}

func (e *testEnv) addCopy(t *testing.T, category, site, seq, titleKey, title string, staff uuid.UUID) *models.Copy {
	t.Helper()
	copy, err := e.rentals.RegisterCopy(RegisterCopyInput{
		Category:     category,
		Site:         site,
		Sequence:     seq,
		TitleKey:     titleKey,
		Title:        title,
		RegisteredBy: staff,
	})
	require.NoError(t, err)
	return copy
}

// forceRent backdates a loan so sweep scenarios can place the due date
// anywhere relative to now.
func (e *testEnv) forceRent(t *testing.T, label string, userID uuid.UUID, expectedReturnAt time.Time) {
	t.Helper()
	rentedAt := expectedReturnAt.AddDate(0, 0, -LoanPeriodDays)
	err := e.db.Model(&models.Copy{}).
		Where("label_number = ?", label).
		Updates(map[string]interface{}{
			"status":             models.CopyStatusRented,
			"rented_by":          userID,
			"rented_at":          rentedAt,
			"expected_return_at": expectedReturnAt,
		}).Error
	require.NoError(t, err)
}

func (e *testEnv) notificationsFor(t *testing.T, userID uuid.UUID, typ models.NotificationType) []models.Notification {
	t.Helper()
	var items []models.Notification
	err := e.db.Where("recipient_id = ? AND type = ?", userID, typ).Find(&items).Error
	require.NoError(t, err)
	return items
}

func (e *testEnv) getCopy(t *testing.T, label string) *models.Copy {
	t.Helper()
	copy, err := e.copyRepo.GetByLabel(nil, label)
	require.NoError(t, err)
	return copy
}
