package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"liblend/internal/models"
)

type UserRepository interface {
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)
	ListByIDs(db *gorm.DB, ids []uuid.UUID) ([]models.User, error)
}

type CopyRepository interface {
	Create(db *gorm.DB, copy *models.Copy) error
	GetByLabel(db *gorm.DB, label string) (*models.Copy, error)
	List(db *gorm.DB, site string) ([]models.Copy, error)
	ListActiveByUser(db *gorm.DB, userID uuid.UUID) ([]models.Copy, error)
	ListRented(db *gorm.DB) ([]models.Copy, error)

	// TransitionStatus performs the conditional write backing every state
	// machine operation: the update lands only if the copy still has the
	// expected status (and holder, when given) at write time. It reports
	// the number of rows changed; zero means the precondition no longer
	// held and the caller must re-read to classify the failure.
	TransitionStatus(db *gorm.DB, label string, expect models.CopyStatus, expectHolder *uuid.UUID, updates map[string]interface{}) (int64, error)

	// DeleteRow removes the copy row itself. Only relabeling uses this;
	// staff deletion is a status transition to DELETED.
	DeleteRow(db *gorm.DB, label string) error
}

type LoanRequestRepository interface {
	Create(db *gorm.DB, req *models.LoanRequest) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.LoanRequest, error)
	ListBySite(db *gorm.DB, site string, status models.RequestStatus) ([]models.LoanRequest, error)
	ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.LoanRequest, error)

	// Decide conditionally moves a PENDING request to its decision,
	// reporting rows changed so a lost race surfaces instead of silently
	// overwriting an earlier decision.
	Decide(db *gorm.DB, id uuid.UUID, to models.RequestStatus, decidedBy uuid.UUID, decidedAt time.Time) (int64, error)
}

type NotificationRepository interface {
	Create(db *gorm.DB, n *models.Notification) error
	ListByRecipient(db *gorm.DB, recipientID uuid.UUID, limit, offset int) ([]models.Notification, error)
	UnreadCount(db *gorm.DB, recipientID uuid.UUID) (int64, error)
	MarkRead(db *gorm.DB, id, recipientID uuid.UUID) error
	MarkAllRead(db *gorm.DB, recipientID uuid.UUID) error
	Delete(db *gorm.DB, id, recipientID uuid.UUID) error
	LatestByCopyAndType(db *gorm.DB, copyLabel string, t models.NotificationType) (*models.Notification, error)
	DeleteExpired(db *gorm.DB, now time.Time) (int64, error)
}

type ReturnWatchRepository interface {
	Create(db *gorm.DB, w *models.ReturnWatch) error
	HasActive(db *gorm.DB, userID uuid.UUID, titleKey, site string) (bool, error)
	ListActiveByUser(db *gorm.DB, userID uuid.UUID, site string) ([]models.ReturnWatch, error)
	ListActiveByTitle(db *gorm.DB, titleKey, site string) ([]models.ReturnWatch, error)
	MarkNotified(db *gorm.DB, ids []uuid.UUID) error
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListByIDs(db *gorm.DB, ids []uuid.UUID) ([]models.User, error) {
	if db == nil {
		db = r.db
	}
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

type copyRepository struct {
	db *gorm.DB
}

func NewCopyRepository(db *gorm.DB) CopyRepository {
	return &copyRepository{db: db}
}

func (r *copyRepository) Create(db *gorm.DB, copy *models.Copy) error {
	if db == nil {
		db = r.db
	}
	return db.Create(copy).Error
}

func (r *copyRepository) GetByLabel(db *gorm.DB, label string) (*models.Copy, error) {
	if db == nil {
		db = r.db
	}
	var copy models.Copy
	if err := db.First(&copy, "label_number = ?", label).Error; err != nil {
		return nil, err
	}
	return &copy, nil
}

func (r *copyRepository) List(db *gorm.DB, site string) ([]models.Copy, error) {
	if db == nil {
		db = r.db
	}
	q := db.Where("status <> ?", models.CopyStatusDeleted)
	if site != "" {
		q = q.Where("site = ?", site)
	}
	var copies []models.Copy
	if err := q.Order("label_number").Find(&copies).Error; err != nil {
		return nil, err
	}
	return copies, nil
}

func (r *copyRepository) ListActiveByUser(db *gorm.DB, userID uuid.UUID) ([]models.Copy, error) {
	if db == nil {
		db = r.db
	}
	var copies []models.Copy
	err := db.
		Where("status = ? AND rented_by = ?", models.CopyStatusRented, userID).
		Find(&copies).Error
	if err != nil {
		return nil, err
	}
	return copies, nil
}

func (r *copyRepository) ListRented(db *gorm.DB) ([]models.Copy, error) {
	if db == nil {
		db = r.db
	}
	var copies []models.Copy
	if err := db.Where("status = ?", models.CopyStatusRented).Order("label_number").Find(&copies).Error; err != nil {
		return nil, err
	}
	return copies, nil
}

func (r *copyRepository) TransitionStatus(db *gorm.DB, label string, expect models.CopyStatus, expectHolder *uuid.UUID, updates map[string]interface{}) (int64, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Copy{}).
		Where("label_number = ? AND status = ?", label, expect)
	if expectHolder != nil {
		switch expect {
		case models.CopyStatusRequested:
			q = q.Where("requested_by = ?", *expectHolder)
		case models.CopyStatusRented:
			q = q.Where("rented_by = ?", *expectHolder)
		}
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *copyRepository) DeleteRow(db *gorm.DB, label string) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Copy{}, "label_number = ?", label).Error
}

type loanRequestRepository struct {
	db *gorm.DB
}

func NewLoanRequestRepository(db *gorm.DB) LoanRequestRepository {
	return &loanRequestRepository{db: db}
}

func (r *loanRequestRepository) Create(db *gorm.DB, req *models.LoanRequest) error {
	if db == nil {
		db = r.db
	}
	return db.Create(req).Error
}

func (r *loanRequestRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.LoanRequest, error) {
	if db == nil {
		db = r.db
	}
	var req models.LoanRequest
	if err := db.First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *loanRequestRepository) ListBySite(db *gorm.DB, site string, status models.RequestStatus) ([]models.LoanRequest, error) {
	if db == nil {
		db = r.db
	}
	q := db.Where("site = ?", site)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reqs []models.LoanRequest
	if err := q.Order("requested_at DESC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *loanRequestRepository) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.LoanRequest, error) {
	if db == nil {
		db = r.db
	}
	var reqs []models.LoanRequest
	if err := db.Where("requested_by = ?", userID).Order("requested_at DESC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *loanRequestRepository) Decide(db *gorm.DB, id uuid.UUID, to models.RequestStatus, decidedBy uuid.UUID, decidedAt time.Time) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.LoanRequest{}).
		Where("id = ? AND status = ?", id, models.RequestStatusPending).
		Updates(map[string]interface{}{
			"status":     to,
			"decided_by": decidedBy,
			"decided_at": decidedAt,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(db *gorm.DB, n *models.Notification) error {
	if db == nil {
		db = r.db
	}
	return db.Create(n).Error
}

func (r *notificationRepository) ListByRecipient(db *gorm.DB, recipientID uuid.UUID, limit, offset int) ([]models.Notification, error) {
	if db == nil {
		db = r.db
	}
	var items []models.Notification
	err := db.Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *notificationRepository) UnreadCount(db *gorm.DB, recipientID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

func (r *notificationRepository) MarkRead(db *gorm.DB, id, recipientID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(db *gorm.DB, recipientID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true).
		Error
}

func (r *notificationRepository) Delete(db *gorm.DB, id, recipientID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	res := db.Delete(&models.Notification{}, "id = ? AND recipient_id = ?", id, recipientID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *notificationRepository) LatestByCopyAndType(db *gorm.DB, copyLabel string, t models.NotificationType) (*models.Notification, error) {
	if db == nil {
		db = r.db
	}
	var n models.Notification
	err := db.Where("copy_label = ? AND type = ?", copyLabel, t).
		Order("created_at DESC").
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) DeleteExpired(db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Delete(&models.Notification{}, "expires_at < ?", now)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

type returnWatchRepository struct {
	db *gorm.DB
}

func NewReturnWatchRepository(db *gorm.DB) ReturnWatchRepository {
	return &returnWatchRepository{db: db}
}

func (r *returnWatchRepository) Create(db *gorm.DB, w *models.ReturnWatch) error {
	if db == nil {
		db = r.db
	}
	return db.Create(w).Error
}

func (r *returnWatchRepository) HasActive(db *gorm.DB, userID uuid.UUID, titleKey, site string) (bool, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.ReturnWatch{}).
		Where("user_id = ? AND title_key = ? AND site = ? AND notified = ?", userID, titleKey, site, false).
		Count(&count).Error
	return count > 0, err
}

func (r *returnWatchRepository) ListActiveByUser(db *gorm.DB, userID uuid.UUID, site string) ([]models.ReturnWatch, error) {
	if db == nil {
		db = r.db
	}
	q := db.Where("user_id = ? AND notified = ?", userID, false)
	if site != "" {
		q = q.Where("site = ?", site)
	}
	var watches []models.ReturnWatch
	if err := q.Order("created_at").Find(&watches).Error; err != nil {
		return nil, err
	}
	return watches, nil
}

func (r *returnWatchRepository) ListActiveByTitle(db *gorm.DB, titleKey, site string) ([]models.ReturnWatch, error) {
	if db == nil {
		db = r.db
	}
	var watches []models.ReturnWatch
	err := db.Where("title_key = ? AND site = ? AND notified = ?", titleKey, site, false).
		Order("created_at").
		Find(&watches).Error
	if err != nil {
		return nil, err
	}
	return watches, nil
}

func (r *returnWatchRepository) MarkNotified(db *gorm.DB, ids []uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return db.Model(&models.ReturnWatch{}).
		Where("id IN ?", ids).
		Update("notified", true).
		Error
}
