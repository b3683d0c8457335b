package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleMember UserRole = "USER"
	UserRoleStaff  UserRole = "STAFF"
	UserRoleLead   UserRole = "LEAD"
)

type CopyStatus string

const (
	CopyStatusAvailable CopyStatus = "AVAILABLE"
	CopyStatusRequested CopyStatus = "REQUESTED"
	CopyStatusRented    CopyStatus = "RENTED"
	CopyStatusDeleted   CopyStatus = "DELETED"

	// CopyStatusOverdue is derived only, computed by Copy.EffectiveStatus.
	// It is never written to the store.
	CopyStatusOverdue CopyStatus = "OVERDUE"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

type NotificationType string

const (
	NotificationRegistrationRequested NotificationType = "registration_requested"
	NotificationLoanRequested         NotificationType = "loan_requested"
	NotificationRegistrationApproved  NotificationType = "registration_approved"
	NotificationDueSoon               NotificationType = "due_soon"
	NotificationOverdueUser           NotificationType = "overdue_user"
	NotificationOverdueStaff          NotificationType = "overdue_staff"
	NotificationCopyAvailable         NotificationType = "copy_available"
)

type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Email      string    `gorm:"size:255;not null" json:"email"`
	Role       UserRole  `gorm:"size:16;not null;default:'USER'" json:"role"`
	Site       string    `gorm:"size:64;not null;index" json:"site"`
	EmailOptIn bool      `gorm:"not null;default:false" json:"email_opt_in"`
}

// Copy is one physical unit of a title. The label number is the document
// key: relabeling writes a new row and removes the old one, never an
// in-place key mutation.
type Copy struct {
	LabelNumber string `gorm:"size:64;primaryKey" json:"label_number"`
	Category    string `gorm:"size:64;not null" json:"category"`
	Site        string `gorm:"size:64;not null;index" json:"site"`
	SiteCode    string `gorm:"size:1;not null" json:"site_code"`

	TitleKey  string `gorm:"size:32;not null;index" json:"title_key"`
	Title     string `gorm:"size:255;not null" json:"title"`
	Author    string `gorm:"size:255" json:"author"`
	Publisher string `gorm:"size:255" json:"publisher"`
	CoverURL  string `gorm:"size:512" json:"cover_url"`

	ShelfLocation string     `gorm:"size:32" json:"shelf_location"`
	Status        CopyStatus `gorm:"size:16;not null;index" json:"status"`

	RentedBy         *uuid.UUID `gorm:"type:uuid;index" json:"rented_by"`
	RentedAt         *time.Time `json:"rented_at"`
	ExpectedReturnAt *time.Time `json:"expected_return_at"`
	RequestedBy      *uuid.UUID `gorm:"type:uuid" json:"requested_by"`
	RequestedAt      *time.Time `json:"requested_at"`
	ReturnedAt       *time.Time `json:"returned_at"`

	RegisteredBy uuid.UUID `gorm:"type:uuid" json:"registered_by"`
	RegisteredAt time.Time `gorm:"not null" json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EffectiveStatus returns the display status of the copy at the given
// instant. A copy past its expected return date stays RENTED in the store
// and only leaves that state through a return.
func (c *Copy) EffectiveStatus(now time.Time) CopyStatus {
	if c.Status == CopyStatusRented && c.ExpectedReturnAt != nil && now.After(*c.ExpectedReturnAt) {
		return CopyStatusOverdue
	}
	return c.Status
}

// LoanRequest is a cross-site loan registration request, also used for
// "request to buy a title". Requests are never hard-deleted; decided
// requests remain as an audit trail.
type LoanRequest struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	TitleKey    string        `gorm:"size:32;not null" json:"title_key"`
	Title       string        `gorm:"size:255;not null" json:"title"`
	Author      string        `gorm:"size:255" json:"author"`
	Publisher   string        `gorm:"size:255" json:"publisher"`
	CoverURL    string        `gorm:"size:512" json:"cover_url"`
	Site        string        `gorm:"size:64;not null;index" json:"site"`
	Status      RequestStatus `gorm:"size:16;not null;index" json:"status"`
	RequestedBy uuid.UUID     `gorm:"type:uuid;not null;index" json:"requested_by"`
	RequestedAt time.Time     `gorm:"not null" json:"requested_at"`
	DecidedBy   *uuid.UUID    `gorm:"type:uuid" json:"decided_by"`
	DecidedAt   *time.Time    `json:"decided_at"`
}

type Notification struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	RecipientID uuid.UUID        `gorm:"type:uuid;not null;index" json:"recipient_id"`
	Type        NotificationType `gorm:"size:32;not null;index" json:"type"`
	Title       string           `gorm:"size:255;not null" json:"title"`
	Message     string           `gorm:"size:1024;not null" json:"message"`
	IsRead      bool             `gorm:"not null;default:false" json:"is_read"`
	CopyLabel   string           `gorm:"size:64;index" json:"copy_label"`
	Site        string           `gorm:"size:64" json:"site"`
	CreatedAt   time.Time        `gorm:"not null;index" json:"created_at"`
	ExpiresAt   time.Time        `gorm:"not null;index" json:"expires_at"`
}

// BeforeCreate assigns the primary key client-side. IDs are generated in
// the application rather than by the store, so every backend behaves the
// same way.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (r *LoanRequest) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// ReturnWatch is a user's subscription to be told when a copy of a title
// becomes available again at a site. It is consumed (notified flipped) the
// first time a matching copy transitions back to AVAILABLE.
type ReturnWatch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	TitleKey  string    `gorm:"size:32;not null;index" json:"title_key"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Site      string    `gorm:"size:64;not null;index" json:"site"`
	Notified  bool      `gorm:"not null;default:false" json:"notified"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (w *ReturnWatch) BeforeCreate(_ *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
