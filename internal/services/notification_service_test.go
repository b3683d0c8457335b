package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liblend/internal/models"
)

func TestDispatchToSiteStaff(t *testing.T) {
	env := newTestEnv(t)
	staffA := env.addUser(t, "staff-a", "Gangnam", models.UserRoleStaff)
	staffB := env.addUser(t, "staff-b", "Gangnam", models.UserRoleLead)
	staffC := env.addUser(t, "staff-c", "Yongsan", models.UserRoleStaff)

	err := env.notifs.Dispatch(RecipientSiteStaff("Gangnam"),
		models.NotificationLoanRequested, "Loan requested", "Someone wants a copy",
		Ref{CopyLabel: "Fiction_10001", Site: "Gangnam"})
	require.NoError(t, err)

	assert.Len(t, env.notificationsFor(t, staffA.ID, models.NotificationLoanRequested), 1)
	assert.Len(t, env.notificationsFor(t, staffB.ID, models.NotificationLoanRequested), 1)
	assert.Empty(t, env.notificationsFor(t, staffC.ID, models.NotificationLoanRequested),
		"staff at another site are not fanned out to")
}

func TestDispatchSetsExpiry(t *testing.T) {
	env := newTestEnv(t)
	member := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)

	require.NoError(t, env.notifs.Dispatch(RecipientUser(member.ID),
		models.NotificationDueSoon, "Due soon", "bring it back", Ref{}))

	items, err := env.notifs.List(member.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	want := items[0].CreatedAt.AddDate(0, 0, NotificationTTLDays)
	assert.WithinDuration(t, want, items[0].ExpiresAt, time.Minute)
}

func TestEmailEcho(t *testing.T) {
	env := newTestEnv(t)
	member := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)
	require.NoError(t, env.db.Model(&models.User{}).
		Where("id = ?", member.ID).Update("email_opt_in", true).Error)

	require.NoError(t, env.notifs.Dispatch(RecipientUser(member.ID),
		models.NotificationDueSoon, "Return due tomorrow", "bring it back", Ref{}))

	require.Eventually(t, func() bool { return env.mail.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	mail := env.mail.last()
	assert.Equal(t, member.Email, mail.To)
	assert.Contains(t, mail.Subject, "[Library]")
}

func TestNoEmailWithoutOptIn(t *testing.T) {
	env := newTestEnv(t)
	member := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)

	require.NoError(t, env.notifs.Dispatch(RecipientUser(member.ID),
		models.NotificationDueSoon, "Due soon", "bring it back", Ref{}))

	// the in-app notification lands either way
	count, err := env.notifs.UnreadCount(member.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, env.mail.count())
}

func TestEmailFailureDoesNotFailDispatch(t *testing.T) {
	env := newTestEnv(t)
	env.mail.fail = true
	member := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)
	require.NoError(t, env.db.Model(&models.User{}).
		Where("id = ?", member.ID).Update("email_opt_in", true).Error)

	require.NoError(t, env.notifs.Dispatch(RecipientUser(member.ID),
		models.NotificationOverdueUser, "Overdue", "you kept it too long", Ref{}))

	count, err := env.notifs.UnreadCount(member.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "the durable write must survive a dead relay")
}

func TestReadAndDeleteAreRecipientScoped(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)
	bob := env.addUser(t, "bob", "Gangnam", models.UserRoleMember)

	require.NoError(t, env.notifs.Dispatch(RecipientUser(alice.ID),
		models.NotificationDueSoon, "Due soon", "one", Ref{}))
	require.NoError(t, env.notifs.Dispatch(RecipientUser(alice.ID),
		models.NotificationOverdueUser, "Overdue", "two", Ref{}))

	items, err := env.notifs.List(alice.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// someone else's id cannot touch alice's notifications
	err = env.notifs.MarkRead(bob.ID, items[0].ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	err = env.notifs.Delete(bob.ID, items[0].ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	require.NoError(t, env.notifs.MarkRead(alice.ID, items[0].ID))
	count, err := env.notifs.UnreadCount(alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, env.notifs.MarkAllRead(alice.ID))
	count, err = env.notifs.UnreadCount(alice.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, env.notifs.Delete(alice.ID, items[1].ID))
	items, err = env.notifs.List(alice.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestWatchConsumedOnReturn(t *testing.T) {
	env := newTestEnv(t)
	staff := env.addUser(t, "staff-a", "Gangnam", models.UserRoleStaff)
	alice := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)
	bob := env.addUser(t, "bob", "Gangnam", models.UserRoleMember)

	copy := env.addCopy(t, "Fiction", "Gangnam", "1", "9780000000050", "Embassytown", staff.ID)
	_, err := env.rentals.ApproveLoan(copy.LabelNumber, alice.ID)
	require.NoError(t, err)

	watch, err := env.watches.Subscribe(bob.ID, copy.TitleKey, copy.Title, "Gangnam")
	require.NoError(t, err)
	assert.False(t, watch.Notified)

	// a second subscription for the same title/site is rejected while the
	// first is still live
	_, err = env.watches.Subscribe(bob.ID, copy.TitleKey, copy.Title, "Gangnam")
	assert.ErrorIs(t, err, ErrDuplicateWatch)

	_, err = env.rentals.ReturnCopy(copy.LabelNumber, alice.ID)
	require.NoError(t, err)

	got := env.notificationsFor(t, bob.ID, models.NotificationCopyAvailable)
	require.Len(t, got, 1)
	assert.Equal(t, copy.LabelNumber, got[0].CopyLabel)

	active, err := env.watches.ListActive(bob.ID, "Gangnam")
	require.NoError(t, err)
	assert.Empty(t, active, "a consumed watch is spent")

	// another loan/return cycle must not re-fire the spent watch
	_, err = env.rentals.ApproveLoan(copy.LabelNumber, alice.ID)
	require.NoError(t, err)
	_, err = env.rentals.ReturnCopy(copy.LabelNumber, alice.ID)
	require.NoError(t, err)
	assert.Len(t, env.notificationsFor(t, bob.ID, models.NotificationCopyAvailable), 1)
}

func TestRequestLifecycleTriggers(t *testing.T) {
	env := newTestEnv(t)
	staff := env.addUser(t, "staff-a", "Gangnam", models.UserRoleStaff)
	member := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)

	req, err := env.requests.Create(CreateRequestInput{
		TitleKey:    "9780000000060",
		Title:       "Exhalation",
		Site:        "Gangnam",
		RequestedBy: member.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, req.Status)

	assert.Len(t, env.notificationsFor(t, staff.ID, models.NotificationRegistrationRequested), 1)

	decided, err := env.requests.Approve(req.ID, staff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, decided.Status)
	require.NotNil(t, decided.DecidedBy)
	assert.Equal(t, staff.ID, *decided.DecidedBy)

	assert.Len(t, env.notificationsFor(t, member.ID, models.NotificationRegistrationApproved), 1)

	// a decision is final
	_, err = env.requests.Approve(req.ID, staff.ID)
	assert.ErrorIs(t, err, ErrRequestDecided)
	_, err = env.requests.Reject(req.ID, staff.ID)
	assert.ErrorIs(t, err, ErrRequestDecided)
}

func TestRejectDoesNotNotifyRequester(t *testing.T) {
	env := newTestEnv(t)
	staff := env.addUser(t, "staff-a", "Gangnam", models.UserRoleStaff)
	member := env.addUser(t, "alice", "Gangnam", models.UserRoleMember)

	req, err := env.requests.Create(CreateRequestInput{
		TitleKey:    "9780000000061",
		Title:       "Stories of Your Life",
		Site:        "Gangnam",
		RequestedBy: member.ID,
	})
	require.NoError(t, err)

	decided, err := env.requests.Reject(req.ID, staff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, decided.Status)
	assert.Empty(t, env.notificationsFor(t, member.ID, models.NotificationRegistrationApproved))
}
