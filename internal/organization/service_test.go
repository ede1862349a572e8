package organization

import (
	"context"
	"fmt"
	"testing"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/domain/dbtest"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *Service, *billing.Subscriptions, *events.Recorder) {
	t.Helper()
	db := dbtest.Open(t)
	require.NoError(t, billing.NewPlans(db).Seed(context.Background()))
	rec := &events.Recorder{}
	return db, NewService(db, billing.NewLimits(db), rec), billing.NewSubscriptions(db, rec, config.BillingConfig{TrialDays: 14}), rec
}

func newUser(t *testing.T, db *gorm.DB) *domain.User {
	t.Helper()
	u := &domain.User{ID: common.UUIDint64(), Name: "Olivier", Email: fmt.Sprintf("u%d@soko.test", common.UUIDint64()), Role: domain.UserRoleUser}
	require.NoError(t, db.Create(u).Error)
	return u
}

func TestCreateOrganizationMakesCreatorOwner(t *testing.T) {
	db, svc, subs, _ := setup(t)
	u := newUser(t, db)

	_, err := svc.Create(context.Background(), u, Input{Name: "Kigali Fresh"})
	assert.Equal(t, "NO_SUBSCRIPTION", domain.CodeOf(err))

	_, err = subs.Start(context.Background(), u.ID, "Free")
	require.NoError(t, err)
	org, err := svc.Create(context.Background(), u, Input{Name: "Kigali Fresh", Email: "shop@fresh.rw"})
	require.NoError(t, err)
	assert.Equal(t, "kigali-fresh", org.Slug)

	role, err := svc.MemberRole(context.Background(), org.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberRoleOwner, role)

	// the free plan allows a single store
	_, err = svc.Create(context.Background(), u, Input{Name: "Second"})
	assert.Equal(t, "LIMIT_REACHED", domain.CodeOf(err))
}

func TestMembersAndRoles(t *testing.T) {
	db, svc, subs, _ := setup(t)
	owner := newUser(t, db)
	staff := newUser(t, db)
	outsider := newUser(t, db)
	_, err := subs.Start(context.Background(), owner.ID, "Free")
	require.NoError(t, err)
	org, err := svc.Create(context.Background(), owner, Input{Name: "Duka"})
	require.NoError(t, err)

	_, err = svc.AddMember(context.Background(), org.ID, outsider, MemberInput{Email: staff.Email, Role: domain.MemberRoleAdmin})
	assert.Equal(t, "FORBIDDEN", domain.CodeOf(err))

	m, err := svc.AddMember(context.Background(), org.ID, owner, MemberInput{Email: staff.Email, Role: domain.MemberRoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, staff.ID, m.UserID)

	_, err = svc.AddMember(context.Background(), org.ID, owner, MemberInput{Email: staff.Email, Role: domain.MemberRoleMember})
	assert.Equal(t, "MEMBER_EXISTS", domain.CodeOf(err))
	_, err = svc.AddMember(context.Background(), org.ID, owner, MemberInput{Email: owner.Email, Role: domain.MemberRoleOwner})
	assert.Equal(t, "INVALID_ROLE", domain.CodeOf(err))

	assert.NoError(t, svc.RequireManager(context.Background(), org.ID, staff))
	assert.Equal(t, "FORBIDDEN", domain.CodeOf(svc.RequireManager(context.Background(), org.ID, outsider)))

	role, err := svc.MemberRole(context.Background(), org.ID, outsider.ID)
	require.NoError(t, err)
	assert.Empty(t, role)

	members, err := svc.Members(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	mine, total, err := svc.List(context.Background(), ListFilter{MemberUserID: staff.ID}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, org.ID, mine[0].ID)
}

func TestFollowIsIdempotent(t *testing.T) {
	db, svc, subs, rec := setup(t)
	owner := newUser(t, db)
	fan := newUser(t, db)
	_, err := subs.Start(context.Background(), owner.ID, "Free")
	require.NoError(t, err)
	org, err := svc.Create(context.Background(), owner, Input{Name: "Duka"})
	require.NoError(t, err)

	require.NoError(t, svc.Follow(context.Background(), org.ID, fan))
	require.NoError(t, svc.Follow(context.Background(), org.ID, fan))
	followers, err := svc.Followers(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{fan.ID}, followers)
	assert.Len(t, rec.Topic(events.TopicOrganizationFollowed), 1)

	require.NoError(t, svc.Unfollow(context.Background(), org.ID, fan))
	followers, err = svc.Followers(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Empty(t, followers)

	assert.Equal(t, "ORGANIZATION_NOT_FOUND", domain.CodeOf(svc.Follow(context.Background(), 42, fan)))
}

func TestChannels(t *testing.T) {
	db, svc, subs, _ := setup(t)
	owner := newUser(t, db)
	_, err := subs.Start(context.Background(), owner.ID, "Free")
	require.NoError(t, err)
	org, err := svc.Create(context.Background(), owner, Input{Name: "Duka"})
	require.NoError(t, err)

	tests := []struct {
		in   ChannelInput
		code string
	}{
		{ChannelInput{Kind: domain.ChannelWhatsApp, Address: "+250 788 123 456"}, ""},
		{ChannelInput{Kind: domain.ChannelEmail, Address: "orders@duka.rw"}, ""},
		{ChannelInput{Kind: domain.ChannelWhatsApp, Address: "123"}, "INVALID_ADDRESS"},
		{ChannelInput{Kind: domain.ChannelEmail, Address: "not-an-email"}, "INVALID_ADDRESS"},
		{ChannelInput{Kind: "sms", Address: "0788123456"}, "INVALID_CHANNEL"},
	}
	for _, tt := range tests {
		_, err := svc.AddChannel(context.Background(), org.ID, owner, tt.in)
		assert.Equal(t, tt.code, domain.CodeOf(err), tt.in.Address)
	}

	all, err := svc.Channels(context.Background(), org.ID, owner)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, svc.SetChannelStatus(context.Background(), all[0].ID, owner, false))
	wa, err := svc.EnabledChannels(context.Background(), org.ID, domain.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Empty(t, wa)
}
