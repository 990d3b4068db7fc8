package service

import (
	"fmt"
	"testing"

	"lgl-sync/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLine(t *testing.T) {
	cases := []struct {
		name string
		line *model.OrderLine
		want string
	}{
		{"taxonomy membership", &model.OrderLine{Category: model.CategoryMembership, ProductName: "Anything"}, model.CategoryMembership},
		{"taxonomy event", &model.OrderLine{Category: model.CategoryEvent, ProductName: "Anything"}, model.CategoryEvent},
		{"name membership", &model.OrderLine{ProductName: "Senior Membership"}, model.CategoryMembership},
		{"name family member", &model.OrderLine{ProductName: "Additional Family Member"}, model.CategoryFamilySlot},
		{"name family slot", &model.OrderLine{ProductName: "Family Slot Add-on"}, model.CategoryFamilySlot},
		{"name class", &model.OrderLine{ProductName: "Beginner Language Class"}, model.CategoryClass},
		{"name event", &model.OrderLine{ProductName: "Annual Gala Event"}, model.CategoryEvent},
		{"family beats membership", &model.OrderLine{ProductName: "Family Member Membership"}, model.CategoryFamilySlot},
		{"unknown", &model.OrderLine{ProductName: "Tote Bag"}, ""},
		{"unknown taxonomy falls back to name", &model.OrderLine{Category: "merch", ProductName: "Individual Membership"}, model.CategoryMembership},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyLine(tc.line))
		})
	}
}

func TestBuildRequestsRouting(t *testing.T) {
	r := &orderRouterImpl{logger: testLogger()}
	order := &model.Order{OrderID: 60, UserID: 7}
	lines := []*model.OrderLine{
		{OrderID: 60, ProductID: 1, ProductName: "Individual Membership", Category: model.CategoryMembership, Level: "Individual", FundID: "275", Quantity: 1, Price: decimal.NewFromInt(75)},
		{OrderID: 60, ProductID: 2, ProductName: "Additional Family Member", Quantity: 2, Price: decimal.NewFromInt(20)},
		{OrderID: 60, ProductID: 3, ProductName: "Beginner Language Class", Quantity: 1, Price: decimal.NewFromInt(120)},
		{OrderID: 60, ProductID: 4, ProductName: "Tote Bag", Quantity: 1, Price: decimal.NewFromInt(15)},
	}
	meta := []*model.OrderMeta{
		{OrderID: 60, Key: "submitted_email", Value: "pat@example.com"},
	}

	reqs := r.buildRequests(order, lines, meta)

	require.Len(t, reqs.Memberships, 1)
	m := reqs.Memberships[0]
	assert.Equal(t, int64(60), m.OrderID)
	assert.Equal(t, int64(7), m.UserID)
	assert.Equal(t, "275", m.FundID)
	assert.Equal(t, "pat@example.com", m.SubmittedEmail)
	assert.True(t, m.Amount.Equal(decimal.NewFromInt(75)))

	require.Len(t, reqs.FamilySlots, 1)
	assert.Equal(t, 2, reqs.FamilySlots[0].Quantity)
	assert.True(t, reqs.FamilySlots[0].Amount.Equal(decimal.NewFromInt(40)))

	require.Len(t, reqs.Classes, 1)
	assert.Empty(t, reqs.Events)
}

func TestBuildRequestsEventParentProcessedOnce(t *testing.T) {
	r := &orderRouterImpl{logger: testLogger()}
	order := &model.Order{OrderID: 61, UserID: 7}

	// Two variation line items under the same parent event product.
	lines := []*model.OrderLine{
		{OrderID: 61, ProductID: 501, ParentID: 500, ProductName: "Gala Event - Adult", Category: model.CategoryEvent, Quantity: 1, Price: decimal.NewFromInt(50)},
		{OrderID: 61, ProductID: 502, ParentID: 500, ProductName: "Gala Event - Child", Category: model.CategoryEvent, Quantity: 1, Price: decimal.NewFromInt(25)},
		{OrderID: 61, ProductID: 600, ProductName: "Workshop Event", Category: model.CategoryEvent, Quantity: 1, Price: decimal.NewFromInt(30)},
	}

	reqs := r.buildRequests(order, lines, nil)

	require.Len(t, reqs.Events, 2)
	assert.Equal(t, int64(500), reqs.Events[0].ProductID)
	assert.Equal(t, int64(600), reqs.Events[1].ProductID)
}

func TestCollectAttendees(t *testing.T) {
	meta := map[string]string{
		"attendee_name":    "Pat Smith",
		"attendee_email":   "pat@example.com",
		"attendee_name_1":  "Sam Jones",
		"attendee_email_1": "sam@example.com",
		"attendee_name_2":  "Pat Smith", // duplicate of the first
		"attendee_email_2": "PAT@example.com",
		"attendee_name_3":  "No Email",
	}

	attendees := collectAttendees(meta, 500)

	require.Len(t, attendees, 2)
	assert.Equal(t, "Pat Smith", attendees[0].Name)
	assert.Equal(t, "Sam Jones", attendees[1].Name)
}

func TestCollectAttendeesOrdersPastNine(t *testing.T) {
	meta := map[string]string{
		"attendee_name":  "Guest 0",
		"attendee_email": "guest0@example.com",
	}
	for i := 1; i <= 11; i++ {
		meta[fmt.Sprintf("attendee_name_%d", i)] = fmt.Sprintf("Guest %d", i)
		meta[fmt.Sprintf("attendee_email_%d", i)] = fmt.Sprintf("guest%d@example.com", i)
	}

	attendees := collectAttendees(meta, 500)

	require.Len(t, attendees, 12)
	for i, att := range attendees {
		assert.Equal(t, fmt.Sprintf("Guest %d", i), att.Name)
	}
}

func TestCollectAttendeesEventAssignment(t *testing.T) {
	meta := map[string]string{
		"attendee_name":    "Pat Smith",
		"attendee_email":   "pat@example.com",
		"attendee_event":   "500",
		"attendee_name_1":  "Sam Jones",
		"attendee_email_1": "sam@example.com",
		"attendee_event_1": "600",
		"attendee_name_2":  "Unassigned Guest",
		"attendee_email_2": "guest@example.com",
	}

	gala := collectAttendees(meta, 500)
	require.Len(t, gala, 2)
	assert.Equal(t, "Pat Smith", gala[0].Name)
	assert.Equal(t, "Unassigned Guest", gala[1].Name)

	workshop := collectAttendees(meta, 600)
	require.Len(t, workshop, 2)
	assert.Equal(t, "Sam Jones", workshop[0].Name)
	assert.Equal(t, "Unassigned Guest", workshop[1].Name)
}
