package handlers

import (
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/models"
)

func createWeeklyActivity(t *testing.T, env *testEnv, start time.Time) *models.Activity {
	t.Helper()

	activity := &models.Activity{
		Title:           "Weekly Game Night",
		Type:            models.ActivityTypePublic,
		StartDate:       start,
		EndDate:         start.Add(3 * time.Hour),
		RecurrenceRule:  "FREQ=WEEKLY",
		MaxParticipants: -1,
	}
	if err := env.db.Create(activity).Error; err != nil {
		t.Fatalf("failed creating activity: %v", err)
	}
	return activity
}

func calendarWindow(start time.Time, weeks int) string {
	from := start.Add(-time.Hour)
	to := start.Add(time.Duration(weeks) * 7 * 24 * time.Hour)
	return "?from=" + from.Format(time.RFC3339) + "&to=" + to.Format(time.RFC3339)
}

func TestUpcomingExpandsRecurrence(t *testing.T) {
	env := setupTestEnv(t)
	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	createWeeklyActivity(t, env, start)

	resp := performRequest(t, env.app, "GET", "/api/calendar/"+calendarWindow(start, 4), nil, nil)
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	occurrences := data["occurrences"].([]any)
	if len(occurrences) != 5 {
		t.Fatalf("expected 5 weekly occurrences in a 4-week window, got %d", len(occurrences))
	}

	first := occurrences[0].(map[string]any)
	if first["title"] != "Weekly Game Night" {
		t.Fatalf("unexpected occurrence title %v", first["title"])
	}
}

func TestMomentOverridesAndCancellation(t *testing.T) {
	env := setupTestEnv(t)
	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	activity := createWeeklyActivity(t, env, start)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)

	// Pin the second occurrence and retitle it.
	second := start.Add(7 * 24 * time.Hour)
	resp := performJSONRequest(t, env.app, "POST", "/api/calendar/activities/"+activity.ID.String()+"/moments", map[string]any{
		"recurrenceID": second.Format(time.RFC3339),
		"localTitle":   "Special Edition",
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusCreated)
	momentID := decodeJSONMap(t, resp)["data"].(map[string]any)["id"].(string)

	resp = performJSONRequest(t, env.app, "POST", "/api/calendar/moments/"+momentID+"/cancel", nil, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusOK)

	resp = performRequest(t, env.app, "GET", "/api/calendar/activities/"+activity.ID.String()+calendarWindow(start, 2), nil, nil)
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	occurrences := data["occurrences"].([]any)
	if len(occurrences) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occurrences))
	}

	overridden := occurrences[1].(map[string]any)
	if overridden["title"] != "Special Edition" {
		t.Fatalf("expected overridden title, got %v", overridden["title"])
	}
	if overridden["cancelled"] != true {
		t.Fatalf("expected the overridden occurrence cancelled, got %v", overridden["cancelled"])
	}
	if plain := occurrences[0].(map[string]any); plain["cancelled"] != false {
		t.Fatalf("expected the untouched occurrence not cancelled")
	}
}

func TestExtraMomentOutsidePattern(t *testing.T) {
	env := setupTestEnv(t)
	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	activity := createWeeklyActivity(t, env, start)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)

	extra := start.Add(3 * 24 * time.Hour)
	resp := performJSONRequest(t, env.app, "POST", "/api/calendar/activities/"+activity.ID.String()+"/moments", map[string]any{
		"recurrenceID": extra.Format(time.RFC3339),
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performRequest(t, env.app, "GET", "/api/calendar/activities/"+activity.ID.String()+calendarWindow(start, 1), nil, nil)
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	occurrences := data["occurrences"].([]any)
	if len(occurrences) != 3 {
		t.Fatalf("expected 2 pattern occurrences plus 1 extra, got %d", len(occurrences))
	}
}

func TestDuplicateMomentConflicts(t *testing.T) {
	env := setupTestEnv(t)
	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	activity := createWeeklyActivity(t, env, start)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)

	payload := map[string]any{"recurrenceID": start.Format(time.RFC3339)}
	path := "/api/calendar/activities/" + activity.ID.String() + "/moments"

	resp := performJSONRequest(t, env.app, "POST", path, payload, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performJSONRequest(t, env.app, "POST", path, payload, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusConflict)
}

func TestCreateActivityValidatesRecurrenceRule(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)
	start := time.Now().UTC().Add(24 * time.Hour)

	resp := performJSONRequest(t, env.app, "POST", "/api/calendar/activities", map[string]any{
		"title":          "Broken",
		"startDate":      start.Format(time.RFC3339),
		"endDate":        start.Add(time.Hour).Format(time.RFC3339),
		"recurrenceRule": "FREQ=NONSENSE",
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusBadRequest)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid recurrence rule")
}

func setupSlot(t *testing.T, env *testEnv, maxUsers int, activityCap int) *models.ActivitySlot {
	t.Helper()

	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	activity := &models.Activity{
		Title:           "Capped Event",
		Type:            models.ActivityTypePublic,
		StartDate:       start,
		EndDate:         start.Add(2 * time.Hour),
		MaxParticipants: activityCap,
	}
	if err := env.db.Create(activity).Error; err != nil {
		t.Fatalf("failed creating activity: %v", err)
	}

	moment := &models.ActivityMoment{ActivityID: activity.ID, RecurrenceID: start}
	if err := env.db.Create(moment).Error; err != nil {
		t.Fatalf("failed creating moment: %v", err)
	}

	slot := &models.ActivitySlot{MomentID: &moment.ID, Title: "Main", MaxUsers: maxUsers}
	if err := env.db.Create(slot).Error; err != nil {
		t.Fatalf("failed creating slot: %v", err)
	}
	return slot
}

func TestSlotRegistrationEnforcesSlotCap(t *testing.T) {
	env := setupTestEnv(t)
	slot := setupSlot(t, env, 1, -1)

	first, firstToken := createTestUser(t, env.db, "first@example.com", "password123", models.UserRoleUser)
	createTestMember(t, env.db, "first@example.com", &first.ID)
	second, secondToken := createTestUser(t, env.db, "second@example.com", "password123", models.UserRoleUser)
	createTestMember(t, env.db, "second@example.com", &second.ID)

	path := "/api/calendar/slots/" + slot.ID.String() + "/register"

	resp := performJSONRequest(t, env.app, "POST", path, nil, authHeaders(firstToken))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performJSONRequest(t, env.app, "POST", path, nil, authHeaders(secondToken))
	assertStatus(t, resp, fiber.StatusConflict)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "slot is full")
}

func TestSlotRegistrationEnforcesActivityCap(t *testing.T) {
	env := setupTestEnv(t)
	slot := setupSlot(t, env, -1, 1)

	first, firstToken := createTestUser(t, env.db, "first@example.com", "password123", models.UserRoleUser)
	createTestMember(t, env.db, "first@example.com", &first.ID)
	second, secondToken := createTestUser(t, env.db, "second@example.com", "password123", models.UserRoleUser)
	createTestMember(t, env.db, "second@example.com", &second.ID)

	path := "/api/calendar/slots/" + slot.ID.String() + "/register"

	resp := performJSONRequest(t, env.app, "POST", path, nil, authHeaders(firstToken))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performJSONRequest(t, env.app, "POST", path, nil, authHeaders(secondToken))
	assertStatus(t, resp, fiber.StatusConflict)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "activity is full")
}

func TestSlotRegistrationRequiresMemberRecord(t *testing.T) {
	env := setupTestEnv(t)
	slot := setupSlot(t, env, -1, -1)
	_, token := createTestUser(t, env.db, "nomember@example.com", "password123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, "POST", "/api/calendar/slots/"+slot.ID.String()+"/register", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusForbidden)
}

func TestSlotRegistrationIdempotenceAndDeregistration(t *testing.T) {
	env := setupTestEnv(t)
	slot := setupSlot(t, env, -1, -1)
	user, token := createTestUser(t, env.db, "joiner@example.com", "password123", models.UserRoleUser)
	createTestMember(t, env.db, "joiner@example.com", &user.ID)

	path := "/api/calendar/slots/" + slot.ID.String() + "/register"

	resp := performJSONRequest(t, env.app, "POST", path, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performJSONRequest(t, env.app, "POST", path, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusConflict)

	resp = performRequest(t, env.app, "DELETE", path, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)

	resp = performRequest(t, env.app, "DELETE", path, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusNotFound)
}

func TestCancelledMomentRefusesRegistration(t *testing.T) {
	env := setupTestEnv(t)
	slot := setupSlot(t, env, -1, -1)
	if err := env.db.Model(&models.ActivityMoment{}).
		Where("id = ?", *slot.MomentID).
		Update("status", models.MomentStatusCancelled).Error; err != nil {
		t.Fatalf("failed cancelling moment: %v", err)
	}

	user, token := createTestUser(t, env.db, "late@example.com", "password123", models.UserRoleUser)
	createTestMember(t, env.db, "late@example.com", &user.ID)

	resp := performJSONRequest(t, env.app, "POST", "/api/calendar/slots/"+slot.ID.String()+"/register", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusConflict)
}

func TestMeetingsTabCreatesSeriesOnFirstUse(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "secretary@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "secretary@example.com", &user.ID)
	group := createTestGroup(t, env.db, "Meeting Committee", models.GroupTypeCommittee, member, true)

	base := "/api/committees/" + group.ID.String() + "/meetings/"

	resp := performRequest(t, env.app, "GET", base, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	if meetings := data["meetings"].([]any); len(meetings) != 0 {
		t.Fatalf("expected no meetings yet, got %d", len(meetings))
	}

	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	resp = performJSONRequest(t, env.app, "POST", base, map[string]any{
		"start":      start.Format(time.RFC3339),
		"localTitle": "Budget meeting",
	}, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performRequest(t, env.app, "GET", base, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)
	data = decodeJSONMap(t, resp)["data"].(map[string]any)
	meetings := data["meetings"].([]any)
	if len(meetings) != 1 {
		t.Fatalf("expected 1 meeting, got %d", len(meetings))
	}
	meeting := meetings[0].(map[string]any)
	if meeting["localTitle"] != "Budget meeting" {
		t.Fatalf("unexpected meeting title %v", meeting["localTitle"])
	}

	// The backing meeting series never shows on the public calendar.
	var count int64
	if err := env.db.Model(&models.Activity{}).Where("type = ?", models.ActivityTypeMeeting).Count(&count).Error; err != nil {
		t.Fatalf("failed counting meeting activities: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one meeting series, got %d", count)
	}
}

func TestMeetingMutationsRequireGroupAdmin(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "plain@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "plain@example.com", &user.ID)
	group := createTestGroup(t, env.db, "Read Only Committee", models.GroupTypeCommittee, member, false)

	start := time.Now().UTC().Add(48 * time.Hour)
	resp := performJSONRequest(t, env.app, "POST", "/api/committees/"+group.ID.String()+"/meetings/", map[string]any{
		"start": start.Format(time.RFC3339),
	}, authHeaders(token))
	assertStatus(t, resp, fiber.StatusForbidden)
}
