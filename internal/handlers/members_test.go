package handlers

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/models"
)

func TestMemberAdministrationRequiresAdmin(t *testing.T) {
	env := setupTestEnv(t)
	_, userToken := createTestUser(t, env.db, "plain@example.com", "password123", models.UserRoleUser)

	resp := performRequest(t, env.app, "GET", "/api/members/", nil, authHeaders(userToken))
	assertStatus(t, resp, fiber.StatusForbidden)
}

func TestCreateAndListMembers(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)

	resp := performJSONRequest(t, env.app, "POST", "/api/members/", map[string]any{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"email":     "ada@example.com",
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusCreated)

	// Same email again conflicts.
	resp = performJSONRequest(t, env.app, "POST", "/api/members/", map[string]any{
		"firstName": "Ada",
		"lastName":  "Again",
		"email":     "ada@example.com",
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusConflict)

	resp = performRequest(t, env.app, "GET", "/api/members/", nil, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected 1 member, got %d", len(data))
	}
}

func TestDeregisterKeepsRecordButDropsAccess(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)
	user, userToken := createTestUser(t, env.db, "leaver@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "leaver@example.com", &user.ID)
	group := createTestGroup(t, env.db, "Sticky Committee", models.GroupTypeCommittee, member, false)

	resp := performRequest(t, env.app, "GET", "/api/committees/"+group.ID.String()+"/home/", nil, authHeaders(userToken))
	assertStatus(t, resp, fiber.StatusOK)

	resp = performJSONRequest(t, env.app, "POST", "/api/members/"+member.ID.String()+"/deregister", nil, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusOK)

	// The record survives for history, the access is gone.
	var reloaded models.Member
	if err := env.db.First(&reloaded, "id = ?", member.ID).Error; err != nil {
		t.Fatalf("expected member record kept, got %v", err)
	}
	if !reloaded.IsDeregistered {
		t.Fatal("expected member flagged deregistered")
	}

	resp = performRequest(t, env.app, "GET", "/api/committees/"+group.ID.String()+"/home/", nil, authHeaders(userToken))
	assertStatus(t, resp, fiber.StatusForbidden)
}

func TestSSOProvidersEmptyWithoutConfiguration(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, "GET", "/api/sso/providers", nil, nil)
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	providers, ok := data["providers"].([]any)
	if ok && len(providers) != 0 {
		t.Fatalf("expected no providers, got %+v", providers)
	}
}

func TestSSOCallbackRejectsBadState(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, "GET", "/api/sso/google/callback?code=abc&state=forged", nil, nil)
	assertStatus(t, resp, fiber.StatusForbidden)

	resp = performRequest(t, env.app, "GET", "/api/sso/google/callback", nil, nil)
	assertStatus(t, resp, fiber.StatusBadRequest)
}
