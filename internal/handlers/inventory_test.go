package handlers

import (
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/squire/backend/internal/models"
)

func createTestItem(t *testing.T, env *testEnv, name, category string) *models.Item {
	t.Helper()

	item := &models.Item{Name: name, Category: category}
	if err := env.db.Create(item).Error; err != nil {
		t.Fatalf("failed creating item: %v", err)
	}
	return item
}

func createMemberOwnership(t *testing.T, env *testEnv, item *models.Item, member *models.Member) *models.Ownership {
	t.Helper()

	ownership := &models.Ownership{
		ItemID:   item.ID,
		MemberID: &member.ID,
		IsActive: true,
		AddedAt:  time.Now().UTC(),
	}
	if err := env.db.Create(ownership).Error; err != nil {
		t.Fatalf("failed creating ownership: %v", err)
	}
	return ownership
}

func TestCatalogueShowsOnlyItemsAtTheAssociation(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "browser@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "browser@example.com", &user.ID)

	present := createTestItem(t, env, "Catan", "boardgame")
	createMemberOwnership(t, env, present, member)

	home := createTestItem(t, env, "Gloomhaven", "boardgame")
	ownership := createMemberOwnership(t, env, home, member)
	if err := env.db.Model(ownership).Update("is_active", false).Error; err != nil {
		t.Fatalf("failed deactivating ownership: %v", err)
	}

	orphan := createTestItem(t, env, "Unowned", "boardgame")
	_ = orphan

	resp := performRequest(t, env.app, "GET", "/api/inventory/catalogue", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected only the present item, got %d entries", len(data))
	}
	if data[0].(map[string]any)["name"] != "Catan" {
		t.Fatalf("expected Catan, got %v", data[0])
	}
}

func TestCatalogueCategoryFilter(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "filter@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "filter@example.com", &user.ID)

	game := createTestItem(t, env, "Catan", "boardgame")
	createMemberOwnership(t, env, game, member)
	book := createTestItem(t, env, "Rulebook", "book")
	createMemberOwnership(t, env, book, member)

	resp := performRequest(t, env.app, "GET", "/api/inventory/catalogue?category=book", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].([]any)
	if len(data) != 1 || data[0].(map[string]any)["name"] != "Rulebook" {
		t.Fatalf("expected only the book, got %+v", data)
	}
}

func TestTakeHomeAndLoanOutFlipLending(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "owner@example.com", &user.ID)
	item := createTestItem(t, env, "Azul", "boardgame")
	ownership := createMemberOwnership(t, env, item, member)

	resp := performJSONRequest(t, env.app, "POST", "/api/inventory/mine/"+ownership.ID.String()+"/take-home", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)

	var reloaded models.Ownership
	if err := env.db.First(&reloaded, "id = ?", ownership.ID).Error; err != nil {
		t.Fatalf("failed reloading ownership: %v", err)
	}
	if reloaded.IsActive {
		t.Fatal("expected lending inactive after take-home")
	}

	resp = performJSONRequest(t, env.app, "POST", "/api/inventory/mine/"+ownership.ID.String()+"/loan-out", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)

	if err := env.db.First(&reloaded, "id = ?", ownership.ID).Error; err != nil {
		t.Fatalf("failed reloading ownership: %v", err)
	}
	if !reloaded.IsActive {
		t.Fatal("expected lending active after loan-out")
	}
}

func TestCannotFlipSomeoneElsesLending(t *testing.T) {
	env := setupTestEnv(t)
	owner, _ := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)
	ownerMember := createTestMember(t, env.db, "owner@example.com", &owner.ID)
	item := createTestItem(t, env, "Azul", "boardgame")
	ownership := createMemberOwnership(t, env, item, ownerMember)

	other, otherToken := createTestUser(t, env.db, "other@example.com", "password123", models.UserRoleUser)
	createTestMember(t, env.db, "other@example.com", &other.ID)

	resp := performJSONRequest(t, env.app, "POST", "/api/inventory/mine/"+ownership.ID.String()+"/take-home", nil, authHeaders(otherToken))
	assertStatus(t, resp, fiber.StatusNotFound)
}

func TestOwnershipNoteUpdate(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "noted@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "noted@example.com", &user.ID)
	item := createTestItem(t, env, "Carcassonne", "boardgame")
	ownership := createMemberOwnership(t, env, item, member)

	resp := performJSONRequest(t, env.app, "PUT", "/api/inventory/mine/"+ownership.ID.String()+"/note", map[string]any{
		"note": "missing two meeples",
	}, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)

	var reloaded models.Ownership
	if err := env.db.First(&reloaded, "id = ?", ownership.ID).Error; err != nil {
		t.Fatalf("failed reloading ownership: %v", err)
	}
	if reloaded.Note == nil || *reloaded.Note != "missing two meeples" {
		t.Fatalf("expected stored note, got %+v", reloaded.Note)
	}
}

func TestCreateOwnershipRequiresExactlyOneOwner(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)
	member := createTestMember(t, env.db, "lender@example.com", nil)
	item := createTestItem(t, env, "Wingspan", "boardgame")

	resp := performJSONRequest(t, env.app, "POST", "/api/inventory/ownerships", map[string]any{
		"itemID": item.ID.String(),
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusBadRequest)

	resp = performJSONRequest(t, env.app, "POST", "/api/inventory/ownerships", map[string]any{
		"itemID":   item.ID.String(),
		"memberID": member.ID.String(),
		"groupID":  uuid.NewString(),
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusBadRequest)

	resp = performJSONRequest(t, env.app, "POST", "/api/inventory/ownerships", map[string]any{
		"itemID":   item.ID.String(),
		"memberID": member.ID.String(),
	}, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusCreated)
}

func TestDeleteItemBlockedWhileOwned(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)
	member := createTestMember(t, env.db, "lender@example.com", nil)
	item := createTestItem(t, env, "Dominion", "boardgame")
	ownership := createMemberOwnership(t, env, item, member)

	resp := performRequest(t, env.app, "DELETE", "/api/inventory/items/"+item.ID.String(), nil, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusConflict)

	if err := env.db.Delete(ownership).Error; err != nil {
		t.Fatalf("failed removing ownership: %v", err)
	}

	resp = performRequest(t, env.app, "DELETE", "/api/inventory/items/"+item.ID.String(), nil, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusOK)
}

func TestCommitteeItemsTab(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "keeper@example.com", "password123", models.UserRoleUser)
	member := createTestMember(t, env.db, "keeper@example.com", &user.ID)
	group := createTestGroup(t, env.db, "Stock Committee", models.GroupTypeCommittee, member, true)
	item := createTestItem(t, env, "Projector", "hardware")

	base := "/api/committees/" + group.ID.String() + "/items/"

	resp := performJSONRequest(t, env.app, "POST", base, map[string]any{
		"itemID": item.ID.String(),
	}, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performRequest(t, env.app, "GET", base, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusOK)
	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	ownerships := data["ownerships"].([]any)
	if len(ownerships) != 1 {
		t.Fatalf("expected 1 group item, got %d", len(ownerships))
	}
	entry := ownerships[0].(map[string]any)
	itemData := entry["item"].(map[string]any)
	if itemData["name"] != "Projector" {
		t.Fatalf("expected Projector, got %v", itemData["name"])
	}
}
