package handlers

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"github.com/squire/backend/internal/collective"
	"github.com/squire/backend/internal/config"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/internal/services"
	"github.com/squire/backend/internal/storage"
	"github.com/squire/backend/pkg/linktoken"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app       *fiber.App
	db        *gorm.DB
	remote    *fakeRemote
	generator *linktoken.Generator
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
		utils.ConfigureEncryption("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Member{},
		&models.AssociationGroup{},
		&models.AssociationGroupMembership{},
		&models.GroupQuicklink{},
		&models.Activity{},
		&models.ActivityMoment{},
		&models.ActivitySlot{},
		&models.Participant{},
		&models.OrganiserLink{},
		&models.Item{},
		&models.Ownership{},
		&models.NCFolder{},
		&models.NCFile{},
		&models.LinkedAccount{},
		&models.MFAConfig{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			FrontendURL: "http://localhost:3001",
		},
	}

	sessions := session.New()
	generator := linktoken.NewGenerator("member-registration-link", "test-secret", 3*24*time.Hour)
	remote := newFakeRemote()

	calendarService := services.NewCalendarService(db)
	providerService := services.NewOAuthProviderService(cfg)

	authHandler := NewAuthHandler(db)
	mfaHandler := NewMFAHandler(db)
	accountHandler := NewAccountHandler(db)
	ssoHandler := NewSSOHandler(db, providerService, cfg)
	membersHandler := NewMembersHandler(db)
	committeesHandler := NewCommitteesHandler(db)
	calendarHandler := NewCalendarHandler(db, calendarService)
	inventoryHandler := NewInventoryHandler(db)
	nextcloudHandler := NewNextcloudHandler(db, remote)

	linkGuard := NewMemberLinkGuard(db, generator, sessions)
	linkHandler := NewMemberLinkHandler(db, generator, linkGuard)

	authMiddleware := middleware.NewAuthMiddleware(db)

	accountRegistry := collective.NewRegistry("account")
	accountRegistry.Register(
		NewAccountProfileConfig(accountHandler),
		NewAccountSecurityConfig(authHandler, mfaHandler),
		NewAccountPreferencesConfig(accountHandler),
		NewAccountLinkedConfig(ssoHandler),
	)

	committeeRegistry := collective.NewRegistry("committees")
	committeeRegistry.ResolveScope = NewGroupScopeResolver(db)
	committeeRegistry.Register(
		NewCommitteeHomeConfig(committeesHandler),
		NewCommitteeMembersConfig(committeesHandler),
		NewCommitteeQuicklinksConfig(committeesHandler),
		NewCommitteeMeetingsConfig(calendarHandler),
		NewCommitteeItemsConfig(inventoryHandler),
	)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	accountRoutes := api.Group("/account", authMiddleware.RequireAuth)
	accountRegistry.Mount(accountRoutes, "/api/account")

	api.Get("/sso/providers", ssoHandler.ListProviders)
	api.Get("/sso/:provider/callback", ssoHandler.Callback)

	memberRoutes := api.Group("/members", authMiddleware.RequireAuth, middleware.AdminOnly)
	memberRoutes.Get("/", membersHandler.List)
	memberRoutes.Post("/", membersHandler.Create)
	memberRoutes.Get("/:id", membersHandler.Get)
	memberRoutes.Put("/:id", membersHandler.Update)
	memberRoutes.Post("/:id/deregister", membersHandler.Deregister)
	memberRoutes.Post("/:id/link", linkHandler.IssueLink)

	api.Get("/link/member/:uid/:token", authMiddleware.OptionalAuth, linkGuard.RequireURLToken(), linkHandler.Show)
	api.Post("/link/member/:uid/confirm", authMiddleware.RequireAuth, linkGuard.RequireSessionToken(), linkHandler.Confirm)

	api.Get("/committees", authMiddleware.RequireAuth, committeesHandler.ListMine)
	api.Post("/committees", authMiddleware.RequireAuth, middleware.AdminOnly, committeesHandler.CreateGroup)

	committeeRoutes := api.Group("/committees/:groupId", authMiddleware.RequireAuth)
	committeeRegistry.Mount(committeeRoutes, "/api/committees/:groupId")

	calendarRoutes := api.Group("/calendar", authMiddleware.OptionalAuth)
	calendarRoutes.Get("/", calendarHandler.Upcoming)
	calendarRoutes.Get("/activities/:id", calendarHandler.GetActivity)
	calendarRoutes.Get("/moments/:momentId/slots", calendarHandler.Slots)

	calendarAdmin := api.Group("/calendar", authMiddleware.RequireAuth, middleware.AdminOnly)
	calendarAdmin.Post("/activities", calendarHandler.CreateActivity)
	calendarAdmin.Post("/activities/:id/moments", calendarHandler.CreateMoment)
	calendarAdmin.Put("/moments/:momentId", calendarHandler.UpdateMoment)
	calendarAdmin.Post("/moments/:momentId/cancel", calendarHandler.CancelMoment)
	calendarAdmin.Post("/moments/:momentId/slots", calendarHandler.CreateSlot)

	api.Post("/calendar/slots/:slotId/register", authMiddleware.RequireAuth, calendarHandler.Register)
	api.Delete("/calendar/slots/:slotId/register", authMiddleware.RequireAuth, calendarHandler.Deregister)

	inventoryRoutes := api.Group("/inventory", authMiddleware.RequireAuth)
	inventoryRoutes.Get("/catalogue", inventoryHandler.Catalogue)
	inventoryRoutes.Get("/items/:id", inventoryHandler.GetItem)
	inventoryRoutes.Get("/mine", inventoryHandler.MyItems)
	inventoryRoutes.Post("/mine/:id/take-home", inventoryHandler.TakeHome)
	inventoryRoutes.Post("/mine/:id/loan-out", inventoryHandler.LoanOut)
	inventoryRoutes.Put("/mine/:id/note", inventoryHandler.UpdateNote)

	inventoryAdmin := api.Group("/inventory", authMiddleware.RequireAuth, middleware.AdminOnly)
	inventoryAdmin.Post("/items", inventoryHandler.CreateItem)
	inventoryAdmin.Put("/items/:id", inventoryHandler.UpdateItem)
	inventoryAdmin.Delete("/items/:id", inventoryHandler.DeleteItem)
	inventoryAdmin.Post("/ownerships", inventoryHandler.CreateOwnership)

	nextcloudRoutes := api.Group("/nextcloud", authMiddleware.OptionalAuth)
	nextcloudRoutes.Get("/folders", nextcloudHandler.ListFolders)
	nextcloudRoutes.Get("/folders/:folder", nextcloudHandler.FolderContents)
	nextcloudRoutes.Get("/folders/:folder/files/:file/download", nextcloudHandler.DownloadFile)

	nextcloudAdmin := api.Group("/nextcloud", authMiddleware.RequireAuth, middleware.AdminOnly)
	nextcloudAdmin.Post("/folders", nextcloudHandler.CreateFolder)
	nextcloudAdmin.Post("/folders/:folder/files", nextcloudHandler.SyncFile)
	nextcloudAdmin.Delete("/folders/:folder/files/:file", nextcloudHandler.DeleteFile)

	return &testEnv{app: app, db: db, remote: remote, generator: generator}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

// createTestMember registers a member record, optionally linked to a user.
func createTestMember(t *testing.T, db *gorm.DB, email string, userID *uuid.UUID) *models.Member {
	t.Helper()

	member := &models.Member{
		FirstName: "Member",
		LastName:  "Record",
		Email:     email,
		UserID:    userID,
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("failed creating test member: %v", err)
	}
	return member
}

// createTestGroup makes an association group with one membership for member.
func createTestGroup(t *testing.T, db *gorm.DB, name string, groupType models.GroupType, member *models.Member, isAdmin bool) *models.AssociationGroup {
	t.Helper()

	group := &models.AssociationGroup{Name: name, Type: groupType}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("failed creating test group: %v", err)
	}

	if member != nil {
		membership := &models.AssociationGroupMembership{
			GroupID:  group.ID,
			MemberID: member.ID,
			IsAdmin:  isAdmin,
		}
		if err := db.Create(membership).Error; err != nil {
			t.Fatalf("failed creating test membership: %v", err)
		}
	}
	return group
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

// fakeRemote is an in-memory storage.Remote. Deleting objects simulates a
// file share that lost data; unavailable simulates an unreachable share.
type fakeRemote struct {
	mu          sync.Mutex
	objects     map[string][]byte
	unavailable bool
}

var _ storage.Remote = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string][]byte{}}
}

func (f *fakeRemote) put(objectName string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
}

func (f *fakeRemote) drop(objectName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
}

func (f *fakeRemote) setUnavailable(unavailable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = unavailable
}

func (f *fakeRemote) EnsureBucket(ctx context.Context) error {
	if f.unavailable {
		return storage.ErrUnavailable
	}
	return nil
}

func (f *fakeRemote) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return storage.ErrUnavailable
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectName] = data
	return nil
}

func (f *fakeRemote) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, storage.ErrUnavailable
	}
	data, ok := f.objects[objectName]
	if !ok {
		return nil, storage.ErrObjectMissing
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeRemote) Exists(ctx context.Context, objectName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return false, storage.ErrUnavailable
	}
	_, ok := f.objects[objectName]
	return ok, nil
}

func (f *fakeRemote) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, storage.ErrUnavailable
	}
	var objects []storage.ObjectInfo
	for name, data := range f.objects {
		if strings.HasPrefix(name, prefix) {
			objects = append(objects, storage.ObjectInfo{
				Name: strings.TrimPrefix(name, prefix),
				Size: int64(len(data)),
			})
		}
	}
	return objects, nil
}

func (f *fakeRemote) Delete(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return storage.ErrUnavailable
	}
	if _, ok := f.objects[objectName]; !ok {
		return storage.ErrObjectMissing
	}
	delete(f.objects, objectName)
	return nil
}
