package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/squire/backend/internal/collective"
	"github.com/squire/backend/internal/config"
	"github.com/squire/backend/internal/database"
	"github.com/squire/backend/internal/handlers"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/services"
	"github.com/squire/backend/internal/storage"
	"github.com/squire/backend/pkg/linktoken"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	utils.ConfigureEncryption(cfg.JWT.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	var remote storage.Remote
	if cfg.Storage.Enabled {
		client, err := storage.NewMinIOClient(cfg.Storage)
		if err != nil {
			log.Fatalf("storage initialization failed: %v", err)
		}
		if err := client.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("failed ensuring storage bucket: %v", err)
		}
		remote = client
	}

	sessions := session.New()
	generator := linktoken.NewGenerator("member-registration-link", cfg.JWT.Secret, cfg.LinkToken.MaxAge)

	calendarService := services.NewCalendarService(db)
	providerService := services.NewOAuthProviderService(cfg)

	authHandler := handlers.NewAuthHandler(db)
	mfaHandler := handlers.NewMFAHandler(db)
	accountHandler := handlers.NewAccountHandler(db)
	ssoHandler := handlers.NewSSOHandler(db, providerService, cfg)
	membersHandler := handlers.NewMembersHandler(db)
	committeesHandler := handlers.NewCommitteesHandler(db)
	calendarHandler := handlers.NewCalendarHandler(db, calendarService)
	inventoryHandler := handlers.NewInventoryHandler(db)
	nextcloudHandler := handlers.NewNextcloudHandler(db, remote)

	linkGuard := handlers.NewMemberLinkGuard(db, generator, sessions)
	linkHandler := handlers.NewMemberLinkHandler(db, generator, linkGuard)

	authMiddleware := middleware.NewAuthMiddleware(db)

	accountRegistry := collective.NewRegistry("account")
	accountRegistry.Register(
		handlers.NewAccountProfileConfig(accountHandler),
		handlers.NewAccountSecurityConfig(authHandler, mfaHandler),
		handlers.NewAccountPreferencesConfig(accountHandler),
		handlers.NewAccountLinkedConfig(ssoHandler),
	)

	committeeRegistry := collective.NewRegistry("committees")
	committeeRegistry.ResolveScope = handlers.NewGroupScopeResolver(db)
	committeeRegistry.Register(
		handlers.NewCommitteeHomeConfig(committeesHandler),
		handlers.NewCommitteeMembersConfig(committeesHandler),
		handlers.NewCommitteeQuicklinksConfig(committeesHandler),
		handlers.NewCommitteeMeetingsConfig(calendarHandler),
		handlers.NewCommitteeItemsConfig(inventoryHandler),
	)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":            cfg.Server.Port,
		"address":         listenAddr,
		"storage_enabled": cfg.Storage.Enabled,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
