package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/newmeca/membership/app/controllers"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/allocator"
	"github.com/newmeca/membership/internal/pkg/cache"
	"github.com/newmeca/membership/internal/pkg/database"
	"github.com/newmeca/membership/internal/pkg/env"
	"github.com/newmeca/membership/internal/pkg/jobqueue"
	"github.com/newmeca/membership/internal/pkg/mecaid"
	"github.com/newmeca/membership/internal/pkg/membership"
	"github.com/newmeca/membership/internal/pkg/router"
	"github.com/newmeca/membership/internal/pkg/teams"
)

func main() {
	app := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if m := jobqueue.GetManager(); m != nil {
			m.Stop()
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)
	factory := repository.GetGlobalFactory()

	alloc, err := allocator.New(env.GetEnv("MECA_ID_ALLOCATOR", allocator.KindDB), db, cache.GetClient())
	if err != nil {
		log.Fatalf("MECA ID allocator: %v", err)
	}
	ids := mecaid.NewService(alloc)
	memberships := membership.NewService(factory.GetUnitOfWork(), ids,
		membership.WithTermDays(env.GetEnvInt("MEMBERSHIP_TERM_DAYS", membership.DefaultTermDays)))
	teamService := teams.NewService(factory.GetUnitOfWork(), memberships)

	// background expiry sweep
	jobqueue.InitManager(memberships).Start()

	app := fiber.New(fiber.Config{
		AppName:   "MECA Membership",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	basePath := "./"
	if _, err := os.Stat(basePath + "public/docs/v1/openapi.yml"); os.IsNotExist(err) {
		basePath = "../../"
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	api := router.NewApiRouter(
		controllers.NewMembershipController(memberships),
		controllers.NewTeamController(teamService),
		factory.GetProfileRepository(),
	)
	api.RateLimit = env.GetEnvInt("API_RATE_LIMIT_PER_MINUTE", 120)
	if !env.IsDev() {
		api.LimiterStorage = cache.NewFiberStorage(cache.LimiterDatabase)
	}
	router.InstallRouter(app, api)

	return app
}
