package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ekklesiahq/ekklesia/internal/pkg/billing"
	"github.com/ekklesiahq/ekklesia/internal/pkg/cron"
	"github.com/ekklesiahq/ekklesia/internal/pkg/database"
	"github.com/ekklesiahq/ekklesia/internal/pkg/env"
	"github.com/ekklesiahq/ekklesia/internal/pkg/gateway"
	"github.com/ekklesiahq/ekklesia/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()

	gw, err := gateway.Default()
	if err != nil {
		log.Fatalf("payment gateway configuration invalid: %v", err)
	}
	log.Printf("payment gateway: %s", gw.Provider())

	// Push any plans authored before startup to the gateway so the catalog
	// is checkout-ready.
	svc := billing.NewServiceFromDB(database.GetDB(), gw)
	if synced, err := svc.SyncPendingPlans(context.Background()); err != nil {
		log.Printf("startup plan sync failed: %v", err)
	} else if synced > 0 {
		log.Printf("synced %d plans to %s", synced, gw.Provider())
	}

	cron.InitSubscriptionExpiryCron()

	app := fiber.New(fiber.Config{
		AppName: "ekklesia",
	})

	app.Use(recover.New(), logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	router.InstallRouter(app)

	return app
}
