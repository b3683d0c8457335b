package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"liblend/internal/config"
	"liblend/internal/handlers"
	"liblend/internal/mailer"
	"liblend/internal/models"
	"liblend/internal/repositories"
	"liblend/internal/services"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get generic DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	sites, err := loadSites(db)
	if err != nil {
		log.Fatalf("failed to load site configuration: %v", err)
	}

	userRepo := repositories.NewUserRepository(db)
	copyRepo := repositories.NewCopyRepository(db)
	requestRepo := repositories.NewLoanRequestRepository(db)
	notifRepo := repositories.NewNotificationRepository(db)
	watchRepo := repositories.NewReturnWatchRepository(db)

	mail := mailer.NewSMTP(cfg.SMTP)

	notifService := services.NewNotificationService(db, sites, userRepo, notifRepo, watchRepo, mail)
	rentalService := services.NewRentalService(db, sites, userRepo, copyRepo, notifService)
	requestService := services.NewRequestService(db, requestRepo, notifService)
	watchService := services.NewWatchService(db, watchRepo)
	sweepService := services.NewSweepService(db, copyRepo, notifRepo, notifService)

	// Daily reminder sweep at 09:00 local time. Deployments that prefer an
	// external scheduler can leave this off and call POST /internal/sweep.
	if os.Getenv("DISABLE_CRON") == "" {
		c := cron.New()
		if _, err := c.AddFunc("0 9 * * *", func() {
			if err := sweepService.RunSweep(); err != nil {
				log.Printf("[ERROR] scheduled sweep failed: %v", err)
			}
		}); err != nil {
			log.Fatalf("failed to schedule sweep: %v", err)
		}
		c.Start()
	}

	router := gin.Default()

	handlers.RegisterRoutes(router, rentalService, requestService, notifService, watchService, sweepService)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("Starting server on %s", cfg.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// loadSites assembles the injected site configuration: label codes from the
// SITE_CODES environment variable ("Gangnam=1,Yongsan=2"), staff assignments
// from the users table at startup.
func loadSites(db *gorm.DB) (config.Sites, error) {
	sites := config.Sites{
		Codes: map[string]string{},
		Staff: map[string][]config.StaffRef{},
	}

	codes := os.Getenv("SITE_CODES")
	if codes == "" {
		codes = "Gangnam=1,Yongsan=2"
	}
	for _, pair := range strings.Split(codes, ",") {
		name, code, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || len(code) != 1 {
			log.Fatalf("invalid SITE_CODES entry %q", pair)
		}
		sites.Codes[name] = code
	}

	var staff []models.User
	err := db.Where("role IN ?", []models.UserRole{models.UserRoleStaff, models.UserRoleLead}).Find(&staff).Error
	if err != nil {
		return config.Sites{}, err
	}
	for _, u := range staff {
		sites.Staff[u.Site] = append(sites.Staff[u.Site], config.StaffRef{UserID: u.ID, Role: u.Role})
	}

	log.Printf("[INFO] loaded %d site(s), %d staff member(s)", len(sites.Codes), len(staff))
	return sites, nil
}
