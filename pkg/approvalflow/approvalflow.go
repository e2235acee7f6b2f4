package approvalflow

import (
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/neokatalyst/approvalflow/internal/config"
	"github.com/neokatalyst/approvalflow/internal/controllers"
	"github.com/neokatalyst/approvalflow/internal/engine"
	"github.com/neokatalyst/approvalflow/internal/migrations"
	"github.com/neokatalyst/approvalflow/internal/repository"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

// Start boots the approval engine and HTTP server.
// This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("AFLOW_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := core.NewRealClock()
	workflowRepo := repository.NewWorkflowRepository(db, clock)
	stepRepo := repository.NewStepRepository(db, clock)
	taskRepo := repository.NewTaskRepository(db, clock)
	workflowActionRepo := repository.NewWorkflowActionRepository(db, clock)
	userRepo := repository.NewUserRepository(db, clock)

	if err := ensureAdminUser(userRepo); err != nil {
		slog.Error("Admin user seeding failed", "error", err)
		os.Exit(1)
	}

	repos := engine.Repos{
		Workflows: workflowRepo,
		Steps:     stepRepo,
		Tasks:     taskRepo,
		Actions:   workflowActionRepo,
	}
	txRepos := func(tx *sql.Tx) engine.Repos {
		return engine.Repos{
			Workflows: workflowRepo.WithTx(tx),
			Steps:     stepRepo.WithTx(tx),
			Tasks:     taskRepo.WithTx(tx),
			Actions:   workflowActionRepo.WithTx(tx),
		}
	}

	var notifier engine.Notifier
	if url := config.GetSystemSettingString(config.NOTIFY_WEBHOOK_URL); url != "" {
		notifier = engine.NewWebhookNotifier(url)
	}

	wfManager := engine.NewWorkflowManager(db, repos, txRepos, notifier, clock)
	taskManager := engine.NewTaskManager(wfManager, userRepo)

	if mux == nil {
		mux = http.NewServeMux()
	}
	workflowsController := controllers.NewWorkflowsController(wfManager, userRepo)
	workflowsController.RegisterRoutes(mux)
	tasksController := controllers.NewTasksController(taskManager, userRepo)
	tasksController.RegisterRoutes(mux)
	actionsController := controllers.NewActionsController(workflowActionRepo, userRepo)
	actionsController.RegisterRoutes(mux)
	usersController := controllers.NewUsersController(userRepo)
	usersController.RegisterRoutes(mux)
	sessionController := controllers.NewSessionController(userRepo)
	sessionController.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

// ensureAdminUser seeds the first administrator on an empty users table so a
// fresh install can log in. AFLOW_ADMIN_PASSWORD must be set for the seed to
// run; an already populated table is left untouched.
func ensureAdminUser(userRepo *repository.UserRepository) error {
	users, err := userRepo.FindAll()
	if err != nil {
		return err
	}
	if users != nil && len(*users) > 0 {
		return nil
	}
	password := config.GetSystemSettingString(config.ADMIN_PASSWORD)
	if password == "" {
		panic("AFLOW_ADMIN_PASSWORD must be set to seed the first admin user on an empty database")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	username := config.GetSystemSettingString(config.ADMIN_USERNAME)
	_, err = userRepo.Save(&domain.User{
		Username: username,
		Password: string(hash),
		Admin:    sql.NullBool{Bool: true, Valid: true},
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	})
	if err != nil {
		return err
	}
	slog.Info("Seeded initial admin user", "username", username)
	return nil
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("AFLOW_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("AFLOW_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("AFLOW_DATABASE_URL must be set when using the MYSQL database type")
	}
	// panic if url does not contain ?parseTime=true
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("AFLOW_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	// panic if url does not  start with mysql://
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("AFLOW_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	//remove mysql:// prefix from url
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	_ = slog.New(tint.NewHandler(w, nil))
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
