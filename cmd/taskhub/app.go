package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/auth"
	"github.com/example/taskhub/internal/clock"
	"github.com/example/taskhub/internal/config"
	"github.com/example/taskhub/internal/featureflag"
	httptransport "github.com/example/taskhub/internal/http"
	"github.com/example/taskhub/internal/lock"
	"github.com/example/taskhub/internal/persistence/sqlite"
	"github.com/example/taskhub/internal/recurrence"
	"github.com/example/taskhub/internal/worker"
)

// app holds the wired process: the HTTP handler, the background sweeper and
// every resource that must be released on shutdown.
type app struct {
	handler http.Handler
	sweeper *worker.Sweeper
	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg config.Config, clk clock.Source, logger *slog.Logger) (_ *app, err error) {
	clk = clock.OrSystem(clk)
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := sqlite.Open(ctx, sqlite.Config{DSN: cfg.SQLiteDSN})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err := db.Migrate(ctx, logger); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	var locker recurrence.Locker = lock.NewMemoryLocker(clk)
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(lock.RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, redisLocker.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisLocker.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		locker = redisLocker
		logger.Info("using redis for recurrence locks", "addr", cfg.RedisAddr)
	}

	now := clk.Now
	userRepo := sqlite.NewUserRepository(db)
	roleRepo := sqlite.NewRoleRepository(db)
	taskRepo := sqlite.NewTaskRepository(db)
	expenseRepo := sqlite.NewExpenseRepository(db)
	budgetRepo := sqlite.NewBudgetRepository(db)
	featureRepo := sqlite.NewFeatureRepository(db)

	definitions, err := featureflag.NewCachedDefinitions(featureRepo, cfg.FeatureCacheSize, cfg.FeatureCacheTTL, clk)
	if err != nil {
		return nil, fmt.Errorf("create feature cache: %w", err)
	}
	engine := featureflag.NewEngine(definitions, featureRepo, featureRepo, clk)

	scheduler := recurrence.NewScheduler(recurrence.NewStandardCron(), cfg.Location)
	taskProcessor := recurrence.NewProcessor(scheduler, taskRepo.RecurrenceStore(),
		application.TaskMaterializer(uuid.NewString, now),
		recurrence.ProcessorConfig{Name: "tasks", Locker: locker, MaxCatchUp: cfg.MaxCatchUp, Logger: logger})
	expenseProcessor := recurrence.NewProcessor(scheduler, expenseRepo.RecurrenceStore(),
		application.ExpenseMaterializer(uuid.NewString, now),
		recurrence.ProcessorConfig{Name: "expenses", Locker: locker, MaxCatchUp: cfg.MaxCatchUp, Logger: logger})

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, clk)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	userService := application.NewUserService(userRepo, nil, uuid.NewString, now, logger)
	roleService := application.NewRoleService(roleRepo, now, logger)
	authService := application.NewAuthService(userRepo, tokens, nil, logger)
	featureService := application.NewFeatureService(definitions, featureRepo, featureRepo, engine, uuid.NewString, now, logger)
	taskService := application.NewTaskService(taskRepo, scheduler, taskProcessor, uuid.NewString, now, logger)
	expenseService := application.NewExpenseService(expenseRepo, scheduler, expenseProcessor, uuid.NewString, now, logger)
	budgetService := application.NewBudgetService(budgetRepo, expenseRepo, uuid.NewString, now, cfg.Location, logger)
	recurrenceService := application.NewRecurrenceService(taskProcessor, expenseProcessor, now, logger)

	if err := bootstrap(ctx, cfg, roleService, userService, logger); err != nil {
		return nil, err
	}

	a.handler, err = httptransport.NewRouter(httptransport.RouterConfig{
		Auth:           httptransport.NewAuthHandler(authService, logger),
		Features:       httptransport.NewFeatureHandler(featureService, logger),
		Tasks:          httptransport.NewTaskHandler(taskService, logger),
		Expenses:       httptransport.NewExpenseHandler(expenseService, logger),
		Budgets:        httptransport.NewBudgetHandler(budgetService, logger),
		Users:          httptransport.NewUserHandler(userService, logger),
		Roles:          httptransport.NewRoleHandler(roleService, logger),
		Recurrence:     httptransport.NewRecurrenceHandler(recurrenceService, logger),
		Tokens:         authService,
		FeatureChecker: featureService,
		Policy:         httptransport.DefaultPolicy(),
		RateLimit:      rate.Limit(cfg.RateLimitRPS),
		RateBurst:      cfg.RateLimitBurst,
		Middleware:     []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	a.sweeper = worker.NewSweeper(recurrenceService.Sweep, cfg.SweepInterval, logger)
	return a, nil
}

// bootstrap makes sure the admin role exists and, when credentials are
// configured, that an administrator can log in.
func bootstrap(ctx context.Context, cfg config.Config, roles *application.RoleService, users *application.UserService, logger *slog.Logger) error {
	if err := roles.EnsureRole(ctx, application.AdminRole, "Full administrative access"); err != nil {
		return fmt.Errorf("seed admin role: %w", err)
	}
	if cfg.AdminEmail == "" {
		return nil
	}
	user, created, err := users.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed administrator: %w", err)
	}
	if created {
		logger.Info("administrator account created", "user_id", user.ID, "email", user.Email)
	}
	return nil
}
