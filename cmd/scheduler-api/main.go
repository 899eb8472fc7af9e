package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/lumina-edu/scheduler-api/api/swagger"
	"github.com/lumina-edu/scheduler-api/internal/handler"
	"github.com/lumina-edu/scheduler-api/internal/middleware"
	"github.com/lumina-edu/scheduler-api/internal/repository"
	"github.com/lumina-edu/scheduler-api/internal/service"
	"github.com/lumina-edu/scheduler-api/pkg/cache"
	"github.com/lumina-edu/scheduler-api/pkg/config"
	"github.com/lumina-edu/scheduler-api/pkg/database"
	"github.com/lumina-edu/scheduler-api/pkg/export"
	"github.com/lumina-edu/scheduler-api/pkg/logger"
	corsmiddleware "github.com/lumina-edu/scheduler-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lumina-edu/scheduler-api/pkg/middleware/requestid"
	"github.com/lumina-edu/scheduler-api/pkg/timeutil"
)

// @title Scheduler API
// @version 1.0.0
// @description Teacher scheduling and resource allocation engine
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	businessLoc, err := timeutil.LoadLocation(cfg.Scheduling.BusinessTimezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid business timezone", "tz", cfg.Scheduling.BusinessTimezone, "error", err)
	}

	epoch, err := time.ParseInLocation("2006-01-02", cfg.Scheduling.RecurrenceEpoch, businessLoc)
	if err != nil {
		logr.Sugar().Fatalw("invalid recurrence epoch", "epoch", cfg.Scheduling.RecurrenceEpoch, "error", err)
	}

	// Repositories.
	teacherRepo := repository.NewTeacherRepository(db)
	classRepo := repository.NewClassRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	holidayRepo := repository.NewHolidayRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	scheduleOptionRepo := repository.NewScheduleOptionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	clock := timeutil.SystemClock{}
	metricsSvc := service.NewMetricsService()

	holidaySvc := service.NewHolidayService(holidayRepo, cacheRepo, cfg.Scheduling.HolidayTTL, businessLoc, logr)
	catalogSvc := service.NewCatalogService(courseRepo, cfg.Catalog.CacheTTL, clock)
	occupancySvc := service.NewOccupancyService(teacherRepo, cfg.Scheduling.BufferMinutes, logr)

	generatorSvc := service.NewGeneratorService(
		service.GeneratorConfig{Location: businessLoc, Epoch: epoch},
		holidaySvc, catalogSvc, classRepo, registrationRepo, logr,
	)

	notifySvc := service.NewNotifyService(
		service.LogSender{Logger: logr},
		cfg.Notify.Workers, cfg.Notify.MaxRetries, cfg.Notify.RetryDelay, logr,
	)

	bestFitSvc := service.NewBestFitService(
		occupancySvc, teacherRepo, classRepo, notifySvc,
		clock, cfg.Scheduling.MaxTokenValue, logr,
	)

	conflictSvc := service.NewConflictService(
		service.BackfillOptions{
			MinTrialSlack:        cfg.Backfill.MinTrialSlack,
			RegularLookaheadDays: cfg.Backfill.RegularLookaheadDays,
			SweepHorizonDays:     cfg.Backfill.SweepHorizonDays,
			BusinessDayStartHour: cfg.Backfill.BusinessDayStartHour,
			BusinessDayEndHour:   cfg.Backfill.BusinessDayEndHour,
		},
		businessLoc, occupancySvc.Buffer(),
		classRepo, registrationRepo, scheduleOptionRepo,
		generatorSvc, bestFitSvc, metricsSvc, clock, logr,
	)

	plannerSvc := service.NewPlannerService(
		cfg.Planner.HorizonDays, businessLoc,
		scheduleOptionRepo, classRepo,
		generatorSvc, bestFitSvc, occupancySvc,
		metricsSvc, clock, logr,
	)

	schedulingSvc := service.NewSchedulingService(
		classRepo, plannerSvc, bestFitSvc, conflictSvc,
		notifySvc, metricsSvc, clock, nil, logr,
	)

	exportSvc := service.NewExportService(
		teacherRepo, classRepo, catalogSvc, businessLoc,
		export.NewCSVExporter(), export.NewPDFExporter(), logr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifySvc.Start(ctx)
	defer notifySvc.Stop()

	// Background planner.
	var scheduler *gocron.Scheduler
	if cfg.Planner.Enabled {
		scheduler = gocron.NewScheduler(businessLoc)
		runPlanner := func() {
			created, err := plannerSvc.ScheduleClasses(ctx)
			if err != nil {
				logr.Sugar().Errorw("planner run failed", "error", err)
				return
			}
			logr.Sugar().Infow("planner run finished", "created", created)
		}
		runSweep := func() {
			created, err := conflictSvc.SweepFullClasses(ctx)
			if err != nil {
				logr.Sugar().Errorw("conflict sweep failed", "error", err)
				return
			}
			if created > 0 {
				logr.Sugar().Infow("conflict sweep finished", "backfilled", created)
			}
		}
		if _, err := scheduler.Cron(cfg.Planner.CronSpec).Do(runPlanner); err != nil {
			logr.Sugar().Fatalw("failed to schedule planner", "spec", cfg.Planner.CronSpec, "error", err)
		}
		if _, err := scheduler.Every(cfg.Planner.SweepInterval).Do(runSweep); err != nil {
			logr.Sugar().Fatalw("failed to schedule conflict sweep", "error", err)
		}
		scheduler.StartAsync()
		defer scheduler.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	schedulingHandler := handler.NewSchedulingHandler(schedulingSvc)
	exportHandler := handler.NewExportHandler(schedulingSvc, exportSvc)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/scheduling/proposals", schedulingHandler.Propose)
		api.POST("/scheduling/planner/run", schedulingHandler.RunPlanner)
		api.GET("/classes/:id/suggestion", schedulingHandler.Suggest)
		api.POST("/classes/:id/assignment", schedulingHandler.Assign)
		api.POST("/classes/:id/reschedule", schedulingHandler.Reschedule)
		api.POST("/classes/:id/conflicts", schedulingHandler.BustConflicts)
		api.GET("/teachers/:id/schedule/export", exportHandler.TeacherSchedule)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
