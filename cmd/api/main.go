package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timesheet/internal/config"
	"timesheet/internal/connmon"
	"timesheet/internal/httpmiddleware"
	"timesheet/internal/queue"
	"timesheet/internal/record"
	"timesheet/internal/saveq"
	"timesheet/internal/session"
	"timesheet/internal/store"
	"timesheet/internal/timesheet"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// escalatedSave is the payload published to the durable replay queue when a
// write exhausted its retries while online.
type escalatedSave struct {
	EmployeeID string              `json:"employee_id"`
	Date       string              `json:"date"`
	Record     timesheet.DayRecord `json:"record"`
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Printf("warning: schema init failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	feed := store.NewRedisFeed(redisClient.Client)
	repo := timesheet.NewRepository(db.Client, feed)

	monitor := connmon.New(connmon.Options{
		Capacity:      cfg.DeferCapacity,
		TTL:           cfg.DeferTTL,
		Probe:         connmon.NewHTTPProbe(cfg.ProbeURL),
		ProbeInterval: cfg.ProbeInterval,
	})
	monitor.Start(ctx)
	defer monitor.Stop()
	unsubscribe := monitor.AddListener(func(online bool) {
		if online {
			log.Println("connectivity restored, deferred queue draining")
		} else {
			log.Println("connectivity lost, saves will be deferred")
		}
	})
	defer unsubscribe()

	var escalation queue.Queue
	if cfg.QueueBackend == "memory" {
		escalation = queue.NewInMemory(64)
	} else {
		escalation = queue.NewRedisQueue(redisClient.Client, "timesheet:saves")
	}

	var mgr *record.Manager
	newQueue := func(employeeID, date string) *saveq.Queue {
		return saveq.New(monitor,
			saveq.WithStatus(func(s saveq.Status) {
				log.Printf("autosave %s/%s: %s", employeeID, date, s)
			}),
			saveq.WithFailureHook(func(err error) {
				escalate(ctx, escalation, mgr, employeeID, date)
			}),
		)
	}
	mgr = record.NewManager(repo, newQueue, cfg.SaveDebounce)

	trackers := &trackerSet{store: repo, feed: feed}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": "ok",
			"redis":  redisHealthy,
			"db":     dbHealthy,
			"online": monitor.IsOnline(),
		})
	})

	v1 := r.Group("/v1")

	v1.GET("/employees", func(c *gin.Context) {
		employees, err := repo.ListEmployees(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"employees": employees})
	})

	v1.POST("/employees", func(c *gin.Context) {
		var req timesheet.Employee
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		emp, err := repo.UpsertEmployee(c.Request.Context(), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, emp)
	})

	v1.GET("/sites", func(c *gin.Context) {
		sites, err := repo.ListSites(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sites": sites})
	})

	v1.POST("/sites", func(c *gin.Context) {
		var req timesheet.Site
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		site, err := repo.UpsertSite(c.Request.Context(), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, site)
	})

	v1.GET("/records/:employee/:date", func(c *gin.Context) {
		ctrl, err := mgr.Get(c.Request.Context(), c.Param("employee"), c.Param("date"))
		if err != nil {
			fail(c, err)
			return
		}
		respondRecord(c, ctrl)
	})

	v1.PUT("/records/:employee/:date/status", func(c *gin.Context) {
		var req struct {
			Status timesheet.Status `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl, err := mgr.Get(c.Request.Context(), c.Param("employee"), c.Param("date"))
		if err != nil {
			fail(c, err)
			return
		}
		if err := ctrl.SetStatus(req.Status); err != nil {
			fail(c, err)
			return
		}
		respondRecord(c, ctrl)
	})

	v1.POST("/records/:employee/:date/activities", func(c *gin.Context) {
		var req timesheet.Activity
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl, err := mgr.Get(c.Request.Context(), c.Param("employee"), c.Param("date"))
		if err != nil {
			fail(c, err)
			return
		}
		added, err := ctrl.AddActivity(req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, added)
	})

	v1.PATCH("/records/:employee/:date/activities/:id", func(c *gin.Context) {
		var req struct {
			Field string `json:"field" binding:"required"`
			Value string `json:"value"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl, err := mgr.Get(c.Request.Context(), c.Param("employee"), c.Param("date"))
		if err != nil {
			fail(c, err)
			return
		}
		if err := ctrl.UpdateActivityField(c.Param("id"), req.Field, req.Value); err != nil {
			fail(c, err)
			return
		}
		respondRecord(c, ctrl)
	})

	v1.DELETE("/records/:employee/:date/activities/:id", func(c *gin.Context) {
		ctrl, err := mgr.Get(c.Request.Context(), c.Param("employee"), c.Param("date"))
		if err != nil {
			fail(c, err)
			return
		}
		if err := ctrl.RemoveActivity(c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		respondRecord(c, ctrl)
	})

	v1.GET("/employees/:employee/records", func(c *gin.Context) {
		recs, err := repo.ListRecords(c.Request.Context(), c.Param("employee"), c.Query("start"), c.Query("end"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	v1.GET("/reports/summary", func(c *gin.Context) {
		summary, err := repo.Summary(c.Request.Context(), c.Query("start"), c.Query("end"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary})
	})

	v1.GET("/stats", func(c *gin.Context) {
		st, err := repo.Stats(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	v1.POST("/badge/:employee/clock-in", func(c *gin.Context) {
		tracker, err := trackers.get(c.Param("employee"))
		if err != nil {
			fail(c, err)
			return
		}
		res, err := tracker.ClockIn(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	v1.POST("/badge/:employee/clock-out", func(c *gin.Context) {
		employeeID := c.Param("employee")
		tracker, err := trackers.get(employeeID)
		if err != nil {
			fail(c, err)
			return
		}
		sum, err := tracker.ClockOut(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		activity := session.SessionActivity(sum)
		today := timesheet.DateString(sum.EndTime)
		if ctrl, err := mgr.Get(c.Request.Context(), employeeID, today); err != nil {
			log.Printf("append session activity failed: %v", err)
		} else {
			ctrl.AppendSessionActivity(activity)
		}
		c.JSON(http.StatusOK, gin.H{"summary": sum, "activity": activity})
	})

	v1.GET("/badge/:employee/status", func(c *gin.Context) {
		today := timesheet.DateString(time.Now())
		open, err := repo.OpenSession(c.Request.Context(), c.Param("employee"), today)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, timesheet.SessionUpdate{IsOpen: open != nil && open.IsOpen, Session: open})
	})

	v1.GET("/badge/:employee/sessions", func(c *gin.Context) {
		date := c.Query("date")
		if date == "" {
			date = timesheet.DateString(time.Now())
		}
		sessions, err := repo.ListSessions(c.Request.Context(), c.Param("employee"), date)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	v1.GET("/connectivity", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"is_online":  monitor.IsOnline(),
			"queue_size": monitor.QueueLen(),
		})
	})

	v1.POST("/connectivity", func(c *gin.Context) {
		var req struct {
			Online *bool `json:"online" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		monitor.SetOnline(ctx, *req.Online)
		c.JSON(http.StatusOK, gin.H{"is_online": monitor.IsOnline()})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	// Queue outstanding edits one last time before the process exits.
	mgr.FlushAll()
	trackers.stopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	log.Println("server exited")
	return nil
}

// trackerSet lazily builds one session tracker per employee.
type trackerSet struct {
	store timesheet.Store
	feed  timesheet.SessionFeed

	mu       sync.Mutex
	trackers map[string]*session.Tracker
}

func (s *trackerSet) get(employeeID string) (*session.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackers == nil {
		s.trackers = make(map[string]*session.Tracker)
	}
	if t, ok := s.trackers[employeeID]; ok {
		return t, nil
	}
	t, err := session.NewTracker(employeeID, s.store, s.feed)
	if err != nil {
		return nil, err
	}
	s.trackers[employeeID] = t
	return t, nil
}

func (s *trackerSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trackers {
		t.StopWatcher()
	}
}

// escalate publishes the latest state of a failed stream to the durable
// replay queue.
func escalate(ctx context.Context, q queue.Queue, mgr *record.Manager, employeeID, date string) {
	ctrl := mgr.Peek(employeeID, date)
	if ctrl == nil {
		return
	}
	msg, err := queue.NewMessage(queue.MsgRecordSave, escalatedSave{
		EmployeeID: employeeID,
		Date:       date,
		Record:     ctrl.Record(),
	})
	if err != nil {
		log.Printf("escalate encode failed: %v", err)
		return
	}
	if err := q.Publish(ctx, msg); err != nil {
		log.Printf("escalate publish failed: %v", err)
		return
	}
	log.Printf("save escalated to replay queue: %s/%s", employeeID, date)
}

func respondRecord(c *gin.Context, ctrl *record.Controller) {
	rec := ctrl.Record()
	total := rec.TotalEffectiveMinutes()
	c.JSON(http.StatusOK, gin.H{
		"record":                  rec,
		"total_effective_minutes": total,
		"total_hhmm":              timesheet.MinutesToHHMM(total),
		"total_decimal":           timesheet.MinutesToDecimal(total),
	})
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, timesheet.ErrInvalid), errors.Is(err, timesheet.ErrNoOpenSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, timesheet.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser clients.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
