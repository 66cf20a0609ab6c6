package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendsync/internal/auth"
	"attendsync/internal/config"
	"attendsync/internal/httpmiddleware"
	"attendsync/internal/identity"
	"attendsync/internal/journal"
	"attendsync/internal/metrics"
	"attendsync/internal/remote"
	"attendsync/internal/scan"
	"attendsync/internal/store"
	"attendsync/internal/syncer"
	"attendsync/internal/trigger"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("agent failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer db.Close()

	records := journal.NewStore(db)
	ids := identity.NewResolver(db)
	authority := remote.New(cfg.AuthorityURL, cfg.RemoteTimeout, cfg.ProbeTimeout)

	var q trigger.Queue
	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		q = trigger.NewRedisQueue(redisClient.Client, "attendsync:triggers")
	} else {
		q = trigger.NewInMemory(64)
	}

	session := scan.NewSession(records, ids, authority, scan.Options{
		TeacherID: cfg.DefaultTeacherID,
		DeviceID:  cfg.DeviceID,
		Debounce:  cfg.DebounceWindow,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Publish a sync trigger whenever the authority becomes reachable
	// again, so offline backlogs drain without operator action.
	go watchConnectivity(ctx, authority, q, session, cfg.ProbeInterval)

	// With the in-memory queue there is no separate worker process to
	// drain triggers, so the agent reconciles on its own goroutine and
	// runs the periodic timer the worker would otherwise own. The camera
	// pipeline is never blocked either way.
	if cfg.QueueBackend != "redis" {
		go trigger.TimerLoop(ctx, q, cfg.SyncInterval, session.Teacher)
		rec := syncer.New(records, ids, authority, cfg.DeviceID)
		go func() {
			triggers, err := q.Consume(ctx)
			if err != nil {
				log.Printf("trigger consume init failed: %v", err)
				return
			}
			for t := range triggers {
				metrics.SyncRunsTotal.WithLabelValues(string(t.Source)).Inc()
				res := rec.Run(ctx, t.TeacherScope, nil)
				metrics.SyncRecordsTotal.WithLabelValues("synced").Add(float64(res.SuccessCount))
				metrics.SyncRecordsTotal.WithLabelValues("failed").Add(float64(res.FailCount))
				log.Printf("sync (%s): %s", t.Source, res.Message)
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		pending, err := records.PendingCount("")
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "journal": false})
			return
		}
		metrics.PendingRecords.Set(float64(pending))
		health := gin.H{
			"status":    "ok",
			"journal":   true,
			"authority": authority.Online(c.Request.Context()),
			"pending":   pending,
		}
		if redisClient != nil {
			health["redis"] = redisClient.Healthy(c.Request.Context())
		}
		c.JSON(http.StatusOK, health)
	})

	r.POST("/v1/session/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.DeviceID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.SessionAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Operator login against the authority; hydrates the roster cache so
	// offline scans can be validated per student afterward.
	authGroup.POST("/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := authority.Login(c.Request.Context(), req.Username, req.Password, cfg.DeviceID)
		if err != nil {
			if remote.IsTransient(err) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authority unreachable, offline login unavailable"})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		session.SetTeacher(res.TeacherID)

		roster, err := authority.Roster(c.Request.Context(), res.TeacherID)
		if err != nil {
			log.Printf("roster hydration failed: %v", err)
		} else if err := ids.HydrateRoster(toProfiles(roster)); err != nil {
			log.Printf("roster cache replace failed: %v", err)
		}
		c.JSON(http.StatusOK, gin.H{"teacher_id": res.TeacherID, "roster_size": countRoster(roster, err)})
	})

	authGroup.POST("/scans", func(c *gin.Context) {
		var req struct {
			Payload   string `json:"payload" binding:"required"`
			EventType string `json:"event_type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		outcome := session.Validate(c.Request.Context(), req.Payload, journal.EventType(req.EventType))
		metrics.ScansTotal.WithLabelValues(string(outcome.Kind)).Inc()
		c.JSON(http.StatusOK, outcome)
	})

	authGroup.POST("/sync", func(c *gin.Context) {
		t := trigger.Trigger{Source: trigger.SourceManual, TeacherScope: session.Teacher()}
		if err := q.Publish(c.Request.Context(), t); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync trigger not accepted"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sync requested"})
	})

	authGroup.GET("/records", func(c *gin.Context) {
		date := c.Query("date")
		if date == "" {
			date = journal.DateOf(time.Now())
		}
		list, err := records.ListForDate(date, c.Query("teacher_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": list})
	})

	authGroup.GET("/pending/count", func(c *gin.Context) {
		count, err := records.PendingCount(c.Query("teacher_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.PendingRecords.Set(float64(count))
		c.JSON(http.StatusOK, gin.H{"count": count})
	})

	authGroup.GET("/students/:id/name", func(c *gin.Context) {
		name, err := ids.ResolveName(c.Param("id"), session.Teacher())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": name})
	})

	// Push notifications from the authority land here and become sync
	// triggers; the reconciler does the rest.
	authGroup.POST("/push", func(c *gin.Context) {
		t := trigger.Trigger{Source: trigger.SourcePush, TeacherScope: session.Teacher()}
		if err := q.Publish(c.Request.Context(), t); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync trigger not accepted"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sync requested"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("agent listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down agent...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("agent exited")
	return nil
}

// watchConnectivity probes the authority and fires one connectivity
// trigger per offline→online transition.
func watchConnectivity(ctx context.Context, authority *remote.Client, q trigger.Queue, session *scan.Session, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasOnline := authority.Online(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := authority.Online(ctx)
			if online && !wasOnline {
				t := trigger.Trigger{Source: trigger.SourceConnectivity, TeacherScope: session.Teacher()}
				if err := q.Publish(ctx, t); err != nil {
					log.Printf("connectivity trigger publish failed: %v", err)
				}
			}
			wasOnline = online
		}
	}
}

func toProfiles(entries []remote.RosterEntry) []identity.Profile {
	profiles := make([]identity.Profile, 0, len(entries))
	for _, e := range entries {
		profiles = append(profiles, identity.Profile{
			StudentID:  e.StudentID,
			FullName:   e.FullName,
			GradeLevel: e.GradeLevel,
			Section:    e.Section,
			Strand:     e.Strand,
			SchoolID:   e.SchoolID,
		})
	}
	return profiles
}

func countRoster(entries []remote.RosterEntry, err error) int {
	if err != nil {
		return 0
	}
	return len(entries)
}

// CORS for the local UI host.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

