package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusledger/internal/attendance"
	"campusledger/internal/auth"
	"campusledger/internal/cardimg"
	"campusledger/internal/config"
	"campusledger/internal/feeclient"
	"campusledger/internal/httpmiddleware"
	"campusledger/internal/ledger"
	"campusledger/internal/metrics"
	"campusledger/internal/queue"
	"campusledger/internal/store"
	"campusledger/internal/student"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campus:scans")
	}

	students := student.NewRepository(db.Client)
	tokens := auth.NewRepository(db.Client)
	attRepo := attendance.NewRepository(db.Client)
	att := attendance.NewService(attRepo, students, cfg.LateThresholdHour)

	feeRepo := ledger.NewRepository(db.Client)
	feeSvc := feeclient.New(cfg.FeeServiceURL, cfg.FeeSource != "service")
	feeSvc.OnMalformed = func(n int) { metrics.MalformedDocuments.Add(float64(n)) }
	var ledgerSource ledger.Source = feeRepo
	if cfg.FeeSource == "service" {
		ledgerSource = feeSvc
	}
	ledgerCache := store.NewLedgerCache(redisClient.Client, cfg.LedgerCacheTTL)

	// Photo client (nil when not configured)
	var photos *cardimg.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		photos = cardimg.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("photo storage configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("photo storage not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil && db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		pair, err := auth.Issue(req.DeviceID, auth.RoleDevice, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		if err := tokens.SaveRefreshToken(c.Request.Context(), req.DeviceID, pair.RefreshToken, pair.RefreshExp); err != nil {
			log.Printf("save refresh token failed: %v", err)
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"expires_at":    pair.AccessExp.Unix(),
		})
	})

	// Staff and accountant tokens share the device trust model: the
	// identity provider sits in front of this service.
	r.POST("/v1/staff/token", func(c *gin.Context) {
		var req struct {
			StaffID string `json:"staff_id" binding:"required"`
			Role    string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role := req.Role
		if role != auth.RoleAccountant {
			role = auth.RoleStaff
		}
		pair, err := auth.Issue(req.StaffID, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		if err := tokens.SaveRefreshToken(c.Request.Context(), req.StaffID, pair.RefreshToken, pair.RefreshExp); err != nil {
			log.Printf("save refresh token failed: %v", err)
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"expires_at":    pair.AccessExp.Unix(),
		})
	})

	authed := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	staffOnly := auth.RequireRole(auth.RoleStaff, auth.RoleAccountant)

	// Scan ingestion: devices post card scans directly; face scans without
	// a resolved student are queued for the worker to identify.
	authed.POST("/scans", func(c *gin.Context) {
		var req struct {
			StudentID     string    `json:"student_id"`
			CardID        string    `json:"card_id"`
			CourseID      string    `json:"course_id"`
			Timestamp     time.Time `json:"timestamp"`
			DigitalMethod string    `json:"digital_method"`
			ImageURL      string    `json:"image_url"`
			Status        string    `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if req.StudentID == "" && req.CardID == "" {
			if req.ImageURL == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "student_id, card_id or image_url required"})
				return
			}
			claims, _ := auth.FromContext(c)
			msg, err := queue.Encode(queue.TypeFaceScan, queue.FaceScanEvent{
				ImageURL:  req.ImageURL,
				CourseID:  req.CourseID,
				Timestamp: req.Timestamp,
				DeviceID:  claims.Subject,
			})
			if err == nil {
				err = q.Publish(c.Request.Context(), msg)
			}
			if err != nil {
				log.Printf("queue publish failed: %v", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan queue unavailable"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"queued": true})
			return
		}

		claims, _ := auth.FromContext(c)
		rec, isUpdate, err := att.RecordScan(c.Request.Context(), attendance.Scan{
			StudentID:     req.StudentID,
			CardID:        req.CardID,
			CourseID:      req.CourseID,
			Timestamp:     req.Timestamp,
			DigitalMethod: attendance.DigitalMethod(req.DigitalMethod),
			MarkedBy:      claims.Subject,
			Explicit:      attendance.Status(req.Status),
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		metrics.Scans.WithLabelValues(string(rec.Status)).Inc()
		c.JSON(http.StatusOK, gin.H{"record": rec, "is_update": isUpdate})
	})

	authed.POST("/attendance/manual", staffOnly, func(c *gin.Context) {
		var req struct {
			Marks []attendance.Scan `json:"marks" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		for i := range req.Marks {
			req.Marks[i].MarkedBy = claims.Subject
		}
		applied, err := att.MarkManual(c.Request.Context(), req.Marks)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "applied": applied})
			return
		}
		c.JSON(http.StatusOK, gin.H{"applied": applied})
	})

	authed.GET("/attendance", func(c *gin.Context) {
		f := attendance.Filter{
			StudentID: c.Query("student_id"),
			CourseID:  c.Query("course_id"),
			Status:    attendance.Status(c.Query("status")),
			Limit:     intQuery(c, "limit", 50),
			Offset:    intQuery(c, "offset", 0),
		}
		if v := c.Query("from"); v != "" {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				f.From = t
			}
		}
		if v := c.Query("to"); v != "" {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				f.To = t
			}
		}
		records, err := att.List(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authed.GET("/students", staffOnly, func(c *gin.Context) {
		list, err := students.List(c.Request.Context(), intQuery(c, "limit", 100), intQuery(c, "offset", 0))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"students": list})
	})

	authed.POST("/students", staffOnly, func(c *gin.Context) {
		var req struct {
			SerialNo    string  `json:"serial_no" binding:"required"`
			AdmissionNo string  `json:"admission_no" binding:"required"`
			RollNo      string  `json:"roll_no" binding:"required"`
			FullName    string  `json:"full_name" binding:"required"`
			FatherName  string  `json:"father_name"`
			CourseID    *string `json:"course_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, err := students.Create(c.Request.Context(), student.Student{
			SerialNo:    req.SerialNo,
			AdmissionNo: req.AdmissionNo,
			RollNo:      req.RollNo,
			FullName:    req.FullName,
			FatherName:  req.FatherName,
			CourseID:    req.CourseID,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if err == student.ErrDuplicateIdentifier {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, s)
	})

	authed.GET("/students/:id", staffOnly, func(c *gin.Context) {
		s, err := students.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if s == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.JSON(http.StatusOK, s)
	})

	authed.POST("/students/:id/cards", staffOnly, func(c *gin.Context) {
		var req struct {
			CardID string `json:"card_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := students.RegisterCard(c.Request.Context(), req.CardID, c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusNoContent, nil)
	})

	// Photo upload for ID-card printing; the stored URL is also enrolled
	// into the face gallery by the worker.
	authed.POST("/students/:id/photo", staffOnly, func(c *gin.Context) {
		if photos == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo storage not configured"})
			return
		}
		s, err := students.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if s == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}

		var result *cardimg.UploadResult
		if strings.Contains(c.ContentType(), "multipart/form-data") {
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = photos.UploadBytes(data, header.Filename, s.AdmissionNo)
		} else {
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = photos.UploadBase64(body.Data, s.AdmissionNo)
		}
		if err != nil {
			log.Printf("photo upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "photo upload failed"})
			return
		}

		if err := students.SetPhoto(c.Request.Context(), s.ID, result.SecureURL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if msg, merr := queue.Encode(queue.TypePhotoEnroll, queue.PhotoEnrollEvent{
			StudentID: s.ID,
			PhotoURL:  result.SecureURL,
			FullName:  s.FullName,
		}); merr == nil {
			if perr := q.Publish(c.Request.Context(), msg); perr != nil {
				log.Printf("queue publish failed: %v", perr)
			}
		}
		c.JSON(http.StatusOK, gin.H{"url": result.SecureURL, "width": result.Width, "height": result.Height})
	})

	// Full ledger view for the student-history page. Cached per student;
	// a new payment invalidates the entry.
	authed.GET("/students/:id/ledger", staffOnly, func(c *gin.Context) {
		studentID := c.Param("id")
		if cached, err := ledgerCache.Get(c.Request.Context(), studentID); err == nil && cached != nil {
			metrics.LedgerCacheHits.Inc()
			c.JSON(http.StatusOK, cached)
			return
		}

		invoices, err := ledgerSource.Invoices(c.Request.Context(), studentID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		installments, err := ledgerSource.Installments(c.Request.Context(), studentID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		history := ledger.BuildHistory(invoices, installments, time.Now().UTC())
		metrics.LedgerComputations.Inc()
		if err := ledgerCache.Set(c.Request.Context(), studentID, history); err != nil {
			log.Printf("ledger cache set failed: %v", err)
		}
		c.JSON(http.StatusOK, history)
	})

	authed.GET("/invoices", staffOnly, func(c *gin.Context) {
		studentID := c.Query("student_id")
		if studentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id required"})
			return
		}
		invoices, err := feeRepo.Invoices(c.Request.Context(), studentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoices": invoices})
	})

	authed.POST("/invoices", staffOnly, func(c *gin.Context) {
		var req struct {
			InvoiceNo   string     `json:"invoice_no" binding:"required"`
			StudentID   string     `json:"student_id" binding:"required"`
			TotalAmount float64    `json:"total_amount" binding:"gte=0"`
			InvoiceDate time.Time  `json:"invoice_date"`
			DueDate     *time.Time `json:"due_date"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inv := ledger.Invoice{
			InvoiceNo:   req.InvoiceNo,
			StudentID:   req.StudentID,
			TotalAmount: req.TotalAmount,
			Status:      ledger.StatusPending,
			InvoiceDate: req.InvoiceDate,
			DueDate:     req.DueDate,
		}
		if inv.InvoiceDate.IsZero() {
			inv.InvoiceDate = time.Now().UTC()
		}
		if err := feeRepo.UpsertInvoice(c.Request.Context(), inv); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = ledgerCache.Invalidate(c.Request.Context(), req.StudentID)
		c.JSON(http.StatusCreated, inv)
	})

	authed.POST("/payments", auth.RequireRole(auth.RoleAccountant, auth.RoleStaff), func(c *gin.Context) {
		var req struct {
			StudentID     string    `json:"student_id" binding:"required"`
			InvoiceNo     string    `json:"invoice_no" binding:"required"`
			Amount        float64   `json:"amount" binding:"required,gt=0"`
			PaymentMethod string    `json:"payment_method" binding:"required"`
			PaymentDate   time.Time `json:"payment_date"`
			TransactionNo string    `json:"transaction_no"`
			CollectedBy   string    `json:"collected_by"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		method := ledger.PaymentMethod(req.PaymentMethod)
		if !method.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown payment method"})
			return
		}
		ins := ledger.Installment{
			TransactionNo: req.TransactionNo,
			InvoiceNo:     req.InvoiceNo,
			Amount:        req.Amount,
			PaymentMethod: method,
			PaymentDate:   req.PaymentDate,
			CollectedBy:   req.CollectedBy,
		}
		if ins.TransactionNo == "" {
			ins.TransactionNo = uuid.NewString()
		}
		inv, err := feeRepo.AddInstallment(c.Request.Context(), req.StudentID, ins)
		if err != nil {
			status := http.StatusInternalServerError
			switch err {
			case ledger.ErrInvoiceNotFound:
				status = http.StatusNotFound
			case ledger.ErrInvoiceClosed:
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		_ = ledgerCache.Invalidate(c.Request.Context(), req.StudentID)
		c.JSON(http.StatusCreated, gin.H{"installment": ins, "invoice": inv})
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// Security headers middleware
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
