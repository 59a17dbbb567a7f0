package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusledger/internal/attendance"
	"campusledger/internal/config"
	"campusledger/internal/faceclient"
	"campusledger/internal/metrics"
	"campusledger/internal/queue"
	"campusledger/internal/store"
	"campusledger/internal/student"
)

// matchThreshold is the minimum similarity accepted for a face-scan
// identification.
const matchThreshold = 0.6

// Worker consumes scan-queue messages: face scans get identified against
// the enrolled gallery and recorded as attendance; photo uploads get
// enrolled into the gallery.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campus:scans")
	}

	students := student.NewRepository(db.Client)
	att := attendance.NewService(attendance.NewRepository(db.Client), students, cfg.LateThresholdHour)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
			log.Println("worker will retry identification when events arrive")
		} else {
			log.Println("face service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeFaceScan:
			handleFaceScan(ctx, msg.Body, face, att)
		case queue.TypePhotoEnroll:
			handlePhotoEnroll(ctx, msg.Body, face)
		default:
			log.Printf("skipping message type %q", msg.Type)
		}
	}
}

func handleFaceScan(ctx context.Context, body []byte, face *faceclient.Client, att *attendance.Service) {
	var evt queue.FaceScanEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Printf("bad face_scan payload: %v", err)
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	result, err := face.Identify(ctx, evt.ImageURL, matchThreshold)
	if err != nil {
		log.Printf("identify failed: %v", err)
		return
	}
	if len(result.Matches) == 0 || result.Matches[0].Similarity < matchThreshold {
		log.Printf("no confident match for scan from device %s", evt.DeviceID)
		return
	}

	match := result.Matches[0]
	rec, isUpdate, err := att.RecordScan(ctx, attendance.Scan{
		StudentID:     match.StudentID,
		CourseID:      evt.CourseID,
		Timestamp:     evt.Timestamp,
		DigitalMethod: attendance.MethodFaceScan,
		MarkedBy:      evt.DeviceID,
	})
	if err != nil {
		log.Printf("record face scan for %s failed: %v", match.StudentID, err)
		return
	}
	metrics.Scans.WithLabelValues(string(rec.Status)).Inc()
	log.Printf("face scan: student %s marked %s (update=%v, similarity=%.2f)", match.StudentID, rec.Status, isUpdate, match.Similarity)
}

func handlePhotoEnroll(ctx context.Context, body []byte, face *faceclient.Client) {
	var evt queue.PhotoEnrollEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Printf("bad photo_enroll payload: %v", err)
		return
	}
	res, err := face.Enroll(ctx, evt.StudentID, evt.PhotoURL, evt.FullName)
	if err != nil {
		log.Printf("enroll %s failed: %v", evt.StudentID, err)
		return
	}
	if !res.Success {
		log.Printf("enroll %s rejected: %s", evt.StudentID, res.Message)
		return
	}
	log.Printf("enrolled student %s into face gallery", evt.StudentID)
}
