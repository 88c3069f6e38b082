// Package printjob runs print requests end to end: quota check, printing,
// charging and bookkeeping.
package printjob

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/localdb"
	"github.com/ichi0g0y/stimky-sticker/internal/output"
	"github.com/ichi0g0y/stimky-sticker/internal/quota"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

var (
	// ErrWrongPassword is returned by Unlock for a bad password.
	ErrWrongPassword = errors.New("wrong password")
	// ErrLocked is returned when a requester has not unlocked the printer.
	ErrLocked = errors.New("printer is locked for this requester")
	// ErrOutOfStickers is returned when the requester's bank is empty.
	ErrOutOfStickers = errors.New("out of stickers")
	// ErrUnknownJob is returned for job ids this process never saw.
	ErrUnknownJob = errors.New("unknown job")
)

// Event is published on every job state change.
type Event struct {
	Type string `json:"type"`
	Job  Job    `json:"job"`
}

// Broadcaster fans job events out to listeners.
type Broadcaster interface {
	Broadcast(Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(Event) {}

// HistoryFunc persists a finished job.
type HistoryFunc func(localdb.PrintHistoryRow) error

// Config holds the access and quota settings.
type Config struct {
	// Password unlocks the printer. Empty leaves it open to everyone.
	Password    string
	StickerMax  int
	StickerCost time.Duration
}

// Service ties the ledger to a printer.
type Service struct {
	cfg     Config
	ledger  *quota.Ledger
	printer output.Printer
	events  Broadcaster
	history HistoryFunc
	jobs    *store

	// 同一リクエスターのジョブは直列に処理する
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option customises a Service.
type Option func(*Service)

// WithBroadcaster publishes job events through b.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		if b != nil {
			s.events = b
		}
	}
}

// WithHistory replaces the history sink. The default writes to localdb.
func WithHistory(h HistoryFunc) Option {
	return func(s *Service) {
		if h != nil {
			s.history = h
		}
	}
}

// NewService builds a service printing on printer.
func NewService(cfg Config, ledger *quota.Ledger, printer output.Printer, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		ledger:  ledger,
		printer: printer,
		events:  nopBroadcaster{},
		history: localdb.AddPrintHistory,
		jobs:    newStore(0),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Printer returns the printer jobs are sent to.
func (s *Service) Printer() output.Printer {
	return s.printer
}

// Ledger returns the quota ledger.
func (s *Service) Ledger() *quota.Ledger {
	return s.ledger
}

// Unlock gives requesterID a full sticker bank when password matches. An
// already unlocked requester keeps its current bank.
func (s *Service) Unlock(requesterID, password string) (quota.Info, error) {
	if s.cfg.Password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) != 1 {
		logger.Warn("Unlock rejected", zap.String("requester", requesterID))
		return quota.Info{}, ErrWrongPassword
	}

	if !s.ledger.Exists(requesterID) {
		logger.Info("Printer unlocked", zap.String("requester", requesterID))
	}
	entry := s.ledger.Create(requesterID, s.cfg.StickerMax, s.cfg.StickerCost)
	return entry.Info(), nil
}

// Unlocked reports whether requesterID may print. Without a password every
// requester is unlocked.
func (s *Service) Unlocked(requesterID string) bool {
	return s.cfg.Password == "" || s.ledger.Exists(requesterID)
}

// Info returns the quota snapshot of requesterID.
func (s *Service) Info(requesterID string) (quota.Info, error) {
	if !s.Unlocked(requesterID) {
		return quota.Info{}, ErrLocked
	}
	entry := s.ledger.Create(requesterID, s.cfg.StickerMax, s.cfg.StickerCost)
	return entry.Info(), nil
}

// Job returns a job of this process by id.
func (s *Service) Job(id string) (Job, error) {
	j, ok := s.jobs.get(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return j, nil
}

// Recent returns the newest jobs first. An empty requesterID lists everyone.
func (s *Service) Recent(requesterID string, limit int) []Job {
	return s.jobs.recent(requesterID, limit)
}

func (s *Service) requesterLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// Submit prints imagePath for requesterID and charges one sticker when the
// print succeeds. Failed jobs are returned together with their error and
// never charge.
func (s *Service) Submit(ctx context.Context, requesterID, imagePath string) (Job, error) {
	if !s.Unlocked(requesterID) {
		return Job{}, ErrLocked
	}

	lock := s.requesterLock(requesterID)
	lock.Lock()
	defer lock.Unlock()

	entry := s.ledger.Create(requesterID, s.cfg.StickerMax, s.cfg.StickerCost)
	if entry.Remaining() == 0 {
		logger.Info("Requester is out of stickers", zap.String("requester", requesterID))
		return Job{}, ErrOutOfStickers
	}

	id, err := GenerateID()
	if err != nil {
		return Job{}, fmt.Errorf("failed to generate job ID: %w", err)
	}

	job := Job{
		ID:          id,
		RequesterID: requesterID,
		SourcePath:  imagePath,
		Printer:     s.printer.Name(),
		Label:       s.printer.Label().Name,
		Status:      StatusQueued,
		CreatedAt:   time.Now(),
	}
	s.publish(job)

	job.Status = StatusPrinting
	s.publish(job)

	artifact, printErr := s.printer.Print(ctx, imagePath)
	job.FinishedAt = time.Now()
	if printErr != nil {
		job.Status = StatusFailed
		job.Error = printErr.Error()
		s.finish(job)
		logger.Error("Print job failed",
			zap.String("job", job.ID),
			zap.String("requester", requesterID),
			zap.Error(printErr))
		return job, printErr
	}

	entry.Spend(artifact)
	job.Status = StatusPrinted
	job.ArtifactPath = artifact
	s.finish(job)

	logger.Info("Print job done",
		zap.String("job", job.ID),
		zap.String("requester", requesterID),
		zap.String("artifact", artifact),
		zap.Int("remaining", entry.Remaining()))
	return job, nil
}

func (s *Service) finish(job Job) {
	if err := s.history(localdb.PrintHistoryRow{
		JobID:        job.ID,
		RequesterID:  job.RequesterID,
		SourcePath:   job.SourcePath,
		ArtifactPath: job.ArtifactPath,
		Printer:      job.Printer,
		Label:        job.Label,
		Status:       string(job.Status),
		Error:        job.Error,
		CreatedAt:    job.CreatedAt.Unix(),
	}); err != nil {
		logger.Warn("Failed to record print history", zap.String("job", job.ID), zap.Error(err))
	}
	s.publish(job)
}

func (s *Service) publish(job Job) {
	s.jobs.put(job)
	s.events.Broadcast(Event{Type: "job_" + string(job.Status), Job: job})
}
