// Package worker provides a NATS ingress that turns text-processed events into
// synthesis jobs and announces the finished audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/jobs"
	"github.com/nats-io/nats.go"
)

const (
	downloadTimeout      = 30 * time.Second
	defaultResultTimeout = time.Hour
	voiceExtension       = ".wav"
)

var (
	// ErrTextKeyEmpty indicates an event without a text key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrJobNotCompleted indicates that the job ended without a result.
	ErrJobNotCompleted = errors.New("job did not complete")
)

// JobService is the part of the job manager the worker needs.
type JobService interface {
	Submit(req core.Request) (string, error)
	Wait(ctx context.Context, id string) (jobs.Job, error)
}

// Config holds the worker's subjects and limits.
type Config struct {
	Subject        string
	PublishSubject string
	ResultTimeout  time.Duration
	Defaults       core.Defaults
}

// NatsWorker listens for text-processed events on a NATS subject and submits a
// job for each one.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	store          core.ObjectStore
	service        JobService
	log            *logger.Logger

	ctx     context.Context
	waiters sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	store core.ObjectStore,
	service JobService,
	log *logger.Logger,
) *NatsWorker {
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = defaultResultTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		store:          store,
		service:        service,
		log:            log,
		ctx:            context.Background(),
		waiters:        sync.WaitGroup{},
	}
}

// Run subscribes and blocks until ctx ends. It then drains the subscription
// and waits for outstanding replies to give up.
func (w *NatsWorker) Run(ctx context.Context) error {
	w.ctx = ctx

	sub, err := w.natsConnection.Subscribe(w.cfg.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info("Listening for text events on %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()

	w.waiters.Wait()

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	jobID, submitErr := w.submitJob(event)
	if submitErr != nil {
		w.log.Error("Failed to submit TTS job for workflow %s: %v", event.Header.WorkflowID, submitErr)

		return
	}

	w.log.Info("Workflow %s page %d queued as job %s", event.Header.WorkflowID, event.PageNumber, jobID)

	w.waiters.Add(1)

	go func() {
		defer w.waiters.Done()

		w.awaitAndReply(msg, event, jobID)
	}()
}

// submitJob downloads the event's text and submits it with the event overrides.
func (w *NatsWorker) submitJob(event *events.TextProcessedEvent) (string, error) {
	ctx, cancel := context.WithTimeout(w.ctx, downloadTimeout)
	defer cancel()

	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	jobID, submitErr := w.service.Submit(BuildRequest(w.cfg.Defaults, event, string(textData)))
	if submitErr != nil {
		return "", fmt.Errorf("failed to submit job: %w", submitErr)
	}

	return jobID, nil
}

func (w *NatsWorker) awaitAndReply(msg *nats.Msg, event *events.TextProcessedEvent, jobID string) {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.ResultTimeout)
	defer cancel()

	job, err := w.service.Wait(ctx, jobID)
	if err != nil {
		w.log.Error("Stopped waiting for job %s of workflow %s: %v", jobID, event.Header.WorkflowID, err)

		return
	}

	if job.Status != jobs.StatusCompleted {
		w.log.Error("Job %s of workflow %s: %v: %s %s",
			jobID, event.Header.WorkflowID, ErrJobNotCompleted, job.Status, job.ErrorMessage)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   job.ResultPath,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// publishReplyEvent marshals the AudioChunkCreatedEvent and responds to the
// requester, or publishes it when the message carried no reply subject.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
		if err != nil {
			return fmt.Errorf("failed to publish reply event: %w", err)
		}

		return nil
	}

	if w.cfg.PublishSubject == "" {
		return nil
	}

	err = w.natsConnection.Publish(w.cfg.PublishSubject, replyData)
	if err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", w.cfg.PublishSubject, err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}

// BuildRequest starts from defaults and applies the overrides an event carries.
// A voice without an extension names a predefined .wav voice.
func BuildRequest(defaults core.Defaults, event *events.TextProcessedEvent, text string) core.Request {
	req := defaults.NewRequest(text)

	if event.Voice != "" {
		voice := event.Voice
		if filepath.Ext(voice) == "" {
			voice += voiceExtension
		}

		req.VoiceMode = core.VoicePredefined
		req.PredefinedVoiceID = voice
	}

	if event.Seed > 0 {
		req.Params.Seed = event.Seed
	}

	if event.Temperature > 0 {
		req.Params.Temperature = event.Temperature
	}

	return req
}
