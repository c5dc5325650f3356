package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/config"
	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/objectstore"
	"github.com/book-expert/tts-jobs/internal/statuscache"
	"github.com/book-expert/tts-jobs/internal/tts"
	"github.com/book-expert/tts-jobs/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// dependencies are the external connections the service holds open.
type dependencies struct {
	sink      core.ResultSink
	nats      *nats.Conn
	jetstream nats.JetStreamContext
	redis     *redis.Client
	mirror    *statuscache.Mirror
}

func (d *dependencies) close() {
	if d.nats != nil {
		_ = d.nats.Drain()
	}

	if d.redis != nil {
		_ = d.redis.Close()
	}
}

func connect(ctx context.Context, cfg *config.Config, log *logger.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.NATS.Enabled || cfg.Storage.Backend == config.StorageNATS {
		natsConnection, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		deps.nats = natsConnection

		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			deps.close()

			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		deps.jetstream = jetstreamContext
	}

	sink, err := newSink(ctx, cfg, deps.jetstream)
	if err != nil {
		deps.close()

		return nil, err
	}

	deps.sink = sink

	if cfg.Redis.Enabled {
		client, redisErr := statuscache.NewClient(ctx, statuscache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if redisErr != nil {
			deps.close()

			return nil, redisErr
		}

		deps.redis = client
		deps.mirror = statuscache.NewMirror(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL(), log)
	}

	return deps, nil
}

func newSink(ctx context.Context, cfg *config.Config, jetstreamContext nats.JetStreamContext) (core.ResultSink, error) {
	switch cfg.Storage.Backend {
	case config.StorageNATS:
		store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, err
		}

		return store, nil
	case config.StorageS3:
		client, err := objectstore.NewS3Client(objectstore.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}

		sink := objectstore.NewS3Sink(client, cfg.S3.Bucket)

		ensureErr := sink.EnsureBucket(ctx, cfg.S3.Region)
		if ensureErr != nil {
			return nil, ensureErr
		}

		return sink, nil
	default:
		sink, err := objectstore.NewLocalSink(cfg.Storage.OutputDir)
		if err != nil {
			return nil, err
		}

		return sink, nil
	}
}

func newEngine(cfg *config.Config, log *logger.Logger) core.Engine {
	if cfg.TTS.Backend == config.BackendChatLLM {
		return tts.NewChatLLMEngine(tts.ChatLLMConfig{
			BinaryPath:        cfg.TTS.BinaryPath,
			ModelPath:         cfg.TTS.ModelPath,
			SnacModelPath:     cfg.TTS.SnacModelPath,
			NGL:               cfg.TTS.NGL,
			TopP:              cfg.TTS.TopP,
			RepetitionPenalty: cfg.TTS.RepetitionPenalty,
		}, log)
	}

	return tts.NewHTTPClient(cfg.TTS.ServiceURL, cfg.TTS.Timeout())
}

// startIngress runs the NATS worker when NATS ingress is enabled.
func startIngress(
	ctx context.Context,
	cfg *config.Config,
	deps *dependencies,
	service worker.JobService,
	log *logger.Logger,
	background *sync.WaitGroup,
) error {
	if !cfg.NATS.Enabled {
		return nil
	}

	textStore, err := objectstore.New(deps.jetstream, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return err
	}

	natsWorker := worker.NewNatsWorker(deps.nats, worker.Config{
		Subject:        cfg.NATS.TextProcessedSubject,
		PublishSubject: cfg.NATS.AudioChunkCreatedSubject,
		ResultTimeout:  cfg.NATS.ResultTimeout(),
		Defaults:       cfg.Defaults(),
	}, textStore, service, log)

	background.Add(1)

	go func() {
		defer background.Done()

		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error("NATS worker stopped: %v", runErr)
		}
	}()

	return nil
}
