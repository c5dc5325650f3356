// Command tts-client submits text to a tts-jobs server, follows the job's
// progress and downloads the finished audio.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/httpapi"
	"github.com/book-expert/tts-jobs/internal/jobs"
)

// Flag descriptions.
const (
	flagServerDesc  = "Base URL of the tts-jobs server"
	flagTextDesc    = "Text to convert to speech"
	flagFileDesc    = "File containing the text to convert"
	flagVoiceDesc   = "Predefined voice file (e.g. Emily.wav)"
	flagOutputDesc  = "Output file path (.wav)"
	flagPollDesc    = "Interval between status polls"
	flagTimeoutDesc = "Give up and cancel the job after this long"
	flagLogDirDesc  = "Directory for the client log"
	flagHealthDesc  = "Check server health and exit"
)

// Flag names.
const (
	flagServer  = "server"
	flagText    = "text"
	flagFile    = "file"
	flagVoice   = "voice"
	flagOutput  = "output"
	flagPoll    = "poll"
	flagTimeout = "timeout"
	flagLogDir  = "log-dir"
	flagHealth  = "health"
)

// Messages.
const (
	errEitherTextOrFile  = "Either --text or --file must be provided"
	errCannotSpecifyBoth = "Cannot specify both --text and --file"
	logProgress          = "[%5.1f%%] %s\n"
	logGenerated         = "Generated: %s\n"
	logServiceHealthy    = "tts-jobs server is healthy"
	logFileName          = "tts-client.log"
	defaultOutputFile    = "output.wav"
	progressStep         = 5.0
)

var (
	// ErrJobFailed indicates that the job ended without a result.
	ErrJobFailed = errors.New("job did not complete")
	// ErrUnexpectedStatus indicates a non-success HTTP response.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server  string
	text    string
	file    string
	voice   string
	output  string
	logDir  string
	poll    time.Duration
	timeout time.Duration
	health  bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	clientLog, err := logger.New(flags.logDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		_ = clientLog.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	client := newJobClient(flags.server)

	if flags.health {
		healthErr := client.health(ctx)
		if healthErr != nil {
			clientLog.Error("Health check failed: %v", healthErr)

			return healthErr
		}

		fmt.Println(logServiceHealthy)

		return nil
	}

	input, err := readInput(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	return synthesize(ctx, client, clientLog, flags, input)
}

func parseFlags(flagSet *flag.FlagSet, args []string) appFlags {
	var flags appFlags

	flagSet.StringVar(&flags.server, flagServer, "http://localhost:8004", flagServerDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flagSet.StringVar(&flags.logDir, flagLogDir, os.TempDir(), flagLogDirDesc)
	flagSet.DurationVar(&flags.poll, flagPoll, time.Second, flagPollDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, 30*time.Minute, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	_ = flagSet.Parse(args)

	return flags
}

// readInput validates the text flags and returns the text to synthesize.
func readInput(flags appFlags) (string, error) {
	if flags.text == "" && flags.file == "" {
		return "", errors.New(errEitherTextOrFile)
	}

	if flags.text != "" && flags.file != "" {
		return "", errors.New(errCannotSpecifyBoth)
	}

	if flags.text != "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}

	return string(data), nil
}

// synthesize submits the text, follows the job and writes the result.
func synthesize(ctx context.Context, client *jobClient, clientLog *logger.Logger, flags appFlags, input string) error {
	body := httpapi.SubmitRequest{Text: input}
	if flags.voice != "" {
		body.PredefinedVoiceID = &flags.voice
	}

	id, err := client.submit(ctx, body)
	if err != nil {
		return err
	}

	clientLog.Info("Submitted job %s", id)

	final, err := client.follow(ctx, id, flags.poll, func(view httpapi.StatusResponse) {
		fmt.Printf(logProgress, view.Progress, view.CurrentStage)
	})
	if err != nil {
		clientLog.Warn("Cancelling job %s: %v", id, err)
		client.cancel(id)

		return err
	}

	if final.Status != jobs.StatusCompleted {
		return fmt.Errorf("%w: %s: %s", ErrJobFailed, final.Status, final.ErrorMessage)
	}

	downloadErr := client.download(ctx, id, flags.output)
	if downloadErr != nil {
		return downloadErr
	}

	clientLog.Info("Job %s written to %s", id, flags.output)
	fmt.Printf(logGenerated, flags.output)

	return nil
}

// jobClient talks to the tts-jobs HTTP API.
type jobClient struct {
	baseURL    string
	httpClient *http.Client
}

func newJobClient(baseURL string) *jobClient {
	return &jobClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

func (c *jobClient) health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

func (c *jobClient) submit(ctx context.Context, body httpapi.SubmitRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/tts/async", payload)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	var accepted httpapi.SubmitResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&accepted)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", decodeErr)
	}

	return accepted.TaskID, nil
}

func (c *jobClient) status(ctx context.Context, id string) (httpapi.StatusResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tts/status/"+id, nil)
	if err != nil {
		return httpapi.StatusResponse{}, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	var view httpapi.StatusResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&view)
	if decodeErr != nil {
		return httpapi.StatusResponse{}, fmt.Errorf("failed to decode status: %w", decodeErr)
	}

	return view, nil
}

// follow polls until the job is terminal. report sees the first view, every
// progress step of at least five points and the final view.
func (c *jobClient) follow(
	ctx context.Context,
	id string,
	interval time.Duration,
	report func(httpapi.StatusResponse),
) (httpapi.StatusResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastReported := math.Inf(-1)

	for {
		view, err := c.status(ctx, id)
		if err != nil {
			return httpapi.StatusResponse{}, err
		}

		terminal := view.Status.IsTerminal()
		if terminal || view.Progress-lastReported >= progressStep {
			report(view)
			lastReported = view.Progress
		}

		if terminal {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, fmt.Errorf("stopped following job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *jobClient) download(ctx context.Context, id, outputPath string) error {
	resp, err := c.do(ctx, http.MethodGet, "/tts/result/"+id, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	dirErr := os.MkdirAll(filepath.Dir(outputPath), 0o750)
	if dirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()

	if copyErr != nil {
		return fmt.Errorf("failed to write result: %w", copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}

	return nil
}

// cancel deletes the job on a fresh context since the caller's may be done.
func (c *jobClient) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, "/tts/task/"+id, nil)
	if err == nil {
		_ = resp.Body.Close()
	}
}

func (c *jobClient) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer func() {
			_ = resp.Body.Close()
		}()

		var problem httpapi.ErrorResponse

		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&problem)

		return nil, fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus, method, path, resp.StatusCode, problem.Detail)
	}

	return resp, nil
}
