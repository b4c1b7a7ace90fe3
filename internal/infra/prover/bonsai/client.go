// Package bonsai drives the Bonsai remote proving service: upload the input,
// run a session, wrap the receipt into a Groth16 snark and return the
// artifact the contracts verify.
package bonsai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bonsaipay/internal/domain"
)

const (
	headerAPIKey  = "x-api-key"
	headerVersion = "x-risc0-version"

	defaultPollInterval = 2 * time.Second
	maxResponseBytes    = 4 << 20
)

const (
	statusRunning   = "RUNNING"
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
	statusTimedOut  = "TIMED_OUT"
	statusAborted   = "ABORTED"
)

type Config struct {
	BaseURL      string
	APIKey       string
	Version      string
	ELFPath      string
	PollInterval time.Duration
}

type Client struct {
	baseURL      string
	apiKey       string
	version      string
	elfPath      string
	pollInterval time.Duration
	httpDo       func(*http.Request) (*http.Response, error)
	logger       *zap.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("bonsai api url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("bonsai api key is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		version:      cfg.Version,
		elfPath:      cfg.ELFPath,
		pollInterval: cfg.PollInterval,
		httpDo:       doer,
		logger:       logger,
	}, nil
}

// Prove runs one full proving round trip. Every failure comes back as a
// *domain.ProofError.
func (c *Client) Prove(ctx context.Context, imageID string, input []byte) (domain.ProofArtifact, error) {
	if strings.TrimSpace(imageID) == "" {
		return domain.ProofArtifact{}, &domain.ProofError{Stage: "image", Err: errors.New("image id is required")}
	}
	if err := c.ensureImage(ctx, imageID); err != nil {
		return domain.ProofArtifact{}, &domain.ProofError{Stage: "image", Err: err}
	}
	inputID, err := c.uploadInput(ctx, input)
	if err != nil {
		return domain.ProofArtifact{}, &domain.ProofError{Stage: "input", Err: err}
	}

	var session createResponse
	if err := c.postJSON(ctx, "/sessions/create", sessionRequest{
		Image:       imageID,
		Input:       inputID,
		Assumptions: []string{},
	}, &session); err != nil {
		return domain.ProofArtifact{}, &domain.ProofError{Stage: "session", Err: err}
	}
	c.logger.Debug("bonsai session created", zap.String("session_id", session.UUID))

	if _, err := c.poll(ctx, "session", "/sessions/status/"+session.UUID); err != nil {
		return domain.ProofArtifact{}, err
	}

	var snark createResponse
	if err := c.postJSON(ctx, "/snark/create", snarkRequest{SessionID: session.UUID}, &snark); err != nil {
		return domain.ProofArtifact{}, &domain.ProofError{Stage: "snark", Err: err}
	}
	status, err := c.poll(ctx, "snark", "/snark/status/"+snark.UUID)
	if err != nil {
		return domain.ProofArtifact{}, err
	}
	if status.Output == nil {
		return domain.ProofArtifact{}, &domain.ProofError{Stage: "snark", Status: status.Status, Err: errors.New("missing snark output")}
	}
	artifact, err := status.Output.artifact()
	if err != nil {
		return domain.ProofArtifact{}, &domain.ProofError{Stage: "snark", Status: status.Status, Err: err}
	}
	c.logger.Info("bonsai proof ready",
		zap.String("session_id", session.UUID),
		zap.String("snark_id", snark.UUID),
		zap.Int("journal_bytes", len(artifact.Journal)),
	)
	return artifact, nil
}

func (c *Client) ensureImage(ctx context.Context, imageID string) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/images/upload/"+imageID, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpDo(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	body, err := readBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, body)
	}
	if c.elfPath == "" {
		return fmt.Errorf("image %s is not registered and no program binary is configured", imageID)
	}
	var upload uploadResponse
	if err := json.Unmarshal(body, &upload); err != nil {
		return fmt.Errorf("decode image upload: %w", err)
	}
	elf, err := os.ReadFile(c.elfPath)
	if err != nil {
		return fmt.Errorf("read program binary: %w", err)
	}
	return c.put(ctx, upload.URL, elf)
}

func (c *Client) uploadInput(ctx context.Context, input []byte) (string, error) {
	var upload uploadResponse
	if err := c.getJSON(ctx, "/inputs/upload", &upload); err != nil {
		return "", err
	}
	if upload.URL == "" || upload.UUID == "" {
		return "", errors.New("input upload response missing url or uuid")
	}
	if err := c.put(ctx, upload.URL, input); err != nil {
		return "", err
	}
	return upload.UUID, nil
}

// poll waits for a session or snark to leave RUNNING. The limiter keeps the
// request rate at one per poll interval regardless of response latency.
func (c *Client) poll(ctx context.Context, stage, path string) (statusResponse, error) {
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return statusResponse{}, &domain.ProofError{Stage: stage, Err: err}
		}
		var status statusResponse
		if err := c.getJSON(ctx, path, &status); err != nil {
			return statusResponse{}, &domain.ProofError{Stage: stage, Err: err}
		}
		switch status.Status {
		case statusRunning, "":
			continue
		case statusSucceeded:
			return status, nil
		case statusFailed, statusTimedOut, statusAborted:
			msg := status.ErrorMsg
			if msg == "" {
				msg = "proving engine reported " + strings.ToLower(status.Status)
			}
			return statusResponse{}, &domain.ProofError{Stage: stage, Status: status.Status, Err: errors.New(msg)}
		default:
			return statusResponse{}, &domain.ProofError{Stage: stage, Status: status.Status, Err: errors.New("unknown status")}
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	if c.version != "" {
		req.Header.Set(headerVersion, c.version)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpDo(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := readBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// put uploads to a presigned URL, which must not carry the api key.
func (c *Client) put(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := c.httpDo(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readBody(resp)
		return statusError(resp.StatusCode, body)
	}
	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		return fmt.Errorf("bonsai: http %d", code)
	}
	return fmt.Errorf("bonsai: http %d: %s", code, msg)
}
