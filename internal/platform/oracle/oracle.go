// Package oracle is the HTTP client for the external retinal classification
// service. Classify never returns an error: a failed call yields a Result
// with OK false so the caller can persist the scan anyway.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var (
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrNoReport                  = errors.New("no report generated")
)

// Config for the oracle client. AnalyzeURL is required for AnalyzeCase.
type Config struct {
	PredictURL string
	AnalyzeURL string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// Result of one classification attempt.
type Result struct {
	OK         bool
	Diagnosis  string
	Confidence float64
	Details    json.RawMessage
	Err        error
}

// ScanInfo is one scan as presented to the case-analysis endpoint.
type ScanInfo struct {
	Date          string   `json:"date,omitempty"`
	SeverityLevel int      `json:"severity_level"`
	Prediction    *string  `json:"prediction"`
	Confidence    *float64 `json:"confidence"`
	Symptoms      *string  `json:"symptoms,omitempty"`
}

// CaseBundle is the request body of the case-analysis endpoint.
type CaseBundle struct {
	PatientName string     `json:"patientName"`
	Current     ScanInfo   `json:"current"`
	History     []ScanInfo `json:"history"`
}

type Client struct {
	http       *resty.Client
	predictURL string
	analyzeURL string
	logger     zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4 * cfg.RetryWait).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		})

	return &Client{
		http:       httpClient,
		predictURL: cfg.PredictURL,
		analyzeURL: cfg.AnalyzeURL,
		logger:     logger.With().Str("component", "oracle").Logger(),
	}
}

type predictResponse struct {
	Diagnosis  *string         `json:"diagnosis"`
	Confidence *float64        `json:"confidence"`
	Details    json.RawMessage `json:"details"`
}

// Classify posts image as the multipart field "file".
func (c *Client) Classify(ctx context.Context, fileName string, image []byte) Result {
	body, contentType, err := multipartBody(fileName, image)
	if err != nil {
		return failed(fmt.Errorf("build request: %w", err))
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		Post(c.predictURL)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", c.predictURL).Msg("classification request failed")
		return failed(err)
	}
	if !resp.IsSuccess() {
		c.logger.Warn().Int("status", resp.StatusCode()).Str("url", c.predictURL).Msg("classification service returned an error")
		return failed(fmt.Errorf("status %d", resp.StatusCode()))
	}

	var pr predictResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return failed(fmt.Errorf("decode response: %w", err))
	}
	if pr.Diagnosis == nil || strings.TrimSpace(*pr.Diagnosis) == "" {
		return failed(errors.New("response has no diagnosis"))
	}

	var confidence float64
	if pr.Confidence != nil {
		confidence = NormalizeConfidence(*pr.Confidence)
	}

	c.logger.Debug().
		Str("diagnosis", *pr.Diagnosis).
		Float64("confidence", confidence).
		Dur("latency", time.Since(start)).
		Msg("scan classified")

	return Result{
		OK:         true,
		Diagnosis:  *pr.Diagnosis,
		Confidence: confidence,
		Details:    pr.Details,
	}
}

// AnalyzeCase returns the narrative report for a patient's case.
func (c *Client) AnalyzeCase(ctx context.Context, bundle CaseBundle) (string, error) {
	if bundle.History == nil {
		bundle.History = []ScanInfo{}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(bundle).
		Post(c.analyzeURL)
	if err != nil {
		return "", fmt.Errorf("call analyze-case: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("analyze-case returned status %d", resp.StatusCode())
	}

	var out struct {
		Report *string `json:"report"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode analyze-case response: %w", err)
	}
	if out.Report == nil {
		return "", ErrNoReport
	}
	return *out.Report, nil
}

// NormalizeConfidence maps the service's confidence into [0,1]. Values in
// (1,100] are percentages.
func NormalizeConfidence(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

func failed(cause error) Result {
	return Result{Err: fmt.Errorf("%w: %v", ErrClassificationUnavailable, cause)}
}

func multipartBody(fileName string, image []byte) ([]byte, string, error) {
	if fileName == "" {
		fileName = "scan"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
