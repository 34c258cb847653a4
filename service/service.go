// Package service orchestrates the analysis pipeline: resolve the input,
// narrate it with the vision model, score every sentence, aggregate good and
// bad prompts, write the terminal ledger record and hand off to the
// dispatch queue.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"image-sentiment-pipeline/config"
	"image-sentiment-pipeline/database"
	"image-sentiment-pipeline/imagecache"
	"image-sentiment-pipeline/metrics"
	"image-sentiment-pipeline/models"
	"image-sentiment-pipeline/openai"
	"image-sentiment-pipeline/parser"
	"image-sentiment-pipeline/rabbitmq"
	"image-sentiment-pipeline/util"

	"github.com/apex/log"
)

// VisionClient narrates an image.
type VisionClient interface {
	DescribeImage(ctx context.Context, imageURL, prompt, detail string) (*openai.VisionResult, error)
}

// Scorer scores one sentence against a threshold.
type Scorer interface {
	Score(ctx context.Context, text string, threshold float64) (*models.Sentiment, error)
	Model() string
}

// Queue is the dispatch queue handoff.
type Queue interface {
	Publish(message interface{}) error
}

// SubmitRequest is one client submission.
type SubmitRequest struct {
	SourceURL         string
	AuthToken         string
	RequestorIP       string
	ThresholdModifier *float64
}

// Service runs analysis submissions end to end.
type Service struct {
	config   *config.Config
	db       *database.Database
	resolver *imagecache.Resolver
	scorer   Scorer
	queue    Queue

	// newVision builds a vision client from the request-scoped credential.
	newVision func(apiKey string) VisionClient
}

// NewService creates a new analysis service. queue may be nil; the service
// then completes requests without dispatch handoff.
func NewService(cfg *config.Config, db *database.Database, resolver *imagecache.Resolver, scorer Scorer, queue Queue) *Service {
	return &Service{
		config:   cfg,
		db:       db,
		resolver: resolver,
		scorer:   scorer,
		queue:    queue,
		newVision: func(apiKey string) VisionClient {
			return openai.NewClient(apiKey, cfg.OpenAIModel)
		},
	}
}

// SetVisionFactory overrides vision client construction, used by tests.
func (s *Service) SetVisionFactory(f func(apiKey string) VisionClient) {
	s.newVision = f
}

// Submit runs one analysis to its terminal state and returns the final
// ledger record. A missing credential fails before any ledger write; every
// other failure is recorded as a terminal error record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.RequestRecord, error) {
	if req.AuthToken == "" {
		return nil, pipelineErr(models.KindUnauthorized, nil)
	}

	started := time.Now()

	// Resolve the input through the dedup cache; fall back to the raw
	// source URL so a cache failure degrades instead of aborting.
	resolvedURL, err := s.resolver.Resolve(ctx, req.SourceURL)
	if err != nil {
		log.WithError(err).WithField("ip", req.RequestorIP).
			Warnf("Input resolution failed for %s, using source URL directly", req.SourceURL)
		resolvedURL = req.SourceURL
	}

	input := models.RequestInput{
		ResolvedURL: resolvedURL,
		Threshold:   s.config.GoodnessThreshold,
	}
	if resolvedURL != req.SourceURL {
		input.OriginalURL = req.SourceURL
	}
	if req.ThresholdModifier != nil {
		input.ThresholdModifier = *req.ThresholdModifier
	}

	record := &models.RequestRecord{
		ID:          util.GenerateRequestID(s.config.RequestIDLength),
		Status:      models.StatusPending,
		Input:       input,
		CreatedAt:   time.Now().UnixMilli(),
		RequestorIP: req.RequestorIP,
	}
	if err := s.db.CreateRequest(record); err != nil {
		return nil, err
	}

	final, perr := s.analyze(ctx, record, req.AuthToken)
	result := models.StatusComplete
	if perr != nil {
		result = perr.Kind
	}
	metrics.AnalysesTotal.WithLabelValues(result).Inc()
	metrics.AnalysisDurationSeconds.WithLabelValues(result).Observe(time.Since(started).Seconds())

	if perr != nil {
		log.WithField("request_id", record.ID).WithField("ip", req.RequestorIP).
			Errorf("Analysis failed: %v", perr)
		return final, perr
	}

	s.dispatch(record.ID)
	return final, nil
}

// analyze runs the vision and scoring stages and finalizes the ledger
// record exactly once, success or failure.
func (s *Service) analyze(ctx context.Context, record *models.RequestRecord, apiKey string) (*models.RequestRecord, *PipelineError) {
	vision := s.newVision(apiKey)

	visionResult, err := retry(s.config.MaxRetries, func(attempt int) (*openai.VisionResult, error) {
		if attempt > 1 {
			metrics.VisionRetriesTotal.Inc()
			log.WithField("request_id", record.ID).
				Warnf("Retrying vision call, attempt %d/%d", attempt, s.config.MaxRetries)
		}
		return vision.DescribeImage(ctx, record.Input.ResolvedURL, s.config.VisionPrompt, s.config.VisionDetail)
	})
	if err != nil {
		return s.fail(record, models.KindModelUnavailable, err)
	}
	if strings.TrimSpace(visionResult.Narrative) == "" {
		return s.fail(record, models.KindEmptyModelOutput, nil)
	}

	effectiveThreshold := record.Input.Threshold + record.Input.ThresholdModifier/10

	sentences := parser.Segment(visionResult.Narrative)
	scored, err := s.scoreAll(ctx, sentences, effectiveThreshold)
	if err != nil {
		return s.fail(record, models.KindScoringFailed, err)
	}

	var good, bad []string
	for _, ss := range scored {
		if ss.Sentiment.Good {
			good = append(good, ss.Sentence)
		} else {
			bad = append(bad, ss.Sentence)
		}
	}

	record.Status = models.StatusComplete
	record.Response = visionResult.Narrative
	record.Sentences = scored
	record.Results = &models.Results{
		Good: models.Prompt{Prompt: strings.Join(good, ". ")},
		Bad:  models.Prompt{Prompt: strings.Join(bad, ". ")},
	}
	record.Meta = &models.Meta{
		TokensUsed:          visionResult.TokensUsed,
		ModelUsed:           visionResult.ModelUsed,
		PromptUsed:          s.config.VisionPrompt,
		ClassifierModelUsed: s.scorer.Model(),
	}

	if err := s.db.FinalizeRequest(record); err != nil {
		log.WithError(err).WithField("request_id", record.ID).
			Error("Failed to finalize complete record")
		return record, pipelineErr(models.KindInternal, err)
	}
	return record, nil
}

// scoreAll scores every sentence concurrently. The first error wins and
// aborts the whole request; results of in-flight calls are discarded.
func (s *Service) scoreAll(ctx context.Context, sentences []string, threshold float64) ([]models.SentenceSentiment, error) {
	scored := make([]models.SentenceSentiment, len(sentences))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, sentence := range sentences {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			result, err := s.scorer.Score(ctx, text, threshold)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			scored[i] = models.SentenceSentiment{Sentence: text, Sentiment: *result}
		}(i, sentence)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return scored, nil
}

// fail finalizes the record in the error state and returns the pipeline error.
func (s *Service) fail(record *models.RequestRecord, kind string, cause error) (*models.RequestRecord, *PipelineError) {
	perr := pipelineErr(kind, cause)
	record.Status = models.StatusError
	record.ErrorKind = kind
	record.ErrorMessage = perr.Error()

	if err := s.db.FinalizeRequest(record); err != nil {
		log.WithError(err).WithField("request_id", record.ID).
			Error("Failed to finalize error record")
	}
	return record, perr
}

// dispatch hands the completed request off to the downstream consumer.
// Failure is logged, never surfaced; the ledger record stays complete.
func (s *Service) dispatch(requestID string) {
	if s.queue == nil {
		log.Debugf("Dispatch queue not available, skipping handoff for %s", requestID)
		return
	}
	if err := s.queue.Publish(rabbitmq.DispatchMessage{RequestID: requestID}); err != nil {
		metrics.QueuePublishErrorsTotal.Inc()
		log.WithError(err).WithField("request_id", requestID).
			Warn("Dispatch queue handoff failed")
	}
}
