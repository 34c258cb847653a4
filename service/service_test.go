package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"image-sentiment-pipeline/config"
	"image-sentiment-pipeline/database"
	"image-sentiment-pipeline/imagecache"
	"image-sentiment-pipeline/models"
	"image-sentiment-pipeline/openai"
	"image-sentiment-pipeline/storage"

	"github.com/DATA-DOG/go-sqlmock"
)

const storageBase = "http://img.local/api/v3/images"

type fakeVision struct {
	mu     sync.Mutex
	calls  int
	result *openai.VisionResult
	err    error
}

func (f *fakeVision) DescribeImage(ctx context.Context, imageURL, prompt, detail string) (*openai.VisionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeScorer struct {
	mu         sync.Mutex
	scores     map[string]models.Sentiment
	failOn     string
	thresholds []float64
}

func (f *fakeScorer) Score(ctx context.Context, text string, threshold float64) (*models.Sentiment, error) {
	f.mu.Lock()
	f.thresholds = append(f.thresholds, threshold)
	f.mu.Unlock()
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("classifier blew up")
	}
	s, ok := f.scores[text]
	if !ok {
		return nil, fmt.Errorf("unexpected sentence %q", text)
	}
	return &s, nil
}

func (f *fakeScorer) Model() string { return "test-classifier" }

type fakeQueue struct {
	mu        sync.Mutex
	published []interface{}
	err       error
}

func (f *fakeQueue) Publish(message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, message)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		OpenAIModel:       "gpt-4o",
		VisionPrompt:      "Describe this image.",
		VisionDetail:      "low",
		MaxRetries:        3,
		GoodnessThreshold: 0.1,
		RequestIDLength:   8,
		StorageBaseURL:    storageBase,
	}
}

func newTestService(t *testing.T, vision *fakeVision, scorer *fakeScorer, queue Queue) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewDatabaseWithDB(mockDB)
	store := storage.NewStore(db, storageBase)
	resolver := imagecache.NewResolver(db, store)

	svc := NewService(testConfig(), db, resolver, scorer, queue)
	svc.SetVisionFactory(func(apiKey string) VisionClient { return vision })
	return svc, mock
}

// A source URL already under the storage domain bypasses the dedup cache,
// so these tests exercise the pipeline without cache expectations.
func ownURL() string { return storageBase + "/abc123.png" }

func expectCreateAndFinalize(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO analysis_requests").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE analysis_requests").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSubmit_PartitionsSentencesBySentiment(t *testing.T) {
	vision := &fakeVision{result: &openai.VisionResult{
		Narrative:  "The cat is happy. The room is messy.",
		TokensUsed: 77,
		ModelUsed:  "gpt-4o",
	}}
	scorer := &fakeScorer{scores: map[string]models.Sentiment{
		"The cat is happy":  {Positive: 0.9, Negative: 0.05, Good: true},
		"The room is messy": {Positive: 0.3, Negative: 0.6, Good: false},
	}}
	queue := &fakeQueue{}
	svc, mock := newTestService(t, vision, scorer, queue)
	expectCreateAndFinalize(mock)

	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL:   ownURL(),
		AuthToken:   "sk-test",
		RequestorIP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.Status != models.StatusComplete {
		t.Errorf("status = %q, want complete", record.Status)
	}
	if record.Results.Good.Prompt != "The cat is happy" {
		t.Errorf("good prompt = %q", record.Results.Good.Prompt)
	}
	if record.Results.Bad.Prompt != "The room is messy" {
		t.Errorf("bad prompt = %q", record.Results.Bad.Prompt)
	}
	if len(record.Sentences) != 2 {
		t.Fatalf("sentences = %d, want 2", len(record.Sentences))
	}
	if record.Sentences[0].Sentence != "The cat is happy" || record.Sentences[1].Sentence != "The room is messy" {
		t.Errorf("sentence order not preserved: %+v", record.Sentences)
	}
	if record.Meta == nil || record.Meta.TokensUsed != 77 || record.Meta.ClassifierModelUsed != "test-classifier" {
		t.Errorf("meta = %+v", record.Meta)
	}
	if record.Input.ResolvedURL != ownURL() {
		t.Errorf("resolved url = %q, want unchanged own-domain url", record.Input.ResolvedURL)
	}
	if len(queue.published) != 1 {
		t.Errorf("queue publishes = %d, want 1", len(queue.published))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet db expectations: %v", err)
	}
}

func TestSubmit_MissingCredentialWritesNothing(t *testing.T) {
	svc, mock := newTestService(t, &fakeVision{}, &fakeScorer{}, &fakeQueue{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: ownURL(),
		AuthToken: "",
	})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != models.KindUnauthorized {
		t.Fatalf("expected unauthorized pipeline error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("ledger must not be touched on unauthorized: %v", err)
	}
}

func TestSubmit_ModelUnavailableAfterThreeAttempts(t *testing.T) {
	vision := &fakeVision{err: errors.New("upstream 500")}
	queue := &fakeQueue{}
	svc, mock := newTestService(t, vision, &fakeScorer{}, queue)
	expectCreateAndFinalize(mock)

	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: ownURL(),
		AuthToken: "sk-test",
	})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != models.KindModelUnavailable {
		t.Fatalf("expected model_unavailable, got %v", err)
	}
	if vision.calls != 3 {
		t.Errorf("vision calls = %d, want 3", vision.calls)
	}
	if record.Status != models.StatusError {
		t.Errorf("status = %q, want error", record.Status)
	}
	if record.ErrorMessage == "" || record.ErrorKind != models.KindModelUnavailable {
		t.Errorf("error record incomplete: %+v", record)
	}
	if len(queue.published) != 0 {
		t.Errorf("failed request must not be dispatched")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet db expectations: %v", err)
	}
}

func TestSubmit_EmptyModelOutputIsDistinct(t *testing.T) {
	vision := &fakeVision{result: &openai.VisionResult{Narrative: "   "}}
	svc, mock := newTestService(t, vision, &fakeScorer{}, &fakeQueue{})
	expectCreateAndFinalize(mock)

	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: ownURL(),
		AuthToken: "sk-test",
	})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != models.KindEmptyModelOutput {
		t.Fatalf("expected empty_model_output, got %v", err)
	}
	if record.Status != models.StatusError {
		t.Errorf("status = %q, want error", record.Status)
	}
	if vision.calls != 1 {
		t.Errorf("vision calls = %d, want 1 (empty output is not retried)", vision.calls)
	}
}

func TestSubmit_AnyScoringFailureAbortsRequest(t *testing.T) {
	vision := &fakeVision{result: &openai.VisionResult{
		Narrative: "A bright park. A pile of trash. Children playing.",
	}}
	scorer := &fakeScorer{
		scores: map[string]models.Sentiment{
			"A bright park":    {Positive: 0.9, Negative: 0.1, Good: true},
			"Children playing": {Positive: 0.8, Negative: 0.1, Good: true},
		},
		failOn: "A pile of trash",
	}
	svc, mock := newTestService(t, vision, scorer, &fakeQueue{})
	expectCreateAndFinalize(mock)

	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: ownURL(),
		AuthToken: "sk-test",
	})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != models.KindScoringFailed {
		t.Fatalf("expected scoring_failed, got %v", err)
	}
	if record.Status != models.StatusError {
		t.Errorf("status = %q, want error", record.Status)
	}
	if len(record.Sentences) != 0 {
		t.Errorf("partial sentiment results must never be published, got %d", len(record.Sentences))
	}
}

func TestSubmit_ThresholdModifierAdjustsDecision(t *testing.T) {
	vision := &fakeVision{result: &openai.VisionResult{Narrative: "A quiet street."}}
	scorer := &fakeScorer{scores: map[string]models.Sentiment{
		"A quiet street": {Positive: 0.6, Negative: 0.3, Good: false},
	}}
	svc, mock := newTestService(t, vision, scorer, &fakeQueue{})
	expectCreateAndFinalize(mock)

	modifier := 5.0
	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL:         ownURL(),
		AuthToken:         "sk-test",
		ThresholdModifier: &modifier,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// base 0.1 + 5/10 = 0.6
	if len(scorer.thresholds) != 1 || scorer.thresholds[0] != 0.6 {
		t.Errorf("effective threshold = %v, want [0.6]", scorer.thresholds)
	}
	if record.Input.Threshold != 0.1 || record.Input.ThresholdModifier != 5.0 {
		t.Errorf("input = %+v", record.Input)
	}
}

func TestSubmit_ZeroRetryBoundStillRunsVision(t *testing.T) {
	vision := &fakeVision{result: &openai.VisionResult{Narrative: "A sunny meadow."}}
	scorer := &fakeScorer{scores: map[string]models.Sentiment{
		"A sunny meadow": {Positive: 0.9, Negative: 0.05, Good: true},
	}}
	svc, mock := newTestService(t, vision, scorer, &fakeQueue{})
	svc.config.MaxRetries = 0
	expectCreateAndFinalize(mock)

	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: ownURL(),
		AuthToken: "sk-test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.StatusComplete {
		t.Errorf("status = %q, want complete", record.Status)
	}
	if vision.calls != 1 {
		t.Errorf("vision calls = %d, want 1", vision.calls)
	}
}

func TestSubmit_QueueFailureDoesNotRevertLedger(t *testing.T) {
	vision := &fakeVision{result: &openai.VisionResult{Narrative: "A green field."}}
	scorer := &fakeScorer{scores: map[string]models.Sentiment{
		"A green field": {Positive: 0.9, Negative: 0.05, Good: true},
	}}
	queue := &fakeQueue{err: errors.New("broker down")}
	svc, mock := newTestService(t, vision, scorer, queue)
	expectCreateAndFinalize(mock)

	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: ownURL(),
		AuthToken: "sk-test",
	})
	if err != nil {
		t.Fatalf("queue failure must not surface: %v", err)
	}
	if record.Status != models.StatusComplete {
		t.Errorf("status = %q, want complete", record.Status)
	}
}

func TestSubmit_ResolutionFailureFallsBackToSourceURL(t *testing.T) {
	vision := &fakeVision{result: &openai.VisionResult{Narrative: "A red bicycle."}}
	scorer := &fakeScorer{scores: map[string]models.Sentiment{
		"A red bicycle": {Positive: 0.7, Negative: 0.2, Good: true},
	}}
	svc, mock := newTestService(t, vision, scorer, &fakeQueue{})

	// Cache lookup errors; the pipeline degrades to the raw source URL.
	mock.ExpectQuery("SELECT source_url, content_type, storage_id FROM image_cache").
		WillReturnError(errors.New("db offline"))
	expectCreateAndFinalize(mock)

	source := "https://example.com/bike.jpg"
	record, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: source,
		AuthToken: "sk-test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Input.ResolvedURL != source {
		t.Errorf("resolved url = %q, want raw source %q", record.Input.ResolvedURL, source)
	}
	if record.Input.OriginalURL != "" {
		t.Errorf("original url should be empty in degraded mode, got %q", record.Input.OriginalURL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet db expectations: %v", err)
	}
}
