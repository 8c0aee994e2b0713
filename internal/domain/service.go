package domain

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"example.com/cpd/internal/logger"
)

const (
	defaultCodeAttempts    = 5
	defaultIssuanceRetries = 3
	defaultVerifyBaseURL   = "https://cpd.example.com"
)

var tracer = otel.Tracer("example.com/cpd/internal/domain")

// Actor identifies who is calling. Admins may act on records they do not own.
type Actor struct {
	LearnerID string
	Admin     bool
}

func (a Actor) owns(learnerID string) bool {
	return a.Admin || (a.LearnerID != "" && a.LearnerID == learnerID)
}

// Service is the entry point to the compliance resolution and certification engine.
type Service struct {
	repo            Repository
	mappings        MappingSource
	invalidator     MappingInvalidator
	log             *logger.Logger
	now             func() time.Time
	codes           CodeGenerator
	codeAttempts    int
	issuanceRetries int
	newBackOff      func() backoff.BackOff
	verifyBaseURL   string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMappingCache routes mapping reads through a cache and invalidates it on mapping writes.
func WithMappingCache(source MappingSource, invalidator MappingInvalidator) Option {
	return func(s *Service) {
		s.mappings = source
		s.invalidator = invalidator
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides certificate code generation.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *Service) { s.codes = gen }
}

// WithCodeAttempts bounds how many codes are tried before ErrCodeGenerationExhausted.
func WithCodeAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.codeAttempts = n
		}
	}
}

// WithIssuanceRetries bounds retries of a cascade transaction that failed transiently.
func WithIssuanceRetries(n int, newBackOff func() backoff.BackOff) Option {
	return func(s *Service) {
		if n >= 0 {
			s.issuanceRetries = n
		}
		if newBackOff != nil {
			s.newBackOff = newBackOff
		}
	}
}

// WithVerifyBaseURL sets the public prefix of certificate verification links.
func WithVerifyBaseURL(base string) Option {
	return func(s *Service) {
		if strings.TrimSpace(base) != "" {
			s.verifyBaseURL = strings.TrimRight(base, "/")
		}
	}
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		mappings:        repo,
		log:             logger.Nop(),
		now:             func() time.Time { return time.Now().UTC() },
		codes:           RandomCode,
		codeAttempts:    defaultCodeAttempts,
		issuanceRetries: defaultIssuanceRetries,
		newBackOff:      defaultBackOff,
		verifyBaseURL:   defaultVerifyBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return b
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
