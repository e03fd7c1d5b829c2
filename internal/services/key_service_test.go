package services_test

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"licsrv/internal/exporter"
	"licsrv/internal/license"
	"licsrv/internal/services"
	"licsrv/internal/shared/testutil"
)

var errDown = errors.New("connection refused")

// flakyStore fails reads once broken is set.
type flakyStore struct {
	*license.MemoryStore
	broken bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (license.KeyRecord, error) {
	if s.broken {
		return license.KeyRecord{}, errDown
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) List(ctx context.Context) iter.Seq2[license.KeyRecord, error] {
	if !s.broken {
		return s.MemoryStore.List(ctx)
	}
	return func(yield func(license.KeyRecord, error) bool) {
		yield(license.KeyRecord{}, errDown)
	}
}

type KeyServiceTestSuite struct {
	suite.Suite
	store    *flakyStore
	sink     *testutil.RecordingSink
	spans    *tracetest.SpanRecorder
	logs     *testutil.BufferedSlogHandler
	service  services.KeyService
	provider *sdktrace.TracerProvider
}

func TestKeyServiceSuite(t *testing.T) {
	suite.Run(t, new(KeyServiceTestSuite))
}

func (s *KeyServiceTestSuite) SetupTest() {
	var logger *slog.Logger
	logger, s.logs = testutil.NewTestLogger(s.T())

	s.store = &flakyStore{MemoryStore: license.NewMemoryStore()}
	s.sink = &testutil.RecordingSink{}
	s.spans = tracetest.NewSpanRecorder()
	s.provider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))

	engine := license.NewEngine(s.store,
		license.WithTokenGenerator(testutil.SequenceTokens("RIXK-AAAA-0001", "RIXK-AAAA-0002")),
		license.WithClock(testutil.StepClock(0)),
		license.WithEventSink(s.sink),
		license.WithLogger(logger))
	validator := license.NewValidator(s.store, s.sink, nil, logger)
	s.service = services.NewKeyService(engine, validator, s.provider.Tracer("test"), logger)
}

func (s *KeyServiceTestSuite) TearDownTest() {
	s.Require().NoError(s.provider.Shutdown(context.Background()))
}

// span returns the single ended span called name.
func (s *KeyServiceTestSuite) span(name string) sdktrace.ReadOnlySpan {
	var found []sdktrace.ReadOnlySpan
	for _, sp := range s.spans.Ended() {
		if sp.Name() == name {
			found = append(found, sp)
		}
	}
	s.Require().Len(found, 1, "spans named %s", name)
	return found[0]
}

func attr(sp sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range sp.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func (s *KeyServiceTestSuite) TestLifecycle() {
	ctx := context.Background()

	rec, err := s.service.Generate(ctx, testutil.TestActor, "acme")
	s.Require().NoError(err)
	s.Equal("RIXK-AAAA-0001", rec.Key)

	verdict, err := s.service.Validate(ctx, rec.Key, "HW-A")
	s.Require().NoError(err)
	s.True(verdict.Valid)
	s.True(verdict.FirstBind)

	verdict, err = s.service.Validate(ctx, rec.Key, "HW-B")
	s.Require().NoError(err)
	s.Equal(license.ReasonBoundElsewhere, verdict.Reason)

	s.Require().NoError(s.service.Revoke(ctx, testutil.TestActor, rec.Key))
	s.Require().NoError(s.service.UpdateNote(ctx, testutil.TestActor, rec.Key, "refunded"))

	got, err := s.service.Get(ctx, rec.Key)
	s.Require().NoError(err)
	s.Equal(license.StateRevoked, got.State())
	s.Equal("refunded", got.Note)

	s.Require().NoError(s.service.Activate(ctx, testutil.TestActor, rec.Key))
	s.Require().NoError(s.service.Delete(ctx, testutil.TestActor, rec.Key))

	_, err = s.service.Get(ctx, rec.Key)
	s.ErrorIs(err, license.ErrNotFound)
	s.Contains(s.sink.Types(), license.EventBound)
}

func (s *KeyServiceTestSuite) TestSpansMaskTheKey() {
	ctx := context.Background()
	rec, err := s.service.Generate(ctx, testutil.TestActor, "")
	s.Require().NoError(err)

	_, err = s.service.Validate(ctx, rec.Key, "HW-A")
	s.Require().NoError(err)
	_, err = s.service.Validate(ctx, "RIXK-NOPE-NOPE", "HW-A")
	s.Require().NoError(err)

	var validates []sdktrace.ReadOnlySpan
	for _, sp := range s.spans.Ended() {
		if sp.Name() == "license.validate" {
			validates = append(validates, sp)
		}
	}
	s.Require().Len(validates, 2)

	key, ok := attr(validates[0], "license.key")
	s.Require().True(ok)
	s.Equal(license.MaskKey(rec.Key), key.AsString())
	s.NotContains(key.AsString(), "AAAA-0001")

	first, _ := attr(validates[0], "license.first_bind")
	s.True(first.AsBool())

	reason, ok := attr(validates[1], "license.reason")
	s.Require().True(ok)
	s.Equal(string(license.ReasonUnknownKey), reason.AsString())

	gen := s.span("license.generate")
	genKey, _ := attr(gen, "license.key")
	s.Equal(license.MaskKey(rec.Key), genKey.AsString())
}

func (s *KeyServiceTestSuite) TestStoreFailureMarksSpan() {
	s.store.broken = true

	_, err := s.service.Validate(context.Background(), "RIXK-AAAA-0001", "HW-A")
	s.ErrorIs(err, license.ErrStoreUnavailable)

	sp := s.span("license.validate")
	s.Equal(codes.Error, sp.Status().Code)
	s.NotEmpty(sp.Events(), "error recorded as a span event")
}

func (s *KeyServiceTestSuite) TestMutationsRequireActor() {
	ctx := context.Background()
	_, err := s.service.Generate(ctx, license.Actor{}, "")
	s.ErrorIs(err, license.ErrUnauthenticated)
	s.ErrorIs(s.service.Revoke(ctx, license.Actor{}, "RIXK-AAAA-0001"), license.ErrUnauthenticated)

	var buf bytes.Buffer
	_, err = s.service.Export(ctx, license.Actor{}, &buf, exporter.FormatCSV)
	s.ErrorIs(err, license.ErrUnauthenticated)
	s.Zero(buf.Len())
	s.Equal(codes.Error, s.span("license.export").Status().Code)
}

func (s *KeyServiceTestSuite) TestListAndExport() {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.service.Generate(ctx, testutil.TestActor, "")
		s.Require().NoError(err)
	}

	records, err := s.service.List(ctx)
	s.Require().NoError(err)
	s.Len(records, 2)

	count, _ := attr(s.span("license.list"), "license.count")
	s.EqualValues(2, count.AsInt64())

	var buf bytes.Buffer
	n, err := s.service.Export(ctx, testutil.TestActor, &buf, exporter.FormatCSV)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Contains(buf.String(), "RIXK-AAAA-0001")
	s.Contains(buf.String(), "RIXK-AAAA-0002")
	testutil.AssertLogContains(s.T(), s.logs, slog.LevelInfo, "keys exported")
	testutil.AssertLogAttr(s.T(), s.logs, "actor", testutil.TestActor.Subject)
}

func (s *KeyServiceTestSuite) TestExportListFailure() {
	s.store.broken = true

	var buf bytes.Buffer
	_, err := s.service.Export(context.Background(), testutil.TestActor, &buf, exporter.FormatCSV)
	s.ErrorIs(err, errDown)
	testutil.AssertLogContains(s.T(), s.logs, slog.LevelError, "key listing failed during export")

	_, err = s.service.List(context.Background())
	s.ErrorIs(err, errDown)
}
