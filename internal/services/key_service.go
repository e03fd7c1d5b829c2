package services

import (
	"context"
	"io"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licsrv/internal/exporter"
	"licsrv/internal/infrastructure"
	"licsrv/internal/license"
)

// KeyService is the operation surface used by the HTTP layer.
type KeyService interface {
	Validate(ctx context.Context, key, hwid string) (license.Verdict, error)
	Generate(ctx context.Context, actor license.Actor, note string) (license.KeyRecord, error)
	Revoke(ctx context.Context, actor license.Actor, key string) error
	Activate(ctx context.Context, actor license.Actor, key string) error
	UpdateNote(ctx context.Context, actor license.Actor, key, note string) error
	Delete(ctx context.Context, actor license.Actor, key string) error
	Get(ctx context.Context, key string) (license.KeyRecord, error)
	List(ctx context.Context) ([]license.KeyRecord, error)
	Export(ctx context.Context, actor license.Actor, w io.Writer, format exporter.Format) (int, error)
}

type keyService struct {
	engine    *license.Engine
	validator *license.Validator
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewKeyService creates a KeyService. tracer may come from a no-op provider.
func NewKeyService(engine *license.Engine, validator *license.Validator, tracer trace.Tracer, logger *slog.Logger) KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &keyService{
		engine:    engine,
		validator: validator,
		tracer:    tracer,
		logger:    logger.With(slog.String("service", "key")),
	}
}

func (s *keyService) start(ctx context.Context, name string, key string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	if key != "" {
		span.SetAttributes(attribute.String("license.key", license.MaskKey(key)))
	}
	return ctx, span
}

func (s *keyService) Validate(ctx context.Context, key, hwid string) (license.Verdict, error) {
	ctx, span := s.start(ctx, "license.validate", key)
	defer span.End()

	verdict, err := s.validator.Validate(ctx, key, hwid)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return verdict, err
	}
	span.SetAttributes(
		attribute.Bool("license.valid", verdict.Valid),
		attribute.Bool("license.first_bind", verdict.FirstBind),
	)
	if !verdict.Valid {
		span.SetAttributes(attribute.String("license.reason", string(verdict.Reason)))
	}
	return verdict, nil
}

func (s *keyService) Generate(ctx context.Context, actor license.Actor, note string) (license.KeyRecord, error) {
	ctx, span := s.start(ctx, "license.generate", "")
	defer span.End()

	rec, err := s.engine.Generate(ctx, actor, note)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return rec, err
	}
	span.SetAttributes(attribute.String("license.key", license.MaskKey(rec.Key)))
	return rec, nil
}

func (s *keyService) Revoke(ctx context.Context, actor license.Actor, key string) error {
	ctx, span := s.start(ctx, "license.revoke", key)
	defer span.End()

	err := s.engine.Revoke(ctx, actor, key)
	infrastructure.RecordError(ctx, err)
	return err
}

func (s *keyService) Activate(ctx context.Context, actor license.Actor, key string) error {
	ctx, span := s.start(ctx, "license.activate", key)
	defer span.End()

	err := s.engine.Activate(ctx, actor, key)
	infrastructure.RecordError(ctx, err)
	return err
}

func (s *keyService) UpdateNote(ctx context.Context, actor license.Actor, key, note string) error {
	ctx, span := s.start(ctx, "license.update_note", key)
	defer span.End()

	err := s.engine.UpdateNote(ctx, actor, key, note)
	infrastructure.RecordError(ctx, err)
	return err
}

func (s *keyService) Delete(ctx context.Context, actor license.Actor, key string) error {
	ctx, span := s.start(ctx, "license.delete", key)
	defer span.End()

	err := s.engine.Delete(ctx, actor, key)
	infrastructure.RecordError(ctx, err)
	return err
}

func (s *keyService) Get(ctx context.Context, key string) (license.KeyRecord, error) {
	ctx, span := s.start(ctx, "license.get", key)
	defer span.End()

	rec, err := s.engine.Get(ctx, key)
	infrastructure.RecordError(ctx, err)
	return rec, err
}

// List collects every record. The admin listing is small enough to buffer;
// Export streams instead.
func (s *keyService) List(ctx context.Context) ([]license.KeyRecord, error) {
	ctx, span := s.start(ctx, "license.list", "")
	defer span.End()

	records, err := license.Collect(s.engine.List(ctx))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("license.count", len(records)))
	return records, nil
}

func (s *keyService) Export(ctx context.Context, actor license.Actor, w io.Writer, format exporter.Format) (int, error) {
	ctx, span := s.start(ctx, "license.export", "")
	defer span.End()
	span.SetAttributes(attribute.String("export.format", string(format)))

	if actor.IsZero() {
		infrastructure.RecordError(ctx, license.ErrUnauthenticated)
		return 0, license.ErrUnauthenticated
	}

	n, err := exporter.Write(w, format, s.logged(ctx, s.engine.List(ctx)))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return n, err
	}

	s.logger.InfoContext(ctx, "keys exported",
		slog.String("actor", actor.Subject),
		slog.String("format", string(format)),
		slog.Int("count", n))
	return n, nil
}

// logged reports list failures that end an export mid-stream.
func (s *keyService) logged(ctx context.Context, seq iter.Seq2[license.KeyRecord, error]) iter.Seq2[license.KeyRecord, error] {
	return func(yield func(license.KeyRecord, error) bool) {
		for rec, err := range seq {
			if err != nil {
				s.logger.ErrorContext(ctx, "key listing failed during export", slog.String("error", err.Error()))
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}
