package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Reason is the closed set of rejection reasons reported to clients.
type Reason string

const (
	ReasonMalformed      Reason = "malformed request"
	ReasonUnknownKey     Reason = "unknown key"
	ReasonRevoked        Reason = "revoked"
	ReasonBoundElsewhere Reason = "bound to another device"
)

// Verdict is the outcome of a validation attempt: Valid, or Invalid with a Reason.
type Verdict struct {
	Valid  bool
	Reason Reason
	// FirstBind is set when this validation bound the key to the device.
	FirstBind bool
}

// Valid is the accepting verdict.
func Valid() Verdict { return Verdict{Valid: true} }

// Invalid is a rejecting verdict.
func Invalid(r Reason) Verdict { return Verdict{Reason: r} }

func (v Verdict) String() string {
	if v.Valid {
		return "valid"
	}
	return "invalid: " + string(v.Reason)
}

// Validator implements the client-facing protocol: look up the key, refuse
// revoked keys, then bind or verify the device in one atomic store call.
type Validator struct {
	store   Store
	sink    EventSink
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewValidator creates a validator over store. sink and metrics may be nil.
func NewValidator(store Store, sink EventSink, metrics *Metrics, logger *slog.Logger) *Validator {
	if sink == nil {
		sink = NopSink
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "license_validator")),
		now:     time.Now,
	}
}

// Validate checks key for the device hwid. Every rejection is a Verdict; the
// only errors returned are ErrStoreUnavailable (or the context's error) and
// they are not retried here.
func (v *Validator) Validate(ctx context.Context, key, hwid string) (Verdict, error) {
	start := v.now()
	verdict, err := v.validate(ctx, NormalizeKey(key), strings.TrimSpace(hwid))
	if err != nil {
		v.logger.ErrorContext(ctx, "license validation failed",
			slog.String("key", MaskKey(key)),
			slog.String("error", err.Error()))
		return Verdict{}, err
	}

	v.metrics.recordValidation(ctx, verdict, v.now().Sub(start))
	if verdict.Valid {
		v.logger.DebugContext(ctx, "license validated",
			slog.String("key", MaskKey(key)),
			slog.Bool("first_bind", verdict.FirstBind))
	} else {
		v.logger.InfoContext(ctx, "license rejected",
			slog.String("key", MaskKey(key)),
			slog.String("reason", string(verdict.Reason)))
	}
	return verdict, nil
}

func (v *Validator) validate(ctx context.Context, key, hwid string) (Verdict, error) {
	if !wellFormed(key, MaxKeyLength) || !wellFormed(hwid, MaxHWIDLength) {
		return Invalid(ReasonMalformed), nil
	}

	rec, err := v.store.Get(ctx, key)
	if err != nil {
		if verdict, ok := classify(err); ok {
			return verdict, nil
		}
		return Verdict{}, unavailable(err)
	}
	if !rec.Active {
		return Invalid(ReasonRevoked), nil
	}

	res, err := v.store.BindIfUnbound(ctx, key, hwid)
	if err != nil {
		// Get and BindIfUnbound are separate calls; an admin may revoke or
		// delete the key in between, which the atomic bind reports.
		if verdict, ok := classify(err); ok {
			return verdict, nil
		}
		return Verdict{}, unavailable(err)
	}

	if res.Bound {
		v.metrics.recordBinding(ctx)
		v.logger.InfoContext(ctx, "license key bound to device",
			slog.String("key", MaskKey(key)))
		v.sink.Publish(ctx, Event{
			Type: EventBound,
			Key:  key,
			HWID: hwid,
			At:   v.now().UTC(),
		})
	}

	verdict := Valid()
	verdict.FirstBind = res.Bound
	return verdict, nil
}

// classify maps domain errors to verdicts.
func classify(err error) (Verdict, bool) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return Invalid(ReasonMalformed), true
	case errors.Is(err, ErrNotFound):
		return Invalid(ReasonUnknownKey), true
	case errors.Is(err, ErrRevoked):
		return Invalid(ReasonRevoked), true
	case errors.Is(err, ErrHWIDMismatch):
		return Invalid(ReasonBoundElsewhere), true
	default:
		return Verdict{}, false
	}
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
