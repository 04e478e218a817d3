package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes feed span metrics, so only bounded values go there: the
// operation, component, client type and status. Paths, cursors, account names
// and error messages go to logs or the span status instead.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)
	span.SetAttributes(attrs...)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments journal operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentClientOperation instruments remote storage client operations.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "client_"+operation, "remote_client", fn,
		attribute.String("client.type", client),
		attribute.String("client.operation", operation),
	)

	t.RecordClientOperation(client, operation, statusOf(err))

	return err
}

// InstrumentDownload instruments the download of the file at path. The outcome
// status is supplied by fn so skipped files can be told apart from transferred ones.
func (t *Telemetry) InstrumentDownload(ctx context.Context, path string, fn func(ctx context.Context) (string, error)) error {
	if t == nil || t.tracer == nil {
		_, err := fn(ctx)

		return err
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	status := "error"

	err := t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		var err error

		status, err = fn(ctx)

		return err
	})
	if err != nil {
		status = "error"
	}

	t.RecordDownload(path, status, time.Since(start))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
