package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "wrapped_deadline", err: fmt.Errorf("aggregate: %w", context.DeadlineExceeded), want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("serialization failure should be retryable")
	}
	if IsSchedulerErrorRetryable(errors.New("invalid_month")) {
		t.Fatalf("business errors should not be retryable")
	}
	if got := ClassifySchedulerErrorType(&pgconn.PgError{Code: "23505"}); got != SchedulerErrorTypeDB {
		t.Fatalf("expected db error type, got %q", got)
	}
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "walue", Environment: "test"})

	m.AddBatchProcessed("aggregate_usage_metrics", "tenants", 3)
	m.AddBatchProcessed("aggregate_usage_metrics", "tenants", 0)
	m.IncBatchDeferred("generate_monthly_invoices", SchedulerDeferredReasonBusy)
	m.IncJobError("cleanup_old_data", context.DeadlineExceeded)
	m.ObserveRunLoopLag(-time.Second)

	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("aggregate_usage_metrics", "tenants")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchDeferred.WithLabelValues("generate_monthly_invoices", SchedulerDeferredReasonBusy)); got != 1 {
		t.Fatalf("expected deferred count 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("cleanup_old_data", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("x")
	m.IncJobError("x", errors.New("boom"))
	m.ObserveJobDuration("x", time.Second)
}
