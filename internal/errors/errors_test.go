package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("fit failed for %s", "hyena").
		Component("classifier").
		Category(CategoryTraining).
		Species("Crocuta_crocuta").
		Collection("serengeti-2024").
		Op("fit_classifier").
		Context("examples", 3).
		Build()

	assert.Equal(t, "fit failed for hyena", ee.Error())
	assert.Equal(t, "classifier", ee.GetComponent())
	assert.Equal(t, CategoryTraining, ee.Category)
	ctx := ee.GetContext()
	assert.Equal(t, 3, ctx["examples"])
	assert.Equal(t, "Crocuta_crocuta", ctx["species"])
	assert.Equal(t, "serengeti-2024", ctx["collection_id"])
	assert.Equal(t, "fit_classifier", ctx["operation"])

	ctx["species"] = "changed"
	assert.Equal(t, "Crocuta_crocuta", ee.GetContext()["species"], "context is copied")
}

func TestSentinelSurvivesWrapping(t *testing.T) {
	SetTelemetryReporter(nil)
	sentinel := NewStd("job in flight")

	err := New(fmt.Errorf("collection demo: %w", sentinel)).Category(CategoryConflict).Build()

	require.ErrorIs(t, err, sentinel)
	assert.True(t, IsCategory(err, CategoryConflict))
	assert.Equal(t, CategoryConflict, CategoryOf(fmt.Errorf("outer: %w", err)))
	assert.False(t, IsNotFound(err))
}

func TestCategoryInheritedFromWrappedError(t *testing.T) {
	SetTelemetryReporter(nil)

	inner := New(NewStd("missing")).Category(CategoryNotFound).Build()
	outer := New(fmt.Errorf("load collection: %w", inner)).Build()

	assert.Equal(t, CategoryNotFound, outer.Category)
}

func TestReporterReceivesBuiltErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("connection refused")).Build()

	require.Len(t, reporter.reported, 1)
	assert.True(t, ee.IsReported())
	assert.Equal(t, CategoryNetwork, ee.Category)
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
}

func TestCategoryFromMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryNetwork, categoryFromMessage("dial tcp: connection refused"))
	assert.Equal(t, CategoryDatabase, categoryFromMessage("database is locked"))
	assert.Equal(t, CategoryNotFound, categoryFromMessage("open x.jpg: no such file or directory"))
	assert.Equal(t, CategoryGeneric, categoryFromMessage("something odd"))
}

func TestComponentFromFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		funcName string
		want     string
	}{
		{"method", modulePrefix + "retrain.(*Worker).Run", "retrain"},
		{"nested package", modulePrefix + "observability/metrics.NewPipelineMetrics", "observability.metrics"},
		{"own package skipped", modulePrefix + "errors.New", ""},
		{"foreign package", "github.com/labstack/echo/v4.(*Echo).ServeHTTP", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, componentFromFunc(tt.funcName))
		})
	}
}

func TestBasicScrub(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Error at https://api.example.com?[REDACTED]",
		basicScrub("Error at https://api.example.com?api_key=secret123&token=abc"))
	assert.Equal(t, "dial sftp://[REDACTED]@host:22 failed",
		basicScrub("dial sftp://user:pw@host:22 failed"))
	assert.NotContains(t, basicScrub("login with password=hunter2"), "hunter2")
}
