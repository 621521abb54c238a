package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Basic(t *testing.T) {
	ee := Newf("provider call failed: %s", "plantnet").
		Category(CategoryNetwork).
		Component("provider.plantnet").
		Context("status_code", 502).
		Build()

	require.NotNil(t, ee, "expected a built error")
	assert.Equal(t, "provider call failed: plantnet", ee.Error(), "message mismatch")
	assert.Equal(t, CategoryNetwork, ee.Category, "category mismatch")
	assert.Equal(t, "provider.plantnet", ee.GetComponent(), "component mismatch")
	assert.Equal(t, 502, ee.GetContext()["status_code"], "context value mismatch")
	assert.WithinDuration(t, time.Now(), ee.GetTimestamp(), time.Second, "timestamp should be recent")
}

func TestBuilder_Defaults(t *testing.T) {
	ee := Newf("something odd").Build()

	assert.Equal(t, CategoryGeneric, ee.Category, "empty category should default to generic")
	assert.NotEmpty(t, ee.GetComponent(), "component should never be empty")
}

func TestBuilder_InvalidPriority(t *testing.T) {
	ee := Newf("oops").Priority("urgent-ish").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority(), "invalid priority should fall back to medium")
}

func TestIs_MatchesByCategory(t *testing.T) {
	a := Newf("quota exceeded for plantnet").Category(CategoryLimit).Build()
	b := Newf("different message").Category(CategoryLimit).Build()

	assert.ErrorIs(t, a, b, "enhanced errors with the same category should match")
}

func TestUnwrap_PreservesWrappedError(t *testing.T) {
	base := NewStd("root cause")
	ee := Newf("wrapped: %w", base).Category(CategoryDatabase).Build()

	assert.ErrorIs(t, ee, base, "wrapped error should unwrap to the base error")

	var target *EnhancedError
	require.True(t, As(fmt.Errorf("outer: %w", ee), &target), "As should find the enhanced error")
	assert.Equal(t, CategoryDatabase, target.Category)
}

func TestIsCategory_Helpers(t *testing.T) {
	nf := Newf("species not found").Category(CategoryNotFound).Build()
	to := Newf("request timed out").Category(CategoryTimeout).Build()

	assert.True(t, IsNotFound(nf), "IsNotFound should match")
	assert.False(t, IsNotFound(to), "IsNotFound should not match timeout")
	assert.True(t, IsTimeout(to), "IsTimeout should match")
	assert.False(t, IsCategory(NewStd("plain"), CategoryTimeout), "plain errors have no category")
}

func TestEventPublisher(t *testing.T) {
	var published *EnhancedError
	SetEventPublisher(func(ee *EnhancedError) { published = ee })
	t.Cleanup(func() { SetEventPublisher(nil) })

	ee := Newf("circuit opened").Category(CategoryCircuitOpen).Component("circuit").Build()

	require.NotNil(t, published, "publisher should have been invoked")
	assert.Equal(t, ee, published, "published error should be the built error")
	assert.False(t, ee.IsReported(), "reporting flag is managed by the consumer")

	ee.MarkReported()
	assert.True(t, ee.IsReported())
}

func TestDetectCategory_Heuristics(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want ErrorCategory
	}{
		{"timeout", "context deadline exceeded", CategoryTimeout},
		{"network", "connection refused", CategoryNetwork},
		{"limit", "monthly quota exhausted", CategoryLimit},
		{"not found", "entry not found", CategoryNotFound},
		{"generic", "shrug", CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectCategory(NewStd(tt.msg))
			assert.Equal(t, tt.want, got, "category heuristic mismatch")
		})
	}
}
