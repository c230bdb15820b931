package temporal

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/relayforge/modelmux/internal/registry"
	"github.com/relayforge/modelmux/internal/routing"
)

// actsRef is a nil *Activities pointer used to create bound method
// references for Temporal mock registration. The SDK only uses reflection
// to extract the method name, no method body runs.
var actsRef *Activities

func defaultRouteInput() RouteInput {
	return RouteInput{
		RequestID: "req-001",
		Task:      "chat",
		Input:     json.RawMessage(`{"messages":[{"role":"user","content":"Hello"}]}`),
	}
}

func samplePlan() ChainPlan {
	return ChainPlan{
		Family: "chat",
		Candidates: []routing.Candidate{
			{Provider: "p1", ModelID: "alpha", Tier: registry.TierPrimary},
			{Provider: "p2", ModelID: "bravo", Tier: registry.TierFallback},
			{Provider: "p1", ModelID: "charlie", Tier: registry.TierLite},
		},
		MaxAttempts:      3,
		AttemptTimeoutMs: 30000,
	}
}

func sampleInvokeOutput() InvokeOutput {
	return InvokeOutput{
		Payload:   json.RawMessage(`{"choices":[{"message":{"content":"Hi"}}]}`),
		LatencyMs: 120,
	}
}

func TestRouteWorkflow_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	plan := samplePlan()
	out := sampleInvokeOutput()

	env.OnActivity(actsRef.EvaluateChain, mock.Anything, mock.Anything).Return(plan, nil)
	env.OnActivity(actsRef.InvokeModel, mock.Anything, mock.Anything).Return(out, nil)
	env.OnActivity(actsRef.RecordOutcome, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(RouteWorkflow, defaultRouteInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var output RouteOutput
	require.NoError(t, env.GetWorkflowResult(&output))

	require.Equal(t, "chat", output.TaskFamily)
	require.Equal(t, "p1", output.Provider)
	require.Equal(t, "alpha", output.ModelID)
	require.Equal(t, 0, output.AttemptIndex)
	require.Equal(t, 0, output.FallbacksUsed)
	require.NotNil(t, output.Payload)
	require.Empty(t, output.Error)
	require.Len(t, output.Attempts, 1)

	env.AssertExpectations(t)
}

func TestRouteWorkflow_FallsBackAfterFailure(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	plan := samplePlan()
	out := sampleInvokeOutput()

	env.OnActivity(actsRef.EvaluateChain, mock.Anything, mock.Anything).Return(plan, nil)

	// First candidate fails, second succeeds.
	env.OnActivity(actsRef.InvokeModel, mock.Anything, mock.Anything).
		Return(InvokeOutput{LatencyMs: 40, ErrorClass: "rate_limited"}, fmt.Errorf("rate limited")).Once()
	env.OnActivity(actsRef.InvokeModel, mock.Anything, mock.Anything).
		Return(out, nil).Once()

	env.OnActivity(actsRef.RecordOutcome, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(RouteWorkflow, defaultRouteInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var output RouteOutput
	require.NoError(t, env.GetWorkflowResult(&output))

	require.Equal(t, "p2", output.Provider)
	require.Equal(t, "bravo", output.ModelID)
	require.Equal(t, 1, output.AttemptIndex)
	require.Equal(t, 1, output.FallbacksUsed)
	require.Len(t, output.Attempts, 2)
	require.False(t, output.Attempts[0].OK)
	require.Equal(t, routing.ErrRateLimited, output.Attempts[0].ErrorClass)
	require.True(t, output.Attempts[1].OK)

	env.AssertExpectations(t)
}

func TestRouteWorkflow_Exhausted(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	plan := samplePlan()

	env.OnActivity(actsRef.EvaluateChain, mock.Anything, mock.Anything).Return(plan, nil)
	env.OnActivity(actsRef.InvokeModel, mock.Anything, mock.Anything).
		Return(InvokeOutput{LatencyMs: 30, ErrorClass: "transient"}, fmt.Errorf("provider down")).Times(3)
	env.OnActivity(actsRef.RecordOutcome, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(RouteWorkflow, defaultRouteInput())

	require.True(t, env.IsWorkflowCompleted())

	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "exhausted")

	env.AssertExpectations(t)
}

func TestRouteWorkflow_RespectsMaxAttempts(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	plan := samplePlan()
	plan.MaxAttempts = 2 // retry budget shorter than the chain

	var recorded RecordInput
	env.OnActivity(actsRef.EvaluateChain, mock.Anything, mock.Anything).Return(plan, nil)
	env.OnActivity(actsRef.InvokeModel, mock.Anything, mock.Anything).
		Return(InvokeOutput{ErrorClass: "transient"}, fmt.Errorf("unavailable")).Times(2)
	env.OnActivity(actsRef.RecordOutcome, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			recorded = args.Get(1).(RecordInput)
		}).Return(nil)

	env.ExecuteWorkflow(RouteWorkflow, defaultRouteInput())

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	// Two attempts means one fallback transition, exhausted or not.
	require.Equal(t, 1, recorded.Fallbacks)

	env.AssertExpectations(t)
}

func TestRouteWorkflow_EvaluateFails(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.EvaluateChain, mock.Anything, mock.Anything).Return(
		ChainPlan{}, fmt.Errorf("unknown task: nonsense"),
	)

	input := defaultRouteInput()
	input.Task = "nonsense"
	env.ExecuteWorkflow(RouteWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())

	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown task")

	env.AssertExpectations(t)
}

func TestRouteWorkflow_RecordsExhaustedOutcome(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	plan := samplePlan()
	plan.Candidates = plan.Candidates[:1]
	plan.MaxAttempts = 1

	var recorded RecordInput
	env.OnActivity(actsRef.EvaluateChain, mock.Anything, mock.Anything).Return(plan, nil)
	env.OnActivity(actsRef.InvokeModel, mock.Anything, mock.Anything).
		Return(InvokeOutput{ErrorClass: "fatal"}, fmt.Errorf("bad request"))
	env.OnActivity(actsRef.RecordOutcome, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			recorded = args.Get(1).(RecordInput)
		}).Return(nil)

	env.ExecuteWorkflow(RouteWorkflow, defaultRouteInput())

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	require.Equal(t, "exhausted", recorded.Outcome)
	require.False(t, recorded.Success)
	require.Equal(t, "fatal", recorded.ErrorClass)
	require.Equal(t, 0, recorded.Fallbacks) // single attempt, no transitions

	env.AssertExpectations(t)
}
