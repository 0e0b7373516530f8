package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dyluth/retag/internal/config"
	"github.com/dyluth/retag/internal/retag"
	"github.com/dyluth/retag/internal/tag"
	"github.com/dyluth/retag/internal/testutil"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "6501a1b2c3d4e5f601234567"

type cmdResult struct {
	err    error
	stdout string
	stderr string
}

func runCmd(t *testing.T, args ...string) cmdResult {
	t.Helper()
	color.NoColor = true

	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))

	err := cmd.Execute()
	return cmdResult{err: err, stdout: stdout.String(), stderr: stderr.String()}
}

func setupFake(t *testing.T) *testutil.FakeEndor {
	t.Helper()
	fake := testutil.NewFakeEndor(t)
	fake.AddProject(testProject, "acme.prod")

	t.Setenv(config.EnvAPIKey, testutil.FakeAPIKey)
	t.Setenv(config.EnvAPISecret, testutil.FakeAPISecret)
	t.Setenv(config.EnvNamespace, testutil.FakeTenant)
	t.Setenv(config.EnvAPIURL, fake.URL())
	t.Setenv(config.EnvRequestsPerSecond, "1000")
	t.Setenv(config.EnvRequestBurst, "100")
	t.Setenv(config.EnvHTTPTimeout, "5s")
	t.Setenv(config.EnvOTLPEndpoint, "")

	return fake
}

func TestRetag_Success(t *testing.T) {
	fake := setupFake(t)
	fake.AddFinding(testutil.FakeFinding{UUID: "1", ProjectUUID: testProject, Tags: []string{"dev-repo", "x"}})
	fake.AddFinding(testutil.FakeFinding{UUID: "2", ProjectUUID: testProject, Tags: []string{"dev-repo"}})

	res := runCmd(t, "--old-tag", "dev-repo", "--new-tag", "prod-repo", "--project-uuid", testProject)
	require.NoError(t, res.err)
	assert.Equal(t, ExitOK, ExitCode(res.err))

	assert.Equal(t, []string{"x", "prod-repo"}, fake.Tags("1"))
	assert.Equal(t, []string{"prod-repo"}, fake.Tags("2"))

	assert.Contains(t, res.stdout, "Processing findings in project UUID: "+testProject)
	assert.Contains(t, res.stdout, "Using main context")
	assert.Contains(t, res.stdout, "Found 2 findings with tag 'dev-repo'")
	assert.Contains(t, res.stdout, "✅ Successfully updated finding 1")
	assert.Contains(t, res.stdout, "✅ Successfully updated finding 2")
	assert.Contains(t, res.stdout, "✅ Updated 2 out of 2 findings (0 failed)")

	// Findings are printed as they complete, before the summary.
	first := strings.Index(res.stdout, "✅ Successfully updated finding 1")
	summary := strings.Index(res.stdout, "✅ Updated 2 out of 2")
	assert.Less(t, first, summary)
	assert.Equal(t, 1, strings.Count(res.stdout, "✅ Successfully updated finding 1"), "each finding is printed once")
	assert.Contains(t, res.stderr, "run complete")
}

func TestRetag_BranchContext(t *testing.T) {
	fake := setupFake(t)
	fake.AddFinding(testutil.FakeFinding{UUID: "main", ProjectUUID: testProject, Tags: []string{"dev-repo"}})
	fake.AddFinding(testutil.FakeFinding{UUID: "br", ProjectUUID: testProject, ContextType: "CONTEXT_TYPE_REF", ContextID: "feature-branch", Tags: []string{"dev-repo"}})

	res := runCmd(t, "--old-tag", "dev-repo", "--new-tag", "prod-repo", "--project-uuid", testProject, "--branch", "feature-branch")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "Using branch context: feature-branch")
	assert.Equal(t, []string{"prod-repo"}, fake.Tags("br"))
	assert.Equal(t, []string{"dev-repo"}, fake.Tags("main"))
}

func TestRetag_NoFindings(t *testing.T) {
	setupFake(t)

	res := runCmd(t, "--old-tag", "dev-repo", "--new-tag", "prod-repo", "--project-uuid", testProject)
	require.NoError(t, res.err)
	assert.Equal(t, ExitOK, ExitCode(res.err))
	assert.Contains(t, res.stdout, "No findings found with tag 'dev-repo'")
}

func TestRetag_PartialFailureExitsNonZero(t *testing.T) {
	fake := setupFake(t)
	fake.AddFinding(testutil.FakeFinding{UUID: "a", ProjectUUID: testProject, Tags: []string{"dev-repo"}})
	fake.AddFinding(testutil.FakeFinding{UUID: "b", ProjectUUID: testProject, Tags: []string{"dev-repo"}})
	fake.FailUpdate("a", http.StatusInternalServerError)

	res := runCmd(t, "--old-tag", "dev-repo", "--new-tag", "prod-repo", "--project-uuid", testProject)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, retag.ErrFindingsFailed)
	assert.Equal(t, ExitFailure, ExitCode(res.err))

	assert.Contains(t, res.stdout, "❌ Failed to update finding a")
	assert.Contains(t, res.stdout, "✅ Successfully updated finding b")
	assert.Contains(t, res.stdout, "❌ Updated 1 out of 2 findings (1 failed)")
	assert.Equal(t, []string{"prod-repo"}, fake.Tags("b"))
}

func TestRetag_InvalidTagFailsBeforeAnyCall(t *testing.T) {
	fake := setupFake(t)
	fake.AddFinding(testutil.FakeFinding{UUID: "1", ProjectUUID: testProject, Tags: []string{"dev-repo"}})

	res := runCmd(t, "--old-tag", "dev-repo", "--new-tag", "bad tag!", "--project-uuid", testProject)
	require.Error(t, res.err)

	var verr *tag.ValidationError
	require.True(t, errors.As(res.err, &verr))
	assert.Equal(t, tag.ReasonBadCharacter, verr.Reason)
	assert.Equal(t, ExitFailure, ExitCode(res.err))
	assert.Contains(t, res.stderr, "Tag validation error")

	assert.Empty(t, fake.RequestIDs(), "no request may reach the API")
}

func TestRetag_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		flag string
	}{
		{name: "missing old tag", args: []string{"--new-tag", "b", "--project-uuid", testProject}, flag: "old-tag"},
		{name: "missing new tag", args: []string{"--old-tag", "a", "--project-uuid", testProject}, flag: "new-tag"},
		{name: "missing project", args: []string{"--old-tag", "a", "--new-tag", "b"}, flag: "project-uuid"},
		{name: "empty project", args: []string{"--old-tag", "a", "--new-tag", "b", "--project-uuid", ""}, flag: "project-uuid"},
		{name: "bad output", args: []string{"--old-tag", "a", "--new-tag", "b", "--project-uuid", testProject, "-o", "xml"}, flag: "output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := setupFake(t)

			res := runCmd(t, tt.args...)
			require.Error(t, res.err)

			var usage *UsageError
			require.True(t, errors.As(res.err, &usage))
			assert.Equal(t, tt.flag, usage.Flag)
			assert.Equal(t, ExitUsage, ExitCode(res.err))
			assert.Empty(t, fake.RequestIDs())
		})
	}

	t.Run("unknown flag", func(t *testing.T) {
		setupFake(t)
		res := runCmd(t, "--old-tag", "a", "--new-tag", "b", "--project-uuid", testProject, "--bogus")
		require.Error(t, res.err)
		assert.Equal(t, ExitUsage, ExitCode(res.err))
	})

	t.Run("positional argument", func(t *testing.T) {
		fake := setupFake(t)
		res := runCmd(t, "--old-tag", "a", "--new-tag", "b", "--project-uuid", testProject, "extra")
		require.Error(t, res.err)

		var usage *UsageError
		require.True(t, errors.As(res.err, &usage))
		assert.Contains(t, usage.Msg, `unexpected argument "extra"`)
		assert.Equal(t, ExitUsage, ExitCode(res.err))
		assert.Empty(t, fake.RequestIDs())
	})
}

func TestRetag_MissingCredentials(t *testing.T) {
	fake := setupFake(t)
	t.Setenv(config.EnvAPISecret, "")

	res := runCmd(t, "--old-tag", "a", "--new-tag", "b", "--project-uuid", testProject)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, ExitCode(res.err))
	assert.Contains(t, res.stderr, "API_SECRET environment variable is required")
	assert.Empty(t, fake.RequestIDs())
}

func TestRetag_ListFailure(t *testing.T) {
	fake := setupFake(t)
	fake.FailList(http.StatusBadGateway)

	res := runCmd(t, "--old-tag", "dev-repo", "--new-tag", "prod-repo", "--project-uuid", testProject)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, ExitCode(res.err))
	assert.Contains(t, res.stderr, "Error updating findings")
	assert.Contains(t, res.stderr, "failed to fetch findings: 502")
	assert.Empty(t, fake.Updates())
}

func TestRetag_DryRunJSON(t *testing.T) {
	fake := setupFake(t)
	fake.AddFinding(testutil.FakeFinding{UUID: "1", ProjectUUID: testProject, Tags: []string{"dev-repo", "x"}})

	res := runCmd(t, "--old-tag", "dev-repo", "--new-tag", "prod-repo", "--project-uuid", testProject, "--dry-run", "-o", "json")
	require.NoError(t, res.err)
	assert.Empty(t, fake.Updates())
	assert.Equal(t, []string{"dev-repo", "x"}, fake.Tags("1"))

	var result retag.RunResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &result), "stdout must hold only the JSON report")
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, retag.StatusPlanned, result.Findings[0].Status)
	assert.Equal(t, []string{"x", "prod-repo"}, result.Findings[0].Tags)
}

func TestRetag_SecondRunFindsNothing(t *testing.T) {
	fake := setupFake(t)
	fake.AddFinding(testutil.FakeFinding{UUID: "1", ProjectUUID: testProject, Tags: []string{"dev-repo"}})

	args := []string{"--old-tag", "dev-repo", "--new-tag", "prod-repo", "--project-uuid", testProject}
	require.NoError(t, runCmd(t, args...).err)

	res := runCmd(t, args...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Found 0 findings with tag 'dev-repo'")
	assert.Len(t, fake.Updates(), 1)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUsage, ExitCode(&UsageError{Flag: "old-tag", Msg: "required flag not set"}))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitFailure, ExitCode(reported(retag.ErrFindingsFailed)))
}
