package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/pankaj-dahiya-devops/iacvet/internal/config"
	kube "github.com/pankaj-dahiya-devops/iacvet/internal/providers/kubernetes"
)

// ── Kubernetes error mock ─────────────────────────────────────────────────────

type failKubeProvider struct{}

func (p *failKubeProvider) ClientsetForContext(_ string) (k8sclient.Interface, kube.ClusterInfo, error) {
	return nil, kube.ClusterInfo{}, errors.New("kubeconfig not found")
}

// ── helpers ───────────────────────────────────────────────────────────────────

func goodMockKube() *testKubeProvider {
	return &testKubeProvider{
		clientset: fake.NewSimpleClientset(),
		info:      kube.ClusterInfo{ContextName: "prod-eks"},
	}
}

// onlyTools returns a lookPath that finds the named tools under /usr/bin.
func onlyTools(names ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, n := range names {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("executable file not found in $PATH")
	}
}

// runDoctorIn runs runDoctor against the project at root with its config
// loaded the way the command loads it.
func runDoctorIn(t *testing.T, root string, kubeP kube.KubeClientProvider, format string) (string, DoctorResult, error) {
	t.Helper()
	cfg, cfgErr := config.Load(config.New(), root, "")
	deps := doctorDeps{kube: kubeP, lookPath: onlyTools("kubectl", "helm")}

	var buf bytes.Buffer
	result, err := runDoctor(context.Background(), deps, root, cfg, cfgErr, &buf, format)
	return buf.String(), result, err
}

// ── table format tests ────────────────────────────────────────────────────────

func TestDoctorAllOK(t *testing.T) {
	out, result, err := runDoctorIn(t, t.TempDir(), goodMockKube(), "table")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if !result.OverallHealthy {
		t.Error("expected OverallHealthy=true")
	}
	for _, want := range []string{
		"Config file: Not found (optional)",
		"Kubeconfig: OK",
		"Current Context: OK (prod-eks)",
		"API Reachable: OK",
		"kubectl: OK (/usr/bin/kubectl)",
		"skaffold: Not found",
		"Policy file: Not found (optional)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q;\ngot:\n%s", want, out)
		}
	}
}

func TestDoctorKubernetesFailIsInformational(t *testing.T) {
	out, result, err := runDoctorIn(t, t.TempDir(), &failKubeProvider{}, "table")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if !result.OverallHealthy {
		t.Error("expected OverallHealthy=true when live checks are off")
	}
	if !strings.Contains(out, "Kubeconfig: FAIL (kubeconfig not found)") {
		t.Errorf("expected 'Kubeconfig: FAIL'; got:\n%s", out)
	}
}

func TestDoctorKubernetesFailWithLive(t *testing.T) {
	root := writeProject(t, map[string]string{config.FileName: "kube:\n  live: true\n"})
	out, result, err := runDoctorIn(t, root, &failKubeProvider{}, "table")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if result.OverallHealthy {
		t.Error("expected OverallHealthy=false when kube.live is set and the cluster is unreachable")
	}
	if !strings.Contains(out, "Kubernetes (live checks enabled):") {
		t.Errorf("expected live heading; got:\n%s", out)
	}
}

func TestDoctorContextForwarded(t *testing.T) {
	root := writeProject(t, map[string]string{config.FileName: "kube:\n  context: staging\n"})
	kubeP := goodMockKube()
	if _, _, err := runDoctorIn(t, root, kubeP, "table"); err != nil {
		t.Fatal(err)
	}
	if kubeP.calledWithCtx != "staging" {
		t.Errorf("ClientsetForContext called with %q; want staging", kubeP.calledWithCtx)
	}
}

func TestDoctorInvalidConfig(t *testing.T) {
	root := writeProject(t, map[string]string{config.FileName: "output:\n  format: xml\n"})
	out, result, err := runDoctorIn(t, root, goodMockKube(), "table")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if result.OverallHealthy {
		t.Error("expected OverallHealthy=false for an invalid config")
	}
	if !strings.Contains(out, "Config file: FAIL") || !strings.Contains(out, `unknown format "xml"`) {
		t.Errorf("expected config failure; got:\n%s", out)
	}
}

func TestDoctorPolicyValid(t *testing.T) {
	root := writeProject(t, map[string]string{defaultPolicyFile: "version: 1\n"})
	out, result, err := runDoctorIn(t, root, goodMockKube(), "table")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if !result.Policy.Present || !result.Policy.Valid {
		t.Errorf("expected policy present and valid; got %+v", result.Policy)
	}
	if !result.OverallHealthy {
		t.Error("expected OverallHealthy=true")
	}
	if !strings.Contains(out, "Policy file: OK") {
		t.Errorf("expected 'Policy file: OK'; got:\n%s", out)
	}
}

func TestDoctorPolicyInvalid(t *testing.T) {
	root := writeProject(t, map[string]string{defaultPolicyFile: `version: 1
layers:
  costs: {enabled: true}
enforcement:
  structural:
    fail_on_severity: critical
`})
	out, result, err := runDoctorIn(t, root, goodMockKube(), "table")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if result.OverallHealthy {
		t.Error("expected OverallHealthy=false for an invalid policy")
	}
	if len(result.Policy.Errors) != 2 {
		t.Errorf("expected 2 policy errors; got %v", result.Policy.Errors)
	}
	if !strings.Contains(out, "Policy valid: FAIL") {
		t.Errorf("expected 'Policy valid: FAIL'; got:\n%s", out)
	}
}

func TestDoctorConfiguredPolicyMissing(t *testing.T) {
	root := writeProject(t, map[string]string{config.FileName: "policy: policies/absent.yaml\n"})
	_, result, err := runDoctorIn(t, root, goodMockKube(), "table")
	if err != nil {
		t.Fatal(err)
	}
	if result.OverallHealthy {
		t.Error("expected OverallHealthy=false when the configured policy does not exist")
	}
	if result.Policy.Path != filepath.Join(root, "policies/absent.yaml") {
		t.Errorf("Policy.Path = %q", result.Policy.Path)
	}
}

// ── JSON format tests ─────────────────────────────────────────────────────────

func TestDoctorJSONOutput(t *testing.T) {
	out, _, err := runDoctorIn(t, t.TempDir(), &failKubeProvider{}, "json")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	var got DoctorResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if got.Kubernetes.KubeconfigOK {
		t.Error("kubeconfig_ok = true; want false")
	}
	if got.Kubernetes.Error != "kubeconfig not found" {
		t.Errorf("kubernetes.error = %q", got.Kubernetes.Error)
	}
	if len(got.Tools) != 6 {
		t.Errorf("expected 6 tool checks; got %d", len(got.Tools))
	}
	if !got.OverallHealthy {
		t.Error("overall_healthy = false; want true")
	}
}

func TestDoctorUnknownFormat(t *testing.T) {
	_, _, err := runDoctorIn(t, t.TempDir(), goodMockKube(), "yaml")
	if err == nil {
		t.Error("expected an error for an unknown format")
	}
}

// ── cobra wiring ──────────────────────────────────────────────────────────────

// TestDoctorCmd_UnhealthyExitError verifies that an unhealthy result reaches
// main as an *exitError with code 1 and that cobra prints no usage text.
func TestDoctorCmd_UnhealthyExitError(t *testing.T) {
	root := writeProject(t, map[string]string{config.FileName: "output:\n  format: xml\n"})

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"doctor", root, "--kubeconfig", filepath.Join(root, "missing-kubeconfig")})

	err := cmd.Execute()
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Fatalf("expected *exitError with code 1; got %v", err)
	}
	if strings.Contains(errOut.String(), "Usage:") {
		t.Errorf("usage text leaked to stderr:\n%s", errOut.String())
	}
	if !strings.Contains(out.String(), "Environment Diagnostics") {
		t.Errorf("expected diagnostics on stdout; got:\n%s", out.String())
	}
}

func TestDoctorCmd_ReadsProjectFromArg(t *testing.T) {
	root := writeProject(t, map[string]string{defaultPolicyFile: "version: 2\n"})
	if err := os.WriteFile(filepath.Join(root, config.FileName), []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"doctor", root, "--format", "json", "--kubeconfig", filepath.Join(root, "missing-kubeconfig")})

	_ = cmd.Execute()
	var got DoctorResult
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out.String())
	}
	if !got.Config.Valid || !strings.HasSuffix(got.Config.File, config.FileName) {
		t.Errorf("config = %+v; want the project config file", got.Config)
	}
	if !got.Policy.Present || got.Policy.Valid {
		t.Errorf("policy = %+v; want present and invalid (version 2)", got.Policy)
	}
}
