package rules_test

import (
	"strings"
	"testing"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rules"
)

// ── SEAM_CI_K8S ──────────────────────────────────────────────────────────────

func TestSeamCIK8s_NoDeployJob(t *testing.T) {
	inv := k8sInventory(t, "k8s/app.yaml", goodDeployment)
	inv.CI.Workflows = []models.Workflow{{
		File: ".github/workflows/ci.yml",
		Jobs: []models.Job{{ID: "test", Steps: []models.Step{{Run: "make test"}}}},
	}}
	issues := rules.SeamCIK8sRule{}.Evaluate(ctxFor(inv))

	is := expectOne(t, issues, "CI↔K8s: K8s configuration is present but no CI job deploys it")
	if is.File != rules.FileCrossDomain || is.Severity != models.SeverityInfo {
		t.Errorf("unexpected attribution %+v", is)
	}
}

func TestSeamCIK8s_DeployJobs(t *testing.T) {
	inv := k8sInventory(t, "charts/api/templates/deployment.yaml", goodDeployment)
	inv.K8s.HelmCharts = []models.HelmChart{{Path: "charts/api", Name: "api", HasTemplates: true}}
	inv.Docker.Dockerfiles = []models.Dockerfile{{Path: "Dockerfile"}}
	inv.CI.Workflows = []models.Workflow{{
		File: ".github/workflows/deploy.yml",
		Jobs: []models.Job{
			{ID: "build", Steps: []models.Step{{Run: "docker build -t api . && docker push api"}}},
			{ID: "deploy", Needs: []string{"build"}, Steps: []models.Step{
				{Uses: "aws-actions/configure-aws-credentials@v4"},
				{Run: "helm upgrade --install api charts/api"},
			}},
			{ID: "hotfix", Steps: []models.Step{
				{Run: "kubectl apply -f k8s/"},
			}},
		},
	}}
	issues := rules.SeamCIK8sRule{}.Evaluate(ctxFor(inv))

	if len(issues) != 3 {
		t.Fatalf("expected 3 issues; got %v", issues)
	}
	expectOne(t, issues, "CI job hotfix deploys with no preceding image build step")
	expectOne(t, issues, "CI job hotfix deploys with kubectl but the project is managed by Helm")
	expectOne(t, issues, "CI job hotfix deploys with no cluster-credential setup step")
	expectNone(t, issues, "CI job deploy")
}

// ── SEAM_CI_ENV ──────────────────────────────────────────────────────────────

func TestSeamCIEnv(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.DeclaredEnvironments = []models.Environment{{Name: "staging"}, {Name: "production"}}
	inv.CI.Workflows = []models.Workflow{{
		File: ".github/workflows/deploy.yml",
		Jobs: []models.Job{
			{ID: "deploy-staging", Steps: []models.Step{{Run: "kubectl apply -k overlays/staging"}}},
			{ID: "deploy-production", Steps: []models.Step{{
				Run: "kubectl apply -k overlays/production",
				Env: map[string]string{"KUBECONFIG_DATA": "${{ secrets.KUBECONFIG }}"},
			}}},
			{ID: "release", Environment: "production", Env: map[string]string{"TOKEN": "${{ secrets.TOKEN }}"},
				Steps: []models.Step{{Run: "helm upgrade --install api charts/api"}}},
			{ID: "lint", Steps: []models.Step{{Run: "make lint"}}},
		},
	}}
	issues := rules.SeamCIEnvRule{}.Evaluate(ctxFor(inv))

	if len(issues) != 2 {
		t.Fatalf("expected 2 issues; got %v", issues)
	}
	expectOne(t, issues, `CI↔Environments: CI job deploy-staging deploys to environment "staging" without referencing any secrets`)
	gate := expectOne(t, issues, `CI job deploy-production deploys to "production" with no approval gate (protected environment)`)
	if gate.Severity != models.SeverityInfo {
		t.Errorf("Severity = %s; want info", gate.Severity)
	}
}

func TestSeamCIEnv_PlainVariablesAreNotSecrets(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.DeclaredEnvironments = []models.Environment{{Name: "staging"}}
	inv.CI.Workflows = []models.Workflow{
		{
			File:     ".github/workflows/deploy.yml",
			Provider: "github-actions",
			Jobs: []models.Job{{
				ID:  "deploy-staging",
				Env: map[string]string{"IMAGE": "$IMAGE_TAG"},
				Steps: []models.Step{{
					Run:  "kubectl apply -k overlays/staging",
					With: map[string]string{"namespace": "$NAMESPACE"},
				}},
			}},
		},
		{
			File:     ".gitlab-ci.yml",
			Provider: "gitlab-ci",
			Jobs: []models.Job{
				{ID: "deploy-staging", Steps: []models.Step{{Run: "kubectl apply -k overlays/staging --server $DEPLOY_HOST"}}},
				{ID: "staging-release", Steps: []models.Step{{Run: "echo $CI_REGISTRY_PASSWORD | docker login -u x --password-stdin && kubectl apply -k overlays/staging"}}},
				{ID: "staging-token", Env: map[string]string{"KUBE": "${STAGING_KUBE_TOKEN}"},
					Steps: []models.Step{{Run: "kubectl apply -k overlays/staging"}}},
			},
		},
	}
	issues := rules.SeamCIEnvRule{}.Evaluate(ctxFor(inv))

	if len(issues) != 2 {
		t.Fatalf("expected 2 issues; got %v", issues)
	}
	for _, is := range issues {
		if !strings.Contains(is.Message(), "CI job deploy-staging deploys to environment \"staging\" without referencing any secrets") {
			t.Errorf("unexpected issue %q", is.Message())
		}
	}
	if issues[0].File != ".github/workflows/deploy.yml" || issues[1].File != ".gitlab-ci.yml" {
		t.Errorf("files = %q, %q", issues[0].File, issues[1].File)
	}
}

// ── SEAM_CROSS_CUTTING ───────────────────────────────────────────────────────

func TestSeamCrossCutting_ProjectShape(t *testing.T) {
	inv := connected(k8sInventory(t, "k8s/app.yaml", goodDeployment), "eks")
	inv.Docker.Dockerfiles = []models.Dockerfile{{Path: "Dockerfile"}}
	issues := rules.SeamCrossCuttingRule{}.Evaluate(ctxFor(inv))

	expectOne(t, issues, "Cross-cutting: project has Docker and K8s configuration but no CI pipeline")
	cluster := expectOne(t, issues, "cluster is a managed eks cluster but no Terraform configuration provisions it")
	if cluster.File != rules.FileCluster {
		t.Errorf("File = %q; want %q", cluster.File, rules.FileCluster)
	}
}

func TestSeamCrossCutting_PrivateRegistryPullSecrets(t *testing.T) {
	inv := k8sInventory(t, "k8s/app.yaml", goodDeployment+`---
apiVersion: apps/v1
kind: Deployment
metadata: {name: worker, namespace: shop}
spec:
  selector:
    matchLabels: {app: worker}
  template:
    metadata:
      labels: {app: worker}
    spec:
      serviceAccountName: worker
      containers:
        - {name: worker, image: registry.example.com/worker:1.0.0}
---
apiVersion: v1
kind: ServiceAccount
metadata: {name: worker, namespace: shop}
imagePullSecrets: [{name: regcred}]
---
apiVersion: apps/v1
kind: Deployment
metadata: {name: public, namespace: shop}
spec:
  selector:
    matchLabels: {app: public}
  template:
    metadata:
      labels: {app: public}
    spec:
      containers:
        - {name: nginx, image: docker.io/library/nginx:1.27}
`)
	inv.CI.Providers = []string{"github-actions"}
	issues := rules.SeamCrossCuttingRule{}.Evaluate(ctxFor(inv))

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue; got %v", issues)
	}
	is := expectOne(t, issues, "Deployment/api pulls from private registry registry.example.com with no imagePullSecrets")
	if is.Severity != models.SeverityWarning || is.File != "k8s/app.yaml" {
		t.Errorf("unexpected attribution %+v", is)
	}
}

func TestSeamCrossCutting_DotenvSecrets(t *testing.T) {
	inv := k8sInventory(t, "k8s/app.yaml", `apiVersion: v1
kind: Secret
metadata: {name: api}
stringData:
  DB_PASSWORD: hunter2
`)
	inv.Project.EnvFiles = []models.EnvFile{
		{Path: ".env", Content: "DB_PASSWORD=x\nSTRIPE_API_KEY=sk_test\nLOG_LEVEL=debug\n"},
		{Path: ".env.example", Content: "JWT_SECRET=changeme\n"},
		{Path: "config/app.env", Content: "SESSION_TOKEN=abc\n"},
	}
	inv.K8s.Kustomize = models.KustomizeConfig{Exists: true, Path: "k8s", Kustomizations: []models.Kustomization{{
		Path:             "k8s/kustomization.yaml",
		SecretGenerators: []models.SecretGenerator{{Name: "app", EnvFiles: []string{"../config/app.env"}}},
	}}}
	issues := rules.SeamCrossCuttingRule{}.Evaluate(ctxFor(inv))

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue; got %v", issues)
	}
	is := expectOne(t, issues, ".env defines secret-like keys STRIPE_API_KEY with no corresponding K8s Secret")
	if is.File != ".env" || is.Severity != models.SeverityInfo {
		t.Errorf("unexpected attribution %+v", is)
	}
}
