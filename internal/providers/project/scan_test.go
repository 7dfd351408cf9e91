package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func noTools(string) (string, error) { return "", errors.New("not found") }

func scanTree(t *testing.T, files map[string]string) *models.Inventory {
	t.Helper()
	inv, err := Scan(context.Background(), writeTree(t, files), Options{LookPath: noTools})
	require.NoError(t, err)
	return inv
}

const deploymentYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
  namespace: shop
spec:
  replicas: 2
  selector:
    matchLabels:
      app: api
  template:
    metadata:
      labels:
        app: api
    spec:
      containers:
        - name: api
          image: registry.example.com/api:1.2.3
          ports:
            - containerPort: 8080
---
apiVersion: v1
kind: Service
metadata:
  name: api
  namespace: shop
spec:
  selector:
    app: api
  ports:
    - port: 80
      targetPort: 8080
`

func TestScan_RawManifests(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"k8s/app.yaml":   deploymentYAML,
		"k8s/notes.yaml": "title: not a manifest\n",
		".iacvet.yaml":   "environments:\n  - name: prod\n",
	})

	require.Len(t, inv.K8s.Resources, 2)
	dep := inv.K8s.Resources[0]
	assert.Equal(t, models.DomainK8s, dep.Domain)
	assert.Equal(t, "Deployment", dep.Kind)
	assert.Equal(t, "api", dep.Name)
	assert.Equal(t, "shop", dep.Namespace)
	assert.Equal(t, "k8s/app.yaml", dep.SourceFile)
	assert.Equal(t, "apps/v1", dep.Attributes["apiVersion"])

	require.Len(t, inv.K8s.ManifestFiles, 1)
	assert.Equal(t, "k8s/app.yaml", inv.K8s.ManifestFiles[0].Path)
	assert.Equal(t, []models.ManifestSummary{
		{Kind: "Deployment", Name: "api", Namespace: "shop", APIVersion: "apps/v1"},
		{Kind: "Service", Name: "api", Namespace: "shop", APIVersion: "v1"},
	}, inv.K8s.ManifestFiles[0].Resources)

	assert.Contains(t, inv.Project.Files, "k8s/notes.yaml")
	assert.Contains(t, inv.Project.Dirs, "k8s")
	assert.Empty(t, inv.K8s.DeploymentStrategy)
	assert.False(t, inv.K8s.ToolAvailability["kubectl"].Available)
}

func TestScan_ListKindIsExpanded(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"list.yaml": `apiVersion: v1
kind: List
items:
  - apiVersion: v1
    kind: ConfigMap
    metadata: {name: a}
  - apiVersion: v1
    kind: ConfigMap
    metadata: {name: b}
`,
	})
	require.Len(t, inv.K8s.Resources, 2)
	assert.Equal(t, "a", inv.K8s.Resources[0].Name)
	assert.Equal(t, "b", inv.K8s.Resources[1].Name)
}

func TestScan_BrokenManifestIsSkipped(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"bad.yaml":  "kind: [unclosed\n",
		"good.yaml": "apiVersion: v1\nkind: Namespace\nmetadata:\n  name: shop\n",
	})
	require.Len(t, inv.K8s.Resources, 1)
	assert.Equal(t, "Namespace", inv.K8s.Resources[0].Kind)
}

func TestScan_GitignoreAndDefaultIgnores(t *testing.T) {
	inv := scanTree(t, map[string]string{
		".gitignore":                  "build/\n",
		"build/out.yaml":              "apiVersion: v1\nkind: ConfigMap\nmetadata: {name: gen}\n",
		"node_modules/x/chart.yaml":   "apiVersion: v1\nkind: ConfigMap\nmetadata: {name: dep}\n",
		".terraform/modules/main.tf":  `resource "aws_s3_bucket" "x" {}`,
		"deploy/configmap.yaml":       "apiVersion: v1\nkind: ConfigMap\nmetadata: {name: kept}\n",
	})
	require.Len(t, inv.K8s.Resources, 1)
	assert.Equal(t, "kept", inv.K8s.Resources[0].Name)
	assert.False(t, inv.Terraform.HasTerraform())
	assert.NotContains(t, inv.Project.Files, "build/out.yaml")
}

func TestScan_HelmChart(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"charts/web/Chart.yaml": `apiVersion: v2
name: web
version: 0.1.0
appVersion: "1.0"
dependencies:
  - name: redis
    version: 17.0.0
    repository: https://charts.bitnami.com/bitnami
`,
		"charts/web/values.yaml":              "replicaCount: 1\n",
		"charts/web/values-prod.yaml":         "replicaCount: 3\n",
		"charts/web/templates/deployment.yaml": "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: web\n  labels:\n{{ include \"web.labels\" . | indent 4 }}\n",
		"charts/web/templates/cm.yaml":        "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: web-config\n",
		"charts/web/templates/_helpers.tpl":   "{{/* helpers */}}\n",
		"charts/web/.helmignore":              "*.md\n",
		"charts/web/README.md":                "# web\n",
	})

	require.Len(t, inv.K8s.HelmCharts, 1)
	c := inv.K8s.HelmCharts[0]
	assert.Equal(t, "charts/web", c.Path)
	assert.Equal(t, "web", c.Name)
	assert.Equal(t, "0.1.0", c.Version)
	assert.Equal(t, "v2", c.APIVersion)
	assert.True(t, c.HasValues)
	assert.True(t, c.HasTemplates)
	assert.True(t, c.HasHelpers)
	assert.True(t, c.HasHelmignore)
	assert.False(t, c.HasLockfile)
	assert.False(t, c.HasNotes)
	assert.Equal(t, []string{"charts/web/values-prod.yaml"}, c.EnvValuesFiles)
	assert.ElementsMatch(t, []string{"_helpers.tpl", "cm.yaml", "deployment.yaml"}, c.TemplateFiles)
	require.Len(t, c.Dependencies, 1)
	assert.Equal(t, "redis", c.Dependencies[0].Name)
	// README.md is excluded by .helmignore.
	assert.Equal(t, 7, c.FileCount)

	// Only the template that decodes cleanly becomes a resource; values
	// files never do.
	require.Len(t, inv.K8s.Resources, 1)
	assert.Equal(t, "web-config", inv.K8s.Resources[0].Name)
}

func TestScan_Kustomize(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"k8s/base/kustomization.yaml": `resources:
  - deployment.yaml
commonLabels:
  app: api
`,
		"k8s/base/deployment.yaml": "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: api\n",
		"k8s/overlays/prod/kustomization.yaml": `resources:
  - ../../base
namespace: prod
patchesStrategicMerge:
  - replicas.yaml
patches:
  - path: cpu.yaml
    target:
      kind: Deployment
      name: api
secretGenerator:
  - name: creds
    literals:
      - password=hunter2
`,
		"k8s/overlays/prod/replicas.yaml": "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: api\nspec:\n  replicas: 3\n",
		"k8s/overlays/prod/cpu.yaml":      "- op: replace\n  path: /spec/replicas\n  value: 2\n",
		"k8s/overlays/dev/kustomization.yaml": "resources:\n  - ../../base\n",
	})

	kc := inv.K8s.Kustomize
	assert.True(t, kc.Exists)
	assert.Equal(t, "k8s/base", kc.Path)
	assert.Equal(t, []string{"dev", "prod"}, kc.Overlays)
	require.Len(t, kc.Kustomizations, 3)

	var prod models.Kustomization
	for _, k := range kc.Kustomizations {
		if k.Path == "k8s/overlays/prod/kustomization.yaml" {
			prod = k
		}
	}
	assert.Equal(t, "prod", prod.Namespace)
	require.Len(t, prod.Patches, 2)
	assert.Equal(t, models.PatchTarget{Kind: "Deployment", Name: "api"}, prod.Patches[0].Target)
	assert.Equal(t, "replicas.yaml", prod.Patches[1].Path)
	assert.Equal(t, models.PatchTarget{Kind: "Deployment", Name: "api"}, prod.Patches[1].Target)
	require.Len(t, prod.SecretGenerators, 1)
	assert.Equal(t, []string{"password=hunter2"}, prod.SecretGenerators[0].Literals)

	// Patch files are owned by kustomize; only the base Deployment is a resource.
	require.Len(t, inv.K8s.Resources, 1)
	assert.Equal(t, "k8s/base/deployment.yaml", inv.K8s.Resources[0].SourceFile)
}

func TestScan_Skaffold(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"skaffold.yaml": `apiVersion: skaffold/v4beta6
kind: Config
build:
  artifacts:
    - image: api
      context: .
      docker:
        dockerfile: Dockerfile
  tagPolicy:
    sha256: {}
manifests:
  rawYaml:
    - k8s/*.yaml
deploy:
  kubectl: {}
  statusCheck: true
profiles:
  - name: prod
`,
	})
	sk := inv.K8s.Skaffold
	require.NotNil(t, sk)
	assert.Equal(t, "skaffold/v4beta6", sk.APIVersion)
	assert.True(t, sk.HasBuild)
	assert.Equal(t, "sha256", sk.TagPolicy)
	assert.Equal(t, []string{"kubectl"}, sk.Deployers)
	assert.Equal(t, []string{"k8s/*.yaml"}, sk.RawYaml)
	assert.Equal(t, []string{"prod"}, sk.Profiles)
	assert.False(t, sk.ProfilesOnly)
	require.Len(t, sk.Artifacts, 1)
	assert.Equal(t, "Dockerfile", sk.Artifacts[0].Dockerfile)
	assert.Empty(t, inv.K8s.Resources)
}

func TestScan_Docker(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"Dockerfile": `# syntax=docker/dockerfile:1
FROM --platform=$BUILDPLATFORM golang:1.22 AS build
RUN go build \
    -o /app .
FROM alpine
COPY --from=build /app /app
EXPOSE 8080/tcp 9090
`,
		"docker-compose.yml": `services:
  web:
    build:
      context: .
      target: build
    ports:
      - "8080:8080"
      - target: 9090
        published: 19090
    environment:
      - LOG_LEVEL=debug
    depends_on:
      db:
        condition: service_healthy
  db:
    image: postgres:16
    env_file: .env.db
    volumes:
      - pgdata:/var/lib/postgresql/data
    healthcheck:
      test: ["CMD", "pg_isready"]
volumes:
  pgdata: {}
`,
	})

	require.Len(t, inv.Docker.Dockerfiles, 1)
	df := inv.Docker.Dockerfiles[0]
	assert.Equal(t, []string{"golang:1.22", "alpine"}, df.BaseImages)
	assert.Equal(t, []string{"build"}, df.Stages)
	assert.Equal(t, []int{8080, 9090}, df.Ports)
	assert.Equal(t, []string{"base image alpine has no tag"}, df.Warnings)

	assert.Equal(t, "docker-compose.yml", inv.Docker.ComposeFile)
	assert.Equal(t, []string{"pgdata"}, inv.Docker.ComposeVolumes)
	require.Len(t, inv.Docker.ComposeServices, 2)
	db, web := inv.Docker.ComposeServices[0], inv.Docker.ComposeServices[1]
	assert.Equal(t, "db", db.Name)
	assert.Equal(t, []string{".env.db"}, db.EnvFile)
	require.NotNil(t, db.Healthcheck)
	assert.Equal(t, []string{"CMD", "pg_isready"}, db.Healthcheck.Test)
	assert.Equal(t, []string{"8080:8080", "19090:9090"}, web.Ports)
	assert.Equal(t, map[string]string{"LOG_LEVEL": "debug"}, web.Environment)
	assert.Equal(t, []string{"db"}, web.DependsOn)
	require.NotNil(t, web.Build)
	assert.Equal(t, "build", web.Build.Target)
	assert.Empty(t, inv.K8s.Resources)
}

func TestScan_GitHubActions(t *testing.T) {
	inv := scanTree(t, map[string]string{
		".github/workflows/deploy.yml": `name: deploy
on:
  push:
    branches: [main]
  pull_request: {}
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: docker/build-push-action@v5
        with:
          push: true
          tags: registry.example.com/api:${{ github.sha }}
  deploy:
    needs: build
    runs-on: ubuntu-latest
    environment:
      name: production
    env:
      KUBECONFIG: /tmp/kube
    steps:
      - run: kubectl apply -f k8s/
`,
	})

	require.Len(t, inv.CI.Workflows, 1)
	wf := inv.CI.Workflows[0]
	assert.Equal(t, []string{"github-actions"}, inv.CI.Providers)
	assert.Equal(t, "deploy", wf.Name)
	assert.Equal(t, []string{"pull_request", "push"}, wf.Triggers)
	require.Len(t, wf.Jobs, 2)
	assert.Equal(t, "build", wf.Jobs[0].ID)
	assert.Equal(t, "ubuntu-latest", wf.Jobs[0].RunsOn)
	assert.Equal(t, "true", wf.Jobs[0].Steps[1].With["push"])
	assert.Equal(t, "deploy", wf.Jobs[1].ID)
	assert.Equal(t, []string{"build"}, wf.Jobs[1].Needs)
	assert.Equal(t, "production", wf.Jobs[1].Environment)
	assert.Equal(t, "/tmp/kube", wf.Jobs[1].Env["KUBECONFIG"])
	assert.Equal(t, "kubectl apply -f k8s/", wf.Jobs[1].Steps[0].Run)
	assert.Empty(t, inv.K8s.Resources)
}

func TestScan_GitLabCI(t *testing.T) {
	inv := scanTree(t, map[string]string{
		".gitlab-ci.yml": `stages: [build, deploy]
variables:
  DOCKER_DRIVER: overlay2
.template:
  image: alpine
build:
  stage: build
  image: docker:24
  script:
    - docker build -t $CI_REGISTRY_IMAGE .
  rules:
    - if: $CI_PIPELINE_SOURCE == "merge_request_event"
deploy:
  stage: deploy
  environment: production
  needs: [build]
  script:
    - helm upgrade --install api charts/api
`,
	})

	require.Len(t, inv.CI.Workflows, 1)
	wf := inv.CI.Workflows[0]
	assert.Equal(t, "gitlab-ci", wf.Provider)
	assert.Equal(t, []string{"merge_request_event", "push"}, wf.Triggers)
	require.Len(t, wf.Jobs, 2)
	assert.Equal(t, "build", wf.Jobs[0].ID)
	assert.Equal(t, "docker:24", wf.Jobs[0].RunsOn)
	assert.Equal(t, "docker build -t $CI_REGISTRY_IMAGE .", wf.Jobs[0].Steps[0].Run)
	assert.Equal(t, "production", wf.Jobs[1].Environment)
	assert.Equal(t, []string{"build"}, wf.Jobs[1].Needs)
}

func TestScan_Terraform(t *testing.T) {
	inv := scanTree(t, map[string]string{
		"infra/main.tf": `terraform {
  required_providers {
    aws = {
      source  = "hashicorp/aws"
      version = "~> 5.0"
    }
  }
  backend "s3" {
    bucket = "state"
  }
}

provider "kubernetes" {}

variable "name" {}

resource "aws_ecr_repository" "api" {
  name                 = "api"
  image_tag_mutability = "IMMUTABLE"
  image_scanning_configuration {
    scan_on_push = true
  }
}

resource "aws_db_instance" "main" {
  identifier        = var.name
  allocated_storage = 20
}
`,
		"infra/prod.tfvars": `name = "prod"`,
		"infra/broken.tf":   `resource "aws_s3_bucket" {`,
	})

	tf := inv.Terraform
	assert.True(t, tf.HasTerraform())
	assert.Equal(t, "infra", tf.Root)
	assert.Equal(t, "s3", tf.Backend)
	assert.Equal(t, []string{"aws", "kubernetes"}, tf.Providers)
	assert.ElementsMatch(t, []string{"infra/main.tf", "infra/prod.tfvars", "infra/broken.tf"}, tf.Files)

	require.Len(t, tf.Resources, 2)
	ecr := tf.Resources[0]
	assert.Equal(t, models.DomainTerraform, ecr.Domain)
	assert.Equal(t, "aws_ecr_repository", ecr.Kind)
	assert.Equal(t, "api", ecr.Name)
	assert.Equal(t, "infra/main.tf", ecr.SourceFile)
	assert.Equal(t, "IMMUTABLE", ecr.Attributes["image_tag_mutability"])
	scan, ok := ecr.Attributes["image_scanning_configuration"].([]any)
	require.True(t, ok)
	assert.Equal(t, true, scan[0].(map[string]any)["scan_on_push"])

	db := tf.Resources[1]
	assert.Equal(t, "var.name", db.Attributes["identifier"])
	assert.Equal(t, int64(20), db.Attributes["allocated_storage"])
}

func TestScan_EnvFilesAndTools(t *testing.T) {
	root := writeTree(t, map[string]string{
		".env":         "API_KEY=abc\n",
		".env.example": "API_KEY=\n",
		"README.md":    "# app\n",
	})
	lookPath := func(tool string) (string, error) {
		if tool == "kubectl" {
			return "/usr/bin/kubectl", nil
		}
		return "", errors.New("not found")
	}
	inv, err := Scan(context.Background(), root, Options{
		LookPath:     lookPath,
		Environments: []models.Environment{{Name: "prod", Source: "config"}},
	})
	require.NoError(t, err)

	require.Len(t, inv.Project.EnvFiles, 2)
	assert.Equal(t, ".env", inv.Project.EnvFiles[0].Path)
	assert.Equal(t, "API_KEY=abc\n", inv.Project.EnvFiles[0].Content)
	assert.True(t, inv.K8s.ToolAvailability["kubectl"].Available)
	assert.False(t, inv.K8s.ToolAvailability["helm"].Available)
	assert.Equal(t, "prod", inv.K8s.DeclaredEnvironments[0].Name)
}

func TestScan_CancelledContext(t *testing.T) {
	root := writeTree(t, map[string]string{"a.yaml": "apiVersion: v1\nkind: Namespace\nmetadata: {name: a}\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Scan(ctx, root, Options{LookPath: noTools})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "absent"), Options{LookPath: noTools})
	require.Error(t, err)
}
