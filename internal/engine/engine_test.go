package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rules"
)

// k8sRef decodes one manifest document the way the project scanner does.
func k8sRef(t *testing.T, file, doc string) models.ResourceRef {
	t.Helper()
	var attrs map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(doc), &attrs))
	ref := models.ResourceRef{
		Domain:     models.DomainK8s,
		Kind:       attrs["kind"].(string),
		SourceFile: file,
		Attributes: attrs,
	}
	if meta, ok := attrs["metadata"].(map[string]any); ok {
		ref.Name, _ = meta["name"].(string)
		ref.Namespace, _ = meta["namespace"].(string)
	}
	return ref
}

func issuesMatching(r *models.ValidationReport, sev models.Severity, substrs ...string) []models.Issue {
	var out []models.Issue
	for _, is := range r.Issues {
		if is.Severity != sev {
			continue
		}
		match := true
		for _, s := range substrs {
			if !strings.Contains(is.Message(), s) {
				match = false
				break
			}
		}
		if match {
			out = append(out, is)
		}
	}
	return out
}

func validate(t *testing.T, inv *models.Inventory, opts ...Option) *models.ValidationReport {
	t.Helper()
	report, err := NewDefaultEngine(nil, opts...).Validate(inv)
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

const selectorMismatchDeployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
  namespace: default
spec:
  replicas: 1
  selector:
    matchLabels:
      app: api
  template:
    metadata:
      labels:
        app: backend
    spec:
      containers:
        - name: api
          image: registry.io/api:1.0.0
`

func apiDeployment(image string) string {
	return `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
  namespace: default
spec:
  replicas: 1
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
          image: ` + image + `
          ports:
            - containerPort: 8080
`
}

func TestValidate_ScenarioA_SelectorMismatch(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{k8sRef(t, "k8s/deployment.yaml", selectorMismatchDeployment)}

	report := validate(t, inv)

	errs := issuesMatching(report, models.SeverityError)
	require.Len(t, errs, 1, "issues: %v", report.Issues)
	assert.Contains(t, errs[0].Message(), "selector")
	assert.Equal(t, "k8s/deployment.yaml", errs[0].File)
	assert.False(t, report.OK)
}

func TestValidate_ScenarioB_ServiceRoutesToNothing(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{
		k8sRef(t, "k8s/app.yaml", apiDeployment("registry.io/api:1.0.0")),
		k8sRef(t, "k8s/app.yaml", `apiVersion: v1
kind: Service
metadata:
  name: web
  namespace: default
spec:
  selector:
    app: web
  ports:
    - port: 80
      targetPort: 8080
`),
	}

	report := validate(t, inv)

	got := issuesMatching(report, models.SeverityWarning, "routes to nothing")
	require.Len(t, got, 1, "issues: %v", report.Issues)
	assert.Contains(t, got[0].Message(), "Service/web")
}

func TestValidate_ScenarioC_ComposeImageMismatch(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{k8sRef(t, "k8s/app.yaml", apiDeployment("registry.io/other:v1"))}
	inv.Docker = models.DockerDomain{
		ComposeFile: "docker-compose.yml",
		ComposeServices: []models.ComposeService{{
			Name:  "app",
			Image: "myapp:latest",
			Build: &models.ComposeBuild{Context: "."},
		}},
	}

	report := validate(t, inv)

	got := issuesMatching(report, models.SeverityWarning, "does not match")
	var seam []models.Issue
	for _, is := range got {
		if is.Prefix == models.PrefixDockerK8s {
			seam = append(seam, is)
		}
	}
	require.Len(t, seam, 1, "issues: %v", report.Issues)
	assert.True(t, strings.HasPrefix(seam[0].Message(), "Docker↔K8s: "))
	assert.Contains(t, seam[0].Message(), "myapp:latest")
}

func TestValidate_ScenarioD_EnvsubstPlaceholders(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.DeploymentStrategy = "raw_kubectl"
	inv.K8s.Resources = []models.ResourceRef{k8sRef(t, "k8s/app.yaml", `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
  namespace: default
spec:
  replicas: 1
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
          image: myapp:${IMAGE_TAG}
          env:
            - name: DB_HOST
              value: "${DB_HOST}"
`)}

	report := validate(t, inv)

	got := issuesMatching(report, models.SeverityWarning, "DB_HOST", "IMAGE_TAG", "envsubst")
	require.Len(t, got, 1, "issues: %v", report.Issues)
	assert.Equal(t, "k8s/app.yaml", got[0].File)
}

func TestValidate_ScenarioE_EmptyInventory(t *testing.T) {
	report := validate(t, &models.Inventory{})

	assert.Equal(t, models.ValidationReport{OK: true, FilesChecked: 0, Issues: []models.Issue{}}, *report)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"filesChecked":0,"issues":[],"errors":0,"warnings":0}`, string(data))
}

func TestValidate_ScenarioF_ChartWithoutTemplates(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.HelmCharts = []models.HelmChart{{
		Path:       "charts/web",
		APIVersion: "v2",
		Name:       "web",
		Version:    "0.1.0",
		HasValues:  true,
	}}

	report := validate(t, inv)

	errs := issuesMatching(report, models.SeverityError)
	require.Len(t, errs, 1, "issues: %v", report.Issues)
	assert.Equal(t, "charts/web", errs[0].File)
	assert.Contains(t, errs[0].Message(), "web")
	assert.Equal(t, 1, report.FilesChecked)
}

func mixedInventory(t *testing.T) *models.Inventory {
	t.Helper()
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{
		k8sRef(t, "k8s/app.yaml", apiDeployment("registry.io/other:v1")),
		k8sRef(t, "k8s/app.yaml", selectorMismatchDeployment),
	}
	inv.Docker = models.DockerDomain{
		ComposeFile: "docker-compose.yml",
		ComposeServices: []models.ComposeService{{
			Name: "app", Image: "myapp:latest", Build: &models.ComposeBuild{Context: "."},
			Ports: []string{"9090:9090"},
		}},
		Dockerfiles: []models.Dockerfile{{Path: "Dockerfile", BaseImages: []string{"alpine"}}},
	}
	inv.CI.Workflows = []models.Workflow{{
		File:     ".github/workflows/ci.yml",
		Provider: "github-actions",
		Triggers: []string{"push"},
		Jobs: []models.Job{{ID: "deploy", Steps: []models.Step{
			{Run: "docker build -t myapp:latest ."},
			{Run: "kubectl apply -f k8s/"},
		}}},
	}}
	inv.Terraform = models.TerraformDomain{
		Files:     []string{"infra/main.tf"},
		Providers: []string{"aws"},
		Resources: []models.ResourceRef{{
			Domain: models.DomainTerraform, Kind: "aws_db_instance", Name: "main", SourceFile: "infra/main.tf",
		}},
	}
	inv.Project.EnvFiles = []models.EnvFile{{Path: ".env", Content: "API_TOKEN=abc\n"}}
	return inv
}

func TestValidate_Idempotent(t *testing.T) {
	inv := mixedInventory(t)
	e := NewDefaultEngine(nil)

	first, err := e.Validate(inv)
	require.NoError(t, err)
	second, err := e.Validate(inv)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first, second)
}

func TestValidate_CountConsistency(t *testing.T) {
	for name, inv := range map[string]*models.Inventory{
		"empty": {},
		"mixed": mixedInventory(t),
	} {
		t.Run(name, func(t *testing.T) {
			report := validate(t, inv)
			errs, warns := 0, 0
			for _, is := range report.Issues {
				switch is.Severity {
				case models.SeverityError:
					errs++
				case models.SeverityWarning:
					warns++
				}
				assert.True(t, is.Severity.Valid(), "invalid severity on %v", is)
				assert.NotEmpty(t, is.Rule, "issue without rule ID: %v", is)
			}
			assert.Equal(t, errs, report.Errors)
			assert.Equal(t, warns, report.Warnings)
			assert.Equal(t, errs == 0, report.OK)
		})
	}
}

func TestValidate_Monotonic(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{k8sRef(t, "k8s/a.yaml", selectorMismatchDeployment)}
	before := validate(t, inv)

	inv2 := &models.Inventory{}
	inv2.K8s.Resources = append(append([]models.ResourceRef{}, inv.K8s.Resources...),
		k8sRef(t, "k8s/b.yaml", `apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
  namespace: default
data:
  LOG_LEVEL: info
`))
	after := validate(t, inv2)

	for _, is := range before.Issues {
		assert.Contains(t, after.Issues, is)
	}
}

func TestValidate_LayerIsolation(t *testing.T) {
	inv := mixedInventory(t)
	inv.Docker = models.DockerDomain{}

	report := validate(t, inv)

	for _, is := range report.Issues {
		for _, p := range models.SeamPrefixes("docker") {
			assert.NotEqual(t, p, is.Prefix, "docker seam issue with empty docker domain: %v", is)
		}
	}
}

func TestValidate_MalformedInventory(t *testing.T) {
	e := NewDefaultEngine(nil)

	_, err := e.Validate(nil)
	assert.ErrorIs(t, err, ErrMalformedInventory)

	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{{Domain: models.DomainTerraform, Kind: "aws_s3_bucket", SourceFile: "main.tf"}}
	_, err = e.Validate(inv)
	assert.ErrorIs(t, err, ErrMalformedInventory)

	inv = &models.Inventory{}
	inv.Terraform.Resources = []models.ResourceRef{{Domain: models.DomainTerraform, Name: "x"}}
	_, err = e.Validate(inv)
	assert.ErrorIs(t, err, ErrMalformedInventory)
}

func TestValidate_EmptyDomainAccepted(t *testing.T) {
	ref := k8sRef(t, "k8s/app.yaml", apiDeployment("registry.io/api:1.0.0"))
	ref.Domain = ""
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{ref}

	_, err := NewDefaultEngine(nil).Validate(inv)
	assert.NoError(t, err)
}

func TestValidate_PolicyDisablesLayer(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{k8sRef(t, "k8s/deployment.yaml", selectorMismatchDeployment)}
	cfg := &policy.PolicyConfig{
		Version: 1,
		Layers:  map[string]policy.LayerConfig{LayerStructural: {Enabled: false}},
	}

	report := validate(t, inv, WithPolicy(cfg))

	for _, is := range report.Issues {
		assert.False(t, strings.HasPrefix(is.Rule, "STRUCT_"), "structural issue with layer disabled: %v", is)
	}
}

func TestValidate_PolicySeverityOverride(t *testing.T) {
	inv := &models.Inventory{}
	inv.K8s.Resources = []models.ResourceRef{k8sRef(t, "k8s/deployment.yaml", selectorMismatchDeployment)}
	cfg := &policy.PolicyConfig{
		Version: 1,
		Rules:   map[string]policy.RuleConfig{"STRUCT_WORKLOAD": {Severity: "warning"}},
	}

	report := validate(t, inv, WithPolicy(cfg))

	assert.True(t, report.OK)
	assert.NotEmpty(t, issuesMatching(report, models.SeverityWarning, "selector"))
}

type recordingObserver struct {
	layers  []string
	counts  map[string]int
	reports int
}

func (o *recordingObserver) ObserveLayer(layer string, issues []models.Issue) {
	o.layers = append(o.layers, layer)
	o.counts[layer] = len(issues)
}

func (o *recordingObserver) ObserveReport(*models.ValidationReport) { o.reports++ }

func TestValidate_ObserverSeesEveryLayerInOrder(t *testing.T) {
	obs := &recordingObserver{counts: make(map[string]int)}
	inv := mixedInventory(t)

	report := validate(t, inv, WithObserver(obs))

	assert.Equal(t, LayerNames(), obs.layers)
	assert.Equal(t, 1, obs.reports)
	total := 0
	for _, n := range obs.counts {
		total += n
	}
	assert.Equal(t, len(report.Issues), total)
}

type panickingRule struct{}

func (panickingRule) ID() string   { return "TEST_PANIC" }
func (panickingRule) Name() string { return "Panics" }
func (panickingRule) Evaluate(rules.RuleContext) []models.Issue {
	panic(errors.New("boom"))
}

type fixedRule struct{ issue models.Issue }

func (fixedRule) ID() string   { return "TEST_FIXED" }
func (fixedRule) Name() string { return "Fixed" }
func (r fixedRule) Evaluate(rules.RuleContext) []models.Issue {
	return []models.Issue{r.issue}
}

func TestValidate_CustomLayersAndPanicContainment(t *testing.T) {
	reg := rules.NewDefaultRuleRegistry(nil)
	reg.Register(panickingRule{})
	reg.Register(fixedRule{issue: models.Issue{File: "a.yaml", Severity: models.SeverityWarning, Detail: "fixed"}})

	report := validate(t, &models.Inventory{}, WithLayers(Layer{Name: "custom", Registry: reg}))

	require.Len(t, report.Issues, 1)
	assert.Equal(t, "TEST_FIXED", report.Issues[0].Rule)
	assert.Equal(t, 1, report.Warnings)
	assert.True(t, report.OK)
}

func TestDefaultLayers_OrderAndRuleIDsUnique(t *testing.T) {
	layers := DefaultLayers(nil)
	names := make([]string, len(layers))
	seen := make(map[string]bool)
	for i, l := range layers {
		names[i] = l.Name
		require.NotEmpty(t, l.Registry.All(), "layer %s has no rules", l.Name)
		for _, r := range l.Registry.All() {
			assert.False(t, seen[r.ID()], "duplicate rule ID %s", r.ID())
			seen[r.ID()] = true
		}
	}
	assert.Equal(t, LayerNames(), names)
}

func TestCountFiles_Distinct(t *testing.T) {
	inv := mixedInventory(t)
	// k8s/app.yaml, docker-compose.yml, Dockerfile, workflow, infra/main.tf, .env
	assert.Equal(t, 6, countFiles(inv))
}

func TestObservers_FanOutInOrder(t *testing.T) {
	first := &recordingObserver{counts: make(map[string]int)}
	second := &recordingObserver{counts: make(map[string]int)}

	validate(t, mixedInventory(t), WithObserver(Observers{first, second}))

	assert.Equal(t, first.layers, second.layers)
	assert.Equal(t, first.counts, second.counts)
	assert.Equal(t, 1, first.reports)
	assert.Equal(t, 1, second.reports)
}
