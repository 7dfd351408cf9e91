package rules_test

import (
	"testing"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rules"
)

// ── STRUCT_WORKLOAD ──────────────────────────────────────────────────────────

func TestStructWorkload_CleanDeployment(t *testing.T) {
	issues := rules.StructWorkloadRule{}.Evaluate(ctxFor(k8sInventory(t, "k8s/app.yaml", goodDeployment)))
	if len(issues) != 0 {
		t.Errorf("expected no issues for a complete Deployment; got %v", issues)
	}
}

func TestStructWorkload_SelectorMismatch(t *testing.T) {
	inv := k8sInventory(t, "k8s/app.yaml", `apiVersion: apps/v1
kind: Deployment
metadata: {name: api}
spec:
  replicas: 1
  selector:
    matchLabels: {app: api}
  template:
    metadata:
      labels: {app: backend}
    spec:
      containers:
        - {name: api, image: api:1.0.0}
`)
	issues := rules.StructWorkloadRule{}.Evaluate(ctxFor(inv))

	errs := bySeverity(issues, models.SeverityError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error; got %v", issues)
	}
	is := errs[0]
	if is.File != "k8s/app.yaml" {
		t.Errorf("File = %q; want k8s/app.yaml", is.File)
	}
	want := "Deployment/api: spec.selector does not match spec.template.metadata.labels {app=backend}"
	if is.Message() != want {
		t.Errorf("Message = %q; want %q", is.Message(), want)
	}
}

func TestStructWorkload_MissingSelectorAndContainers(t *testing.T) {
	inv := k8sInventory(t, "k8s/app.yaml", `apiVersion: apps/v1
kind: Deployment
metadata: {name: api}
spec:
  template:
    metadata:
      labels: {app: api}
    spec:
      containers: []
`)
	issues := rules.StructWorkloadRule{}.Evaluate(ctxFor(inv))

	expectOne(t, issues, "spec.selector is required")
	expectOne(t, issues, "pod template has no containers")
	if is := expectOne(t, issues, "spec.replicas not set"); is.Severity != models.SeverityWarning {
		t.Errorf("replicas severity = %s; want warning", is.Severity)
	}
	if is := expectOne(t, issues, "no spec.strategy"); is.Severity != models.SeverityInfo {
		t.Errorf("strategy severity = %s; want info", is.Severity)
	}
}

func TestStructWorkload_StatefulSetNeedsServiceName(t *testing.T) {
	inv := k8sInventory(t, "k8s/db.yaml", `apiVersion: apps/v1
kind: StatefulSet
metadata: {name: db}
spec:
  selector:
    matchLabels: {app: db}
  template:
    metadata:
      labels: {app: db}
    spec:
      containers:
        - {name: db, image: postgres:16}
`)
	issues := rules.StructWorkloadRule{}.Evaluate(ctxFor(inv))
	is := expectOne(t, issues, "spec.serviceName is required")
	if is.Severity != models.SeverityError {
		t.Errorf("Severity = %s; want error", is.Severity)
	}
}

func TestStructWorkload_DaemonSetReplicasIgnored(t *testing.T) {
	inv := k8sInventory(t, "k8s/agent.yaml", `apiVersion: apps/v1
kind: DaemonSet
metadata: {name: agent}
spec:
  replicas: 3
  selector:
    matchLabels: {app: agent}
  template:
    metadata:
      labels: {app: agent}
    spec:
      containers:
        - {name: agent, image: agent:2.0.0}
`)
	issues := rules.StructWorkloadRule{}.Evaluate(ctxFor(inv))
	expectOne(t, issues, "spec.replicas is ignored by DaemonSets")
}

func TestStructWorkload_JobAndCronJob(t *testing.T) {
	inv := k8sInventory(t, "k8s/jobs.yaml", `apiVersion: batch/v1
kind: Job
metadata: {name: migrate}
spec:
  backoffLimit: -1
  parallelism: 3
  completions: 1
  template:
    spec:
      restartPolicy: Always
      containers:
        - {name: migrate, image: migrate:1.0.0}
---
apiVersion: batch/v1
kind: CronJob
metadata: {name: report}
spec:
  schedule: "every day"
  concurrencyPolicy: Sometimes
  jobTemplate:
    spec:
      template:
        spec:
          restartPolicy: OnFailure
          containers:
            - {name: report, image: report:1.0.0}
---
apiVersion: batch/v1
kind: CronJob
metadata: {name: nightly}
spec:
  schedule: "@daily"
  jobTemplate:
    spec:
      template:
        spec:
          restartPolicy: Never
          containers:
            - {name: nightly, image: nightly:1.0.0}
`)
	issues := rules.StructWorkloadRule{}.Evaluate(ctxFor(inv))

	expectOne(t, issues, "Job/migrate", "backoffLimit must be >= 0")
	expectOne(t, issues, "Job/migrate", "parallelism (3) exceeds completions (1)")
	expectOne(t, issues, "Job/migrate", "restartPolicy must be Never or OnFailure")
	expectOne(t, issues, "CronJob/report", "invalid cron schedule")
	expectOne(t, issues, "CronJob/report", "concurrencyPolicy")
	expectNone(t, issues, "CronJob/nightly")
}

// ── STRUCT_METADATA ──────────────────────────────────────────────────────────

func TestStructMetadata(t *testing.T) {
	inv := k8sInventory(t, "k8s/misc.yaml", `apiVersion: v1
kind: ConfigMap
metadata: {}
---
apiVersion: extensions/v1beta1
kind: Deployment
metadata: {name: old}
---
apiVersion: example.com/v1
kind: Widget
metadata: {name: custom}
`)
	issues := rules.StructMetadataRule{}.Evaluate(ctxFor(inv))

	if is := expectOne(t, issues, "metadata.name is required"); is.Severity != models.SeverityError {
		t.Errorf("missing name severity = %s; want error", is.Severity)
	}
	if is := expectOne(t, issues, "Deployment/old", "unrecognized apiVersion"); is.Severity != models.SeverityWarning {
		t.Errorf("unknown apiVersion severity = %s; want warning", is.Severity)
	}
	// Custom groups are judged by the cluster and strategy layers.
	expectNone(t, issues, "Widget/custom")
}

// ── STRUCT_SERVICE ───────────────────────────────────────────────────────────

func TestStructService(t *testing.T) {
	inv := k8sInventory(t, "k8s/svc.yaml", `apiVersion: v1
kind: Service
metadata: {name: noports}
spec:
  selector: {app: api}
---
apiVersion: v1
kind: Service
metadata: {name: headless}
spec:
  clusterIP: None
  selector: {app: db}
---
apiVersion: v1
kind: Service
metadata: {name: external}
spec:
  type: ExternalName
`)
	issues := rules.StructServiceRule{}.Evaluate(ctxFor(inv))

	if len(issues) != 2 {
		t.Fatalf("expected 2 issues; got %v", issues)
	}
	expectOne(t, issues, "Service/noports: spec.ports is empty")
	expectOne(t, issues, "Service/external", "requires spec.externalName")
}

// ── STRUCT_INGRESS ───────────────────────────────────────────────────────────

func TestStructIngress(t *testing.T) {
	inv := k8sInventory(t, "k8s/ing.yaml", `apiVersion: networking.k8s.io/v1
kind: Ingress
metadata: {name: web}
spec:
  rules:
    - http:
        paths:
          - path: /
            backend:
              service: {name: web, port: {number: 80}}
`)
	issues := rules.StructIngressRule{}.Evaluate(ctxFor(inv))

	expectOne(t, issues, `path "/" on host "*" has no pathType`)
	expectOne(t, issues, "no spec.ingressClassName set")
}

// ── STRUCT_HPA ───────────────────────────────────────────────────────────────

func TestStructHPA(t *testing.T) {
	inv := k8sInventory(t, "k8s/hpa.yaml", `apiVersion: autoscaling/v2
kind: HorizontalPodAutoscaler
metadata: {name: api}
spec:
  minReplicas: 5
  maxReplicas: 3
  scaleTargetRef:
    apiVersion: v1
    kind: Service
    name: api
`)
	issues := rules.StructHPARule{}.Evaluate(ctxFor(inv))

	expectOne(t, issues, "minReplicas (5) must be less than maxReplicas (3)")
	expectOne(t, issues, "scaleTargetRef kind Service is not scalable")
	expectOne(t, issues, "no metrics defined")
}

// ── STRUCT_CONTAINER ─────────────────────────────────────────────────────────

func TestStructContainer_CleanDeployment(t *testing.T) {
	issues := rules.StructContainerRule{}.Evaluate(ctxFor(k8sInventory(t, "k8s/app.yaml", goodDeployment)))
	if len(issues) != 0 {
		t.Errorf("expected no issues; got %v", issues)
	}
}

func TestStructContainer_BareContainer(t *testing.T) {
	inv := k8sInventory(t, "k8s/app.yaml", `apiVersion: apps/v1
kind: Deployment
metadata: {name: api}
spec:
  selector:
    matchLabels: {app: api}
  template:
    metadata:
      labels: {app: api}
    spec:
      containers:
        - {name: web, image: "nginx:latest"}
        - {name: side, image: busybox}
        - {name: tmpl, image: "app:${TAG}", resources: {limits: {cpu: 500m}, requests: {cpu: 100m}}}
`)
	issues := rules.StructContainerRule{}.Evaluate(ctxFor(inv))

	expectOne(t, issues, "Deployment/api/web: no resource limits set")
	expectOne(t, issues, "Deployment/api/web: no resource requests set")
	expectOne(t, issues, "Deployment/api/web", "uses the :latest tag")
	expectOne(t, issues, "Deployment/api/side", "has no explicit tag")
	expectNone(t, issues, "Deployment/api/tmpl", "tag")
	expectNone(t, issues, "Deployment/api/tmpl", "resource")
}
