package rules_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rules"
)

// manifests decodes a multi-document YAML string into k8s ResourceRefs
// attributed to file.
func manifests(t *testing.T, file, docs string) []models.ResourceRef {
	t.Helper()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(docs)))
	var out []models.ResourceRef
	for {
		var attrs map[string]any
		err := dec.Decode(&attrs)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("decode %s: %v", file, err)
		}
		if attrs == nil {
			continue
		}
		ref := models.ResourceRef{Domain: models.DomainK8s, SourceFile: file, Attributes: attrs}
		ref.Kind, _ = attrs["kind"].(string)
		if meta, ok := attrs["metadata"].(map[string]any); ok {
			ref.Name, _ = meta["name"].(string)
			ref.Namespace, _ = meta["namespace"].(string)
		}
		out = append(out, ref)
	}
}

// k8sInventory builds an Inventory holding the given manifests.
func k8sInventory(t *testing.T, file, docs string) *models.Inventory {
	t.Helper()
	inv := &models.Inventory{}
	inv.K8s.Resources = manifests(t, file, docs)
	return inv
}

func ctxFor(inv *models.Inventory) rules.RuleContext {
	return rules.NewRuleContext(inv, nil)
}

// withText returns the issues whose rendered message contains every substr.
func withText(issues []models.Issue, substrs ...string) []models.Issue {
	var out []models.Issue
	for _, is := range issues {
		ok := true
		for _, s := range substrs {
			if !strings.Contains(is.Message(), s) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, is)
		}
	}
	return out
}

func bySeverity(issues []models.Issue, sev models.Severity) []models.Issue {
	var out []models.Issue
	for _, is := range issues {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

// expectOne fails unless exactly one issue matches substrs, and returns it.
func expectOne(t *testing.T, issues []models.Issue, substrs ...string) models.Issue {
	t.Helper()
	got := withText(issues, substrs...)
	if len(got) != 1 {
		t.Fatalf("expected 1 issue containing %q; got %d in %v", substrs, len(got), issues)
	}
	return got[0]
}

func expectNone(t *testing.T, issues []models.Issue, substrs ...string) {
	t.Helper()
	if got := withText(issues, substrs...); len(got) != 0 {
		t.Errorf("expected no issue containing %q; got %v", substrs, got)
	}
}

const goodDeployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
  namespace: shop
spec:
  replicas: 2
  strategy:
    type: RollingUpdate
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
          image: registry.example.com/api:1.4.2
          ports:
            - containerPort: 8080
          resources:
            limits: {cpu: 500m, memory: 256Mi}
            requests: {cpu: 100m, memory: 128Mi}
          livenessProbe:
            httpGet: {path: /healthz, port: 8080}
          readinessProbe:
            httpGet: {path: /ready, port: 8080}
          securityContext:
            runAsNonRoot: true
            allowPrivilegeEscalation: false
            readOnlyRootFilesystem: true
`
