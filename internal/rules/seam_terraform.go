package rules

import (
	"path"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// databaseKinds are Terraform resource types that provision a database
// whose connection string a workload needs.
var databaseKinds = map[string]bool{
	"aws_db_instance":                    true,
	"aws_rds_cluster":                    true,
	"aws_elasticache_cluster":            true,
	"aws_elasticache_replication_group":  true,
	"aws_docdb_cluster":                  true,
	"google_sql_database_instance":       true,
	"google_redis_instance":              true,
	"azurerm_postgresql_server":          true,
	"azurerm_postgresql_flexible_server": true,
	"azurerm_mysql_server":               true,
	"azurerm_mysql_flexible_server":      true,
	"azurerm_mssql_server":               true,
	"azurerm_cosmosdb_account":           true,
	"azurerm_redis_cache":                true,
	"digitalocean_database_cluster":      true,
	"mongodbatlas_cluster":               true,
}

var databaseSecretMarkers = []string{"db", "database", "postgres", "mysql", "sql", "mongo", "redis", "rds"}

// workloadIdentityAnnotations bind a ServiceAccount to a cloud identity.
var workloadIdentityAnnotations = []string{
	"eks.amazonaws.com/role-arn",
	"iam.gke.io/gcp-service-account",
	"azure.workload.identity/client-id",
}

func tfLabel(res models.ResourceRef) string { return res.Kind + "." + res.Name }

// tfMentions reports whether any string attribute of res contains one of
// the needles, ignoring case.
func tfMentions(res models.ResourceRef, needles ...string) bool {
	found := false
	k8sview.Strings(anyMap(res.Attributes), func(s string) {
		if found {
			return
		}
		s = strings.ToLower(s)
		for _, n := range needles {
			if strings.Contains(s, strings.ToLower(n)) {
				found = true
				return
			}
		}
	})
	return found
}

// anyMap lets k8sview.Strings walk a nil attribute map.
func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// isWorkloadIdentity reports a Terraform resource that grants cloud
// permissions to K8s pods (IRSA roles, GKE workload identity bindings, AKS
// federated credentials).
func isWorkloadIdentity(res models.ResourceRef) bool {
	switch res.Kind {
	case "aws_iam_role":
		return tfMentions(res, "AssumeRoleWithWebIdentity", "oidc")
	case "google_service_account_iam_member", "google_service_account_iam_binding":
		return tfMentions(res, "workloadIdentityUser")
	case "azurerm_federated_identity_credential":
		return true
	case "aws_eks_pod_identity_association":
		return true
	}
	return false
}

func hasK8s(ctx RuleContext) bool {
	return ctx.Index.Len() > 0 || len(ctx.Inventory.K8s.HelmCharts) > 0 || ctx.Inventory.K8s.Kustomize.Exists
}

// ── SEAM_TERRAFORM_K8S ───────────────────────────────────────────────────────

// SeamTerraformK8sRule checks ownership and wiring between Terraform and
// the K8s manifests: double management, database credentials and workload
// identities.
type SeamTerraformK8sRule struct{}

func (r SeamTerraformK8sRule) ID() string   { return "SEAM_TERRAFORM_K8S" }
func (r SeamTerraformK8sRule) Name() string { return "Terraform And K8s Disagree" }

func (r SeamTerraformK8sRule) Evaluate(ctx RuleContext) []models.Issue {
	tf := ctx.Inventory.Terraform
	if !tf.HasTerraform() || !hasK8s(ctx) {
		return nil
	}
	var out []models.Issue

	if ctx.Strategy.Uses(StrategyRaw) {
		file, managed := "", false
		for _, p := range tf.Providers {
			managed = managed || p == "kubernetes"
		}
		for _, res := range tf.Resources {
			if strings.HasPrefix(res.Kind, "kubernetes_") {
				managed = true
				if file == "" {
					file = res.SourceFile
				}
			}
		}
		if managed {
			out = append(out, prefixedIssue(models.PrefixTerraformK8s, orDefault(file, FileCrossDomain), models.SeverityWarning,
				"the kubernetes Terraform provider is configured alongside raw K8s manifests; objects may be managed twice"))
		}
	}

	secretNames := k8sSecretNames(ctx)
	for _, res := range tf.Resources {
		if !databaseKinds[res.Kind] {
			continue
		}
		covered := false
		for _, name := range secretNames {
			n := strings.ToLower(name)
			if strings.Contains(n, strings.ToLower(res.Name)) || hasAny(n, databaseSecretMarkers...) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, prefixedIssue(models.PrefixTerraformK8s, res.SourceFile, models.SeverityInfo,
				"Terraform %s provisions a database but no K8s Secret carries its connection string", tfLabel(res)))
		}
	}

	bound := false
	for _, obj := range ctx.Index.ByKind("ServiceAccount") {
		for _, a := range workloadIdentityAnnotations {
			if _, ok := obj.Annotations()[a]; ok {
				bound = true
			}
		}
	}
	if !bound {
		for _, res := range tf.Resources {
			if isWorkloadIdentity(res) {
				out = append(out, prefixedIssue(models.PrefixTerraformK8s, res.SourceFile, models.SeverityInfo,
					"Terraform %s grants a workload identity but no K8s ServiceAccount references it", tfLabel(res)))
			}
		}
	}
	return out
}

// k8sSecretNames lists Secrets the manifests declare or generate.
func k8sSecretNames(ctx RuleContext) []string {
	var names []string
	for _, obj := range ctx.Index.ByKind("Secret", "SealedSecret", "ExternalSecret") {
		names = append(names, obj.Name())
	}
	for _, k := range ctx.Inventory.K8s.Kustomize.Kustomizations {
		for _, g := range k.SecretGenerators {
			names = append(names, g.Name)
		}
	}
	return names
}

// ── SEAM_TERRAFORM_CI ────────────────────────────────────────────────────────

// SeamTerraformCIRule checks that Terraform runs in CI with a plan on pull
// requests and a protected apply.
type SeamTerraformCIRule struct{}

func (r SeamTerraformCIRule) ID() string   { return "SEAM_TERRAFORM_CI" }
func (r SeamTerraformCIRule) Name() string { return "Terraform Not Run Safely By CI" }

func (r SeamTerraformCIRule) Evaluate(ctx RuleContext) []models.Issue {
	tf, ci := ctx.Inventory.Terraform, ctx.Inventory.CI
	if !tf.HasTerraform() || !hasCI(ci) {
		return nil
	}
	if !anyStep(ci, isTerraformStep) {
		return []models.Issue{prefixedIssue(models.PrefixTerraformCI, FileCrossDomain, models.SeverityInfo,
			"Terraform configuration (%d resources) is not run by any CI job", len(tf.Resources))}
	}

	planOnPR := false
	for _, wf := range ci.Workflows {
		if !triggeredByPullRequest(wf) {
			continue
		}
		for ji := range wf.Jobs {
			planOnPR = planOnPR || firstStep(&wf.Jobs[ji], isTerraformPlan) >= 0
		}
	}

	var out []models.Issue
	for wi := range ci.Workflows {
		wf := &ci.Workflows[wi]
		applies := false
		for ji := range wf.Jobs {
			job := &wf.Jobs[ji]
			if firstStep(job, isTerraformApply) < 0 {
				continue
			}
			applies = true
			if job.Environment == "" {
				out = append(out, prefixedIssue(models.PrefixTerraformCI, wf.File, models.SeverityWarning,
					"CI job %s runs terraform apply with no environment protection gate", jobLabel(job)))
			}
		}
		if applies && !planOnPR {
			out = append(out, prefixedIssue(models.PrefixTerraformCI, wf.File, models.SeverityInfo,
				"workflow runs terraform apply but no pull-request workflow runs terraform plan"))
		}
	}
	return out
}

func triggeredByPullRequest(wf models.Workflow) bool {
	for _, t := range wf.Triggers {
		switch strings.ToLower(t) {
		case "pull_request", "pull_request_target", "merge_request", "merge_request_event", "merge_requests":
			return true
		}
	}
	return false
}

// ── SEAM_TERRAFORM_ENV ───────────────────────────────────────────────────────

// SeamTerraformEnvRule notes declared environments with no Terraform
// variable file or environment directory.
type SeamTerraformEnvRule struct{}

func (r SeamTerraformEnvRule) ID() string   { return "SEAM_TERRAFORM_ENV" }
func (r SeamTerraformEnvRule) Name() string { return "Environment Has No Terraform Variables" }

func (r SeamTerraformEnvRule) Evaluate(ctx RuleContext) []models.Issue {
	tf := ctx.Inventory.Terraform
	envs := ctx.Inventory.K8s.DeclaredEnvironments
	if !tf.HasTerraform() || len(envs) == 0 {
		return nil
	}
	var out []models.Issue
	for _, env := range envs {
		if terraformCoversEnv(tf.Files, env.Name) {
			continue
		}
		out = append(out, prefixedIssue(models.PrefixTerraformEnv, orDefault(env.Source, FileEnvironments), models.SeverityInfo,
			"environment %q has no Terraform variable file (%s.tfvars) or environment directory", env.Name, env.Name))
	}
	return out
}

func terraformCoversEnv(files []string, env string) bool {
	env = strings.ToLower(env)
	for _, f := range files {
		f = strings.ToLower(cleanRel(f))
		base := path.Base(f)
		if (strings.HasSuffix(base, ".tfvars") || strings.HasSuffix(base, ".tfvars.json")) && strings.Contains(base, env) {
			return true
		}
		for _, seg := range strings.Split(path.Dir(f), "/") {
			if seg == env {
				return true
			}
		}
	}
	return false
}
