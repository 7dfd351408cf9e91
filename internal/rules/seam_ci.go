package rules

import (
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ── SEAM_CI_K8S ──────────────────────────────────────────────────────────────

// SeamCIK8sRule checks that CI deploys the K8s configuration the way the
// project manages it: after a build, with cluster credentials, with the
// right tool.
type SeamCIK8sRule struct{}

func (r SeamCIK8sRule) ID() string   { return "SEAM_CI_K8S" }
func (r SeamCIK8sRule) Name() string { return "CI Does Not Deploy K8s Correctly" }

func (r SeamCIK8sRule) Evaluate(ctx RuleContext) []models.Issue {
	ci := ctx.Inventory.CI
	if !hasCI(ci) || !hasK8s(ctx) {
		return nil
	}
	if !anyStep(ci, isDeployStep) {
		return []models.Issue{prefixedIssue(models.PrefixCIK8s, FileCrossDomain, models.SeverityInfo,
			"K8s configuration is present but no CI job deploys it")}
	}

	buildsImages := len(ctx.Inventory.Docker.Dockerfiles) > 0 ||
		(ctx.Inventory.K8s.Skaffold != nil && len(ctx.Inventory.K8s.Skaffold.Artifacts) > 0)
	helmManaged := ctx.Strategy.Strategy == StrategyHelm

	var out []models.Issue
	for wi := range ci.Workflows {
		wf := &ci.Workflows[wi]
		for ji := range wf.Jobs {
			job := &wf.Jobs[ji]
			deploy := firstStep(job, isDeployStep)
			if deploy < 0 {
				continue
			}
			if buildsImages && !builtBefore(wf, job, deploy) {
				out = append(out, prefixedIssue(models.PrefixCIK8s, wf.File, models.SeverityWarning,
					"CI job %s deploys with no preceding image build step", jobLabel(job)))
			}
			if helmManaged && firstStep(job, isKubectlDeploy) >= 0 && firstStep(job, isHelmDeploy) < 0 {
				out = append(out, prefixedIssue(models.PrefixCIK8s, wf.File, models.SeverityWarning,
					"CI job %s deploys with kubectl but the project is managed by Helm", jobLabel(job)))
			}
			if !hasClusterCredentials(job) {
				out = append(out, prefixedIssue(models.PrefixCIK8s, wf.File, models.SeverityWarning,
					"CI job %s deploys with no cluster-credential setup step", jobLabel(job)))
			}
		}
	}
	return out
}

// builtBefore reports whether an image build happens earlier in job, in
// the deploy step itself (skaffold run), or in a job it needs.
func builtBefore(wf *models.Workflow, job *models.Job, deploy int) bool {
	if b := firstStep(job, isImageBuildStep); b >= 0 && b <= deploy {
		return true
	}
	if strings.Contains(strings.ToLower(job.Steps[deploy].Run), "skaffold run") {
		return true
	}
	for _, up := range upstreamJobs(wf, job) {
		if firstStep(up, isImageBuildStep) >= 0 {
			return true
		}
	}
	return false
}

func hasClusterCredentials(job *models.Job) bool {
	for k := range job.Env {
		if strings.EqualFold(k, "KUBECONFIG") || strings.EqualFold(k, "KUBE_CONFIG") {
			return true
		}
	}
	return firstStep(job, isClusterCredentialStep) >= 0
}

// ── SEAM_CI_ENV ──────────────────────────────────────────────────────────────

// SeamCIEnvRule checks deploy jobs that target a declared environment for
// secret usage and, for production, an approval gate.
type SeamCIEnvRule struct{}

func (r SeamCIEnvRule) ID() string   { return "SEAM_CI_ENV" }
func (r SeamCIEnvRule) Name() string { return "CI Environment Deployment Unprotected" }

func (r SeamCIEnvRule) Evaluate(ctx RuleContext) []models.Issue {
	ci := ctx.Inventory.CI
	envs := ctx.Inventory.K8s.DeclaredEnvironments
	if !hasCI(ci) || len(envs) == 0 {
		return nil
	}
	var out []models.Issue
	for wi := range ci.Workflows {
		wf := &ci.Workflows[wi]
		for ji := range wf.Jobs {
			job := &wf.Jobs[ji]
			if firstStep(job, isDeployStep) < 0 {
				continue
			}
			env, ok := jobEnvironment(job, envs)
			if !ok {
				continue
			}
			if !jobReferencesSecrets(wf.Provider, *job) {
				out = append(out, prefixedIssue(models.PrefixCIEnv, wf.File, models.SeverityWarning,
					"CI job %s deploys to environment %q without referencing any secrets", jobLabel(job), env))
			}
			if isProdLike(env) && job.Environment == "" {
				out = append(out, prefixedIssue(models.PrefixCIEnv, wf.File, models.SeverityInfo,
					"CI job %s deploys to %q with no approval gate (protected environment)", jobLabel(job), env))
			}
		}
	}
	return out
}

// jobEnvironment returns the declared environment a job deploys to: the
// job's environment field, else an environment named in its ID or name.
func jobEnvironment(job *models.Job, envs []models.Environment) (string, bool) {
	for _, e := range envs {
		if job.Environment != "" && strings.EqualFold(job.Environment, e.Name) {
			return e.Name, true
		}
	}
	for _, e := range envs {
		if containsFold(job.ID, e.Name) || containsFold(job.Name, e.Name) {
			return e.Name, true
		}
	}
	return "", false
}
