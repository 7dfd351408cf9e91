package rules

import (
	"regexp"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// stepText flattens everything a step executes or passes to an action into
// one lower-cased string for keyword matching.
func stepText(s models.Step) string {
	var b strings.Builder
	b.WriteString(s.Uses)
	b.WriteByte('\n')
	b.WriteString(s.Run)
	for _, k := range sortedStringKeys(s.With) {
		b.WriteString("\n" + k + "=" + s.With[k])
	}
	for _, k := range sortedStringKeys(s.Env) {
		b.WriteString("\n" + k + "=" + s.Env[k])
	}
	return strings.ToLower(b.String())
}

func usesAction(s models.Step, action string) bool {
	return strings.HasPrefix(strings.ToLower(s.Uses), action)
}

func hasAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func isImageBuildStep(s models.Step) bool {
	if usesAction(s, "docker/build-push-action") {
		return true
	}
	run := strings.ToLower(s.Run)
	return hasAny(run, "docker build", "docker buildx build", "docker image build",
		"podman build", "buildah bud", "kaniko", "docker compose build", "docker-compose build",
		"skaffold build", "ko build", "pack build")
}

func isImagePushStep(s models.Step) bool {
	if usesAction(s, "docker/build-push-action") {
		return strings.EqualFold(s.With["push"], "true")
	}
	run := strings.ToLower(s.Run)
	return hasAny(run, "docker push", "podman push", "--push", "docker compose push",
		"docker-compose push", "skaffold build", "ko build", "kaniko")
}

func isRegistryLoginStep(s models.Step) bool {
	if usesAction(s, "docker/login-action") || usesAction(s, "aws-actions/amazon-ecr-login") ||
		usesAction(s, "azure/docker-login") || usesAction(s, "google-github-actions/auth") {
		return true
	}
	run := strings.ToLower(s.Run)
	return hasAny(run, "docker login", "podman login", "gcloud auth configure-docker",
		"az acr login", "get-login-password", "crane auth login")
}

func isDeployStep(s models.Step) bool {
	if usesAction(s, "azure/k8s-deploy") || usesAction(s, "deliverybot/helm") ||
		usesAction(s, "wahyd4/kubectl-helm-action") {
		return true
	}
	return isKubectlDeploy(s) || isHelmDeploy(s) || hasAny(strings.ToLower(s.Run),
		"skaffold run", "skaffold deploy", "argocd app sync", "flux reconcile", "kustomize build")
}

func isKubectlDeploy(s models.Step) bool {
	return hasAny(strings.ToLower(s.Run), "kubectl apply", "kubectl create", "kubectl set image",
		"kubectl rollout", "kubectl replace")
}

func isHelmDeploy(s models.Step) bool {
	return hasAny(strings.ToLower(s.Run), "helm upgrade", "helm install")
}

func isClusterCredentialStep(s models.Step) bool {
	for _, a := range []string{
		"aws-actions/configure-aws-credentials", "azure/k8s-set-context", "azure/aks-set-context",
		"google-github-actions/get-gke-credentials", "azure/login", "digitalocean/action-doctl",
	} {
		if usesAction(s, a) {
			return true
		}
	}
	text := stepText(s)
	return hasAny(text, "update-kubeconfig", "get-credentials", "aks get-credentials",
		"kubeconfig", "kube_config", "doctl kubernetes cluster config")
}

func isTerraformStep(s models.Step) bool {
	return usesAction(s, "hashicorp/setup-terraform") || hasAny(strings.ToLower(s.Run), "terraform ", "terragrunt ")
}

func isTerraformApply(s models.Step) bool {
	return hasAny(strings.ToLower(s.Run), "terraform apply", "terragrunt apply")
}

func isTerraformPlan(s models.Step) bool {
	return hasAny(strings.ToLower(s.Run), "terraform plan", "terragrunt plan")
}

func usesCompose(s models.Step) bool {
	return hasAny(strings.ToLower(s.Run), "docker compose", "docker-compose")
}

// githubSecretRe matches a GitHub Actions secrets context expression.
var githubSecretRe = regexp.MustCompile(`\$\{\{\s*secrets\.[A-Za-z_][A-Za-z0-9_]*\s*\}\}`)

// gitlabSecretRe matches GitLab's predefined credential variables and
// variables named as credentials. Other $VARS are plain configuration.
var gitlabSecretRe = regexp.MustCompile(`\$\{?(CI_JOB_TOKEN|CI_REGISTRY_PASSWORD|CI_DEPLOY_PASSWORD|[A-Z0-9_]*(TOKEN|PASSWORD|SECRET|API_KEY|CREDENTIALS|KUBECONFIG)[A-Z0-9_]*)\b`)

// jobReferencesSecrets reports whether any step or the job environment reads
// a CI secret in the provider's secret syntax.
func jobReferencesSecrets(provider string, j models.Job) bool {
	re := githubSecretRe
	if provider == "gitlab-ci" {
		re = gitlabSecretRe
	}
	for _, v := range j.Env {
		if re.MatchString(v) {
			return true
		}
	}
	for _, s := range j.Steps {
		for _, v := range s.With {
			if re.MatchString(v) {
				return true
			}
		}
		for _, v := range s.Env {
			if re.MatchString(v) {
				return true
			}
		}
		if re.MatchString(s.Run) {
			return true
		}
	}
	return false
}

// jobStep is one step located within the workflow graph.
type jobStep struct {
	wf    *models.Workflow
	job   *models.Job
	index int
	step  models.Step
}

// eachStep visits every step of every workflow in declaration order.
func eachStep(ci models.CIDomain, fn func(js jobStep)) {
	for wi := range ci.Workflows {
		wf := &ci.Workflows[wi]
		for ji := range wf.Jobs {
			job := &wf.Jobs[ji]
			for si, s := range job.Steps {
				fn(jobStep{wf: wf, job: job, index: si, step: s})
			}
		}
	}
}

func anyStep(ci models.CIDomain, pred func(models.Step) bool) bool {
	found := false
	eachStep(ci, func(js jobStep) {
		if !found && pred(js.step) {
			found = true
		}
	})
	return found
}

// firstStep returns the index of the first step of j satisfying pred, or -1.
func firstStep(j *models.Job, pred func(models.Step) bool) int {
	for i, s := range j.Steps {
		if pred(s) {
			return i
		}
	}
	return -1
}

// upstreamJobs returns the jobs j transitively needs within wf.
func upstreamJobs(wf *models.Workflow, j *models.Job) []*models.Job {
	byID := make(map[string]*models.Job, len(wf.Jobs))
	for i := range wf.Jobs {
		byID[wf.Jobs[i].ID] = &wf.Jobs[i]
	}
	var out []*models.Job
	seen := map[string]bool{j.ID: true}
	queue := append([]string{}, j.Needs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if up, ok := byID[id]; ok {
			out = append(out, up)
			queue = append(queue, up.Needs...)
		}
	}
	return out
}

func hasCI(ci models.CIDomain) bool {
	return len(ci.Workflows) > 0 || len(ci.Providers) > 0
}

func jobLabel(j *models.Job) string {
	if j.Name != "" && j.Name != j.ID {
		return j.ID + " (" + j.Name + ")"
	}
	return j.ID
}
