package rules

import (
	"path"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pankaj-dahiya-devops/iacvet/internal/imageref"
	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

var secretKeyRe = regexp.MustCompile(`(?i)(SECRET|PASSWORD|PASSWD|TOKEN|API_?KEY|PRIVATE_?KEY|ACCESS_?KEY|CREDENTIAL|_DSN$|DATABASE_URL)`)

// ── SEAM_CROSS_CUTTING ───────────────────────────────────────────────────────

// SeamCrossCuttingRule holds the checks that involve the project as a
// whole rather than one pair of tools.
type SeamCrossCuttingRule struct{}

func (r SeamCrossCuttingRule) ID() string   { return "SEAM_CROSS_CUTTING" }
func (r SeamCrossCuttingRule) Name() string { return "Project-Wide Consistency" }

func (r SeamCrossCuttingRule) Evaluate(ctx RuleContext) []models.Issue {
	inv := ctx.Inventory
	var out []models.Issue
	if hasDocker(inv.Docker) && hasK8s(ctx) && !hasCI(inv.CI) {
		out = append(out, prefixedIssue(models.PrefixCrossCutting, FileCrossDomain, models.SeverityInfo,
			"project has Docker and K8s configuration but no CI pipeline"))
	}
	if cl := inv.Cluster; cl.Connected && IsManagedCluster(cl.ClusterType.Type) && !inv.Terraform.HasTerraform() {
		out = append(out, prefixedIssue(models.PrefixCrossCutting, FileCluster, models.SeverityInfo,
			"cluster is a managed %s cluster but no Terraform configuration provisions it", cl.ClusterType.Type))
	}
	out = append(out, privateRegistryPullSecrets(ctx)...)
	if hasK8s(ctx) {
		out = append(out, dotenvSecrets(ctx)...)
	}
	return out
}

func privateRegistryPullSecrets(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		spec := w.PodTemplate().Spec
		if len(spec.ImagePullSecrets) > 0 || serviceAccountHasPullSecrets(ctx.Index, w.Namespace(), spec.ServiceAccountName) {
			continue
		}
		var hosts []string
		for _, c := range k8sview.AllContainers(w) {
			if ref := imageref.Parse(c.Image); ref.IsPrivateRegistry() && !ref.Templated {
				hosts = append(hosts, ref.Domain)
			}
		}
		if len(hosts) > 0 {
			out = append(out, prefixedIssue(models.PrefixCrossCutting, w.File(), models.SeverityWarning,
				"%s pulls from private registry %s with no imagePullSecrets", w.ID(), strings.Join(uniqueSorted(hosts), ", ")))
		}
	}
	return out
}

func serviceAccountHasPullSecrets(ix *k8sview.Index, namespace, name string) bool {
	if name == "" {
		name = "default"
	}
	obj, ok := ix.Lookup("ServiceAccount", namespace, name)
	if !ok {
		return false
	}
	sa, ok := obj.(*k8sview.ServiceAccount)
	return ok && len(sa.Obj.ImagePullSecrets) > 0
}

// dotenvSecrets reports secret-like keys of local .env files that no K8s
// Secret provides.
func dotenvSecrets(ctx RuleContext) []models.Issue {
	provided := secretKeysProvided(ctx)
	var out []models.Issue
	for _, ef := range ctx.Inventory.Project.EnvFiles {
		if isEnvTemplate(ef.Path) || generatedFromEnvFile(ctx, ef.Path) {
			continue
		}
		vars, err := godotenv.Unmarshal(ef.Content)
		if err != nil {
			continue
		}
		var missing []string
		for _, k := range sortedStringKeys(vars) {
			if secretKeyRe.MatchString(k) && !provided[k] {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			out = append(out, prefixedIssue(models.PrefixCrossCutting, ef.Path, models.SeverityInfo,
				"%s defines secret-like keys %s with no corresponding K8s Secret", path.Base(ef.Path), strings.Join(missing, ", ")))
		}
	}
	return out
}

// generatedFromEnvFile reports whether a kustomize secretGenerator loads
// the whole file.
func generatedFromEnvFile(ctx RuleContext, file string) bool {
	for _, k := range ctx.Inventory.K8s.Kustomize.Kustomizations {
		dir := path.Dir(cleanRel(k.Path))
		for _, g := range k.SecretGenerators {
			for _, e := range g.EnvFiles {
				if resolved, _ := resolveRel(dir, e); resolved == cleanRel(file) {
					return true
				}
			}
		}
	}
	return false
}

func isEnvTemplate(p string) bool {
	base := strings.ToLower(path.Base(p))
	for _, s := range []string{".example", ".sample", ".template", ".dist", ".defaults"} {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	return false
}

// secretKeysProvided collects keys that K8s Secrets, secretKeyRefs and
// kustomize secret generators make available to pods.
func secretKeysProvided(ctx RuleContext) map[string]bool {
	keys := make(map[string]bool)
	for _, obj := range ctx.Index.ByKind("Secret") {
		if s, ok := obj.(*k8sview.Secret); ok {
			for k := range s.Obj.Data {
				keys[k] = true
			}
			for k := range s.Obj.StringData {
				keys[k] = true
			}
		}
	}
	for _, w := range ctx.Index.Workloads() {
		for _, c := range k8sview.AllContainers(w) {
			for _, e := range c.Env {
				if e.ValueFrom != nil && e.ValueFrom.SecretKeyRef != nil {
					keys[e.Name] = true
					keys[e.ValueFrom.SecretKeyRef.Key] = true
				}
			}
		}
	}
	for _, k := range ctx.Inventory.K8s.Kustomize.Kustomizations {
		for _, g := range k.SecretGenerators {
			for _, lit := range g.Literals {
				if i := strings.Index(lit, "="); i > 0 {
					keys[lit[:i]] = true
				}
			}
		}
	}
	return keys
}
