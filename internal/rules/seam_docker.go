package rules

import (
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	corev1 "k8s.io/api/core/v1"

	"github.com/pankaj-dahiya-devops/iacvet/internal/imageref"
	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

func hasDocker(d models.DockerDomain) bool {
	return len(d.Dockerfiles) > 0 || len(d.ComposeServices) > 0
}

func composeFile(d models.DockerDomain) string {
	if d.ComposeFile != "" {
		return d.ComposeFile
	}
	return FileCrossDomain
}

// builtImage is the image a compose service builds: its image field, or the
// service name when compose picks the name itself.
func builtImage(svc models.ComposeService) string {
	if svc.Build == nil {
		return ""
	}
	if svc.Image != "" {
		return svc.Image
	}
	return svc.Name
}

// placedContainer is one container together with the workload declaring it.
type placedContainer struct {
	w   k8sview.Workload
	c   corev1.Container
	ref imageref.Ref
}

func workloadContainers(ix *k8sview.Index) []placedContainer {
	var out []placedContainer
	for _, w := range ix.Workloads() {
		for _, c := range k8sview.AllContainers(w) {
			out = append(out, placedContainer{w: w, c: c, ref: imageref.Parse(c.Image)})
		}
	}
	return out
}

// composeCounterparts returns the main containers that run what svc runs:
// same image repository base, or a workload named like the service.
func composeCounterparts(svc models.ComposeService, pcs []placedContainer) []placedContainer {
	base := ""
	if img := svc.Image; img != "" {
		base = imageref.Parse(img).Base()
	} else if svc.Build != nil {
		base = svc.Name
	}
	var out []placedContainer
	for _, pc := range pcs {
		if isInitContainer(pc) {
			continue
		}
		if (base != "" && pc.ref.Base() == base) || pc.w.Name() == svc.Name {
			out = append(out, pc)
		}
	}
	return out
}

func isInitContainer(pc placedContainer) bool {
	for _, ic := range pc.w.PodTemplate().Spec.InitContainers {
		if ic.Name == pc.c.Name {
			return true
		}
	}
	return false
}

// composeContainerPorts returns the container-side ports of compose port
// specs such as "8080:80", "127.0.0.1:8080:80/tcp" or "80". Ranges are skipped.
func composeContainerPorts(specs []string) []int {
	var out []int
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if i := strings.Index(s, "/"); i >= 0 {
			s = s[:i]
		}
		if i := strings.LastIndex(s, ":"); i >= 0 {
			s = s[i+1:]
		}
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out
}

// linkedDockerfile returns the Dockerfile a compose service builds from.
func linkedDockerfile(d models.DockerDomain, svc models.ComposeService) (models.Dockerfile, bool) {
	if svc.Build == nil {
		return models.Dockerfile{}, false
	}
	composeDir := path.Dir(cleanRel(d.ComposeFile))
	contextDir, _ := resolveRel(composeDir, orDefault(svc.Build.Context, "."))
	file := orDefault(svc.Build.Dockerfile, "Dockerfile")
	want := cleanRel(path.Join(contextDir, file))
	for _, df := range d.Dockerfiles {
		if cleanRel(df.Path) == want {
			return df, true
		}
	}
	return models.Dockerfile{}, false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatInts(ns []int) string {
	ns = slices.Clone(ns)
	slices.Sort(ns)
	ns = slices.Compact(ns)
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ── SEAM_DOCKER_K8S ──────────────────────────────────────────────────────────

// SeamDockerK8sRule checks that what compose builds and runs locally lines
// up with what the K8s workloads run: images, ports, environment, volumes,
// service names, health checks and pull policy.
type SeamDockerK8sRule struct{}

func (r SeamDockerK8sRule) ID() string   { return "SEAM_DOCKER_K8S" }
func (r SeamDockerK8sRule) Name() string { return "Docker And K8s Disagree" }

func (r SeamDockerK8sRule) Evaluate(ctx RuleContext) []models.Issue {
	d := ctx.Inventory.Docker
	if !hasDocker(d) || len(ctx.Index.Workloads()) == 0 {
		return nil
	}
	pcs := workloadContainers(ctx.Index)
	var out []models.Issue
	out = append(out, dockerK8sImages(d, pcs)...)
	out = append(out, dockerK8sPorts(d, pcs)...)
	out = append(out, dockerK8sEnv(d, pcs)...)
	out = append(out, dockerK8sVolumes(ctx, d)...)
	out = append(out, dockerK8sNames(ctx, d, pcs)...)
	out = append(out, dockerK8sHealthchecks(d, pcs)...)
	out = append(out, dockerK8sPullPolicy(ctx, d, pcs)...)
	return out
}

func dockerK8sImages(d models.DockerDomain, pcs []placedContainer) []models.Issue {
	var k8sImages []string
	bases := make(map[string]bool)
	for _, pc := range pcs {
		if pc.c.Image == "" {
			continue
		}
		k8sImages = append(k8sImages, pc.c.Image)
		bases[pc.ref.Base()] = true
	}
	if len(k8sImages) == 0 {
		return nil
	}
	var out []models.Issue
	for _, svc := range d.ComposeServices {
		img := builtImage(svc)
		if img == "" {
			continue
		}
		if ref := imageref.Parse(img); ref.Valid && bases[ref.Base()] {
			continue
		}
		out = append(out, prefixedIssue(models.PrefixDockerK8s, composeFile(d), models.SeverityWarning,
			"compose service %q builds image %q, which does not match any image used by K8s workloads (%s)",
			svc.Name, img, strings.Join(uniqueSorted(k8sImages), ", ")))
	}
	return out
}

func dockerK8sPorts(d models.DockerDomain, pcs []placedContainer) []models.Issue {
	var out []models.Issue
	for _, svc := range d.ComposeServices {
		ports := composeContainerPorts(svc.Ports)
		if df, ok := linkedDockerfile(d, svc); ok {
			ports = append(ports, df.Ports...)
		}
		if len(ports) == 0 {
			continue
		}
		for _, pc := range composeCounterparts(svc, pcs) {
			if len(pc.c.Ports) == 0 {
				continue
			}
			var declared []int
			shared := false
			for _, p := range pc.c.Ports {
				declared = append(declared, int(p.ContainerPort))
				shared = shared || slices.Contains(ports, int(p.ContainerPort))
			}
			if !shared {
				out = append(out, prefixedIssue(models.PrefixDockerK8s, pc.w.File(), models.SeverityWarning,
					"compose service %q exposes ports %s but %s/%s declares containerPort %s",
					svc.Name, formatInts(ports), pc.w.ID(), pc.c.Name, formatInts(declared)))
			}
		}
	}
	return out
}

func dockerK8sEnv(d models.DockerDomain, pcs []placedContainer) []models.Issue {
	var out []models.Issue
	for _, svc := range d.ComposeServices {
		if len(svc.Environment) == 0 {
			continue
		}
		for _, pc := range composeCounterparts(svc, pcs) {
			if len(pc.c.EnvFrom) > 0 {
				continue
			}
			defined := make(map[string]bool, len(pc.c.Env))
			for _, e := range pc.c.Env {
				defined[e.Name] = true
			}
			var missing []string
			for _, k := range sortedStringKeys(svc.Environment) {
				if !defined[k] {
					missing = append(missing, k)
				}
			}
			if len(missing) > 0 {
				out = append(out, prefixedIssue(models.PrefixDockerK8s, pc.w.File(), models.SeverityInfo,
					"compose service %q sets %s which %s/%s does not define",
					svc.Name, strings.Join(missing, ", "), pc.w.ID(), pc.c.Name))
			}
		}
	}
	return out
}

func dockerK8sVolumes(ctx RuleContext, d models.DockerDomain) []models.Issue {
	if len(d.ComposeVolumes) == 0 {
		return nil
	}
	claims := make(map[string]bool)
	for _, obj := range ctx.Index.ByKind("PersistentVolumeClaim") {
		claims[obj.Name()] = true
	}
	for _, obj := range ctx.Index.ByKind("StatefulSet") {
		if sts, ok := obj.(*k8sview.StatefulSet); ok {
			for _, vct := range sts.Obj.Spec.VolumeClaimTemplates {
				claims[vct.Name] = true
			}
		}
	}
	var out []models.Issue
	for _, v := range uniqueSorted(d.ComposeVolumes) {
		found := false
		for claim := range claims {
			if claimCoversVolume(claim, v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, prefixedIssue(models.PrefixDockerK8s, composeFile(d), models.SeverityInfo,
				"compose named volume %q has no corresponding PersistentVolumeClaim", v))
		}
	}
	return out
}

// claimCoversVolume reports whether claim equals volume or contains it as a
// run of whole name segments, so "app-data" covers "data" but "metadata"
// does not.
func claimCoversVolume(claim, volume string) bool {
	norm := strings.NewReplacer("_", "-", ".", "-")
	return strings.Contains("-"+norm.Replace(claim)+"-", "-"+norm.Replace(volume)+"-")
}

func dockerK8sNames(ctx RuleContext, d models.DockerDomain, pcs []placedContainer) []models.Issue {
	var out []models.Issue
	composeNames := make(map[string]bool)
	for _, svc := range d.ComposeServices {
		composeNames[svc.Name] = true
		if len(composeCounterparts(svc, pcs)) == 0 {
			out = append(out, prefixedIssue(models.PrefixDockerK8s, composeFile(d), models.SeverityInfo,
				"compose service %q has no K8s workload of the same name", svc.Name))
		}
	}
	if len(d.ComposeServices) == 0 {
		return out
	}
	for _, svc := range ctx.Index.Services() {
		if composeNames[svc.Name()] {
			continue
		}
		counterpart := false
		for _, w := range selectedWorkloads(ctx.Index, svc) {
			counterpart = counterpart || composeNames[w.Name()]
		}
		if !counterpart {
			out = append(out, prefixedIssue(models.PrefixDockerK8s, svc.File(), models.SeverityInfo,
				"K8s Service %q has no compose service counterpart", svc.Name()))
		}
	}
	return out
}

func dockerK8sHealthchecks(d models.DockerDomain, pcs []placedContainer) []models.Issue {
	var out []models.Issue
	for _, svc := range d.ComposeServices {
		hc := svc.Healthcheck
		if hc == nil || hc.Disable || len(hc.Test) == 0 || strings.EqualFold(hc.Test[0], "NONE") {
			continue
		}
		for _, pc := range composeCounterparts(svc, pcs) {
			if pc.c.LivenessProbe == nil && pc.c.ReadinessProbe == nil {
				out = append(out, prefixedIssue(models.PrefixDockerK8s, pc.w.File(), models.SeverityInfo,
					"compose service %q defines a healthcheck but %s/%s has no liveness or readiness probe",
					svc.Name, pc.w.ID(), pc.c.Name))
			}
		}
	}
	return out
}

func dockerK8sPullPolicy(ctx RuleContext, d models.DockerDomain, pcs []placedContainer) []models.Issue {
	cl := ctx.Inventory.Cluster
	if !cl.Connected || !IsManagedCluster(cl.ClusterType.Type) {
		return nil
	}
	built := make(map[string]bool)
	for _, svc := range d.ComposeServices {
		if img := builtImage(svc); img != "" {
			built[imageref.Parse(img).Base()] = true
		}
	}
	var out []models.Issue
	for _, pc := range pcs {
		if pc.c.ImagePullPolicy != corev1.PullAlways || !pc.ref.Valid {
			continue
		}
		local := pc.ref.IsLocallyBuilt() || (!pc.ref.ExplicitRegistry && built[pc.ref.Base()])
		if local {
			out = append(out, prefixedIssue(models.PrefixDockerK8s, pc.w.File(), models.SeverityWarning,
				"%s/%s uses imagePullPolicy Always with locally built image %q that a %s cluster cannot pull",
				pc.w.ID(), pc.c.Name, pc.c.Image, cl.ClusterType.Type))
		}
	}
	return out
}

// ── SEAM_DOCKER_CI ───────────────────────────────────────────────────────────

// SeamDockerCIRule checks that CI builds, pushes and tests the images the
// project defines.
type SeamDockerCIRule struct{}

func (r SeamDockerCIRule) ID() string   { return "SEAM_DOCKER_CI" }
func (r SeamDockerCIRule) Name() string { return "Docker Images Not Handled By CI" }

func (r SeamDockerCIRule) Evaluate(ctx RuleContext) []models.Issue {
	d, ci := ctx.Inventory.Docker, ctx.Inventory.CI
	if !hasDocker(d) || !hasCI(ci) {
		return nil
	}
	var out []models.Issue
	for _, df := range d.Dockerfiles {
		if !dockerfileBuiltInCI(d, df, ci) {
			out = append(out, prefixedIssue(models.PrefixDockerCI, df.Path, models.SeverityInfo,
				"%s is never built by any CI job", df.Path))
		}
		if stage, ok := testStage(df); ok && !anyStep(ci, targetsStage(stage)) {
			out = append(out, prefixedIssue(models.PrefixDockerCI, df.Path, models.SeverityInfo,
				"%s defines a %q stage that no CI job builds with --target", df.Path, stage))
		}
	}
	for wi := range ci.Workflows {
		wf := &ci.Workflows[wi]
		for ji := range wf.Jobs {
			job := &wf.Jobs[ji]
			build := firstStep(job, isImageBuildStep)
			push := firstStep(job, isImagePushStep)
			if build >= 0 && push < 0 {
				out = append(out, prefixedIssue(models.PrefixDockerCI, wf.File, models.SeverityWarning,
					"CI job %s builds an image but never pushes it", jobLabel(job)))
			}
			if push >= 0 {
				if login := firstStep(job, isRegistryLoginStep); login < 0 || login > push {
					out = append(out, prefixedIssue(models.PrefixDockerCI, wf.File, models.SeverityWarning,
						"CI job %s pushes an image without a preceding registry login step", jobLabel(job)))
				}
			}
		}
	}
	if len(d.ComposeServices) > 0 && !anyStep(ci, usesCompose) {
		out = append(out, prefixedIssue(models.PrefixDockerCI, composeFile(d), models.SeverityInfo,
			"compose file is available but no CI job uses it for integration testing"))
	}
	out = append(out, languageVersionSkew(d, ci)...)
	return out
}

func dockerfileBuiltInCI(d models.DockerDomain, df models.Dockerfile, ci models.CIDomain) bool {
	p := strings.ToLower(cleanRel(df.Path))
	dir := path.Dir(p)
	composeBuilt := false
	for _, svc := range d.ComposeServices {
		if linked, ok := linkedDockerfile(d, svc); ok && cleanRel(linked.Path) == cleanRel(df.Path) {
			composeBuilt = true
		}
	}
	return anyStep(ci, func(s models.Step) bool {
		if !isImageBuildStep(s) && !isImagePushStep(s) {
			return false
		}
		if usesCompose(s) {
			return composeBuilt
		}
		text := stepText(s)
		if strings.Contains(text, p) {
			return true
		}
		if dir != "." {
			return strings.Contains(text, dir)
		}
		return !hasAny(text, "-f ", "--file", "file=")
	})
}

func testStage(df models.Dockerfile) (string, bool) {
	for _, s := range df.Stages {
		if strings.EqualFold(s, "test") || strings.EqualFold(s, "tests") {
			return s, true
		}
	}
	return "", false
}

func targetsStage(stage string) func(models.Step) bool {
	stage = strings.ToLower(stage)
	return func(s models.Step) bool {
		text := stepText(s)
		return hasAny(text, "--target "+stage, "--target="+stage, "target="+stage)
	}
}

// languageSetup maps a CI setup action to the base images of the same
// toolchain.
type languageSetup struct {
	language string
	action   string
	key      string
	images   []string
}

var languageSetups = []languageSetup{
	{"Go", "actions/setup-go", "go-version", []string{"golang", "go"}},
	{"Node.js", "actions/setup-node", "node-version", []string{"node"}},
	{"Python", "actions/setup-python", "python-version", []string{"python"}},
	{"Java", "actions/setup-java", "java-version", []string{"eclipse-temurin", "openjdk", "amazoncorretto", "maven", "gradle"}},
	{"Ruby", "ruby/setup-ruby", "ruby-version", []string{"ruby"}},
}

var leadingVersionRe = regexp.MustCompile(`^v?(\d+(?:\.\d+)?)`)

// toolchainVersion extracts "1.22" from "1.22.3-alpine" and reports
// whether a minor version was given.
func toolchainVersion(s string) (*semver.Version, bool) {
	m := leadingVersionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, false
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, false
	}
	return v, strings.Contains(m[1], ".")
}

func languageVersionSkew(d models.DockerDomain, ci models.CIDomain) []models.Issue {
	var out []models.Issue
	for _, df := range d.Dockerfiles {
		for _, img := range df.BaseImages {
			ref := imageref.Parse(img)
			if !ref.Valid || ref.Templated {
				continue
			}
			for _, ls := range languageSetups {
				if !slices.Contains(ls.images, ref.Base()) {
					continue
				}
				imgVer, imgMinor := toolchainVersion(ref.Tag)
				if imgVer == nil {
					continue
				}
				eachStep(ci, func(js jobStep) {
					if !usesAction(js.step, ls.action) {
						return
					}
					raw := js.step.With[ls.key]
					ciVer, ciMinor := toolchainVersion(raw)
					if ciVer == nil {
						return
					}
					skew := imgVer.Major() != ciVer.Major() ||
						(imgMinor && ciMinor && imgVer.Minor() != ciVer.Minor())
					if skew {
						out = append(out, prefixedIssue(models.PrefixDockerCI, df.Path, models.SeverityWarning,
							"%s builds on %s %s but CI job %s sets up %s %s",
							df.Path, ls.language, ref.Tag, jobLabel(js.job), ls.language, raw))
					}
				})
			}
		}
	}
	return out
}

// ── SEAM_DOCKER_TERRAFORM ────────────────────────────────────────────────────

// registryKind describes a Terraform resource type that provisions an image
// registry and the registry hosts it serves.
type registryKind struct {
	label string
	match func(host string) bool
}

var registryKinds = map[string]registryKind{
	"aws_ecr_repository": {"ECR", func(h string) bool {
		return strings.Contains(h, ".dkr.ecr.") && strings.HasSuffix(h, ".amazonaws.com")
	}},
	"google_artifact_registry_repository": {"Artifact Registry", func(h string) bool {
		return strings.HasSuffix(h, "-docker.pkg.dev")
	}},
	"google_container_registry": {"GCR", func(h string) bool {
		return h == "gcr.io" || strings.HasSuffix(h, ".gcr.io")
	}},
	"azurerm_container_registry": {"ACR", func(h string) bool {
		return strings.HasSuffix(h, ".azurecr.io")
	}},
	"digitalocean_container_registry": {"DOCR", func(h string) bool {
		return h == "registry.digitalocean.com"
	}},
}

// SeamDockerTerraformRule checks that the registry Terraform provisions is
// the one images are pushed to.
type SeamDockerTerraformRule struct{}

func (r SeamDockerTerraformRule) ID() string   { return "SEAM_DOCKER_TERRAFORM" }
func (r SeamDockerTerraformRule) Name() string { return "Image Registry Not Provisioned By Terraform" }

func (r SeamDockerTerraformRule) Evaluate(ctx RuleContext) []models.Issue {
	d, tf := ctx.Inventory.Docker, ctx.Inventory.Terraform
	if !hasDocker(d) || !tf.HasTerraform() {
		return nil
	}
	hosts := make(map[string]bool)
	for _, pc := range workloadContainers(ctx.Index) {
		if pc.ref.Valid && pc.ref.ExplicitRegistry && !pc.ref.IsLocalRegistry() {
			hosts[pc.ref.Domain] = true
		}
	}
	for _, svc := range d.ComposeServices {
		if ref := imageref.Parse(svc.Image); ref.Valid && ref.ExplicitRegistry && !ref.IsLocalRegistry() {
			hosts[ref.Domain] = true
		}
	}

	var out []models.Issue
	registries := 0
	for _, res := range tf.Resources {
		rk, ok := registryKinds[res.Kind]
		if !ok {
			continue
		}
		registries++
		if len(hosts) == 0 {
			continue
		}
		used := false
		for h := range hosts {
			used = used || rk.match(h)
		}
		if !used {
			out = append(out, prefixedIssue(models.PrefixDockerTerraform, res.SourceFile, models.SeverityWarning,
				"Terraform %s.%s provisions a container registry (%s) but images reference %s",
				res.Kind, res.Name, rk.label, strings.Join(sortedStringKeys(hosts), ", ")))
		}
	}
	if registries == 0 && len(d.Dockerfiles) > 0 {
		out = append(out, prefixedIssue(models.PrefixDockerTerraform, FileCrossDomain, models.SeverityInfo,
			"Terraform provisions no container registry while the project builds %d image(s)", len(d.Dockerfiles)))
	}
	return out
}

// ── SEAM_DOCKER_ENV ──────────────────────────────────────────────────────────

// SeamDockerEnvRule checks compose env_file references and hardcoded
// environment names.
type SeamDockerEnvRule struct{}

func (r SeamDockerEnvRule) ID() string   { return "SEAM_DOCKER_ENV" }
func (r SeamDockerEnvRule) Name() string { return "Compose Environment Configuration Broken" }

func (r SeamDockerEnvRule) Evaluate(ctx RuleContext) []models.Issue {
	d := ctx.Inventory.Docker
	if len(d.ComposeServices) == 0 {
		return nil
	}
	declared := make(map[string]string)
	for _, e := range ctx.Inventory.K8s.DeclaredEnvironments {
		declared[strings.ToLower(e.Name)] = e.Name
	}
	dir := path.Dir(cleanRel(d.ComposeFile))
	var out []models.Issue
	for _, svc := range d.ComposeServices {
		for _, f := range svc.EnvFile {
			resolved, escapes := resolveRel(dir, f)
			if escapes || ctx.Project.FileExists(resolved) {
				continue
			}
			out = append(out, prefixedIssue(models.PrefixDockerEnv, composeFile(d), models.SeverityWarning,
				"compose service %q loads env_file %q which does not exist", svc.Name, f))
		}
		if len(declared) == 0 {
			continue
		}
		for _, k := range sortedStringKeys(svc.Environment) {
			if !strings.Contains(strings.ToUpper(k), "ENV") {
				continue
			}
			if env, ok := declared[strings.ToLower(svc.Environment[k])]; ok {
				out = append(out, prefixedIssue(models.PrefixDockerEnv, composeFile(d), models.SeverityInfo,
					"compose service %q hardcodes environment %q in %s", svc.Name, env, k))
			}
		}
	}
	return out
}
